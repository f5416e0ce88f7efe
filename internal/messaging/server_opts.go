package messaging

import "time"

type NatsServerOpt func(*NatsServer)

func WithStartTimeout(d time.Duration) NatsServerOpt {
	return func(s *NatsServer) {
		s.startupTimeout = d
	}
}

func WithHost(host string) NatsServerOpt {
	return func(s *NatsServer) {
		s.host = host
	}
}

// WithPort sets the client port. -1 picks a free port.
func WithPort(port int) NatsServerOpt {
	return func(s *NatsServer) {
		s.port = port
	}
}

// WithCluster listens for routes from other quest servers on port and
// connects to the given nats-route:// urls.
func WithCluster(port int, routes ...string) NatsServerOpt {
	return func(s *NatsServer) {
		s.clusterPort = port
		s.routes = append(s.routes, routes...)
	}
}
