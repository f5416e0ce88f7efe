package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/messaging"
)

type NatsConfig struct {
	Disabled     bool     `json:"disabled,omitempty"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	StartTimeout string   `json:"start_timeout"`
	ClusterPort  int      `json:"cluster_port,omitempty"`
	Routes       []string `json:"routes,omitempty"`
}

func (n *NatsConfig) validate() error {
	el := errors.NewErrorList()

	if n.StartTimeout != "" {
		_, err := time.ParseDuration(n.StartTimeout)
		if err != nil {
			el.Add(fmt.Errorf("parsing start_timeout: %w", err))
		}
	}
	if len(n.Routes) > 0 && n.ClusterPort == 0 {
		el.Add(fmt.Errorf("cluster_port is required when routes are set"))
	}

	if err := el.Err(); err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	return nil
}

func (c *NatsConfig) buildNatsServer() (*messaging.NatsServer, error) {
	var opts []messaging.NatsServerOpt
	if c.StartTimeout != "" {
		d, err := time.ParseDuration(c.StartTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing start_timeout: %w", err)
		}
		opts = append(opts, messaging.WithStartTimeout(d))
	}
	if c.Host != "" {
		opts = append(opts, messaging.WithHost(c.Host))
	}
	if c.Port != 0 {
		opts = append(opts, messaging.WithPort(c.Port))
	}
	if c.ClusterPort != 0 {
		opts = append(opts, messaging.WithCluster(c.ClusterPort, c.Routes...))
	}

	s, err := messaging.NewNatsServer(opts...)
	if err != nil {
		return nil, err
	}

	return s, nil
}
