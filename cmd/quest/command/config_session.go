package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/session"
)

type SessionConfig struct {
	OperationTimeout string `json:"operation_timeout"`
	IdleTimeout      string `json:"idle_timeout"`
	HandshakeTimeout string `json:"handshake_timeout"`
	QueueSize        int    `json:"queue_size"`
}

func (c *SessionConfig) validate() error {
	el := errors.NewErrorList()

	el.Add(validateDuration("operation_timeout", c.OperationTimeout))
	el.Add(validateDuration("idle_timeout", c.IdleTimeout))
	el.Add(validateDuration("handshake_timeout", c.HandshakeTimeout))
	if c.QueueSize < 0 {
		el.Add(fmt.Errorf("queue_size cannot be negative"))
	}

	if err := el.Err(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (c *SessionConfig) registryOpts() ([]session.RegistryOpt, error) {
	op, err := parseDuration(c.OperationTimeout, session.DefaultOperationTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing operation_timeout: %w", err)
	}
	idle, err := parseDuration(c.IdleTimeout, session.DefaultIdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing idle_timeout: %w", err)
	}
	handshake, err := parseDuration(c.HandshakeTimeout, session.DefaultHandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing handshake_timeout: %w", err)
	}

	opts := []session.RegistryOpt{
		session.WithOperationTimeout(op),
		session.WithIdleTimeout(idle),
		session.WithHandshakeTimeout(handshake),
	}
	if c.QueueSize > 0 {
		opts = append(opts, session.WithQueueSize(c.QueueSize))
	}
	return opts, nil
}
