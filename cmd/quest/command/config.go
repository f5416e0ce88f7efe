package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

type Config struct {
	TickInterval string         `json:"tick_interval"`
	Listener     ListenerConfig `json:"listener"`
	Session      SessionConfig  `json:"session"`
	Content      ContentConfig  `json:"content"`
	Identity     IdentityConfig `json:"identity"`
	Nats         NatsConfig     `json:"nats"`
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if c.TickInterval != "" {
		d, err := time.ParseDuration(c.TickInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing tick_interval: %w", err))
		} else if d < time.Second {
			el.Add(fmt.Errorf("tick_interval must be at least 1 second"))
		}
	}

	el.Add(c.Listener.validate())
	el.Add(c.Session.validate())
	el.Add(c.Content.validate())
	el.Add(c.Identity.validate())
	el.Add(c.Nats.validate())

	return el.Err()
}

func (c *Config) tickInterval() time.Duration {
	d, _ := parseDuration(c.TickInterval, 0)
	return d
}

// parseDuration parses s, returning def when s is empty.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// validateDuration checks an optional duration field.
func validateDuration(name, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}
