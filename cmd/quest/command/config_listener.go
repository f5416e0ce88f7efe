package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/listener"
	"github.com/pixil98/go-quest/internal/session"
)

type ListenerConfig struct {
	Addr           string   `json:"addr"`
	AckTimeout     string   `json:"ack_timeout"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	StaticDir      string   `json:"static_dir,omitempty"`
}

func (c *ListenerConfig) validate() error {
	el := errors.NewErrorList()

	if c.Addr == "" {
		el.Add(fmt.Errorf("listener: addr is required"))
	}
	if err := validateDuration("ack_timeout", c.AckTimeout); err != nil {
		el.Add(fmt.Errorf("listener: %w", err))
	}
	if c.StaticDir != "" {
		if _, err := os.Stat(c.StaticDir); err != nil {
			el.Add(fmt.Errorf("listener: invalid static_dir %q: %w", c.StaticDir, err))
		}
	}

	return el.Err()
}

func (c *ListenerConfig) BuildListener(
	sessions *session.Registry,
	tokens listener.TokenService,
	components listener.ComponentStore,
	pages listener.PageRenderer,
) (*listener.WebsocketListener, error) {
	var opts []listener.WebsocketListenerOpt

	ack, err := parseDuration(c.AckTimeout, listener.DefaultAckTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing ack_timeout: %w", err)
	}
	opts = append(opts, listener.WithAckTimeout(ack))

	if len(c.AllowedOrigins) > 0 {
		opts = append(opts, listener.WithAllowedOrigins(c.AllowedOrigins...))
	}
	if c.StaticDir != "" {
		opts = append(opts, listener.WithStaticDir(c.StaticDir))
	}

	return listener.NewWebsocketListener(c.Addr, sessions, tokens, components, pages, opts...), nil
}
