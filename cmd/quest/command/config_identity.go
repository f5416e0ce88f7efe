package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/identity"
)

type IdentityBackend string

const (
	IdentityBackendFile   IdentityBackend = "file"
	IdentityBackendSQLite IdentityBackend = "sqlite"
)

func (b *IdentityBackend) UnmarshalText(text []byte) error {
	switch IdentityBackend(text) {
	case IdentityBackendFile, IdentityBackendSQLite:
		*b = IdentityBackend(text)
	default:
		return fmt.Errorf("unknown identity backend: %s", text)
	}
	return nil
}

type IdentityConfig struct {
	Backend IdentityBackend `json:"backend"`
	Path    string          `json:"path"`
	Admin   *AdminConfig    `json:"admin,omitempty"`
}

// AdminConfig creates an admin account on startup if it does not exist yet.
// The password may be left out of the file and given in QUEST_ADMIN_PASSWORD.
type AdminConfig struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

const adminPasswordEnv = "QUEST_ADMIN_PASSWORD"

func (a *AdminConfig) password() string {
	if a.Password != "" {
		return a.Password
	}
	return os.Getenv(adminPasswordEnv)
}

func (c *IdentityConfig) validate() error {
	el := errors.NewErrorList()

	if c.Path == "" {
		el.Add(fmt.Errorf("path is required"))
	}
	if c.Admin != nil {
		if c.Admin.Username == "" {
			el.Add(fmt.Errorf("admin: username is required"))
		}
		if c.Admin.password() == "" {
			el.Add(fmt.Errorf("admin: password is required (or set %s)", adminPasswordEnv))
		}
	}

	if err := el.Err(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	return nil
}

// BuildStore opens the configured backend. The returned close function
// releases it.
func (c *IdentityConfig) BuildStore(ctx context.Context) (*identity.Store, func() error, error) {
	var backend identity.Backend
	closer := func() error { return nil }

	switch c.Backend {
	case IdentityBackendSQLite:
		db, err := identity.OpenSQLite(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening identity database: %w", err)
		}
		backend = db
		closer = db.Close
	default:
		fb, err := identity.NewFileBackend(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening identity files: %w", err)
		}
		backend = fb
	}

	store := identity.NewStore(backend)
	if c.Admin != nil {
		if err := c.ensureAdmin(ctx, store); err != nil {
			_ = closer()
			return nil, nil, err
		}
	}

	return store, closer, nil
}

func (c *IdentityConfig) ensureAdmin(ctx context.Context, store *identity.Store) error {
	exists, err := store.HasUser(ctx, c.Admin.Username)
	if err != nil {
		return fmt.Errorf("looking up admin user: %w", err)
	}
	if exists {
		return nil
	}

	u := &identity.User{Username: c.Admin.Username, Name: c.Admin.Username, Admin: true}
	if err := store.AddUser(ctx, u, c.Admin.password()); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}
	slog.InfoContext(ctx, "created admin user", "username", u.Username)
	return nil
}
