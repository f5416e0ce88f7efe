package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultTickLength = time.Second * 5
)

// Manager is housekeeping run on every tick, such as reaping idle sessions.
type Manager interface {
	Tick(context.Context) error
}

type QuestDriver struct {
	tickLength time.Duration
	managers   []Manager
}

func NewQuestDriver(managers []Manager, opts ...QuestDriverOpt) *QuestDriver {
	d := &QuestDriver{
		tickLength: DefaultTickLength,
		managers:   managers,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *QuestDriver) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "driver started", "tick", d.tickLength.String(), "managers", len(d.managers))

	ticker := time.NewTicker(d.tickLength)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := d.Tick(ctx)
			if err != nil {
				return err
			}
		}
	}
}

func (d *QuestDriver) Tick(ctx context.Context) error {
	for _, m := range d.managers {
		if err := m.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}
