package command

import (
	"context"
	"fmt"

	"github.com/pixil98/go-quest/internal/driver"
	"github.com/pixil98/go-quest/internal/session"
	"github.com/pixil98/go-service"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}
	ctx := context.Background()

	// Load content
	types, err := cfg.Content.BuildContentTypes()
	if err != nil {
		return nil, fmt.Errorf("creating content types: %w", err)
	}
	catalog, err := cfg.Content.BuildCatalog(types)
	if err != nil {
		return nil, fmt.Errorf("loading games: %w", err)
	}
	library, err := cfg.Content.BuildActionLibrary(catalog)
	if err != nil {
		return nil, fmt.Errorf("compiling actions: %w", err)
	}
	renderer, err := cfg.Content.BuildRenderer(types)
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	// Open identities
	identities, closeIdentities, err := cfg.Identity.BuildStore(ctx)
	if err != nil {
		return nil, err
	}

	workers := service.WorkerList{
		"identities": closer(closeIdentities),
	}

	// Session registry, optionally sharing takeovers over nats
	regOpts, err := cfg.Session.registryOpts()
	if err != nil {
		return nil, err
	}
	if !cfg.Nats.Disabled {
		nats, err := cfg.Nats.buildNatsServer()
		if err != nil {
			return nil, fmt.Errorf("creating nats server: %w", err)
		}
		workers["nats"] = nats
		regOpts = append(regOpts, session.WithNotifier(nats))
	}
	sessions := session.NewRegistry(catalog, identities, library, regOpts...)
	workers["sessions"] = sessions

	// Setup the quest driver
	var driverOpts []driver.QuestDriverOpt
	if d := cfg.tickInterval(); d > 0 {
		driverOpts = append(driverOpts, driver.WithTickLength(d))
	}
	workers["driver"] = driver.NewQuestDriver([]driver.Manager{sessions}, driverOpts...)

	// Create listener
	l, err := cfg.Listener.BuildListener(sessions, identities, catalog, renderer)
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}
	workers["listener"] = l

	return workers, nil
}

// closer releases a resource once the application stops.
type closer func() error

func (c closer) Start(ctx context.Context) error {
	<-ctx.Done()
	return c()
}
