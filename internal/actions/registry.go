package actions

import (
	"fmt"

	"github.com/pixil98/go-quest/internal/game"
)

const (
	KindGoToGameState           = "goToGameState"
	KindMessageContentComponent = "messageContentComponent"
	KindSetUserVar              = "setUserVar"
)

// Registry maps action kinds to the factories that build them.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	// Built-in kinds cannot collide.
	_ = r.RegisterFactory(KindGoToGameState, &GoToGameStateFactory{})
	_ = r.RegisterFactory(KindMessageContentComponent, &MessageContentComponentFactory{})
	_ = r.RegisterFactory(KindSetUserVar, &SetUserVarFactory{})
	return r
}

// RegisterFactory registers a factory for kind. The kind must match the
// "kind" field of authored actions.
func (r *Registry) RegisterFactory(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("action kind cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("action factory cannot be nil")
	}
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("action factory %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Known reports whether kind has a factory.
func (r *Registry) Known(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// Compile builds the action described by spec.
func (r *Registry) Compile(spec game.ActionSpec) (Action, error) {
	factory, ok := r.factories[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", spec.Kind)
	}

	if err := factory.ValidateParams(spec.Params); err != nil {
		return nil, fmt.Errorf("validating params: %w", err)
	}

	a, err := factory.Create(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("creating action: %w", err)
	}
	return a, nil
}

func stringParam(params map[string]any, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", fmt.Errorf("%s is required", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	if s == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	return s, nil
}

func boolParam(params map[string]any, name string) (bool, error) {
	raw, ok := params[name]
	if !ok {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}
