package actions

import (
	"context"
	"encoding/json"
	"fmt"
)

// SetUserVarFactory creates actions that write a user variable.
// Params:
//   - name (required): variable name
//   - value (required): any JSON value
type SetUserVarFactory struct{}

func (f *SetUserVarFactory) ValidateParams(params map[string]any) error {
	if _, err := stringParam(params, "name"); err != nil {
		return err
	}
	if _, ok := params["value"]; !ok {
		return fmt.Errorf("value is required")
	}
	return nil
}

func (f *SetUserVarFactory) Create(params map[string]any) (Action, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(params["value"])
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return &setUserVar{name: name, value: value}, nil
}

type setUserVar struct {
	name  string
	value json.RawMessage
}

func (a *setUserVar) Kind() string {
	return KindSetUserVar
}

func (a *setUserVar) Describe() string {
	return fmt.Sprintf("set user var %s", a.name)
}

func (a *setUserVar) Apply(_ context.Context, s *Scope) error {
	s.SetVar(a.name, a.value)
	return nil
}
