package game

import (
	"encoding/json"
	"fmt"
)

// ContentComponent is a configured widget that can be placed in layouts.
// Data and Vars are opaque to the server.
type ContentComponent struct {
	Type            string          `json:"type"`
	Data            json.RawMessage `json:"data,omitempty"`
	Vars            json.RawMessage `json:"vars,omitempty"`
	CssDependencies []string        `json:"css_dependencies,omitempty"`
	JsDependencies  []string        `json:"js_dependencies,omitempty"`
}

func (c *ContentComponent) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// TemplateVars decodes Vars for template rendering.
func (c *ContentComponent) TemplateVars() (map[string]any, error) {
	vars := map[string]any{}
	if len(c.Vars) == 0 {
		return vars, nil
	}
	if err := json.Unmarshal(c.Vars, &vars); err != nil {
		return nil, fmt.Errorf("decoding vars: %w", err)
	}
	return vars, nil
}
