package session

import (
	"encoding/json"

	"github.com/pixil98/go-quest/internal/actions"
	"github.com/pixil98/go-quest/internal/game"
)

// RequestType names a client request.
type RequestType string

const (
	RequestReady           RequestType = "ready"
	RequestGetUserVar      RequestType = "getUserVar"
	RequestSetUserVar      RequestType = "setUserVar"
	RequestChooseActionSet RequestType = "chooseActionSet"
)

type ReadyRequest struct {
	IdentityToken  string `json:"identityToken"`
	GameIdentifier string `json:"gameIdentifier"`
}

type GetUserVarRequest struct {
	Name string `json:"name"`
}

type SetUserVarRequest struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type ChooseActionSetRequest struct {
	ActionSetIndex *int `json:"actionSetIndex"`
}

// LayoutEntry is one placed component as the client sees it. Action
// definitions never leave the server.
type LayoutEntry struct {
	Geometry        game.Geometry   `json:"geometry"`
	ComponentId     string          `json:"componentId"`
	ComponentType   string          `json:"componentType"`
	ComponentData   json.RawMessage `json:"componentData,omitempty"`
	ComponentVars   json.RawMessage `json:"componentVars,omitempty"`
	CssDependencies []string        `json:"cssDependencies,omitempty"`
	JsDependencies  []string        `json:"jsDependencies,omitempty"`
}

func buildLayout(st *game.GameState) []LayoutEntry {
	layout := make([]LayoutEntry, 0, len(st.Layout))
	for _, p := range st.Layout {
		comp := p.Component.Get()
		entry := LayoutEntry{
			Geometry:    p.Geometry,
			ComponentId: p.Component.Id(),
		}
		if comp != nil {
			entry.ComponentType = comp.Type
			entry.ComponentData = comp.Data
			entry.ComponentVars = comp.Vars
			entry.CssDependencies = comp.CssDependencies
			entry.JsDependencies = comp.JsDependencies
		}
		layout = append(layout, entry)
	}
	return layout
}

// Reply answers exactly one request. Err is sent to the client as its
// short code; the other fields are only sent when set.
type Reply struct {
	Err       error
	Layout    []LayoutEntry
	Value     json.RawMessage
	NewLayout []LayoutEntry
	Events    []actions.Event
}

func (r Reply) MarshalJSON() ([]byte, error) {
	var code *string
	if r.Err != nil {
		c := game.CodeOf(r.Err)
		code = &c
	}

	out := struct {
		Error     *string          `json:"error"`
		Layout    *[]LayoutEntry   `json:"layout,omitempty"`
		Value     json.RawMessage  `json:"value,omitempty"`
		NewLayout *[]LayoutEntry   `json:"newLayout,omitempty"`
		Events    *[]actions.Event `json:"events,omitempty"`
	}{
		Error: code,
		Value: r.Value,
	}
	if r.Layout != nil {
		out.Layout = &r.Layout
	}
	if r.NewLayout != nil {
		out.NewLayout = &r.NewLayout
	}
	if r.Events != nil {
		out.Events = &r.Events
	}
	return json.Marshal(out)
}

// PushType names a server initiated message.
type PushType string

const (
	PushEvent          PushType = "event"
	PushSessionEvicted PushType = "sessionEvicted"
	PushSessionExpired PushType = "sessionExpired"
)

// Push is a message the server sends without a request.
type Push struct {
	Type PushType  `json:"type"`
	Data *PushData `json:"data,omitempty"`
}

// PushData is the client-facing form of an action event.
type PushData struct {
	EventName           string          `json:"eventName"`
	ContentComponentRef string          `json:"contentComponentRef"`
	Message             json.RawMessage `json:"message"`
}

// EventPush converts an action event into a push frame.
func EventPush(e actions.Event) Push {
	return Push{
		Type: PushEvent,
		Data: &PushData{
			EventName:           e.EventName,
			ContentComponentRef: e.Payload.ContentComponentRef,
			Message:             e.Payload.Message,
		},
	}
}
