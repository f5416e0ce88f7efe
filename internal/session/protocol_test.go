package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pixil98/go-quest/internal/actions"
	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-testutil"
)

func TestReply_MarshalJSON(t *testing.T) {
	tests := map[string]struct {
		reply Reply
		exp   string
	}{
		"empty success": {
			reply: Reply{},
			exp:   `{"error":null}`,
		},
		"error code": {
			reply: Reply{Err: game.ErrUnknownVariable},
			exp:   `{"error":"unknown-variable"}`,
		},
		"value": {
			reply: Reply{Value: json.RawMessage(`{"a":1}`)},
			exp:   `{"error":null,"value":{"a":1}}`,
		},
		"no events is an empty list": {
			reply: Reply{Events: []actions.Event{}},
			exp:   `{"error":null,"events":[]}`,
		},
		"layout": {
			reply: Reply{Layout: []LayoutEntry{{ComponentId: "banner", ComponentType: "basic-html"}}},
			exp:   `{"error":null,"layout":[{"geometry":{},"componentId":"banner","componentType":"basic-html"}]}`,
		},
		"new layout and events": {
			reply: Reply{
				NewLayout: []LayoutEntry{},
				Events: []actions.Event{{
					EventName:  "message",
					Payload:    actions.EventPayload{ContentComponentRef: "banner", Message: json.RawMessage(`"hi"`)},
					WaitForAck: true,
				}},
			},
			exp: `{"error":null,"newLayout":[],"events":[{"eventName":"message","payload":{"contentComponentRef":"banner","message":"hi"},"waitForAck":true}]}`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(tt.reply)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "json", string(b), tt.exp)
		})
	}
}

func TestEventPush(t *testing.T) {
	p := EventPush(actions.Event{
		EventName: "message",
		Payload:   actions.EventPayload{ContentComponentRef: "map", Message: json.RawMessage(`{"zoom":4}`)},
	})

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "json", string(b), `{"type":"event","data":{"eventName":"message","contentComponentRef":"map","message":{"zoom":4}}}`)

	b, err = json.Marshal(Push{Type: PushSessionEvicted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "evicted", string(b), `{"type":"sessionEvicted"}`)
}

func TestBuildLayout(t *testing.T) {
	games, comps := testGames()
	catalog, err := game.NewCatalog(games, comps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := catalog.FindGameByName(context.Background(), "quest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	layout := buildLayout(g.State("middle"))
	testutil.AssertEqual(t, "ids", componentIds(layout), "banner,map")
	testutil.AssertEqual(t, "type", layout[1].ComponentType, "map")
	testutil.AssertEqual(t, "data", string(layout[1].ComponentData), `{"zoom":3}`)
	testutil.AssertEqual(t, "vars", string(layout[0].ComponentVars), `{"html":"<b>hi</b>"}`)
}
