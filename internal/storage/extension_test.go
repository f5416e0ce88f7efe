package storage

import (
	"encoding/json"
	"testing"

	"github.com/pixil98/go-testutil"
)

func TestExtensionState_Clone(t *testing.T) {
	tests := map[string]struct {
		ext    ExtensionState
		expNil bool
		expLen int
	}{
		"nil stays nil": {
			ext:    nil,
			expNil: true,
		},
		"empty": {
			ext: ExtensionState{},
		},
		"values": {
			ext:    ExtensionState{"theme": json.RawMessage(`"dark"`), "volume": json.RawMessage(`7`)},
			expLen: 2,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := tt.ext.Clone()
			testutil.AssertEqual(t, "nil", got == nil, tt.expNil)
			testutil.AssertEqual(t, "len", len(got), tt.expLen)
			for k, v := range tt.ext {
				testutil.AssertEqual(t, k, string(got[k]), string(v))
			}
		})
	}
}

func TestExtensionState_CloneIsDeep(t *testing.T) {
	orig := ExtensionState{"theme": json.RawMessage(`"dark"`)}

	clone := orig.Clone()
	clone["theme"][1] = 'X'
	delete(clone, "theme")

	testutil.AssertEqual(t, "theme", string(orig["theme"]), `"dark"`)
}

func TestExtensionState_RoundTrip(t *testing.T) {
	type record struct {
		Name string         `json:"name"`
		Ext  ExtensionState `json:"ext,omitempty"`
	}

	in := []byte(`{"name":"ada","ext":{"badge":{"level":3},"theme":"dark"}}`)
	var r record
	if err := json.Unmarshal(in, &r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "json", string(out), string(in))
}
