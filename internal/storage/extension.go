package storage

import (
	"bytes"
	"encoding/json"
)

// ExtensionState carries fields a record owner does not interpret. The raw
// JSON is kept as-is so it round-trips through load and save untouched.
type ExtensionState map[string]json.RawMessage

// Clone returns a copy that shares no backing arrays with e.
func (e ExtensionState) Clone() ExtensionState {
	if e == nil {
		return nil
	}
	out := make(ExtensionState, len(e))
	for k, v := range e {
		out[k] = bytes.Clone(v)
	}
	return out
}
