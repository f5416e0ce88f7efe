package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/storage"
)

// SessionState is one identity's progress through one game.
type SessionState struct {
	CurrentGameState string                     `json:"current_game_state"`
	UserVars         map[string]json.RawMessage `json:"user_vars"`
	LastPlayed       time.Time                  `json:"last_played,omitempty"`
}

// NewSessionState starts a game at its initial state with no variables.
func NewSessionState(g *game.Game) SessionState {
	return SessionState{
		CurrentGameState: g.InitialState,
		UserVars:         map[string]json.RawMessage{},
	}
}

func (s SessionState) Clone() SessionState {
	out := s
	out.UserVars = make(map[string]json.RawMessage, len(s.UserVars))
	for k, v := range s.UserVars {
		out.UserVars[k] = bytes.Clone(v)
	}
	return out
}

// Equal reports whether s and o hold the same progress. Variable values are
// compared as compact JSON.
func (s SessionState) Equal(o SessionState) bool {
	if s.CurrentGameState != o.CurrentGameState || !s.LastPlayed.Equal(o.LastPlayed) {
		return false
	}
	if len(s.UserVars) != len(o.UserVars) {
		return false
	}
	for k, v := range s.UserVars {
		w, ok := o.UserVars[k]
		if !ok || !jsonEqual(v, w) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

type Sessions map[string]SessionState

func (s Sessions) Clone() Sessions {
	if s == nil {
		return nil
	}
	out := make(Sessions, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// AuthToken is a browser credential. Id never changes; Token is the value
// handed to the client and may be rotated.
type AuthToken struct {
	Id       string                 `json:"id"`
	Token    string                 `json:"token"`
	UserId   string                 `json:"user_id,omitempty"`
	Created  time.Time              `json:"created"`
	Accessed time.Time              `json:"accessed"`
	Admin    bool                   `json:"admin,omitempty"`
	Sessions Sessions               `json:"sessions,omitempty"`
	Ext      storage.ExtensionState `json:"ext,omitempty"`
	Version  uint64                 `json:"version"`
}

func (t *AuthToken) Validate() error {
	if t.Id == "" {
		return fmt.Errorf("token id is required")
	}
	if t.Token == "" {
		return fmt.Errorf("token value is required")
	}
	return nil
}

func (t *AuthToken) Clone() *AuthToken {
	out := *t
	out.Sessions = t.Sessions.Clone()
	out.Ext = t.Ext.Clone()
	return &out
}

// User is a registered account.
type User struct {
	Username     string                 `json:"username"`
	Name         string                 `json:"name,omitempty"`
	PasswordHash string                 `json:"password_hash"`
	AllowedGames []string               `json:"allowed_games,omitempty"`
	Admin        bool                   `json:"admin,omitempty"`
	Sessions     Sessions               `json:"sessions,omitempty"`
	Ext          storage.ExtensionState `json:"ext,omitempty"`
	Version      uint64                 `json:"version"`
}

func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if !storage.Identifier(u.Username).Valid() {
		return fmt.Errorf("username %q must be alphanumeric", u.Username)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("password hash is required")
	}
	return nil
}

func (u *User) Clone() *User {
	out := *u
	out.AllowedGames = slices.Clone(u.AllowedGames)
	out.Sessions = u.Sessions.Clone()
	out.Ext = u.Ext.Clone()
	return &out
}

// Identity is whoever presented a token: the token itself and, when the
// token is logged in, its user. Session progress lives on the user when
// there is one and on the token otherwise; callers never need to know which.
type Identity struct {
	Token *AuthToken
	User  *User

	tokenDirty bool
}

// Id is stable for the lifetime of the record that owns the sessions.
func (i *Identity) Id() string {
	if i.User != nil {
		return "user-" + i.User.Username
	}
	return "token-" + i.Token.Id
}

func (i *Identity) LoggedIn() bool {
	return i.User != nil
}

func (i *Identity) admin() bool {
	return i.Token.Admin || (i.User != nil && i.User.Admin)
}

func (i *Identity) sessions() *Sessions {
	if i.User != nil {
		return &i.User.Sessions
	}
	return &i.Token.Sessions
}

// SessionState returns a copy of the progress stored for gameId.
func (i *Identity) SessionState(gameId string) (SessionState, bool) {
	s, ok := (*i.sessions())[gameId]
	if !ok {
		return SessionState{}, false
	}
	return s.Clone(), true
}

// PutSessionState replaces the progress stored for gameId.
func (i *Identity) PutSessionState(gameId string, s SessionState) {
	sessions := i.sessions()
	if *sessions == nil {
		*sessions = Sessions{}
	}
	(*sessions)[gameId] = s.Clone()
}

// CanPlay reports whether the identity has been granted a private game.
func (i *Identity) CanPlay(gameId string) bool {
	if i.admin() {
		return true
	}
	if i.User == nil {
		return false
	}
	return slices.Contains(i.User.AllowedGames, gameId)
}

// Authorize applies g's access policy.
func (i *Identity) Authorize(g *game.Game) error {
	switch g.Access {
	case game.AccessPublic:
		return nil
	case game.AccessProtected:
		if !i.LoggedIn() {
			return game.ErrLoginRequired
		}
		return nil
	case game.AccessPrivate:
		if !i.LoggedIn() {
			return game.ErrLoginRequired
		}
		if !i.CanPlay(g.Name()) {
			return game.ErrAccessDenied
		}
		return nil
	}
	return game.Configurationf("game %s has unknown access policy %q", g.Name(), g.Access)
}

// Touch records that the token was used.
func (i *Identity) Touch(now time.Time) {
	i.Token.Accessed = now
	i.tokenDirty = true
}

// Clone returns a copy sharing no mutable state with i.
func (i *Identity) Clone() *Identity {
	out := &Identity{Token: i.Token.Clone(), tokenDirty: i.tokenDirty}
	if i.User != nil {
		out.User = i.User.Clone()
	}
	return out
}
