package identity

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-testutil"
)

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	t.Helper()
	return map[string]func(t *testing.T) Backend{
		"file": func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "quest.db"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func TestBackend_Tokens(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newBackend(t)

			tok := &AuthToken{
				Id:       "7d1c1f2e-0000-4000-8000-000000000001",
				Token:    "first",
				Created:  testNow,
				Accessed: testNow,
				Sessions: Sessions{"intro": {CurrentGameState: "start", UserVars: map[string]json.RawMessage{"score": json.RawMessage(`5`)}}},
				Ext:      map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
			}
			if err := b.CreateToken(ctx, tok); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err := b.TokenByValue(ctx, "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			got, err := b.TokenByValue(ctx, "first")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "id", got.Id, tok.Id)
			testutil.AssertEqual(t, "created", got.Created.Equal(testNow), true)
			testutil.AssertEqual(t, "score", string(got.Sessions["intro"].UserVars["score"]), "5")
			testutil.AssertEqual(t, "ext", string(got.Ext["theme"]), `"dark"`)

			// A stale copy cannot overwrite a newer save.
			stale := got.Clone()
			got.Token = "second"
			if err := b.UpdateToken(ctx, got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "version", got.Version, uint64(1))

			err = b.UpdateToken(ctx, stale)
			if !errors.Is(err, game.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}

			_, err = b.TokenByValue(ctx, "first")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("old value still resolves: %v", err)
			}
			rotated, err := b.TokenByValue(ctx, "second")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "rotated id", rotated.Id, tok.Id)
			testutil.AssertEqual(t, "rotated version", rotated.Version, uint64(1))

			byId, err := b.TokenById(ctx, tok.Id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "by id", byId.Token, "second")

			_, err = b.TokenById(ctx, "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBackend_Users(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newBackend(t)

			u := &User{Username: "ann", Name: "Ann", PasswordHash: "x", AllowedGames: []string{"secret"}}
			if err := b.CreateUser(ctx, u); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := b.CreateUser(ctx, u); err == nil {
				t.Errorf("expected duplicate user to fail")
			}

			_, err := b.User(ctx, "bob")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			got, err := b.User(ctx, "ann")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "name", got.Name, "Ann")
			testutil.AssertEqual(t, "allowed", strings.Join(got.AllowedGames, ","), "secret")

			other, _ := b.User(ctx, "ann")

			got.Sessions = Sessions{"secret": {CurrentGameState: "start"}}
			if err := b.UpdateUser(ctx, got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			other.Name = "Annie"
			err = b.UpdateUser(ctx, other)
			if !errors.Is(err, game.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}

			final, _ := b.User(ctx, "ann")
			testutil.AssertEqual(t, "name kept", final.Name, "Ann")
			testutil.AssertEqual(t, "session", final.Sessions["secret"].CurrentGameState, "start")
		})
	}
}

func TestFileBackend_Reload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok := &AuthToken{Id: "a1", Token: "value", Created: testNow, Accessed: testNow}
	if err := b.CreateToken(ctx, tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := reloaded.TokenByValue(ctx, "value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "id", got.Id, "a1")
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewStore(b, WithClock(func() time.Time { return testNow }))
}

func TestStore_FindIdentityByToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]struct {
		token  string
		expErr error
	}{
		"known":   {token: id.Token.Token},
		"unknown": {token: "nope", expErr: game.ErrInvalidAuthToken},
		"empty":   {token: "", expErr: game.ErrInvalidAuthToken},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.FindIdentityByToken(ctx, tt.token)
			if tt.expErr != nil {
				if !errors.Is(err, tt.expErr) {
					t.Errorf("expected %v, got %v", tt.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "id", got.Token.Id, id.Token.Id)
			testutil.AssertEqual(t, "logged in", got.LoggedIn(), false)
		})
	}
}

func TestStore_FindIdentityByTokenId(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddUser(ctx, &User{Username: "ann"}, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	anon, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	linked, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Login(ctx, linked.Token.Token, "ann", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.RotateToken(ctx, linked.Token.Token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]struct {
		tokenId  string
		expErr   error
		expOwner string
	}{
		"anonymous": {
			tokenId:  anon.Token.Id,
			expOwner: "token-" + anon.Token.Id,
		},
		"logged in and rotated": {
			tokenId:  linked.Token.Id,
			expOwner: "user-ann",
		},
		"unknown": {
			tokenId: "nope",
			expErr:  game.ErrInvalidAuthToken,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.FindIdentityByTokenId(ctx, tt.tokenId)
			if tt.expErr != nil {
				if !errors.Is(err, tt.expErr) {
					t.Errorf("expected %v, got %v", tt.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "owner", got.Id(), tt.expOwner)
		})
	}
}

func TestStore_SaveWritesTokenBeforeUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddUser(ctx, &User{Username: "ann"}, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	created, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Login(ctx, created.Token.Token, "ann", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.FindIdentityByToken(ctx, created.Token.Token)
	b, _ := s.FindIdentityByToken(ctx, created.Token.Token)

	a.PutSessionState("intro", SessionState{CurrentGameState: "start"})
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := testNow.Add(time.Hour)
	b.Touch(later)
	b.PutSessionState("intro", SessionState{CurrentGameState: "end"})
	err = s.Save(ctx, b)
	if !errors.Is(err, game.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := s.FindIdentityByToken(ctx, created.Token.Token)
	st, _ := got.SessionState("intro")
	testutil.AssertEqual(t, "state", st.CurrentGameState, "start")
	testutil.AssertEqual(t, "accessed", got.Token.Accessed.Equal(later), true)
}

func TestStore_SaveConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.FindIdentityByToken(ctx, created.Token.Token)
	b, _ := s.FindIdentityByToken(ctx, created.Token.Token)

	a.PutSessionState("intro", SessionState{CurrentGameState: "start"})
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.PutSessionState("intro", SessionState{CurrentGameState: "end"})
	err = s.Save(ctx, b)
	if !errors.Is(err, game.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := s.FindIdentityByToken(ctx, created.Token.Token)
	st, _ := got.SessionState("intro")
	testutil.AssertEqual(t, "state", st.CurrentGameState, "start")
}

func TestStore_RotateTokenKeepsProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id.PutSessionState("intro", SessionState{
		CurrentGameState: "middle",
		UserVars:         map[string]json.RawMessage{"score": json.RawMessage(`5`)},
	})
	if err := s.Save(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old := id.Token.Token
	rotated, err := s.RotateToken(ctx, old)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated.Token.Token == old {
		t.Fatalf("token value was not changed")
	}

	_, err = s.FindIdentityByToken(ctx, old)
	if !errors.Is(err, game.ErrInvalidAuthToken) {
		t.Errorf("old token still valid: %v", err)
	}

	got, err := s.FindIdentityByToken(ctx, rotated.Token.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "id", got.Token.Id, id.Token.Id)
	st, ok := got.SessionState("intro")
	testutil.AssertEqual(t, "has session", ok, true)
	testutil.AssertEqual(t, "state", st.CurrentGameState, "middle")
	testutil.AssertEqual(t, "score", string(st.UserVars["score"]), "5")
}

func TestStore_Login(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		username    string
		password    string
		userSession map[string]string
		expErr      error
		expSessions map[string]string
	}{
		"token progress moves to user": {
			username:    "ann",
			password:    "pw",
			expSessions: map[string]string{"intro": "token-state", "tour": "token-state"},
		},
		"user progress wins": {
			username:    "ann",
			password:    "pw",
			userSession: map[string]string{"intro": "user-state"},
			expSessions: map[string]string{"intro": "user-state", "tour": "token-state"},
		},
		"wrong password": {
			username: "ann",
			password: "nope",
			expErr:   ErrInvalidCredentials,
		},
		"unknown user": {
			username: "bob",
			password: "pw",
			expErr:   ErrInvalidCredentials,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)

			u := &User{Username: "ann"}
			for g, st := range tt.userSession {
				if u.Sessions == nil {
					u.Sessions = Sessions{}
				}
				u.Sessions[g] = SessionState{CurrentGameState: st}
			}
			if err := s.AddUser(ctx, u, "pw"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			anon, err := s.NewToken(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			anon.PutSessionState("intro", SessionState{CurrentGameState: "token-state"})
			anon.PutSessionState("tour", SessionState{CurrentGameState: "token-state"})
			if err := s.Save(ctx, anon); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = s.Login(ctx, anon.Token.Token, tt.username, tt.password)
			if tt.expErr != nil {
				if !errors.Is(err, tt.expErr) {
					t.Fatalf("expected %v, got %v", tt.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := s.FindIdentityByToken(ctx, anon.Token.Token)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "logged in", got.LoggedIn(), true)
			testutil.AssertEqual(t, "token sessions", len(got.Token.Sessions), 0)

			sessions := map[string]string{}
			for g, st := range got.User.Sessions {
				sessions[g] = st.CurrentGameState
			}
			if !reflect.DeepEqual(sessions, tt.expSessions) {
				t.Errorf("sessions: got %v, expected %v", sessions, tt.expSessions)
			}
		})
	}
}

func TestStore_Logout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddUser(ctx, &User{Username: "ann"}, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := s.NewToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Login(ctx, id.Token.Token, "ann", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := s.Logout(ctx, id.Token.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "logged in", out.LoggedIn(), false)

	got, _ := s.FindIdentityByToken(ctx, id.Token.Token)
	testutil.AssertEqual(t, "reloaded logged in", got.LoggedIn(), false)
}

func TestStore_AddUser(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		user     *User
		password string
		expErr   string
	}{
		"valid":        {user: &User{Username: "ann"}, password: "pw"},
		"no password":  {user: &User{Username: "ann"}, expErr: "password is required"},
		"bad username": {user: &User{Username: "a b"}, password: "pw", expErr: "must be alphanumeric"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			err := s.AddUser(ctx, tt.user, tt.password)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ok, err := s.HasUser(ctx, tt.user.Username)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "exists", ok, true)
		})
	}
}
