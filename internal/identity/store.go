package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-quest/internal/game"
)

var ErrNotFound = errors.New("record not found")

var ErrInvalidCredentials = &game.Error{Kind: game.KindAuth, Code: "invalid-credentials", Message: "invalid username or password"}

// Backend persists token and user records. Lookups return copies. Updates
// succeed only when the stored version matches the record's version, and
// bump the record's version in place on success.
type Backend interface {
	TokenByValue(ctx context.Context, value string) (*AuthToken, error)
	TokenById(ctx context.Context, id string) (*AuthToken, error)
	CreateToken(ctx context.Context, t *AuthToken) error
	UpdateToken(ctx context.Context, t *AuthToken) error
	User(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
}

type Opt func(*Store)

// WithClock overrides the time source used for token timestamps.
func WithClock(now func() time.Time) Opt {
	return func(s *Store) {
		s.now = now
	}
}

// Store resolves tokens into identities and persists them.
type Store struct {
	backend Backend
	now     func() time.Time
}

func NewStore(b Backend, opts ...Opt) *Store {
	s := &Store{
		backend: b,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// FindIdentityByToken loads the identity presenting token.
func (s *Store) FindIdentityByToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, game.ErrInvalidAuthToken
	}

	t, err := s.backend.TokenByValue(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, game.Wrap(game.ErrInvalidAuthToken, err)
	}
	if err != nil {
		return nil, err
	}
	return s.withUser(ctx, t)
}

// FindIdentityByTokenId loads the identity behind a token by the token's
// id, which survives rotation.
func (s *Store) FindIdentityByTokenId(ctx context.Context, tokenId string) (*Identity, error) {
	t, err := s.backend.TokenById(ctx, tokenId)
	if errors.Is(err, ErrNotFound) {
		return nil, game.Wrap(game.ErrInvalidAuthToken, err)
	}
	if err != nil {
		return nil, err
	}
	return s.withUser(ctx, t)
}

func (s *Store) withUser(ctx context.Context, t *AuthToken) (*Identity, error) {
	id := &Identity{Token: t}
	if t.UserId == "" {
		return id, nil
	}

	u, err := s.backend.User(ctx, t.UserId)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "token linked to missing user", "token", t.Id, "user", t.UserId)
		return id, nil
	}
	if err != nil {
		return nil, err
	}
	id.User = u
	return id, nil
}

// Save persists the record that owns id's sessions, and the token as well
// when it has been touched or owns the sessions itself. A touched token is
// written first: when the user write then fails, the only change left on
// disk is the token's access time.
func (s *Store) Save(ctx context.Context, id *Identity) error {
	if id.User == nil || id.tokenDirty {
		if err := s.backend.UpdateToken(ctx, id.Token); err != nil {
			return fmt.Errorf("saving token %s: %w", id.Token.Id, err)
		}
		id.tokenDirty = false
	}

	if id.User != nil {
		if err := s.backend.UpdateUser(ctx, id.User); err != nil {
			return fmt.Errorf("saving user %s: %w", id.User.Username, err)
		}
	}

	return nil
}

// NewToken creates an anonymous identity.
func (s *Store) NewToken(ctx context.Context) (*Identity, error) {
	now := s.Now()
	value, err := generateToken(now)
	if err != nil {
		return nil, err
	}

	t := &AuthToken{
		Id:       uuid.NewString(),
		Token:    value,
		Created:  now,
		Accessed: now,
	}
	if err := s.backend.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("creating token: %w", err)
	}

	slog.InfoContext(ctx, "created auth token", "token", t.Id)
	return &Identity{Token: t}, nil
}

// RotateToken replaces the token's value. The record keeps its id, its
// sessions and its user link.
func (s *Store) RotateToken(ctx context.Context, token string) (*Identity, error) {
	id, err := s.FindIdentityByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	value, err := generateToken(now)
	if err != nil {
		return nil, err
	}

	id.Token.Token = value
	id.Touch(now)
	if err := s.backend.UpdateToken(ctx, id.Token); err != nil {
		return nil, fmt.Errorf("rotating token %s: %w", id.Token.Id, err)
	}
	id.tokenDirty = false

	slog.InfoContext(ctx, "rotated auth token", "token", id.Token.Id)
	return id, nil
}

// Login links token to the user account. Progress accumulated on the token
// moves to the user for every game the user has not played; where both have
// progress the user's is kept. The token's own sessions are then cleared.
func (s *Store) Login(ctx context.Context, token, username, password string) (*Identity, error) {
	id, err := s.FindIdentityByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	u, err := s.backend.User(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := CheckPassword(password, u.PasswordHash)
	if err != nil {
		return nil, game.Wrap(ErrInvalidCredentials, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	merged := mergeSessions(u, id.Token)
	if merged > 0 {
		if err := s.backend.UpdateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("saving user %s: %w", u.Username, err)
		}
	}

	id.Token.UserId = u.Username
	id.Token.Sessions = nil
	id.Touch(s.Now())
	if err := s.backend.UpdateToken(ctx, id.Token); err != nil {
		return nil, fmt.Errorf("linking token %s: %w", id.Token.Id, err)
	}
	id.tokenDirty = false
	id.User = u

	slog.InfoContext(ctx, "token logged in", "token", id.Token.Id, "user", u.Username, "merged", merged)
	return id, nil
}

// Logout unlinks token from its user. The user keeps its progress and the
// token starts with none.
func (s *Store) Logout(ctx context.Context, token string) (*Identity, error) {
	id, err := s.FindIdentityByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	id.Token.UserId = ""
	id.Touch(s.Now())
	if err := s.backend.UpdateToken(ctx, id.Token); err != nil {
		return nil, fmt.Errorf("unlinking token %s: %w", id.Token.Id, err)
	}
	id.tokenDirty = false
	id.User = nil
	return id, nil
}

// AddUser creates an account with the given password.
func (s *Store) AddUser(ctx context.Context, u *User, password string) error {
	if password == "" {
		return game.Invalidf("password is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if err := u.Validate(); err != nil {
		return game.Invalidf("invalid user: %v", err)
	}
	if err := s.backend.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("creating user %s: %w", u.Username, err)
	}
	return nil
}

// HasUser reports whether username exists.
func (s *Store) HasUser(ctx context.Context, username string) (bool, error) {
	_, err := s.backend.User(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func mergeSessions(u *User, t *AuthToken) int {
	merged := 0
	for gameId, st := range t.Sessions {
		if _, ok := u.Sessions[gameId]; ok {
			continue
		}
		if u.Sessions == nil {
			u.Sessions = Sessions{}
		}
		u.Sessions[gameId] = st.Clone()
		merged++
	}
	return merged
}

// conflictf reports a version mismatch at save time.
func conflictf(format string, args ...any) error {
	return game.Wrap(game.ErrConflict, fmt.Errorf(format, args...))
}

// unavailable classifies a storage I/O failure.
func unavailable(err error) error {
	return game.Wrap(game.ErrUnavailable, err)
}
