package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pixil98/go-quest/internal/storage"
)

// FileBackend keeps tokens and users as JSON assets under a directory.
type FileBackend struct {
	tokens *storage.FileStore[*AuthToken]
	users  *storage.FileStore[*User]

	// byValue maps token values to token ids.
	byValue map[string]string
	mu      sync.Mutex
}

func NewFileBackend(dir string) (*FileBackend, error) {
	tokenDir := filepath.Join(dir, "tokens")
	userDir := filepath.Join(dir, "users")
	for _, d := range []string{tokenDir, userDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	tokens, err := storage.NewFileStore[*AuthToken](tokenDir)
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}
	users, err := storage.NewFileStore[*User](userDir)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}

	b := &FileBackend{
		tokens:  tokens,
		users:   users,
		byValue: map[string]string{},
	}
	for id, t := range tokens.GetAll() {
		if t.Id != id {
			return nil, fmt.Errorf("token %s: id does not match file identifier %s", t.Id, id)
		}
		if other, ok := b.byValue[t.Token]; ok {
			return nil, fmt.Errorf("tokens %s and %s share a value", other, id)
		}
		b.byValue[t.Token] = id
	}
	for name, u := range users.GetAll() {
		if u.Username != name {
			return nil, fmt.Errorf("user %s: username does not match file identifier %s", u.Username, name)
		}
	}

	return b, nil
}

func (b *FileBackend) TokenByValue(ctx context.Context, value string) (*AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	t := b.tokens.Get(id)
	if t == nil {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (b *FileBackend) TokenById(ctx context.Context, id string) (*AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := b.tokens.Get(id)
	if t == nil {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (b *FileBackend) CreateToken(ctx context.Context, t *AuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokens.Get(t.Id) != nil {
		return fmt.Errorf("token %s already exists", t.Id)
	}
	if _, ok := b.byValue[t.Token]; ok {
		return fmt.Errorf("token value already in use")
	}

	if err := b.tokens.Save(t.Id, t.Clone()); err != nil {
		return unavailable(err)
	}
	b.byValue[t.Token] = t.Id
	return nil
}

func (b *FileBackend) UpdateToken(ctx context.Context, t *AuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.tokens.Get(t.Id)
	if cur == nil {
		return fmt.Errorf("token %s: %w", t.Id, ErrNotFound)
	}
	if cur.Version != t.Version {
		return conflictf("token %s is at version %d, update based on %d", t.Id, cur.Version, t.Version)
	}
	if owner, ok := b.byValue[t.Token]; ok && owner != t.Id {
		return fmt.Errorf("token value already in use")
	}

	next := t.Clone()
	next.Version++
	if err := b.tokens.Save(next.Id, next); err != nil {
		return unavailable(err)
	}

	if cur.Token != next.Token {
		delete(b.byValue, cur.Token)
		b.byValue[next.Token] = next.Id
	}
	t.Version = next.Version
	return nil
}

func (b *FileBackend) User(ctx context.Context, username string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := b.users.Get(username)
	if u == nil {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (b *FileBackend) CreateUser(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.users.Get(u.Username) != nil {
		return fmt.Errorf("user %s already exists", u.Username)
	}
	if err := b.users.Save(u.Username, u.Clone()); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *FileBackend) UpdateUser(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.users.Get(u.Username)
	if cur == nil {
		return fmt.Errorf("user %s: %w", u.Username, ErrNotFound)
	}
	if cur.Version != u.Version {
		return conflictf("user %s is at version %d, update based on %d", u.Username, cur.Version, u.Version)
	}

	next := u.Clone()
	next.Version++
	if err := b.users.Save(next.Username, next); err != nil {
		return unavailable(err)
	}
	u.Version = next.Version
	return nil
}
