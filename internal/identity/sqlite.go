package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps tokens and users in a SQLite database. Nested fields
// are stored as JSON text columns.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and creates the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS auth_tokens (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			created INTEGER NOT NULL DEFAULT 0,
			accessed INTEGER NOT NULL DEFAULT 0,
			admin INTEGER NOT NULL DEFAULT 0,
			sessions TEXT NOT NULL DEFAULT 'null',
			ext TEXT NOT NULL DEFAULT 'null',
			version INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id);

		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			allowed_games TEXT NOT NULL DEFAULT 'null',
			admin INTEGER NOT NULL DEFAULT 0,
			sessions TEXT NOT NULL DEFAULT 'null',
			ext TEXT NOT NULL DEFAULT 'null',
			version INTEGER NOT NULL DEFAULT 0
		);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) TokenByValue(ctx context.Context, value string) (*AuthToken, error) {
	return b.token(ctx, "token", value)
}

func (b *SQLiteBackend) TokenById(ctx context.Context, id string) (*AuthToken, error) {
	return b.token(ctx, "id", id)
}

// token loads the token whose column equals key. column is one of the
// unique columns, never caller input.
func (b *SQLiteBackend) token(ctx context.Context, column, key string) (*AuthToken, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, token, user_id, created, accessed, admin, sessions, ext, version
		 FROM auth_tokens WHERE `+column+` = ?`, key)

	var (
		t                 AuthToken
		created, accessed int64
		sessions, ext     string
	)
	err := row.Scan(&t.Id, &t.Token, &t.UserId, &created, &accessed, &t.Admin, &sessions, &ext, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	t.Created = fromUnixNano(created)
	t.Accessed = fromUnixNano(accessed)
	if err := json.Unmarshal([]byte(sessions), &t.Sessions); err != nil {
		return nil, fmt.Errorf("token %s: decoding sessions: %w", t.Id, err)
	}
	if err := json.Unmarshal([]byte(ext), &t.Ext); err != nil {
		return nil, fmt.Errorf("token %s: decoding ext: %w", t.Id, err)
	}
	return &t, nil
}

func (b *SQLiteBackend) CreateToken(ctx context.Context, t *AuthToken) error {
	sessions, ext, err := encodeNested(t.Sessions, t.Ext)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, token, user_id, created, accessed, admin, sessions, ext, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Id, t.Token, t.UserId, toUnixNano(t.Created), toUnixNano(t.Accessed), t.Admin, sessions, ext, t.Version)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *SQLiteBackend) UpdateToken(ctx context.Context, t *AuthToken) error {
	sessions, ext, err := encodeNested(t.Sessions, t.Ext)
	if err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE auth_tokens
		 SET token = ?, user_id = ?, created = ?, accessed = ?, admin = ?, sessions = ?, ext = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		t.Token, t.UserId, toUnixNano(t.Created), toUnixNano(t.Accessed), t.Admin, sessions, ext, t.Id, t.Version)
	if err != nil {
		return unavailable(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return conflictf("token %s changed since version %d", t.Id, t.Version)
	}

	t.Version++
	return nil
}

func (b *SQLiteBackend) User(ctx context.Context, username string) (*User, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT username, name, password_hash, allowed_games, admin, sessions, ext, version
		 FROM users WHERE username = ?`, username)

	var (
		u                      User
		allowed, sessions, ext string
	)
	err := row.Scan(&u.Username, &u.Name, &u.PasswordHash, &allowed, &u.Admin, &sessions, &ext, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	if err := json.Unmarshal([]byte(allowed), &u.AllowedGames); err != nil {
		return nil, fmt.Errorf("user %s: decoding allowed games: %w", u.Username, err)
	}
	if err := json.Unmarshal([]byte(sessions), &u.Sessions); err != nil {
		return nil, fmt.Errorf("user %s: decoding sessions: %w", u.Username, err)
	}
	if err := json.Unmarshal([]byte(ext), &u.Ext); err != nil {
		return nil, fmt.Errorf("user %s: decoding ext: %w", u.Username, err)
	}
	return &u, nil
}

func (b *SQLiteBackend) CreateUser(ctx context.Context, u *User) error {
	sessions, ext, err := encodeNested(u.Sessions, u.Ext)
	if err != nil {
		return err
	}
	allowed, err := json.Marshal(u.AllowedGames)
	if err != nil {
		return fmt.Errorf("encoding allowed games: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO users (username, name, password_hash, allowed_games, admin, sessions, ext, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Name, u.PasswordHash, string(allowed), u.Admin, sessions, ext, u.Version)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *SQLiteBackend) UpdateUser(ctx context.Context, u *User) error {
	sessions, ext, err := encodeNested(u.Sessions, u.Ext)
	if err != nil {
		return err
	}
	allowed, err := json.Marshal(u.AllowedGames)
	if err != nil {
		return fmt.Errorf("encoding allowed games: %w", err)
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE users
		 SET name = ?, password_hash = ?, allowed_games = ?, admin = ?, sessions = ?, ext = ?, version = version + 1
		 WHERE username = ? AND version = ?`,
		u.Name, u.PasswordHash, string(allowed), u.Admin, sessions, ext, u.Username, u.Version)
	if err != nil {
		return unavailable(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return conflictf("user %s changed since version %d", u.Username, u.Version)
	}

	u.Version++
	return nil
}

func encodeNested(sessions Sessions, ext map[string]json.RawMessage) (string, string, error) {
	s, err := json.Marshal(sessions)
	if err != nil {
		return "", "", fmt.Errorf("encoding sessions: %w", err)
	}
	e, err := json.Marshal(ext)
	if err != nil {
		return "", "", fmt.Errorf("encoding ext: %w", err)
	}
	return string(s), string(e), nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
