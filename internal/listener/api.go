package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/identity"
)

const maxBodySize = 16 * 1024

// TokenService issues and links identity tokens.
type TokenService interface {
	NewToken(ctx context.Context) (*identity.Identity, error)
	RotateToken(ctx context.Context, token string) (*identity.Identity, error)
	Login(ctx context.Context, token, username, password string) (*identity.Identity, error)
}

// ComponentStore looks up content components by id.
type ComponentStore interface {
	Component(id string) (*game.ContentComponent, error)
}

// PageRenderer renders the document a component is shown in.
type PageRenderer interface {
	RenderPage(id string, comp *game.ContentComponent) ([]byte, error)
}

type tokenResponse struct {
	Token string `json:"token"`
}

type rotateRequest struct {
	Token string `json:"token"`
}

type loginRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (l *WebsocketListener) handleNewToken(w http.ResponseWriter, r *http.Request) {
	id, err := l.tokens.NewToken(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, tokenResponse{Token: id.Token.Token})
}

func (l *WebsocketListener) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	id, err := l.tokens.RotateToken(r.Context(), req.Token)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, tokenResponse{Token: id.Token.Token})
}

func (l *WebsocketListener) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(r.Context(), w, game.Invalidf("username and password are required"))
		return
	}

	id, err := l.tokens.Login(r.Context(), req.Token, req.Username, req.Password)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, loginResponse{
		Token:    id.Token.Token,
		Username: id.User.Username,
		Admin:    id.User.Admin,
	})
}

func (l *WebsocketListener) handleContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	comp, err := l.components.Component(id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	page, err := l.pages.RenderPage(id, comp)
	if err != nil {
		slog.ErrorContext(r.Context(), "rendering component", "component", id, "error", err)
		writeError(r.Context(), w, game.Configurationf("rendering component %s", id))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(page); err != nil {
		slog.DebugContext(r.Context(), "writing component page", "component", id, "error", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return game.Wrap(game.ErrInvalidData, fmt.Errorf("decoding request body: %w", err))
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "api request failed", "error", err)
	}
	writeJSON(ctx, w, status, errorResponse{Error: game.CodeOf(err)})
}

func statusOf(err error) int {
	switch game.KindOf(err) {
	case game.KindAuth:
		return http.StatusUnauthorized
	case game.KindAccess:
		return http.StatusForbidden
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindConflict:
		return http.StatusConflict
	case game.KindConfiguration:
		return http.StatusInternalServerError
	}
	return http.StatusServiceUnavailable
}
