package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fitcoach/adherence/internal/middleware"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/go-chi/chi/v5"
)

const maxTokenLifetimeDays = 365

type TokenHandler struct {
	tokenRepo repository.APITokenRepository
}

func NewTokenHandler(tokenRepo repository.APITokenRepository) *TokenHandler {
	return &TokenHandler{tokenRepo: tokenRepo}
}

type tokenView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (handler *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	tokens, err := handler.tokenRepo.FindByUser(ctx, user.ID)
	if err != nil {
		slog.Error("listing tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load tokens"})
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, token := range tokens {
		views = append(views, tokenView{ID: token.ID, Name: token.Name, ExpiresAt: token.ExpiresAt, CreatedAt: token.CreatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func (handler *TokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	var request struct {
		Name          string `json:"name"`
		ExpiresInDays int    `json:"expiresInDays"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	name := strings.TrimSpace(request.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required", "field": "name"})
		return
	}
	if request.ExpiresInDays < 0 || request.ExpiresInDays > maxTokenLifetimeDays {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "must be between 0 and 365", "field": "expiresInDays"})
		return
	}

	rawToken := generateToken()
	token := models.APIToken{
		Name:            name,
		TokenHash:       repository.HashToken(rawToken),
		CreatedByUserID: user.ID,
	}
	if request.ExpiresInDays > 0 {
		expiresAt := time.Now().AddDate(0, 0, request.ExpiresInDays)
		token.ExpiresAt = &expiresAt
	}

	created, err := handler.tokenRepo.Create(ctx, token)
	if err != nil {
		slog.Error("creating token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create token"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        created.ID,
		"name":      created.Name,
		"token":     rawToken,
		"expiresAt": created.ExpiresAt,
	})
}

func (handler *TokenHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	id := chi.URLParam(r, "id")

	if err := handler.tokenRepo.Delete(ctx, id, user.ID); err != nil {
		slog.Error("deleting token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete token"})
		return
	}

	w.WriteHeader(http.StatusOK)
}

func generateToken() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
