package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fitcoach/adherence/internal/middleware"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	userRepo repository.UserRepository
}

func NewAdminHandler(userRepo repository.UserRepository) *AdminHandler {
	return &AdminHandler{userRepo: userRepo}
}

type userView struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Tier  models.Tier `json:"tier"`
}

func (handler *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := handler.userRepo.FindAll(ctx)
	if err != nil {
		slog.Error("finding users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load users"})
		return
	}

	views := make([]userView, 0, len(users))
	for _, user := range users {
		views = append(views, userView{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role, Tier: user.Tier})
	}
	writeJSON(w, http.StatusOK, views)
}

// SetTier changes a user's subscription tier. Only the adjustment policy reads it.
func (handler *AdminHandler) SetTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	var request struct {
		Tier string `json:"tier"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	tier, ok := models.ParseTier(request.Tier)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "must be one of free, paid, pro", "field": "tier"})
		return
	}

	if err := handler.userRepo.UpdateTier(ctx, userID, tier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		slog.Error("updating tier", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update tier"})
		return
	}

	slog.Info("user tier changed", "user_id", userID, "tier", tier, "changed_by", middleware.GetUser(ctx).ID)
	writeJSON(w, http.StatusOK, map[string]string{"id": userID, "tier": string(tier)})
}
