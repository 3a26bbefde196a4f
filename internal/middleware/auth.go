package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/services"
)

type contextKey string

const UserContextKey contextKey = "user"

// RequireAuth accepts a bearer API token or a session cookie, in that order.
func RequireAuth(authService *services.AuthService, tokenRepo repository.APITokenRepository, userRepo repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				user models.User
				err  error
			)
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				user, err = userFromToken(r, authHeader, tokenRepo, userRepo)
			} else {
				user, err = authService.GetCurrentUser(r)
			}
			if err != nil {
				slog.Debug("rejecting unauthenticated request", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user.Role != models.RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromToken(r *http.Request, authHeader string, tokenRepo repository.APITokenRepository, userRepo repository.UserRepository) (models.User, error) {
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return models.User{}, services.ErrUnauthenticated
	}

	token, err := tokenRepo.FindByTokenHash(r.Context(), repository.HashToken(tokenString))
	if err != nil {
		return models.User{}, err
	}

	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		return models.User{}, services.ErrUnauthenticated
	}

	return userRepo.FindByID(r.Context(), token.CreatedByUserID)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": services.ErrUnauthenticated.Error()})
}

func GetUser(ctx context.Context) models.User {
	user, _ := ctx.Value(UserContextKey).(models.User)
	return user
}
