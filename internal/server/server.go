package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/handlers"
	"github.com/fitcoach/adherence/internal/middleware"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/services"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	router *chi.Mux
	config config.Config
}

func New(database *sql.DB, cfg config.Config, authService *services.AuthService, publisher services.EventPublisher) *Server {
	userRepo := repository.NewUserRepository(database)
	tokenRepo := repository.NewAPITokenRepository(database)
	adherenceRepos := repository.NewAdherenceRepositories(database)
	transactor := repository.NewTransactor(database)

	aggregator := services.NewAggregator(cfg.Adherence)
	policy := services.NewAdjustmentPolicy()
	adherenceService := services.NewAdherenceService(adherenceRepos, transactor, aggregator, policy, publisher, cfg.Adherence)
	summaryService := services.NewSummaryService(adherenceRepos, aggregator, policy, cfg.Adherence.RequestTimeout)
	constraintService := services.NewConstraintService(adherenceRepos.Constraints, cfg.Adherence.DefaultSimplifyAfter)

	authHandler := handlers.NewAuthHandler(authService)
	adherenceHandler := handlers.NewAdherenceHandler(adherenceService, summaryService, constraintService)
	tokenHandler := handlers.NewTokenHandler(tokenRepo)
	adminHandler := handlers.NewAdminHandler(userRepo)

	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router.Get("/login", authHandler.LoginPage)
	router.Get("/auth/callback", authHandler.Callback)
	router.Get("/logout", authHandler.Logout)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(authService, tokenRepo, userRepo))

		r.Get("/", adherenceHandler.Summary)

		r.Post("/api/deviations", adherenceHandler.RecordDeviation)
		r.Get("/api/deviations", adherenceHandler.ListDeviations)
		r.Post("/api/checkins", adherenceHandler.SubmitCheckin)
		r.Get("/api/checkins", adherenceHandler.ListCheckins)
		r.Get("/api/summary", adherenceHandler.Summary)
		r.Get("/api/constraints", adherenceHandler.GetConstraints)
		r.Put("/api/constraints", adherenceHandler.UpdateConstraints)
		r.Post("/api/plan/regenerate", adherenceHandler.RegeneratePlan)
		r.Get("/api/adjustments", adherenceHandler.ListAdjustments)

		r.Get("/api/tokens", tokenHandler.ListTokens)
		r.Post("/api/tokens", tokenHandler.CreateToken)
		r.Delete("/api/tokens/{id}", tokenHandler.DeleteToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/api/admin/users", adminHandler.Users)
			r.Put("/api/admin/users/{id}/tier", adminHandler.SetTier)
		})
	})

	server := &Server{
		router: router,
		config: cfg,
	}

	return server
}

func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + server.config.Port,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("starting server", "address", httpServer.Addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
