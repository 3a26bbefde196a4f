package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/services"
	"github.com/fitcoach/adherence/internal/testutil"
)

func newDevAuthHandler(t *testing.T) (*AuthHandler, *services.AuthService, *repository.SQLiteUserRepository) {
	t.Helper()
	userRepo := repository.NewUserRepository(testutil.NewTestDatabase(t))

	authService, err := services.NewAuthService(context.Background(), config.Config{SessionSecret: "test-secret"}, userRepo)
	if err != nil {
		t.Fatalf("creating auth service: %v", err)
	}
	return NewAuthHandler(authService), authService, userRepo
}

func findCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestLoginPage_DevLoginSignsInPaidAdmin(t *testing.T) {
	handler, authService, userRepo := newDevAuthHandler(t)

	recorder := httptest.NewRecorder()
	handler.LoginPage(recorder, httptest.NewRequest(http.MethodGet, "/login", nil))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}
	if location := recorder.Header().Get("Location"); location != "/" {
		t.Errorf("expected redirect to /, got %q", location)
	}

	sessionCookie := findCookie(recorder, "session")
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("expected session cookie to be set")
	}

	sessionRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	sessionRequest.AddCookie(&http.Cookie{Name: "session", Value: sessionCookie.Value})
	session, err := authService.GetSession(sessionRequest)
	if err != nil {
		t.Fatalf("session cookie not decodable: %v", err)
	}

	user, err := userRepo.FindByID(context.Background(), session.UserID)
	if err != nil {
		t.Fatalf("finding dev user: %v", err)
	}
	if user.Role != models.RoleAdmin || user.Tier != models.TierPaid {
		t.Errorf("expected a paid admin, got role %q tier %q", user.Role, user.Tier)
	}
}

func TestLoginPage_RepeatedDevLoginReusesUser(t *testing.T) {
	handler, _, userRepo := newDevAuthHandler(t)

	for range 2 {
		recorder := httptest.NewRecorder()
		handler.LoginPage(recorder, httptest.NewRequest(http.MethodGet, "/login", nil))
		if recorder.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", recorder.Code)
		}
	}

	count, err := userRepo.Count(context.Background())
	if err != nil {
		t.Fatalf("counting users: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a single dev user, got %d", count)
	}
}

func TestLogout_ClearsSessionCookie(t *testing.T) {
	handler, _, _ := newDevAuthHandler(t)

	recorder := httptest.NewRecorder()
	handler.Logout(recorder, httptest.NewRequest(http.MethodGet, "/logout", nil))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/login" {
		t.Errorf("expected redirect to /login, got %q", location)
	}

	cookie := findCookie(recorder, "session")
	if cookie == nil {
		t.Fatal("expected the session cookie to be cleared")
	}
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Errorf("expected an expired empty cookie, got value %q max-age %d", cookie.Value, cookie.MaxAge)
	}
}

func TestCallback_RejectsBadRequests(t *testing.T) {
	handler, _, _ := newDevAuthHandler(t)

	tests := []struct {
		name        string
		path        string
		stateCookie string
	}{
		{"missing state cookie", "/auth/callback?state=abc&code=xyz", ""},
		{"state mismatch", "/auth/callback?state=abc&code=xyz", "other"},
		{"missing code", "/auth/callback?state=abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.stateCookie != "" {
				request.AddCookie(&http.Cookie{Name: "oauth_state", Value: tt.stateCookie})
			}
			recorder := httptest.NewRecorder()
			handler.Callback(recorder, request)

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", recorder.Code)
			}
			if findCookie(recorder, "session") != nil {
				t.Error("expected no session to be set")
			}
		})
	}
}
