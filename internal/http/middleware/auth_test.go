// README: Tests for the optional Firebase auth and rate limit middleware.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"roam/internal/http/middleware"
	"roam/internal/infra"
	"roam/internal/modules/session"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier, nil))
	r.GET("/test", func(c *gin.Context) {
		id, ok := middleware.CallerIdentity(c)
		c.JSON(http.StatusOK, gin.H{"uid": id.UID, "email": id.Email, "ok": ok})
	})
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeaderIsAnonymous(t *testing.T) {
	w := get(newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}}), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("expected no identity, got %s", w.Body.String())
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	w := get(newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}}), "Token sometoken")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("expected anonymous 200, got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_VerifierErrorDoesNotGate(t *testing.T) {
	w := get(newTestRouter(&stubVerifier{err: errors.New("bad token")}), "Bearer invalidtoken")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("expected anonymous 200, got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_ValidTokenSetsIdentity(t *testing.T) {
	token := &infra.FirebaseToken{UID: "renter123", Email: "ana@example.com", EmailVerified: true}
	w := get(newTestRouter(&stubVerifier{token: token}), "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "renter123") || !strings.Contains(body, "ana@example.com") {
		t.Errorf("expected uid and email in body, got %s", body)
	}
}

func TestAuth_NilVerifier(t *testing.T) {
	w := get(newTestRouter(nil), "Bearer anything")
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("expected no identity without a verifier, got %s", w.Body.String())
	}
}

func TestIdentityUpgrade(t *testing.T) {
	cases := []struct {
		name string
		id   middleware.Identity
		in   session.Caller
		want session.Caller
	}{
		{"verified email", middleware.Identity{UID: "u", Email: "a@b.co", EmailVerified: true},
			session.Caller{}, session.Caller{LoggedIn: true, Verified: true, Email: "a@b.co"}},
		{"unverified email", middleware.Identity{UID: "u", Email: "a@b.co"},
			session.Caller{}, session.Caller{LoggedIn: true, Email: "a@b.co"}},
		{"never lowers", middleware.Identity{UID: "u"},
			session.Caller{LoggedIn: true, Verified: true, Email: "x@y.co"}, session.Caller{LoggedIn: true, Verified: true, Email: "x@y.co"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.id.Upgrade(tc.in); got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RateLimit(4, nil))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	// perMinute 4 gives a burst of 1: the second immediate request is refused.
	if w := get(r, ""); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := get(r, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
