// README: Tests for the chat handler's request binding, caller upgrade and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/http/handlers"
	httpmiddleware "roam/internal/http/middleware"
	"roam/internal/infra"
	"roam/internal/modules/session"
	"roam/internal/modules/validate"
	"roam/internal/service"
	"roam/internal/types"
)

type fakeConcierge struct {
	got  service.TurnRequest
	resp service.TurnResponse
	err  error
}

func (f *fakeConcierge) HandleTurn(_ context.Context, req service.TurnRequest) (service.TurnResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeConcierge) Session(_ context.Context, id types.ID) (session.BookingSession, error) {
	if f.err != nil {
		return session.BookingSession{}, f.err
	}
	return session.BookingSession{ID: id, State: session.StateCollectingDates}, nil
}

func (f *fakeConcierge) Restart(_ context.Context, id types.ID) (session.BookingSession, error) {
	if f.err != nil {
		return session.BookingSession{}, f.err
	}
	return session.BookingSession{ID: id, State: session.StateInit}, nil
}

type stubTokenVerifier struct {
	token *infra.FirebaseToken
}

func (s *stubTokenVerifier) VerifyIDToken(context.Context, string) (*infra.FirebaseToken, error) {
	return s.token, nil
}

func buildTestRouter(c handlers.Concierge, verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier, nil))
	h := handlers.NewChatHandler(c, 0)
	r.POST("/api/chat/turn", h.Turn)
	r.GET("/api/chat/:id/session", h.Session)
	r.POST("/api/chat/:id/restart", h.Restart)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTurnBindsRequest(t *testing.T) {
	fake := &fakeConcierge{resp: service.TurnResponse{SessionID: "abc-123", Reply: "Where to?", NextState: session.StateCollectingLocation}}
	r := buildTestRouter(fake, nil)

	w := doRequest(r, http.MethodPost, "/api/chat/turn", map[string]any{
		"message":   "I need a car",
		"sessionId": "abc-123",
		"locale":    "en-US",
		"callerAuthState": map[string]any{
			"loggedIn": true, "verified": false, "accountEmail": "ana@example.com",
		},
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.ID("abc-123"), fake.got.SessionID)
	assert.Equal(t, "en-US", fake.got.Locale)
	assert.Equal(t, session.Caller{LoggedIn: true, Email: "ana@example.com"}, fake.got.Caller)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Where to?", body["reply"])
	assert.Equal(t, "COLLECTING_LOCATION", body["nextState"])
}

func TestTurnTokenUpgradesCaller(t *testing.T) {
	fake := &fakeConcierge{}
	verifier := &stubTokenVerifier{token: &infra.FirebaseToken{UID: "u1", Email: "ana@example.com", EmailVerified: true}}
	r := buildTestRouter(fake, verifier)

	w := doRequest(r, http.MethodPost, "/api/chat/turn", map[string]any{"message": "hi"}, "Bearer tok")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.Caller{LoggedIn: true, Verified: true, Email: "ana@example.com"}, fake.got.Caller)
}

func TestTurnRejectsBadRequests(t *testing.T) {
	r := buildTestRouter(&fakeConcierge{}, nil)
	cases := map[string]any{
		"missing message": map[string]any{"sessionId": "abc"},
		"bad session id":  map[string]any{"message": "hi", "sessionId": "../etc/passwd"},
		"bad email":       map[string]any{"message": "hi", "callerAuthState": map[string]any{"accountEmail": "nope"}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/chat/turn", body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&validate.ValidationError{Field: "message", Reason: "message is empty", Err: validate.ErrMalformedMessage}, http.StatusUnprocessableEntity},
		{session.ErrNotFound, http.StatusNotFound},
		{session.ErrConflict, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := buildTestRouter(&fakeConcierge{err: tc.err}, nil)
			w := doRequest(r, http.MethodPost, "/api/chat/turn", map[string]any{"message": "hi"}, "")
			assert.Equal(t, tc.want, w.Code)
		})
	}

	r := buildTestRouter(&fakeConcierge{err: &validate.ValidationError{Field: "message", Reason: "too long", Err: validate.ErrMalformedMessage}}, nil)
	w := doRequest(r, http.MethodPost, "/api/chat/turn", map[string]any{"message": "hi"}, "")
	assert.JSONEq(t, `{"error":"too long","field":"message"}`, w.Body.String())
}

func TestSessionAndRestart(t *testing.T) {
	r := buildTestRouter(&fakeConcierge{}, nil)

	w := doRequest(r, http.MethodGet, "/api/chat/abc-123/session", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"COLLECTING_DATES"`)

	w = doRequest(r, http.MethodPost, "/api/chat/abc-123/restart", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"INIT"`)

	w = doRequest(r, http.MethodGet, "/api/chat/bad$id/session", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = buildTestRouter(&fakeConcierge{err: session.ErrNotFound}, nil)
	w = doRequest(r, http.MethodGet, "/api/chat/abc-123/session", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
