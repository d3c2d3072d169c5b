package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/metrics"
	"roam/internal/modules/intent"
	"roam/internal/modules/query"
	"roam/internal/modules/session"
	"roam/internal/service"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	tables := query.MustDefaultTables()
	c := service.NewConcierge(service.Deps{
		Sessions: session.NewMemoryStore(),
		Machine:  session.NewMachine(query.NewLocationResolver(tables, nil), 0),
		Detector: intent.MustDefault(),
		Composer: query.NewComposer(tables),
		Metrics:  metrics.New(reg),
	}, service.Config{})
	return NewServer(ServerDeps{Concierge: c, Gatherer: reg}).Routes()
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestTurnThenMetrics(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/api/chat/turn",
		strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"nextState":"INIT"`)
	assert.Contains(t, string(body), `"cards":null`)
	assert.Contains(t, string(body), `"action":null`)
	assert.Contains(t, string(body), `"searchQuery":null`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `roam_chat_turns_total{outcome="degraded",state="INIT"} 1`)
}

func TestEmptyMessageIs422(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/turn", strings.NewReader(`{"message":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(t).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
