// README: API gateway; builds the gin engine, registers routes and delegates to the concierge.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roam/internal/http/handlers"
	"roam/internal/http/middleware"
	"roam/internal/infra"
)

type ServerDeps struct {
	Concierge handlers.Concierge
	// Verifier is optional; without it every caller is anonymous unless the body says otherwise.
	Verifier infra.TokenVerifier
	// Gatherer backs /metrics; nil omits the route.
	Gatherer          prometheus.Gatherer
	Log               *zap.Logger
	RequestsPerMinute int
	TurnTimeout       time.Duration
}

type Server struct {
	chat     *handlers.ChatHandler
	verifier infra.TokenVerifier
	gatherer prometheus.Gatherer
	log      *zap.Logger
	perMin   int
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{
		chat:     handlers.NewChatHandler(deps.Concierge, deps.TurnTimeout),
		verifier: deps.Verifier,
		gatherer: deps.Gatherer,
		log:      deps.Log,
		perMin:   deps.RequestsPerMinute,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	chat := r.Group("/api/chat", middleware.RateLimit(s.perMin, s.log), middleware.Auth(s.verifier, s.log))
	chat.POST("/turn", s.chat.Turn)
	chat.GET("/:id/session", s.chat.Session)
	chat.POST("/:id/restart", s.chat.Restart)
	return r
}
