// README: Chat handler: conversational turns, session lookup and restart.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"roam/internal/http/middleware"
	"roam/internal/modules/session"
	"roam/internal/service"
	"roam/internal/types"
)

// Concierge is the slice of service.Concierge the handler drives.
type Concierge interface {
	HandleTurn(ctx context.Context, req service.TurnRequest) (service.TurnResponse, error)
	Session(ctx context.Context, id types.ID) (session.BookingSession, error)
	Restart(ctx context.Context, id types.ID) (session.BookingSession, error)
}

const TurnTimeout = 30 * time.Second

type ChatHandler struct {
	concierge Concierge
	timeout   time.Duration
}

func NewChatHandler(c Concierge, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = TurnTimeout
	}
	return &ChatHandler{concierge: c, timeout: timeout}
}

type callerAuthState struct {
	LoggedIn     bool   `json:"loggedIn"`
	Verified     bool   `json:"verified"`
	AccountEmail string `json:"accountEmail" binding:"omitempty,email,max=254"`
}

type turnReq struct {
	Message         string          `json:"message" binding:"required,max=20000"`
	SessionID       string          `json:"sessionId" binding:"omitempty,max=64"`
	Locale          string          `json:"locale" binding:"omitempty,bcp47_language_tag"`
	CallerAuthState callerAuthState `json:"callerAuthState"`
}

// Turn handles POST /api/chat/turn.
func (h *ChatHandler) Turn(c *gin.Context) {
	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID != "" && !isValidID(req.SessionID) {
		writeError(c, http.StatusBadRequest, "invalid sessionId")
		return
	}

	caller := session.Caller{
		LoggedIn: req.CallerAuthState.LoggedIn,
		Verified: req.CallerAuthState.Verified,
		Email:    req.CallerAuthState.AccountEmail,
	}
	if id, ok := middleware.CallerIdentity(c); ok {
		caller = id.Upgrade(caller)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := h.concierge.HandleTurn(ctx, service.TurnRequest{
		Message:   req.Message,
		SessionID: types.ID(req.SessionID),
		Locale:    req.Locale,
		Caller:    caller,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// Session handles GET /api/chat/:id/session.
func (h *ChatHandler) Session(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid session id")
		return
	}
	s, err := h.concierge.Session(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

// Restart handles POST /api/chat/:id/restart.
func (h *ChatHandler) Restart(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid session id")
		return
	}
	s, err := h.concierge.Restart(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}
