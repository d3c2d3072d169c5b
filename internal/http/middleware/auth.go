// README: Optional Firebase auth: a valid bearer token upgrades the caller, a missing one is fine.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roam/internal/infra"
	"roam/internal/modules/session"
)

const identityKey = "roam.identity"

// Identity is what a verified ID token proves about the caller.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
}

// Upgrade raises c with the token's facts. A token never lowers a claimed state.
func (id Identity) Upgrade(c session.Caller) session.Caller {
	c.LoggedIn = true
	if id.EmailVerified {
		c.Verified = true
	}
	if id.Email != "" {
		c.Email = id.Email
	}
	return c
}

// Auth verifies "Authorization: Bearer <token>" when present. Bad tokens are logged
// and the request continues anonymously. A nil verifier disables the check.
func Auth(verifier infra.TokenVerifier, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if verifier == nil || header == "" {
			c.Next()
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			log.Debug("ignoring malformed authorization header")
			c.Next()
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			log.Info("id token rejected", zap.Error(err))
			c.Next()
			return
		}
		c.Set(identityKey, Identity{UID: tok.UID, Email: tok.Email, EmailVerified: tok.EmailVerified})
		c.Next()
	}
}

// CallerIdentity returns the verified identity, if any.
func CallerIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
