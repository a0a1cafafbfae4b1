package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const internalTokenHeader = "X-Internal-Token"

// InternalTokenRequired guards the operator routes with a static bearer
// token. It is a no-op when no token is configured.
func (s *Server) InternalTokenRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.InternalAPIToken)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.GetHeader(internalTokenHeader))
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
