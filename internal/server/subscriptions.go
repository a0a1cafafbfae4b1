package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetActiveSubscription(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	resp, err := s.subscriptionSvc.GetActive(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
