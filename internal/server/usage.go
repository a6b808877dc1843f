package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) GetUsage(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	usage, err := s.quota.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) ResetUsage(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	usage, err := s.quota.Reset(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("usage reset", zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"data": usage})
}
