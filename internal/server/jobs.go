package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunJob runs one scheduler job now, outside its schedule.
func (s *Server) RunJob(c *gin.Context) {
	if s.jobs == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	result, err := s.jobs.RunJob(c.Request.Context(), name)
	if err != nil {
		s.log.Warn("manual job run failed", zap.String("job", name), zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
