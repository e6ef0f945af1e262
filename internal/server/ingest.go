package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
)

func (s *Server) IngestBatch(c *gin.Context) {
	var batch telemetry.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}
	if batchID := strings.TrimSpace(batch.ID); batchID != "" {
		c.Set("batch_id", batchID)
	}

	resp, err := s.ingestSvc.IngestBatch(c.Request.Context(), batch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp.StatusChanges == nil {
		resp.StatusChanges = []telemetry.StatusChange{}
	}

	c.JSON(http.StatusOK, resp)
}
