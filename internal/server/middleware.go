package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxIngestBodyBytes bounds one forwarded batch. A full default batch of 64
// envelopes is a few kilobytes.
const maxIngestBodyBytes = 4 << 20

func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
