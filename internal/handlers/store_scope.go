package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const storeKey = "storeID"

// storeScope rejects requests whose X-Store-ID header is not a configured
// store and exposes the store id to the handlers.
func storeScope(valid func(string) bool, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.GetHeader("X-Store-ID")
		if storeID == "" || valid == nil || !valid(storeID) {
			log.Warn("missing or invalid X-Store-ID header", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid X-Store-ID", "status": "error"})
			return
		}
		c.Set(storeKey, storeID)
		c.Next()
	}
}
