package handlers

import (
	"net/http"

	"example.com/santekene/services/ledger/internal/ledger"

	"github.com/gin-gonic/gin"
)

// HealthCheck handles health check requests, reporting ledger availability
func HealthCheck(client ledger.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "Ledger Service",
			"ledger":  client.Available(),
		})
	}
}
