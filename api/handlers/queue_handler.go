package handlers

import (
	"net/http"

	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// QueueHandler exposes queue stats and job withdrawal
type QueueHandler struct {
	svc *queue.Service
	log *logrus.Logger
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(svc *queue.Service, log *logrus.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, log: log}
}

// GetStats handles GET /queue/stats
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to collect queue stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": stats})
}

// WithdrawJob handles DELETE /queue/jobs/:id. Only jobs that have not
// started can be withdrawn.
func (h *QueueHandler) WithdrawJob(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.svc.Withdraw(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, repositories.ErrJobNotClaimed) {
			c.JSON(http.StatusConflict, gin.H{"error": "job already started or finished"})
			return
		}
		h.log.WithError(err).Error("Failed to withdraw job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to withdraw job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": true})
}
