package handlers

import (
	"net/http"
	"strconv"

	"example.com/santekene/services/ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuditHandler exposes audit trail search backed by the search index
type AuditHandler struct {
	svc *service.AnchorService
	log *logrus.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(svc *service.AnchorService, log *logrus.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, log: log}
}

// SearchEntries handles GET /audit/entries. Filters on action and user_id
// combine, an empty filter set returns the most recent entries.
func (h *AuditHandler) SearchEntries(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	var filters []map[string]interface{}
	if action := c.Query("action"); action != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"action": action},
		})
	}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"userId": userID},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"createdAt": map[string]interface{}{"order": "desc"}},
		},
	}
	if len(filters) > 0 {
		query["query"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		}
	}

	entries, err := h.svc.SearchAuditEntries(c.Request.Context(), query)
	if err != nil {
		h.log.WithError(err).Error("Audit search failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit search unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
