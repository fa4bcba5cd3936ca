package handlers

import (
	"net/http"
	"strconv"

	"example.com/santekene/services/ledger/internal/rewards"
	"example.com/santekene/services/ledger/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WalletHandler handles wallet balance, history and spending
type WalletHandler struct {
	svc *wallet.Service
	log *logrus.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(svc *wallet.Service, log *logrus.Logger) *WalletHandler {
	return &WalletHandler{svc: svc, log: log}
}

// GetBalance handles GET /wallets/:userId/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	balance, err := h.svc.GetBalance(c.Request.Context(), uint(userID))
	if err != nil {
		h.log.WithError(err).Error("Failed to get balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ListTransactions handles GET /wallets/:userId/transactions
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.svc.ListTransactions(c.Request.Context(), uint(userID), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Spend handles POST /wallets/:userId/spend
func (h *WalletHandler) Spend(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req struct {
		Amount int64  `json:"amount" binding:"required,gt=0"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wtx, err := h.svc.Spend(c.Request.Context(), uint(userID), req.Amount, req.Reason)
	if err != nil {
		h.log.WithError(err).Warn("Spend rejected")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, wtx)
}

// ListRewardRules handles GET /rewards/rules
func (h *WalletHandler) ListRewardRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": rewards.Rules()})
}
