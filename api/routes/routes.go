package routes

import (
	"example.com/santekene/services/ledger/api/handlers"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/service"
	"example.com/santekene/services/ledger/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(
	r *gin.Engine,
	svc *service.AnchorService,
	walletSvc *wallet.Service,
	queueSvc *queue.Service,
	client ledger.Client,
	log *logrus.Logger,
) {
	// Health check
	r.GET("/health", handlers.HealthCheck(client))

	// API routes
	api := r.Group("/api/v1")

	// Document routes
	docHandler := handlers.NewDocumentHandler(svc, log)
	documents := api.Group("/documents")
	{
		documents.POST("", docHandler.UploadDocument)
		documents.GET("/:id", docHandler.GetDocument)
		documents.GET("/:id/content", docHandler.DownloadDocument)
		documents.POST("/:id/verify", docHandler.VerifyDocument)
	}
	api.GET("/patients/:id/documents", docHandler.ListPatientDocuments)

	// Health record sharing
	api.POST("/dse/grants", docHandler.GrantDseAccess)

	// Wallet routes
	walletHandler := handlers.NewWalletHandler(walletSvc, log)
	wallets := api.Group("/wallets")
	{
		wallets.GET("/:userId/balance", walletHandler.GetBalance)
		wallets.GET("/:userId/transactions", walletHandler.ListTransactions)
		wallets.POST("/:userId/spend", walletHandler.Spend)
	}
	api.GET("/rewards/rules", walletHandler.ListRewardRules)

	// Audit trail search
	auditHandler := handlers.NewAuditHandler(svc, log)
	api.GET("/audit/entries", auditHandler.SearchEntries)

	// Queue routes
	queueHandler := handlers.NewQueueHandler(queueSvc, log)
	q := api.Group("/queue")
	{
		q.GET("/stats", queueHandler.GetStats)
		q.DELETE("/jobs/:id", queueHandler.WithdrawJob)
	}
}
