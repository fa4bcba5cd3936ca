// api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"

	"example.com/santekene/services/ledger/api/middleware"
	"example.com/santekene/services/ledger/api/routes"
	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/service"
	"example.com/santekene/services/ledger/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	nrApp *newrelic.Application,
	svc *service.AnchorService,
	walletSvc *wallet.Service,
	queueSvc *queue.Service,
	client ledger.Client,
) *Server {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))

	if nrApp != nil {
		router.Use(middleware.NewRelicMiddleware(nrApp))
	}

	routes.SetupRoutes(router, svc, walletSvc, queueSvc, client, log)

	return &Server{
		router: router,
		config: cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router,
		},
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Infof("Starting server on port %d", s.config.Server.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
