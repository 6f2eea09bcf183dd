// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/engine"
	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/service"
	"github.com/vault-engine/internal/storage"
	"github.com/vault-engine/internal/types"
)

// VaultServiceInterface defines the service operations the API exposes
type VaultServiceInterface interface {
	CreateVault(ctx context.Context, input service.CreateVaultInput) (*service.VaultView, error)
	GetVault(ctx context.Context, vaultID string) (*service.VaultView, error)
	ListVaults(ctx context.Context, limit, offset int) ([]storage.VaultSummary, error)

	RegisterAsset(ctx context.Context, vaultID string, input service.RegisterAssetInput) error
	DeregisterAsset(ctx context.Context, vaultID string, typeID types.AssetTypeID) error
	RefreshAssetValue(ctx context.Context, vaultID string, typeID types.AssetTypeID) error

	SetLossTolerance(ctx context.Context, vaultID string, fraction decimal.Decimal) error
	BeginEpoch(ctx context.Context, vaultID string) error
	Disable(ctx context.Context, vaultID string) error
	Enable(ctx context.Context, vaultID string) error

	StartOperation(ctx context.Context, vaultID string, requested []types.AssetTypeID) ([]types.Holding, error)
	ReturnAssets(ctx context.Context, vaultID string, returned []types.Holding) error
	CloseOperation(ctx context.Context, vaultID string) error
	ForceReleaseOperation(ctx context.Context, vaultID string) error

	SubmitDeposit(ctx context.Context, vaultID, holder string, amountUSD decimal.Decimal) (*types.Receipt, error)
	SubmitWithdraw(ctx context.Context, vaultID, holder string, shareAmount decimal.Decimal) (*types.Receipt, error)
	TransferReceipt(ctx context.Context, vaultID, receiptID, presenter, newHolder string) error
	CancelRequest(ctx context.Context, vaultID, receiptID, presenter string) error
	ExecuteRequest(ctx context.Context, vaultID, receiptID, presenter string) (*engine.ExecutionResult, error)
	GetReceipt(ctx context.Context, vaultID, receiptID string) (types.Receipt, error)
	ReceiptsByHolder(ctx context.Context, holder string) ([]types.Receipt, error)

	ShareRatio(ctx context.Context, vaultID string) (decimal.Decimal, error)
	TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error)
}

// AuditReader exposes the audit trail read side
type AuditReader interface {
	ValuationHistory(ctx context.Context, vaultID string, typeID types.AssetTypeID, from, to time.Time) ([]storage.ValuationEvent, error)
	OperationHistory(ctx context.Context, vaultID string, limit int) ([]storage.OperationEvent, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	vaults     VaultServiceInterface
	audit      AuditReader
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	UserRPS         int // Requests per second for user-facing endpoints
	OperatorRPS     int // Requests per second for operator endpoints
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, vaults VaultServiceInterface, audit AuditReader) *Server {
	s := &Server{
		router: mux.NewRouter(),
		vaults: vaults,
		audit:  audit,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.UserRPS, s.config.OperatorRPS)

	// Middleware order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Vault lifecycle and reads
	api.HandleFunc("/vaults", s.handleCreateVault).Methods("POST")
	api.HandleFunc("/vaults", s.handleListVaults).Methods("GET")
	api.HandleFunc("/vaults/{id}", s.handleGetVault).Methods("GET")
	api.HandleFunc("/vaults/{id}/ratio", s.handleShareRatio).Methods("GET")
	api.HandleFunc("/vaults/{id}/value", s.handleTotalValue).Methods("GET")

	// Asset management
	api.HandleFunc("/vaults/{id}/assets", s.handleRegisterAsset).Methods("POST")
	api.HandleFunc("/vaults/{id}/assets/{typeId}", s.handleDeregisterAsset).Methods("DELETE")
	api.HandleFunc("/vaults/{id}/assets/{typeId}/refresh", s.handleRefreshAsset).Methods("POST")
	api.HandleFunc("/vaults/{id}/assets/{typeId}/history", s.handleValuationHistory).Methods("GET")

	// Admin
	api.HandleFunc("/vaults/{id}/tolerance", s.handleSetTolerance).Methods("PUT")
	api.HandleFunc("/vaults/{id}/epoch", s.handleBeginEpoch).Methods("POST")
	api.HandleFunc("/vaults/{id}/disable", s.handleDisable).Methods("POST")
	api.HandleFunc("/vaults/{id}/enable", s.handleEnable).Methods("POST")

	// Operation lifecycle
	api.HandleFunc("/vaults/{id}/operations", s.handleStartOperation).Methods("POST")
	api.HandleFunc("/vaults/{id}/operations/return", s.handleReturnAssets).Methods("POST")
	api.HandleFunc("/vaults/{id}/operations/close", s.handleCloseOperation).Methods("POST")
	api.HandleFunc("/vaults/{id}/operations/force-release", s.handleForceRelease).Methods("POST")
	api.HandleFunc("/vaults/{id}/operations/history", s.handleOperationHistory).Methods("GET")

	// Request buffer
	api.HandleFunc("/vaults/{id}/deposits", s.handleSubmitDeposit).Methods("POST")
	api.HandleFunc("/vaults/{id}/withdrawals", s.handleSubmitWithdraw).Methods("POST")
	api.HandleFunc("/vaults/{id}/receipts/{receiptId}", s.handleGetReceipt).Methods("GET")
	api.HandleFunc("/vaults/{id}/receipts/{receiptId}/transfer", s.handleTransferReceipt).Methods("POST")
	api.HandleFunc("/vaults/{id}/receipts/{receiptId}/cancel", s.handleCancelRequest).Methods("POST")
	api.HandleFunc("/vaults/{id}/receipts/{receiptId}/execute", s.handleExecuteRequest).Methods("POST")
	api.HandleFunc("/receipts", s.handleReceiptsByHolder).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vault-engine",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
