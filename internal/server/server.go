// Package server exposes the stream processor over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlstream/internal/cases"
	"github.com/Aidin1998/amlstream/internal/metrics"
	"github.com/Aidin1998/amlstream/internal/streaming"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// DefaultMaxBatchSize caps POST /v1/transactions/batch
const DefaultMaxBatchSize = 10000

// Processor is the part of *streaming.Processor the API serves
type Processor interface {
	ProcessTransaction(ctx context.Context, txn models.Transaction) *models.Result
	ProcessBatch(ctx context.Context, txns []models.Transaction) *streaming.BatchResult
	RiskSnapshot(ctx context.Context, accountID string) (models.RiskMetrics, bool, error)
	HighRiskAccounts(ctx context.Context) ([]models.HighRiskEntry, error)
}

// CaseService manages compliance cases
type CaseService interface {
	Open(ctx context.Context, c *cases.Case) error
	UpdateStatus(ctx context.Context, id, status string) (*cases.Case, error)
}

// Options configures the HTTP server. Case routes are mounted only when
// Cases is set.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	MaxBatchSize int
	Gatherer     prometheus.Gatherer
	Metrics      *metrics.Collector
	Cases        CaseService
}

// Server represents the HTTP server
type Server struct {
	logger *zap.Logger
	proc   Processor
	opts   Options
	srv    *http.Server
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, proc Processor, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "amlstream"
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{logger: logger, proc: proc, opts: opts}
	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.opts.ServiceName))
	router.Use(cors.Default())
	if s.opts.Metrics != nil {
		router.Use(s.metricsMiddleware())
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/transactions", s.handleTransaction)
		v1.POST("/transactions/batch", s.handleBatch)
		v1.GET("/accounts/:id/risk", s.handleRisk)
		v1.GET("/high-risk", s.handleHighRisk)
		if s.opts.Cases != nil {
			v1.POST("/cases", s.handleOpenCase)
			v1.PATCH("/cases/:id", s.handleCaseStatus)
		}
	}

	return router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.opts.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.opts.Metrics.HTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTransaction(c *gin.Context) {
	var txn models.Transaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.proc.ProcessTransaction(c.Request.Context(), txn)
	if result.Status == models.StatusFailed {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBatch(c *gin.Context) {
	var txns []models.Transaction
	if err := c.ShouldBindJSON(&txns); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(txns) > s.opts.MaxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("batch of %d exceeds limit %d", len(txns), s.opts.MaxBatchSize),
		})
		return
	}

	c.JSON(http.StatusOK, s.proc.ProcessBatch(c.Request.Context(), txns))
}

func (s *Server) handleRisk(c *gin.Context) {
	accountID := c.Param("id")
	snapshot, found, err := s.proc.RiskSnapshot(c.Request.Context(), accountID)
	if err != nil {
		s.logger.Error("Failed to read risk snapshot", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk store unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no risk snapshot for account"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleHighRisk(c *gin.Context) {
	entries, err := s.proc.HighRiskAccounts(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read high-risk registry", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": entries, "count": len(entries)})
}

type openCaseRequest struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

func (s *Server) handleOpenCase(c *gin.Context) {
	var req openCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := &cases.Case{OwnerID: req.OwnerID, Title: req.Title, Status: req.Status}
	if err := s.opts.Cases.Open(c.Request.Context(), record); err != nil {
		s.caseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

type caseStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCaseStatus(c *gin.Context) {
	var req caseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.opts.Cases.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.caseError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) caseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.Validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cases.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Case operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "case store unavailable"})
	}
}
