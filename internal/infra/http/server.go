package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DebasishTripathy13/CA/internal/config"
	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/usecase"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPMetrics records per-route request counters and exposes the scrape
// endpoint.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *slog.Logger

	decisions *usecase.DecisionService
	certs     *usecase.CertificateService
	audit     *usecase.AuditEmitter
	ca        domain.CertificateAuthority
	metrics   HTTPMetrics
	database  Pinger

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Decisions    *usecase.DecisionService
	Certificates *usecase.CertificateService
	Audit        *usecase.AuditEmitter
	CA           domain.CertificateAuthority
	Metrics      HTTPMetrics
	Database     Pinger
	RateLimiter  domain.RateLimiter
	Logger       *slog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		r:         r,
		logger:    logger,
		decisions: deps.Decisions,
		certs:     deps.Certificates,
		audit:     deps.Audit,
		ca:        deps.CA,
		metrics:   deps.Metrics,
		database:  deps.Database,
	}
	r.Use(requestLogger(logger, deps.Metrics))
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	if s.rateLimitWindow <= 0 {
		s.rateLimitWindow = time.Minute
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/health", s.handleHealth)
	s.r.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.r.Group("/api")
	api.Use(s.rateLimit)
	{
		decision := api.Group("/decision")
		decision.GET("/questions", s.handleQuestions)
		decision.POST("/evaluate", s.handleEvaluate)
		decision.POST("/reset", s.handleReset)
		decision.GET("/:id", s.handleGetDecision)

		certs := api.Group("/certificates")
		certs.POST("/request", s.handleCreateRequest)
		certs.POST("/approve/:id", s.handleApprove)
		certs.POST("/reject/:id", s.handleReject)
		certs.GET("/download/:id", s.handleDownload)
		certs.POST("/revoke/:id", s.handleRevoke)
		certs.GET("/list", s.handleList)
		certs.GET("/requests/:id", s.handleGetRequest)
		certs.POST("/issuance/:id", s.handleIssuance)
		certs.POST("/sync/:id", s.handleSync)
		certs.POST("/crl/refresh", s.handleRefreshCRL)
		certs.GET("/crl", s.handleCRL)

		api.GET("/audit", s.handleListAudit)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listen", "addr", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("http_shutdown")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "certassist"})
}

func (s *Server) handleHealthz(c *gin.Context) {
	mode := "no-db"
	if s.database != nil {
		mode = "db"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.database.Ping(ctx); err != nil {
			s.logger.WarnContext(c.Request.Context(), "healthz_db_unreachable", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "mode": mode})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
}
