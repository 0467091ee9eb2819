package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/feedback"
	"github.com/medical-decision-assistant/internal/middleware"
	"github.com/medical-decision-assistant/internal/rag"
	"github.com/medical-decision-assistant/internal/service"
	"github.com/medical-decision-assistant/internal/statistics"
	"github.com/medical-decision-assistant/internal/terminology"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
	chatPath        = "/api/chat"
	chatWSPath      = "/api/chat/ws"
)

// ChatEngine streams answers to free-text questions.
type ChatEngine interface {
	QueryStream(ctx context.Context, question string) (*rag.Stream, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the services behind the HTTP routes. Nil members turn the
// matching routes into 500 responses instead of failing startup.
type Dependencies struct {
	Engine    ChatEngine
	Tools     *service.MedicalTools
	Patients  domain.PatientRepository
	Safety    *service.SafetyChecker
	Diagnosis *service.DiagnosisEngine
	Planner   *service.TreatmentPlanner
	Evidence  *service.RecommendationBuilder
	Terms     *terminology.Normalizer
	Insulin   *statistics.InsulinAnalyzer
	Feedback  feedback.Store
	Database  HealthChecker
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
	logger        *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()
	if logger == nil {
		logger = logrus.New()
	}

	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.AllowOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimit))
	router.Use(middleware.LimitBodySize(maxBodyBytes))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout, chatPath, chatWSPath))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
		logger:        logger,
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{"addr": addr, "tls": cfg.TLSEnabled}).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "接口不存在"})
	})

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/chat", s.handleChat)
		api.GET("/chat/ws", s.handleChatWebSocket)

		api.GET("/patient/:id", s.handleGetPatient)
		api.GET("/patient/:id/comprehensive", s.handleGetComprehensive)
		api.GET("/assessment/diabetes/:id", s.handleAssessDiabetes)

		api.POST("/safety/medication", s.handleCheckMedication)
		api.POST("/safety/check", s.handleSafetyCheck)

		api.POST("/diagnosis", s.handleDiagnosis)
		api.POST("/treatment/plan", s.handleTreatmentPlan)
		api.POST("/treatment/adjust", s.handleTreatmentAdjust)

		api.POST("/evidence/annotate", s.handleAnnotate)
		api.POST("/evidence/recommendation", s.handleRecommendation)

		api.GET("/terms", s.handleListTerms)
		api.GET("/terms/normalize", s.handleNormalizeTerm)
		api.GET("/terms/expand", s.handleExpandQuery)

		api.GET("/statistics/insulin", s.handleInsulinStatistics)

		api.POST("/feedback", s.handleSubmitFeedback)
		api.GET("/feedback", s.handleListFeedback)
		api.GET("/feedback/export", s.handleExportFeedback)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	database := s.deps.Patients != nil
	if database && s.deps.Database != nil {
		if err := s.deps.Database.Health(c.Request.Context()); err != nil {
			s.logger.WithError(err).Warn("Database health check failed")
			database = false
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"components": gin.H{
			"rag_engine":     s.deps.Engine != nil,
			"medical_tools":  s.deps.Tools != nil,
			"safety_checker": s.deps.Safety != nil,
			"database":       database,
		},
	})
}
