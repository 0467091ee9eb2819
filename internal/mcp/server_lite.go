// Package mcp serves the clinical tools over MCP.
// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	litecfg "github.com/medical-decision-assistant/internal/config"
	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/feedback"
	"github.com/medical-decision-assistant/internal/rag"
	"github.com/medical-decision-assistant/internal/repository"
	"github.com/medical-decision-assistant/internal/service"
	"github.com/medical-decision-assistant/internal/terminology"
)

// LiteServerName is reported to MCP clients by the lite server.
const LiteServerName = "medical-decision-assistant-lite"

// LiteServer is a lightweight MCP server. Patients come from an optional JSON
// file and feedback is kept in SQLite.
type LiteServer struct {
	*Server

	config        *litecfg.LiteConfig
	feedbackStore feedback.Store
	patients      domain.PatientRepository
	logger        *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithFeedbackStore sets a custom feedback store.
func WithFeedbackStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.feedbackStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithPatientRepository serves patients from repo instead of PatientsFile.
func WithPatientRepository(repo domain.PatientRepository) LiteServerOption {
	return func(s *LiteServer) error {
		s.patients = repo
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	server.logger.SetLevel(level)

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.feedbackStore == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback store: %w", err)
		}
		server.feedbackStore = store
	}

	if server.patients == nil && cfg.PatientsFile != "" {
		store, err := repository.LoadMemoryPatientStore(cfg.PatientsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load patients: %w", err)
		}
		server.patients = store
	}

	services, err := server.buildServices()
	if err != nil {
		return nil, err
	}

	server.Server = NewServer(LiteServerName, "v0.1.0", services, server.logger, cfg.ExportDir())
	server.logger.Info("Lite server initialized successfully")
	return server, nil
}

func (s *LiteServer) buildServices() (Services, error) {
	terms, err := terminology.NewNormalizer(s.logger)
	if err != nil {
		return Services{}, fmt.Errorf("failed to load terminology: %w", err)
	}
	diagnosis, err := service.NewDiagnosisEngine(s.logger, s.patients)
	if err != nil {
		return Services{}, fmt.Errorf("failed to create diagnosis engine: %w", err)
	}
	planner, err := service.NewTreatmentPlanner(s.logger, s.patients)
	if err != nil {
		return Services{}, fmt.Errorf("failed to create treatment planner: %w", err)
	}
	annotator, err := service.NewEvidenceAnnotator()
	if err != nil {
		return Services{}, fmt.Errorf("failed to create evidence annotator: %w", err)
	}
	safety := service.NewSafetyChecker(s.config.Safety, s.logger)

	var guides service.GuidelineQuerier
	if engine := s.openEngine(); engine != nil {
		guides = engine
	}

	return Services{
		Terms:     terms,
		Diagnosis: diagnosis,
		Planner:   planner,
		Evidence:  service.NewRecommendationBuilder(annotator, s.logger),
		Safety:    safety,
		Tools:     service.NewMedicalTools(s.patients, guides, safety, s.logger),
		Feedback:  s.feedbackStore,
	}, nil
}

// openEngine returns nil when guideline search cannot be offered.
func (s *LiteServer) openEngine() *rag.QueryEngine {
	if s.config.APIKey == "" {
		s.logger.Warn("No LLM API key configured, guideline search disabled")
		return nil
	}

	engine, err := rag.OpenEngine(s.config.LLMConfig(), s.config.IndexPath(), s.config.EmbeddingCache, rag.EngineOptions{}, s.logger)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("index", s.config.IndexPath()).Warn("Knowledge base index not found, guideline search disabled")
		return nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to open knowledge base, guideline search disabled")
		return nil
	}
	return engine
}

// Start starts the lite MCP server on stdio.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting medical decision assistant MCP server (lite)")
	return s.Server.Start(ctx)
}

// GetFeedbackStore returns the feedback store for external access.
func (s *LiteServer) GetFeedbackStore() feedback.Store {
	return s.feedbackStore
}
