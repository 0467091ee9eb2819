// Package app assembles the services from configuration for the server
// binaries and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/api"
	"github.com/medical-decision-assistant/internal/cache"
	"github.com/medical-decision-assistant/internal/database"
	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/feedback"
	"github.com/medical-decision-assistant/internal/mcp"
	"github.com/medical-decision-assistant/internal/rag"
	"github.com/medical-decision-assistant/internal/repository"
	"github.com/medical-decision-assistant/internal/service"
	"github.com/medical-decision-assistant/internal/statistics"
	"github.com/medical-decision-assistant/internal/terminology"
)

// App holds the wired services and the resources they own.
type App struct {
	Config *domain.Config
	Deps   api.Dependencies

	engine   *rag.QueryEngine
	db       *database.DB
	feedback feedback.Store
	logger   *logrus.Logger
}

// New wires every service. Optional backends degrade rather than fail:
// without a database patient lookups report 数据库未初始化, and without an
// API key or index the chat endpoints report the engine as unavailable.
func New(ctx context.Context, cfg *domain.Config, indexPath string, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	var patients domain.PatientRepository
	if cfg.Database.Enabled() {
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		patients = repository.NewPatientRepository(db.Pool, logger)
		a.Deps.Database = db
		a.Deps.Patients = patients
	} else {
		logger.Warn("No database configured, patient lookups disabled")
	}

	if err := a.openFeedback(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildServices(patients); err != nil {
		a.Close()
		return nil, err
	}

	a.openEngine(ctx, indexPath)
	a.Deps.Tools = service.NewMedicalTools(patients, a.guidelines(), a.Deps.Safety, logger)
	return a, nil
}

func (a *App) openFeedback() error {
	if a.Config.Database.Enabled() {
		store, err := feedback.NewPostgresStoreFromURL(database.ConfigFromDomain(a.Config.Database).URL())
		if err != nil {
			return fmt.Errorf("failed to open feedback store: %w", err)
		}
		a.feedback = store
	} else {
		store, err := feedback.NewSQLiteStore(a.Config.Data.FeedbackDB)
		if err != nil {
			return fmt.Errorf("failed to open feedback store: %w", err)
		}
		a.feedback = store
	}
	a.Deps.Feedback = a.feedback
	return nil
}

func (a *App) buildServices(patients domain.PatientRepository) error {
	terms, err := terminology.NewNormalizer(a.logger)
	if err != nil {
		return fmt.Errorf("failed to load terminology: %w", err)
	}
	diagnosis, err := service.NewDiagnosisEngine(a.logger, patients)
	if err != nil {
		return fmt.Errorf("failed to create diagnosis engine: %w", err)
	}
	planner, err := service.NewTreatmentPlanner(a.logger, patients)
	if err != nil {
		return fmt.Errorf("failed to create treatment planner: %w", err)
	}
	annotator, err := service.NewEvidenceAnnotator()
	if err != nil {
		return fmt.Errorf("failed to create evidence annotator: %w", err)
	}

	a.Deps.Terms = terms
	a.Deps.Diagnosis = diagnosis
	a.Deps.Planner = planner
	a.Deps.Evidence = service.NewRecommendationBuilder(annotator, a.logger)
	a.Deps.Safety = service.NewSafetyChecker(a.Config.Safety, a.logger)
	a.Deps.Insulin = statistics.NewInsulinAnalyzer(a.Config.Data.DiabetesExcel, a.logger)
	return nil
}

func (a *App) openEngine(ctx context.Context, indexPath string) {
	if a.Config.LLM.APIKey == "" {
		a.logger.Warn("No LLM API key configured, chat and guideline search disabled")
		return
	}

	answers, err := cache.NewAnswerCache(a.Config.Cache)
	if err != nil {
		a.logger.WithError(err).Warn("Answer cache unavailable, continuing without it")
	}
	opts := rag.EngineOptions{TopK: a.Config.RAG.SimilarityTopK, CacheTTL: a.Config.RAG.AnswerCacheTTL}
	if answers != nil {
		opts.Cache = answers
	}

	engine, err := rag.OpenEngine(a.Config.LLM, indexPath, a.Config.RAG.EmbeddingCacheSize, opts, a.logger)
	if errors.Is(err, domain.ErrNotFound) {
		a.logger.WithField("index", indexPath).Warn("Knowledge base index not found, run `medassist index build` first")
		return
	}
	if err != nil {
		a.logger.WithError(err).Error("Failed to open knowledge base")
		return
	}

	a.engine = engine
	a.Deps.Engine = engine
}

func (a *App) guidelines() service.GuidelineQuerier {
	if a.engine == nil {
		return nil
	}
	return a.engine
}

// Engine returns the query engine, or nil when it could not be opened.
func (a *App) Engine() *rag.QueryEngine {
	return a.engine
}

// ExportDir is where MCP feedback exports are written.
func (a *App) ExportDir() string {
	return filepath.Join(a.Config.Data.Dir, "exports")
}

// MCPServices exposes the same services to the MCP server.
func (a *App) MCPServices() mcp.Services {
	return mcp.Services{
		Terms:     a.Deps.Terms,
		Diagnosis: a.Deps.Diagnosis,
		Planner:   a.Deps.Planner,
		Evidence:  a.Deps.Evidence,
		Safety:    a.Deps.Safety,
		Tools:     a.Deps.Tools,
		Feedback:  a.feedback,
	}
}

// Close releases the feedback store and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.feedback != nil {
		if err := a.feedback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing feedback store: %w", err))
		}
		a.feedback = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	return errors.Join(errs...)
}
