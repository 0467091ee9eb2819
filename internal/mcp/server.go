// Package mcp exposes the clinical services as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/feedback"
	"github.com/medical-decision-assistant/internal/service"
	"github.com/medical-decision-assistant/internal/terminology"
)

// Services are the backends the tools call. Any of them may be nil; the
// corresponding tools then report that the service is not configured.
type Services struct {
	Terms     *terminology.Normalizer
	Diagnosis *service.DiagnosisEngine
	Planner   *service.TreatmentPlanner
	Evidence  *service.RecommendationBuilder
	Safety    *service.SafetyChecker
	Tools     *service.MedicalTools
	Feedback  feedback.Store
}

// Server is the MCP server for the decision assistant.
type Server struct {
	mcpServer *mcp.Server
	services  Services
	logger    *logrus.Logger
	exportDir string
	toolNames []string
}

// NewServer creates a server and registers every tool. exportDir is where
// export_feedback writes its files.
func NewServer(name, version string, services Services, logger *logrus.Logger, exportDir string) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		services:  services,
		logger:    logger,
		exportDir: exportDir,
	}
	s.registerTools()

	logger.WithField("tool_count", len(s.toolNames)).Info("Registered MCP tools")
	return s
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	out := make([]string, len(s.toolNames))
	copy(out, s.toolNames)
	return out
}

func (s *Server) registerTools() {
	addTool(s, "normalize_term", "Map a colloquial or abbreviated medical term to its standard name and list its synonyms", s.normalizeTerm)
	addTool(s, "expand_query", "Annotate a question with the standard names of the medical terms it contains", s.expandQuery)

	addTool(s, "differential_diagnosis", "Rank candidate diseases from symptoms and lab readings and render a diagnosis report", s.differentialDiagnosis)
	addTool(s, "generate_treatment_plan", "Build a guideline-based treatment plan for a patient's diagnosis", s.generateTreatmentPlan)
	addTool(s, "adjust_treatment_plan", "Adjust an existing treatment plan from follow-up readings and effectiveness", s.adjustTreatmentPlan)

	addTool(s, "annotate_evidence", "Grade a recommendation's evidence level against a guideline", s.annotateEvidence)
	addTool(s, "create_recommendation", "Create a graded recommendation with traced evidence sources", s.createRecommendation)

	addTool(s, "safety_check", "Run ethics, risk and medication checks over generated advice", s.safetyCheck)
	addTool(s, "search_guidelines", "Answer a question from the clinical guideline knowledge base", s.searchGuidelines)

	addTool(s, "patient_information", "Show a patient's basic information", s.patientInformation)
	addTool(s, "assess_diabetes_risk", "Assess a patient's diabetes control and complication risk", s.assessDiabetesRisk)
	addTool(s, "check_medication_safety", "Check a new medication against a patient's current drugs and diagnoses", s.checkMedicationSafety)

	addTool(s, "submit_feedback", "Record a clinician's verdict on a suggested diagnosis", s.submitFeedback)
	addTool(s, "query_feedback", "Look up earlier feedback for a patient and suggested diagnosis", s.queryFeedback)
	addTool(s, "list_feedback", "List clinician feedback with agreement statistics", s.listFeedback)
	addTool(s, "export_feedback", "Export all feedback to a JSON file", s.exportFeedback)
	addTool(s, "import_feedback", "Import feedback from a JSON export, skipping duplicates", s.importFeedback)
}

// addTool registers fn under name. The input schema is inferred from In.
func addTool[In any](s *Server, name, description string, fn func(context.Context, In) (string, error)) {
	tool := &mcp.Tool{Name: name, Description: description}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		logger := s.logger.WithField("tool", name)

		text, err := fn(ctx, in)
		if err != nil {
			logger.WithError(err).Warn("Tool call failed")
			return errorResult(err), nil, nil
		}

		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Tool invoked")
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
	})

	s.toolNames = append(s.toolNames, name)
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
	}
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the feedback store.
func (s *Server) Close() error {
	if s.services.Feedback != nil {
		if err := s.services.Feedback.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
			return err
		}
	}
	return nil
}
