package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/knowledge"
)

const (
	defaultEvidenceLevel   = domain.LevelIIB
	traceContentLimit      = 100
	traceRuleWidth         = 60
	guidelineDocumentDated = "2023-07-20"
)

// EvidenceAnnotator grades recommendation text against the guideline phrase tables.
type EvidenceAnnotator struct {
	table knowledge.GuidelineTable
}

// NewEvidenceAnnotator creates an annotator over the embedded guideline table.
func NewEvidenceAnnotator() (*EvidenceAnnotator, error) {
	table, err := knowledge.Guidelines()
	if err != nil {
		return nil, fmt.Errorf("failed to load guideline table: %w", err)
	}
	return NewEvidenceAnnotatorWithTable(table), nil
}

// NewEvidenceAnnotatorWithTable creates an annotator over an explicit table.
func NewEvidenceAnnotatorWithTable(table knowledge.GuidelineTable) *EvidenceAnnotator {
	return &EvidenceAnnotator{table: table}
}

// DefaultGuideline is the guideline used when none is named.
func (a *EvidenceAnnotator) DefaultGuideline() string {
	return a.table.Default
}

// Guidelines lists the known guidelines with their graded phrases.
func (a *EvidenceAnnotator) Guidelines() []knowledge.Guideline {
	return append([]knowledge.Guideline(nil), a.table.Guidelines...)
}

// Annotate grades text using the phrases of guideline. The first phrase found
// in text wins; otherwise the level defaults to IIB. An unknown guideline
// also yields the default level.
func (a *EvidenceAnnotator) Annotate(text, guideline string) (string, domain.EvidenceLevel) {
	if guideline == "" {
		guideline = a.table.Default
	}

	level := defaultEvidenceLevel
	if g, ok := a.table.Find(guideline); ok {
		for _, p := range g.Phrases {
			if strings.Contains(text, p.Phrase) {
				level = p.Level
				break
			}
		}
	}

	return fmt.Sprintf("%s 【证据等级: %s】", text, level.Label()), level
}

// Description returns the explanatory sentence for level.
func (a *EvidenceAnnotator) Description(level domain.EvidenceLevel) string {
	return level.Description()
}

// DecisionTracer accumulates the evidence sources behind a recommendation.
// It is not safe for concurrent use; create one per recommendation.
type DecisionTracer struct {
	sources []domain.EvidenceSource
}

// NewDecisionTracer creates an empty tracer.
func NewDecisionTracer() *DecisionTracer {
	return &DecisionTracer{}
}

// AddSource records a source. Sources are neither deduplicated nor bounded.
func (t *DecisionTracer) AddSource(kind domain.SourceKind, name, location, content, updatedAt string) {
	t.sources = append(t.sources, domain.EvidenceSource{
		Kind:      kind,
		Name:      name,
		Location:  location,
		Content:   content,
		UpdatedAt: updatedAt,
	})
}

// Sources returns a copy of the recorded sources.
func (t *DecisionTracer) Sources() []domain.EvidenceSource {
	return append([]domain.EvidenceSource(nil), t.sources...)
}

func (t *DecisionTracer) byKind(kind domain.SourceKind) []domain.EvidenceSource {
	var out []domain.EvidenceSource
	for _, s := range t.sources {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// TraceReport renders the sources grouped as documents, database records and
// spreadsheet rows, in that order.
func (t *DecisionTracer) TraceReport() string {
	if len(t.sources) == 0 {
		return "无证据来源"
	}

	rule := strings.Repeat("=", traceRuleWidth)
	var b strings.Builder
	b.WriteString("\n【决策溯源】\n")
	b.WriteString(rule + "\n")

	if docs := t.byKind(domain.SourceDocument); len(docs) > 0 {
		b.WriteString("\n📄 PDF指南引用:\n")
		for i, s := range docs {
			fmt.Fprintf(&b, "%d. 《%s》第%s页\n", i+1, s.Name, s.Location)
			fmt.Fprintf(&b, "   内容: %s...\n", truncateRunes(s.Content, traceContentLimit))
			if s.UpdatedAt != "" {
				fmt.Fprintf(&b, "   更新时间: %s\n", s.UpdatedAt)
			}
		}
	}

	if records := t.byKind(domain.SourceDatabase); len(records) > 0 {
		b.WriteString("\n💾 数据库数据引用:\n")
		for i, s := range records {
			fmt.Fprintf(&b, "%d. 表: %s, 记录: %s\n", i+1, s.Name, s.Location)
			fmt.Fprintf(&b, "   内容: %s\n", s.Content)
		}
	}

	if rows := t.byKind(domain.SourceSpreadsheet); len(rows) > 0 {
		b.WriteString("\n📊 Excel数据引用:\n")
		for i, s := range rows {
			fmt.Fprintf(&b, "%d. 文件: %s, 行: %s\n", i+1, s.Name, s.Location)
			fmt.Fprintf(&b, "   内容: %s\n", s.Content)
		}
	}

	b.WriteString(rule + "\n")
	return b.String()
}

// SourceSummary counts sources per kind. Every kind is present in the result.
func (t *DecisionTracer) SourceSummary() map[domain.SourceKind]int {
	summary := make(map[domain.SourceKind]int, len(domain.AllSourceKinds))
	for _, k := range domain.AllSourceKinds {
		summary[k] = 0
	}
	for _, s := range t.sources {
		summary[s.Kind]++
	}
	return summary
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// RecommendationInput describes a recommendation and where it came from.
// A database source needs both Table and Record; a spreadsheet source needs
// both File and Row.
type RecommendationInput struct {
	Content   string `json:"content"`
	Guideline string `json:"guideline"`
	Page      string `json:"pdf_page,omitempty"`
	Table     string `json:"db_table,omitempty"`
	Record    string `json:"db_record,omitempty"`
	File      string `json:"excel_file,omitempty"`
	Row       string `json:"excel_row,omitempty"`
}

// RecommendationBuilder produces graded, traced recommendations.
type RecommendationBuilder struct {
	annotator *EvidenceAnnotator
	logger    *logrus.Logger
}

// NewRecommendationBuilder creates a builder.
func NewRecommendationBuilder(annotator *EvidenceAnnotator, logger *logrus.Logger) *RecommendationBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RecommendationBuilder{annotator: annotator, logger: logger}
}

// Annotator exposes the underlying annotator.
func (b *RecommendationBuilder) Annotator() *EvidenceAnnotator {
	return b.annotator
}

// CreateRecommendation grades the content and traces its sources. Each call
// starts from an empty trace.
func (b *RecommendationBuilder) CreateRecommendation(in RecommendationInput) *domain.Recommendation {
	guideline := in.Guideline
	if guideline == "" {
		guideline = b.annotator.DefaultGuideline()
	}

	annotated, level := b.annotator.Annotate(in.Content, guideline)

	tracer := NewDecisionTracer()
	if in.Page != "" {
		tracer.AddSource(domain.SourceDocument, guideline, in.Page, in.Content, guidelineDocumentDated)
	}
	if in.Table != "" && in.Record != "" {
		tracer.AddSource(domain.SourceDatabase, in.Table, in.Record, "患者数据: "+in.Record, "")
	}
	if in.File != "" && in.Row != "" {
		tracer.AddSource(domain.SourceSpreadsheet, in.File, in.Row, "统计数据第"+in.Row+"行", "")
	}

	b.logger.WithFields(logrus.Fields{
		"guideline": guideline,
		"level":     level,
		"sources":   len(tracer.sources),
	}).Debug("Recommendation created")

	return &domain.Recommendation{
		Content:          annotated,
		Level:            level,
		LevelLabel:       level.Label(),
		LevelDescription: b.annotator.Description(level),
		Guideline:        guideline,
		TraceReport:      tracer.TraceReport(),
		SourceSummary:    tracer.SourceSummary(),
		Sources:          tracer.Sources(),
	}
}

// FormatRecommendation renders a recommendation as report text.
func FormatRecommendation(rec *domain.Recommendation) string {
	rule := strings.Repeat("=", reportRuleWidth)
	var b strings.Builder

	b.WriteString("\n" + rule + "\n")
	b.WriteString("循证医学推荐\n")
	b.WriteString(rule + "\n\n")

	fmt.Fprintf(&b, "【推荐内容】\n%s\n\n", rec.Content)
	fmt.Fprintf(&b, "【证据等级】%s\n", rec.LevelLabel)
	fmt.Fprintf(&b, "说明: %s\n\n", rec.LevelDescription)
	fmt.Fprintf(&b, "【指南来源】%s\n", rec.Guideline)
	b.WriteString(rec.TraceReport)

	b.WriteString("\n【数据来源统计】\n")
	fmt.Fprintf(&b, "- PDF指南引用: %d处\n", rec.SourceSummary[domain.SourceDocument])
	fmt.Fprintf(&b, "- 数据库数据: %d条\n", rec.SourceSummary[domain.SourceDatabase])
	fmt.Fprintf(&b, "- Excel数据: %d条\n", rec.SourceSummary[domain.SourceSpreadsheet])

	b.WriteString("\n" + rule + "\n")
	return b.String()
}
