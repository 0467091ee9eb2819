package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
)

const (
	highRiskWarning = "⚠️ 本建议涉及重要医疗决策,请务必咨询主治医生后再执行。"
	carePrefix      = "💙 我理解您的担忧和不安。请放心,我们会一起面对这个问题。\n\n"
	disclaimerWidth = 80
	footerWidth     = 60
)

var (
	highRiskKeywords = []string{
		"立即", "紧急", "危险", "严重", "致命",
		"停药", "加量", "减量", "换药",
		"手术", "住院", "急诊",
	}

	forbiddenKeywords = []string{
		"保证治愈", "完全治愈", "根治",
		"绝对安全", "没有副作用",
		"最好的药", "唯一的选择",
	}

	careKeywords = []string{
		"担心", "害怕", "焦虑", "紧张",
		"痛苦", "难受", "不舒服",
		"并发症", "恶化", "严重",
	}

	careTips = []string{
		"慢性病管理是一个长期过程,请保持耐心和信心",
		"规律服药、健康生活方式是控制疾病的关键",
		"如有任何不适或疑问,请及时咨询您的主治医生",
		"保持积极乐观的心态,对疾病控制很有帮助",
	}

	overPromisePattern = regexp.MustCompile(`(100%|百分之百|一定|必然).*?(治愈|康复|痊愈)`)
)

// EthicsResult is the outcome of the content ethics check.
type EthicsResult struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// RiskResult is the outcome of high-risk keyword detection.
type RiskResult struct {
	IsHighRisk bool     `json:"is_high_risk"`
	Keywords   []string `json:"risk_keywords"`
	Warning    string   `json:"warning_message"`
}

// MedicationInfo describes a prescribing decision to check.
type MedicationInfo struct {
	Dosage             string   `json:"dosage,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
	NewMedication      string   `json:"new_medication,omitempty"`
	Contraindications  []string `json:"contraindications,omitempty"`
}

// MedicationSafetyResult is the outcome of the medication check.
type MedicationSafetyResult struct {
	Safe     bool     `json:"safe"`
	Warnings []string `json:"warnings"`
}

// SafetyChecks groups the individual results of ComprehensiveCheck.
type SafetyChecks struct {
	Ethics           EthicsResult            `json:"ethics"`
	Risk             RiskResult              `json:"risk"`
	MedicationSafety *MedicationSafetyResult `json:"medication_safety,omitempty"`
}

// CheckResult is the outcome of ComprehensiveCheck.
type CheckResult struct {
	OriginalContent  string       `json:"original_content"`
	ProcessedContent string       `json:"processed_content"`
	Checks           SafetyChecks `json:"checks"`
	SafeToDisplay    bool         `json:"safe_to_display"`
}

// SafetyChecker filters generated medical advice for ethics and risk, and
// decorates it with care text and disclaimers.
type SafetyChecker struct {
	cfg    domain.SafetyConfig
	logger *logrus.Logger
}

// NewSafetyChecker creates a checker with the given toggles.
func NewSafetyChecker(cfg domain.SafetyConfig, logger *logrus.Logger) *SafetyChecker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SafetyChecker{cfg: cfg, logger: logger}
}

// Config returns the active toggles.
func (s *SafetyChecker) Config() domain.SafetyConfig {
	return s.cfg
}

// CheckContentEthics flags forbidden promises, over-promised outcomes and
// coercive wording.
func (s *SafetyChecker) CheckContentEthics(content string) EthicsResult {
	if !s.cfg.EnableEthicsCheck {
		return EthicsResult{Passed: true, Issues: []string{}}
	}

	issues := []string{}
	for _, kw := range forbiddenKeywords {
		if strings.Contains(content, kw) {
			issues = append(issues, fmt.Sprintf("包含不当承诺: '%s'", kw))
			s.logger.WithField("keyword", kw).Warn("Forbidden phrase in content")
		}
	}

	if overPromisePattern.MatchString(content) {
		issues = append(issues, "存在过度承诺疗效的表述")
	}

	if strings.Contains(content, "必须") && !strings.Contains(content, "建议") {
		issues = append(issues, "表述过于强制,建议使用'建议'等词汇")
	}

	return EthicsResult{Passed: len(issues) == 0, Issues: issues}
}

// DetectHighRiskContent lists the high-risk keywords present in content.
// It runs regardless of the safety toggles.
func (s *SafetyChecker) DetectHighRiskContent(content string) RiskResult {
	found := []string{}
	for _, kw := range highRiskKeywords {
		if strings.Contains(content, kw) {
			found = append(found, kw)
		}
	}

	result := RiskResult{IsHighRisk: len(found) > 0, Keywords: found}
	if result.IsHighRisk {
		result.Warning = highRiskWarning
		s.logger.WithField("keywords", found).Warn("High-risk content detected")
	}
	return result
}

// CheckMedicationSafety reports contraindications as warnings. Dose and
// interaction checks only log what was inspected.
func (s *SafetyChecker) CheckMedicationSafety(info MedicationInfo) MedicationSafetyResult {
	if !s.cfg.EnableSafetyCheck {
		return MedicationSafetyResult{Safe: true, Warnings: []string{}}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"new_medication": info.NewMedication,
		"current_count":  len(info.CurrentMedications),
	})
	if info.Dosage != "" {
		entry = entry.WithField("dosage", info.Dosage)
	}
	entry.Debug("Checking medication safety")

	warnings := []string{}
	if len(info.Contraindications) > 0 {
		warnings = append(warnings, "注意禁忌症: "+strings.Join(info.Contraindications, "、"))
	}

	return MedicationSafetyResult{Safe: len(warnings) == 0, Warnings: warnings}
}

// AddHumanisticCare wraps content with reassurance. The prefix is added only
// when patientContext expresses distress; the closing tips are always added.
func (s *SafetyChecker) AddHumanisticCare(content, patientContext string) string {
	if !s.cfg.EnableHumanisticCare {
		return content
	}

	var b strings.Builder
	if patientContext != "" && containsAny(patientContext, careKeywords) {
		b.WriteString(carePrefix)
	}
	b.WriteString(content)
	b.WriteString("\n\n💙 温馨提示:\n")
	for _, tip := range careTips {
		b.WriteString("- " + tip + "\n")
	}
	return b.String()
}

// AddDisclaimer appends the professional-use disclaimer.
func (s *SafetyChecker) AddDisclaimer(content string) string {
	rule := strings.Repeat("=", disclaimerWidth)
	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\n" + rule + "\n")
	b.WriteString("⚠️ 【重要声明】\n")
	b.WriteString("本建议仅供医疗专业人员参考,不能替代医生的临床判断。\n")
	b.WriteString("所有诊疗决策请在医生指导下进行。\n")
	b.WriteString("如有紧急情况,请立即就医或拨打120急救电话。\n")
	b.WriteString(rule)
	return b.String()
}

// ComprehensiveCheck runs every filter and returns the decorated content.
// medication may be nil.
func (s *SafetyChecker) ComprehensiveCheck(content, patientContext string, medication *MedicationInfo) CheckResult {
	result := CheckResult{OriginalContent: content}

	result.Checks.Ethics = s.CheckContentEthics(content)
	if !result.Checks.Ethics.Passed {
		s.logger.WithField("issues", result.Checks.Ethics.Issues).Warn("Ethics check failed")
	}

	result.Checks.Risk = s.DetectHighRiskContent(content)

	if medication != nil {
		med := s.CheckMedicationSafety(*medication)
		result.Checks.MedicationSafety = &med
	}

	processed := s.AddHumanisticCare(content, patientContext)
	if result.Checks.Risk.IsHighRisk {
		processed = result.Checks.Risk.Warning + "\n\n" + processed
	}
	result.ProcessedContent = s.AddDisclaimer(processed)
	result.SafeToDisplay = result.Checks.Ethics.Passed

	return result
}

// StreamFooter returns the chunks emitted after a streamed answer: the risk
// warning when fullText is high risk, then a short disclaimer.
func (s *SafetyChecker) StreamFooter(fullText string) []string {
	var chunks []string
	if risk := s.DetectHighRiskContent(fullText); risk.IsHighRisk {
		chunks = append(chunks, "\n\n"+risk.Warning)
	}
	rule := strings.Repeat("=", footerWidth)
	chunks = append(chunks, "\n\n"+rule+"\n⚠️ 本建议仅供参考,具体诊疗请咨询医生。\n"+rule)
	return chunks
}
