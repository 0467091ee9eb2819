package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/knowledge"
)

const (
	elderlyAge          = 60
	bpTargetAgeCutoff   = 65
	hba1cAddOnThreshold = 8.0
	obeseBMI            = 28.0
	overweightBMI       = 24.0
)

// PlanInput carries everything needed to build a plan without touching storage.
type PlanInput struct {
	PatientID          string
	Diagnosis          string
	RiskLevel          string
	CurrentMedications []string
	Patient            *domain.Patient
	Data               *domain.ComprehensiveData
}

// TreatmentPlanner builds and adjusts treatment plans from the drug table.
type TreatmentPlanner struct {
	logger   *logrus.Logger
	drugs    knowledge.DrugTable
	patients domain.PatientRepository
	now      func() time.Time
}

// NewTreatmentPlanner creates a planner over the embedded drug table.
func NewTreatmentPlanner(logger *logrus.Logger, patients domain.PatientRepository) (*TreatmentPlanner, error) {
	drugs, err := knowledge.Drugs()
	if err != nil {
		return nil, fmt.Errorf("failed to load drug table: %w", err)
	}
	return NewTreatmentPlannerWithDrugs(logger, drugs, patients), nil
}

// NewTreatmentPlannerWithDrugs creates a planner over an explicit drug table.
func NewTreatmentPlannerWithDrugs(logger *logrus.Logger, drugs knowledge.DrugTable, patients domain.PatientRepository) *TreatmentPlanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TreatmentPlanner{
		logger:   logger,
		drugs:    drugs,
		patients: patients,
		now:      time.Now,
	}
}

// GenerateTreatmentPlan fetches the patient and builds a plan. A missing
// patient fails with domain.ErrNotFound; store failures are returned wrapped.
func (p *TreatmentPlanner) GenerateTreatmentPlan(ctx context.Context, patientID, diagnosis, riskLevel string, currentMedications []string) (*domain.TreatmentPlan, error) {
	p.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"diagnosis":  diagnosis,
		"risk_level": riskLevel,
	}).Info("Generating treatment plan")

	if p.patients == nil {
		return nil, domain.ErrStoreUnavailable
	}

	patient, err := p.patients.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch patient: %w", err)
	}

	data, err := p.patients.GetComprehensiveData(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch patient records: %w", err)
	}

	return p.BuildPlan(PlanInput{
		PatientID:          patientID,
		Diagnosis:          diagnosis,
		RiskLevel:          riskLevel,
		CurrentMedications: currentMedications,
		Patient:            patient,
		Data:               data,
	}), nil
}

// BuildPlan builds a plan from already fetched patient data. Missing optional
// attributes fall back to explicit defaults.
func (p *TreatmentPlanner) BuildPlan(in PlanInput) *domain.TreatmentPlan {
	codes := domain.ParseDiagnosisCodes(in.Diagnosis)

	age := p.patientAge(in)
	bmi := p.patientBMI(in)

	plan := &domain.TreatmentPlan{
		ID:                 uuid.New().String(),
		PatientID:          in.PatientID,
		Diagnosis:          in.Diagnosis,
		Codes:              codes,
		RiskLevel:          in.RiskLevel,
		CurrentMedications: append([]string(nil), in.CurrentMedications...),
		Lifestyle:          p.lifestyle(codes, bmi),
		FollowUp:           followUp(codes, in.RiskLevel),
		Targets:            targets(codes, age),
		GeneratedAt:        p.now(),
	}

	for _, code := range codes {
		switch code {
		case domain.Hypertension:
			plan.Drugs = append(plan.Drugs, p.antihypertensives(in, age)...)
		case domain.Diabetes:
			plan.Drugs = append(plan.Drugs, p.antidiabetics(in)...)
		case domain.CoronaryHeartDisease, domain.HeartFailure:
			// no drug rules are defined for these diagnoses
		}
	}

	p.logger.WithFields(logrus.Fields{
		"plan_id": plan.ID,
		"drugs":   len(plan.Drugs),
	}).Info("Treatment plan generated")

	return plan
}

func (p *TreatmentPlanner) patientAge(in PlanInput) int {
	if in.Patient == nil || in.Patient.Age == nil {
		p.logger.WithField("patient_id", in.PatientID).Warn("Patient age unknown, defaulting to 0")
		return 0
	}
	return *in.Patient.Age
}

func (p *TreatmentPlanner) patientBMI(in PlanInput) float64 {
	if in.Patient == nil || in.Patient.BMI == nil {
		p.logger.WithField("patient_id", in.PatientID).Warn("Patient BMI unknown, defaulting to 0")
		return 0
	}
	return *in.Patient.BMI
}

func (p *TreatmentPlanner) profile(code domain.DiagnosisCode, class string) knowledge.DrugProfile {
	prof, ok := p.drugs.Profile(code, class)
	if !ok {
		p.logger.WithFields(logrus.Fields{"disease": code, "class": class}).Error("Drug class missing from drug table")
		return knowledge.DrugProfile{Class: class}
	}
	return prof
}

func recommend(prof knowledge.DrugProfile, class, drug, rationale string, withContraindication bool) domain.DrugRecommendation {
	stage := domain.DoseStarting
	if prof.TargetDose == "" {
		stage = domain.DoseFixed
	}
	rec := domain.DrugRecommendation{
		Class:      class,
		Drug:       drug,
		Dose:       prof.StartingDose,
		DoseStage:  stage,
		TargetDose: prof.TargetDose,
		Rationale:  rationale,
		Level:      prof.Level,
	}
	if withContraindication && prof.Contraindication != "" {
		rec.Caution = "禁忌症: " + prof.Contraindication
	}
	return rec
}

func (p *TreatmentPlanner) antihypertensives(in PlanInput, age int) []domain.DrugRecommendation {
	var drugs []domain.DrugRecommendation

	switch {
	case in.Data.HasDiagnosis(domain.Diabetes):
		prof := p.profile(domain.Hypertension, "ACEI类")
		drugs = append(drugs, recommend(prof, "ACEI类", prof.PrimaryDrug(), "合并糖尿病,ACEI类可延缓肾病进展", true))
	case age >= elderlyAge:
		prof := p.profile(domain.Hypertension, "CCB类")
		drugs = append(drugs, recommend(prof, "CCB类", prof.PrimaryDrug(), "老年患者,CCB类降压效果好,耐受性好", true))
	default:
		prof := p.profile(domain.Hypertension, "ACEI类")
		drugs = append(drugs, recommend(prof, "ACEI类", prof.PrimaryDrug(), "一线降压药,心血管保护作用", false))
	}

	if strings.Contains(in.RiskLevel, "2级") || strings.Contains(in.RiskLevel, "3级") {
		prof := p.profile(domain.Hypertension, "CCB类")
		drugs = append(drugs, recommend(prof, "CCB类(联合用药)", prof.PrimaryDrug(), "2级高血压,建议联合用药", false))
	}

	return drugs
}

func (p *TreatmentPlanner) antidiabetics(in PlanInput) []domain.DrugRecommendation {
	metformin := p.profile(domain.Diabetes, "二甲双胍")
	drugs := []domain.DrugRecommendation{
		recommend(metformin, "双胍类", "二甲双胍", "2型糖尿病一线用药,改善胰岛素抵抗", true),
	}

	hba1c, ok := in.Data.LatestHbA1c()
	if !ok {
		p.logger.WithField("patient_id", in.PatientID).Warn("No HbA1c on record, skipping combination therapy check")
		return drugs
	}
	if hba1c > hba1cAddOnThreshold {
		prof := p.profile(domain.Diabetes, "磺脲类")
		rec := recommend(prof, "磺脲类(联合用药)", prof.PrimaryDrug(),
			fmt.Sprintf("HbA1c %s%%,控制不佳,建议联合用药", formatNumber(hba1c)), false)
		rec.Caution = prof.Caution
		drugs = append(drugs, rec)
	}
	return drugs
}

func (p *TreatmentPlanner) lifestyle(codes []domain.DiagnosisCode, bmi float64) []string {
	recs := []string{
		"戒烟限酒",
		"规律作息,保证充足睡眠",
		"保持良好心态,避免过度紧张焦虑",
	}

	switch {
	case bmi > obeseBMI:
		recs = append(recs, fmt.Sprintf("控制体重(当前BMI %s,建议降至24以下)", formatNumber(bmi)))
	case bmi > overweightBMI:
		recs = append(recs, fmt.Sprintf("适当减重(当前BMI %s)", formatNumber(bmi)))
	}

	if domain.HasDiagnosis(codes, domain.Hypertension) {
		recs = append(recs,
			"低盐饮食(每日食盐<6g)",
			"DASH饮食:多吃蔬菜水果、低脂奶制品",
			"规律运动:每周至少150分钟中等强度有氧运动",
		)
	}
	if domain.HasDiagnosis(codes, domain.Diabetes) {
		recs = append(recs,
			"控制总热量摄入,少食多餐",
			"选择低升糖指数食物",
			"规律运动:餐后1小时运动30分钟",
			"定期监测血糖",
		)
	}
	return recs
}

func followUp(codes []domain.DiagnosisCode, riskLevel string) []domain.PlanItem {
	var items []domain.PlanItem

	if domain.HasDiagnosis(codes, domain.Hypertension) {
		switch {
		case strings.Contains(riskLevel, "3级") || strings.Contains(riskLevel, "很高危"):
			items = append(items,
				domain.PlanItem{Key: "随访频率", Value: "每1-2周"},
				domain.PlanItem{Key: "监测项目", Values: []string{"血压", "心率", "症状", "药物不良反应"}},
			)
		case strings.Contains(riskLevel, "2级"):
			items = append(items,
				domain.PlanItem{Key: "随访频率", Value: "每2-4周"},
				domain.PlanItem{Key: "监测项目", Values: []string{"血压", "症状"}},
			)
		default:
			items = append(items,
				domain.PlanItem{Key: "随访频率", Value: "每1-3个月"},
				domain.PlanItem{Key: "监测项目", Values: []string{"血压"}},
			)
		}
		items = append(items, domain.PlanItem{Key: "复查项目", Value: "3个月后复查: 血常规、肝肾功能、血脂、血糖、心电图"})
	}

	if domain.HasDiagnosis(codes, domain.Diabetes) {
		items = append(items,
			domain.PlanItem{Key: "血糖监测", Value: "空腹及餐后2小时血糖,每周2-3次"},
			domain.PlanItem{Key: "HbA1c", Value: "每3个月检测一次"},
			domain.PlanItem{Key: "并发症筛查", Value: "每年: 眼底检查、尿微量白蛋白、神经病变筛查"},
		)
	}
	return items
}

func targets(codes []domain.DiagnosisCode, age int) []domain.PlanItem {
	var items []domain.PlanItem
	hasDiabetes := domain.HasDiagnosis(codes, domain.Diabetes)

	if domain.HasDiagnosis(codes, domain.Hypertension) {
		bp := "<140/90 mmHg"
		if age >= bpTargetAgeCutoff {
			bp = "<150/90 mmHg"
		}
		if hasDiabetes {
			bp = "<130/80 mmHg(合并糖尿病)"
		}
		items = append(items, domain.PlanItem{Key: "血压目标", Value: bp})
	}

	if hasDiabetes {
		items = append(items,
			domain.PlanItem{Key: "空腹血糖", Value: "4.4-7.0 mmol/L"},
			domain.PlanItem{Key: "餐后2小时血糖", Value: "<10.0 mmol/L"},
			domain.PlanItem{Key: "HbA1c", Value: "<7.0%(个体化调整)"},
		)
	}
	return items
}

// AdjustTreatmentPlan returns an adjusted copy of original based on the
// observed effectiveness. original is never modified.
func (p *TreatmentPlanner) AdjustTreatmentPlan(patientID string, original *domain.TreatmentPlan, weeks int, currentValues domain.LabPanel, effectiveness domain.Effectiveness) (*domain.TreatmentPlan, error) {
	if original == nil {
		return nil, domain.NewValidationError("plan", "original plan is required", nil)
	}
	if !effectiveness.IsValid() {
		return nil, domain.NewValidationError("effectiveness", "must be one of good, fair, poor", string(effectiveness))
	}

	p.logger.WithFields(logrus.Fields{
		"patient_id":     patientID,
		"weeks":          weeks,
		"effectiveness":  effectiveness,
		"current_values": formatLabs(currentValues, ", "),
	}).Info("Adjusting treatment plan")

	adjusted := original.Clone()
	var reasons []string

	switch effectiveness {
	case domain.EffectivenessPoor:
		reasons = append(reasons, fmt.Sprintf("治疗%d周后效果不佳", weeks))
		for i := range adjusted.Drugs {
			d := &adjusted.Drugs[i]
			if d.DoseStage != domain.DoseStarting || d.TargetDose == "" {
				continue
			}
			d.Dose = d.TargetDose
			d.DoseStage = domain.DoseTarget
			d.Rationale = "原方案效果不佳,增加剂量"
			reasons = append(reasons, "增加"+d.Drug+"剂量")
		}
		if len(adjusted.Drugs) == 1 {
			reasons = append(reasons, "建议联合用药")
		}
		now := p.now()
		adjusted.AdjustmentReasons = reasons
		adjusted.AdjustedAt = &now

	case domain.EffectivenessFair:
		reasons = append(reasons, fmt.Sprintf("治疗%d周,效果一般,继续观察", weeks))
		adjusted.Advice = "继续当前方案,2周后复查"

	case domain.EffectivenessGood:
		reasons = append(reasons, fmt.Sprintf("治疗%d周,效果良好", weeks))
		adjusted.Advice = "继续当前方案,维持治疗"
	}

	p.logger.WithField("reasons", strings.Join(reasons, ", ")).Info("Treatment plan adjusted")
	return adjusted, nil
}

// RenderTreatmentReport renders a plan as the printable report text.
func RenderTreatmentReport(plan *domain.TreatmentPlan) string {
	rule := strings.Repeat("=", reportRuleWidth)
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString("个性化治疗方案\n")
	b.WriteString(rule + "\n\n")

	fmt.Fprintf(&b, "【患者ID】%s\n", plan.PatientID)
	fmt.Fprintf(&b, "【诊断】%s\n", plan.Diagnosis)
	fmt.Fprintf(&b, "【风险等级】%s\n", plan.RiskLevel)
	fmt.Fprintf(&b, "【生成时间】%s\n\n", plan.GeneratedAt.Format("2006-01-02 15:04:05"))

	b.WriteString("【药物治疗方案】\n")
	for i, d := range plan.Drugs {
		fmt.Fprintf(&b, "\n%d. %s (%s)\n", i+1, d.Drug, d.Class)
		fmt.Fprintf(&b, "   剂量: %s\n", d.Dose)
		fmt.Fprintf(&b, "   调整依据: %s\n", d.Rationale)
		fmt.Fprintf(&b, "   证据等级: %s\n", d.Level.Label())
		if d.Caution != "" {
			fmt.Fprintf(&b, "   ⚠️ %s\n", d.Caution)
		}
	}

	b.WriteString("\n【生活方式干预】\n")
	for i, rec := range plan.Lifestyle {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}

	b.WriteString("\n【治疗目标】\n")
	for _, item := range plan.Targets {
		fmt.Fprintf(&b, "- %s: %s\n", item.Key, item.Text())
	}

	b.WriteString("\n【随访计划】\n")
	for _, item := range plan.FollowUp {
		fmt.Fprintf(&b, "- %s: %s\n", item.Key, item.Text())
	}

	if len(plan.AdjustmentReasons) > 0 {
		b.WriteString("\n【方案调整】\n")
		for _, reason := range plan.AdjustmentReasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
	}
	if plan.Advice != "" {
		fmt.Fprintf(&b, "\n【建议】%s\n", plan.Advice)
	}

	b.WriteString("\n" + rule + "\n")
	b.WriteString("⚠️ 本方案仅供参考,具体用药请遵医嘱\n")
	b.WriteString(rule + "\n")

	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
