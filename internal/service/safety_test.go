package service

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
)

const sampleAdvice = "建议您立即停药,改用新的降糖药物。这个方案保证治愈您的糖尿病。"

func TestSafetyChecker_CheckContentEthics(t *testing.T) {
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), quietLogger())

	tests := []struct {
		name   string
		text   string
		passed bool
		issue  string
	}{
		{"Forbidden_Phrase", sampleAdvice, false, "包含不当承诺: '保证治愈'"},
		{"Over_Promise", "坚持服药一定能够康复", false, "存在过度承诺疗效的表述"},
		{"Coercive", "您必须每天服药", false, "表述过于强制,建议使用'建议'等词汇"},
		{"Coercive_With_Suggestion", "建议您必须每天服药", true, ""},
		{"Clean", "建议规律服药并监测血压", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.CheckContentEthics(tt.text)
			assert.Equal(t, tt.passed, result.Passed)
			if tt.issue != "" {
				assert.Contains(t, result.Issues, tt.issue)
			} else {
				assert.Empty(t, result.Issues)
			}
		})
	}

	t.Run("Disabled", func(t *testing.T) {
		cfg := domain.DefaultSafetyConfig()
		cfg.EnableEthicsCheck = false
		result := NewSafetyChecker(cfg, quietLogger()).CheckContentEthics(sampleAdvice)
		assert.True(t, result.Passed)
	})
}

func TestSafetyChecker_DetectHighRiskContent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), logger)

	result := checker.DetectHighRiskContent(sampleAdvice)

	assert.True(t, result.IsHighRisk)
	assert.Equal(t, []string{"立即", "停药"}, result.Keywords)
	assert.Equal(t, highRiskWarning, result.Warning)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	calm := checker.DetectHighRiskContent("建议规律服药")
	assert.False(t, calm.IsHighRisk)
	assert.Empty(t, calm.Warning)
}

func TestSafetyChecker_CheckMedicationSafety(t *testing.T) {
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), quietLogger())

	result := checker.CheckMedicationSafety(MedicationInfo{
		NewMedication:     "依那普利",
		Contraindications: []string{"孕妇", "高钾血症"},
	})
	assert.False(t, result.Safe)
	assert.Equal(t, []string{"注意禁忌症: 孕妇、高钾血症"}, result.Warnings)

	assert.True(t, checker.CheckMedicationSafety(MedicationInfo{NewMedication: "依那普利"}).Safe)

	cfg := domain.DefaultSafetyConfig()
	cfg.EnableSafetyCheck = false
	disabled := NewSafetyChecker(cfg, quietLogger()).CheckMedicationSafety(MedicationInfo{Contraindications: []string{"孕妇"}})
	assert.True(t, disabled.Safe)
}

func TestSafetyChecker_AddHumanisticCare(t *testing.T) {
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), quietLogger())

	withContext := checker.AddHumanisticCare("内容", "患者表示很担心并发症")
	assert.True(t, strings.HasPrefix(withContext, carePrefix))
	assert.Contains(t, withContext, "💙 温馨提示:")
	assert.Equal(t, 4, strings.Count(withContext, "\n- "))

	without := checker.AddHumanisticCare("内容", "")
	assert.True(t, strings.HasPrefix(without, "内容"))

	cfg := domain.DefaultSafetyConfig()
	cfg.EnableHumanisticCare = false
	assert.Equal(t, "内容", NewSafetyChecker(cfg, quietLogger()).AddHumanisticCare("内容", "担心"))
}

func TestSafetyChecker_ComprehensiveCheck(t *testing.T) {
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), quietLogger())

	result := checker.ComprehensiveCheck(sampleAdvice, "患者表示很担心并发症", &MedicationInfo{NewMedication: "格列美脲"})

	assert.False(t, result.SafeToDisplay)
	assert.False(t, result.Checks.Ethics.Passed)
	assert.True(t, result.Checks.Risk.IsHighRisk)
	require.NotNil(t, result.Checks.MedicationSafety)
	assert.True(t, result.Checks.MedicationSafety.Safe)

	assert.Equal(t, sampleAdvice, result.OriginalContent)
	assert.True(t, strings.HasPrefix(result.ProcessedContent, highRiskWarning+"\n\n"+carePrefix))
	assert.Contains(t, result.ProcessedContent, "⚠️ 【重要声明】")
	assert.True(t, strings.HasSuffix(result.ProcessedContent, strings.Repeat("=", 80)))
}

func TestSafetyChecker_StreamFooter(t *testing.T) {
	checker := NewSafetyChecker(domain.DefaultSafetyConfig(), quietLogger())

	chunks := checker.StreamFooter("请立即就医")
	require.Len(t, chunks, 2)
	assert.Equal(t, "\n\n"+highRiskWarning, chunks[0])
	assert.Contains(t, chunks[1], "⚠️ 本建议仅供参考,具体诊疗请咨询医生。")

	assert.Len(t, checker.StreamFooter("规律服药"), 1)
}
