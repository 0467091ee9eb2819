package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPrompts(t *testing.T) {
	prompts, err := LoadPrompts()
	require.NoError(t, err)

	assert.Equal(t, []string{
		TemplateDiabetes,
		TemplateEthicsCheck,
		TemplateHumanisticCare,
		TemplateHypertension,
		TemplateMedicalQA,
		TemplateMedicationAdvice,
		TemplatePatientAssessment,
		TemplateRiskAssessment,
	}, prompts.Names())
}

func TestPromptSet_Render(t *testing.T) {
	prompts, err := LoadPrompts()
	require.NoError(t, err)

	tests := []struct {
		name     string
		template string
		data     PromptData
		contains []string
	}{
		{
			name:     "Medical_QA",
			template: TemplateMedicalQA,
			data:     PromptData{Context: "指南片段", Query: "高血压如何治疗"},
			contains: []string{"【参考信息】\n指南片段", "【问题】\n高血压如何治疗", "抱歉，知识库中暂时没有关于该问题的相关信息。"},
		},
		{
			name:     "Unknown_Falls_Back",
			template: "no_such_template",
			data:     PromptData{Context: "指南片段", Query: "问题"},
			contains: []string{"你是一位专业的医疗助手"},
		},
		{
			name:     "Medication_Advice_Fields",
			template: TemplateMedicationAdvice,
			data: PromptData{Context: "指南片段", Query: "能否加药", Fields: map[string]string{
				"age":    "59",
				"gender": "男",
			}},
			contains: []string{"- 年龄: 59岁", "- 性别: 男", "【指南推荐】\n指南片段", "⚠️ 【安全提示】"},
		},
		{
			name:     "Humanistic_Care_Uses_Patient_Context",
			template: TemplateHumanisticCare,
			data:     PromptData{Context: "指南片段", Query: "我很担心", Fields: map[string]string{"patient_context": "确诊两年"}},
			contains: []string{"【患者情况】\n确诊两年"},
		},
		{
			name:     "Ethics_Check_Defaults_To_Query",
			template: TemplateEthicsCheck,
			data:     PromptData{Query: "保证治愈"},
			contains: []string{"【待检查内容】\n保证治愈"},
		},
		{
			name:     "Hypertension_Targets",
			template: TemplateHypertension,
			data:     PromptData{Query: "血压160"},
			contains: []string{"- 老年人: <150/90 mmHg (个体化)", "❤️ 【温馨提示】"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := prompts.Render(tt.template, tt.data)
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			assert.NotContains(t, out, "<no value>")
		})
	}
}

func TestPromptSet_Resolve(t *testing.T) {
	prompts, err := LoadPrompts()
	require.NoError(t, err)

	assert.Equal(t, TemplateDiabetes, prompts.Resolve(TemplateDiabetes))
	assert.Equal(t, DefaultTemplate, prompts.Resolve(""))
	assert.True(t, prompts.Has(TemplateRiskAssessment))
	assert.False(t, prompts.Has("general"))
}
