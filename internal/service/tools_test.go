package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
)

type stubQuerier struct {
	answer string
	err    error
}

func (s stubQuerier) Query(ctx context.Context, question string) (string, error) {
	return s.answer, s.err
}

func samplePatient() *domain.Patient {
	return &domain.Patient{PatientID: "1001_0_20210730", Name: "张三", Gender: "男", Age: intPtr(59), BMI: floatPtr(18.4)}
}

func TestMedicalTools_SearchGuidelines(t *testing.T) {
	ctx := context.Background()

	noEngine := NewMedicalTools(nil, nil, nil, quietLogger())
	answer, err := noEngine.SearchGuidelines(ctx, "高血压用药")
	require.NoError(t, err)
	assert.Equal(t, "RAG查询引擎未初始化", answer)
	assert.False(t, noEngine.HasGuidelines())

	tools := NewMedicalTools(nil, stubQuerier{answer: "首选ACEI"}, nil, quietLogger())
	answer, err = tools.SearchGuidelines(ctx, "高血压用药")
	require.NoError(t, err)
	assert.Equal(t, "首选ACEI", answer)

	failing := NewMedicalTools(nil, stubQuerier{err: errors.New("upstream 503")}, nil, quietLogger())
	_, err = failing.SearchGuidelines(ctx, "高血压用药")
	assert.ErrorContains(t, err, "upstream 503")
}

func TestMedicalTools_PatientInformation(t *testing.T) {
	ctx := context.Background()
	repo := new(MockPatientRepository)
	repo.On("GetPatient", ctx, "1001_0_20210730").Return(samplePatient(), nil)
	repo.On("GetPatient", ctx, "ghost").Return(nil, domain.NotFoundf("patient ghost"))
	tools := NewMedicalTools(repo, nil, nil, quietLogger())

	out, err := tools.PatientInformation(ctx, "1001_0_20210730")
	require.NoError(t, err)
	var decoded domain.Patient
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "张三", decoded.Name)
	assert.Contains(t, out, "\n  \"name\": \"张三\"")

	out, err = tools.PatientInformation(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "未找到患者ID: ghost", out)

	_, err = NewMedicalTools(nil, nil, nil, quietLogger()).PatientInformation(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestMedicalTools_AssessDiabetesRisk(t *testing.T) {
	ctx := context.Background()

	t.Run("Report", func(t *testing.T) {
		repo := new(MockPatientRepository)
		repo.On("GetPatient", ctx, "p1").Return(samplePatient(), nil)
		repo.On("GetDiabetesAssessments", ctx, "p1", 1).Return([]domain.DiabetesAssessment{{
			AssessmentDate: time.Date(2021, 7, 30, 0, 0, 0, 0, time.UTC),
			FastingGlucose: floatPtr(8.5),
			HbA1c:          floatPtr(8.2),
			ControlStatus:  "控制不佳",
		}}, nil)

		labs := make([]domain.LabResult, 0, 7)
		for i := 0; i < 6; i++ {
			labs = append(labs, domain.LabResult{TestItem: "空腹血糖", ResultValue: "8.5", Unit: "mmol/L", ReferenceRange: "3.9-6.1", IsAbnormal: true})
		}
		labs = append(labs, domain.LabResult{TestItem: "血红蛋白", ResultValue: "135"})
		repo.On("GetLabResults", ctx, "p1", "", 10).Return(labs, nil)

		report, err := NewMedicalTools(repo, nil, nil, quietLogger()).AssessDiabetesRisk(ctx, "p1")
		require.NoError(t, err)

		assert.Contains(t, report, "患者: 张三, 年龄: 59岁, BMI: 18.4")
		assert.Contains(t, report, "最新评估(2021-07-30):")
		assert.Contains(t, report, "- 餐后血糖: N/A mmol/L")
		assert.Contains(t, report, "- HbA1c: 8.2%")
		assert.Contains(t, report, "异常检验结果(6项):")
		assert.Equal(t, 5, countLines(report, "- 空腹血糖: 8.5 mmol/L (参考范围: 3.9-6.1)"))
		assert.NotContains(t, report, "血红蛋白")
	})

	t.Run("Not_Found", func(t *testing.T) {
		repo := new(MockPatientRepository)
		repo.On("GetPatient", ctx, "ghost").Return(nil, domain.NotFoundf("patient ghost"))

		_, err := NewMedicalTools(repo, nil, nil, quietLogger()).AssessDiabetesRisk(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		repo.AssertNotCalled(t, "GetDiabetesAssessments", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMedicalTools_CheckMedicationSafety(t *testing.T) {
	ctx := context.Background()
	repo := new(MockPatientRepository)
	repo.On("GetMedications", ctx, "p1", domain.DefaultPatientMedicationsLimit).Return([]domain.Medication{
		{DrugName: "二甲双胍", Dosage: "500mg"},
		{DrugName: "阿司匹林"},
	}, nil)

	report, err := NewMedicalTools(repo, nil, nil, quietLogger()).CheckMedicationSafety(ctx, "p1", "格列美脲")
	require.NoError(t, err)

	assert.Contains(t, report, "- 安全性: 安全")
	assert.Contains(t, report, "当前用药(2种):")
	assert.Contains(t, report, "- 二甲双胍 (500mg)")
	assert.Contains(t, report, "- 阿司匹林 (N/A)")
}

func TestMedicalTools_PatientContext(t *testing.T) {
	ctx := context.Background()
	repo := new(MockPatientRepository)
	repo.On("GetPatient", ctx, "p1").Return(samplePatient(), nil)
	repo.On("GetPatient", ctx, "ghost").Return(nil, domain.NotFoundf("patient ghost"))
	tools := NewMedicalTools(repo, nil, nil, quietLogger())

	assert.Equal(t, "患者: 张三, 年龄: 59岁, BMI: 18.4", tools.PatientContext(ctx, "p1"))
	assert.Empty(t, tools.PatientContext(ctx, "ghost"))
	assert.Empty(t, tools.PatientContext(ctx, ""))
}

func countLines(s, line string) int {
	n := 0
	for _, l := range strings.Split(s, "\n") {
		if l == line {
			n++
		}
	}
	return n
}
