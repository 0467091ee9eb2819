package statistics

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/medical-decision-assistant/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

// writeWorkbook creates a workbook with header and rows on its first sheet.
func writeWorkbook(t *testing.T, header []interface{}, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), DefaultWorkbook)
	require.NoError(t, f.SaveAs(path))
	return path
}

func fullHeader() []interface{} {
	return []interface{}{"编号", ColumnGender, ColumnAge, ColumnHeight, ColumnWeight, ColumnFasting, ColumnPostprandial}
}

func sampleRows() [][]interface{} {
	return [][]interface{}{
		{1, 2, 35, 1.72, 80, 45.2, 120.5}, // male, using
		{2, 1, 52, 1.60, 55, "/", "/"},    // female, not using
		{3, 1, 67, 1.50, 48, 30.1, "/"},   // female, not measured
		{4, 2, 85, 1.68, 95, "", ""},      // male, not using
	}
}

func TestClassifyInsulin(t *testing.T) {
	tests := []struct {
		fasting, postprandial string
		want                  InsulinStatus
	}{
		{"", "", StatusNotUsing},
		{"/", " / ", StatusNotUsing},
		{"45.2", "120.5", StatusUsing},
		{"45.2", "/", StatusNotMeasured},
		{"", "88", StatusNotMeasured},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyInsulin(tt.fasting, tt.postprandial), "%q/%q", tt.fasting, tt.postprandial)
	}
}

func TestParseDimension(t *testing.T) {
	d, err := ParseDimension("")
	require.NoError(t, err)
	assert.Equal(t, DimensionGender, d)

	d, err = ParseDimension("weight")
	require.NoError(t, err)
	assert.Equal(t, "体重", d.Label())

	_, err = ParseDimension("bmi")
	assert.ErrorIs(t, err, domain.ErrInvalidDimension)
	assert.True(t, domain.IsValidation(err))
}

func TestPatientRow_Group(t *testing.T) {
	tests := []struct {
		name string
		row  PatientRow
		dim  Dimension
		want string
	}{
		{"Male", PatientRow{Gender: "2"}, DimensionGender, "男性"},
		{"Female_Float", PatientRow{Gender: "1.0"}, DimensionGender, "女性"},
		{"Unknown_Gender", PatientRow{Gender: "3"}, DimensionGender, ""},
		{"Age_Boundary", PatientRow{Age: "40"}, DimensionAge, "40-60岁"},
		{"Age_Oldest", PatientRow{Age: "80"}, DimensionAge, "≥80岁"},
		{"Height_Boundary", PatientRow{Height: "1.70"}, DimensionHeight, "≥1.70m"},
		{"Weight_Light", PatientRow{Weight: "49.9"}, DimensionWeight, "<50kg"},
		{"Missing_Weight", PatientRow{}, DimensionWeight, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.Group(tt.dim))
		})
	}
}

func TestInsulinAnalyzer_Analyze(t *testing.T) {
	path := writeWorkbook(t, fullHeader(), sampleRows())
	analyzer := NewInsulinAnalyzer(path, quietLogger())

	t.Run("Gender", func(t *testing.T) {
		// Act
		stats, err := analyzer.Analyze("")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalPatients)
		assert.Equal(t, "所有患者均为糖尿病患者", stats.Note)
		assert.Equal(t, Classification{UsingInsulin: 1, NotUsingInsulin: 2, NotMeasured: 1}, stats.Classification)
		assert.Equal(t, DimensionGender, stats.Dimension)
		assert.Equal(t, "性别", stats.DimensionLabel)
		assert.Equal(t, []GroupCount{
			{Label: "男性", Using: 1, NotUsing: 1, Total: 2},
			{Label: "女性", NotUsing: 1, NotMeasured: 1, Total: 2},
		}, stats.Distribution)
	})

	t.Run("Height_Omits_Empty_Groups", func(t *testing.T) {
		stats, err := analyzer.Analyze("height")
		require.NoError(t, err)
		require.Len(t, stats.Distribution, 3)
		assert.Equal(t, "<1.55m", stats.Distribution[0].Label)
		assert.Equal(t, "1.55-1.70m", stats.Distribution[1].Label)
		assert.Equal(t, 2, stats.Distribution[1].Total)
	})

	t.Run("Weight", func(t *testing.T) {
		stats, err := analyzer.Analyze("weight")
		require.NoError(t, err)
		labels := make([]string, 0, len(stats.Distribution))
		for _, g := range stats.Distribution {
			labels = append(labels, g.Label)
		}
		assert.Equal(t, []string{"<50kg", "50-70kg", "70-90kg", "≥90kg"}, labels)
	})

	t.Run("Invalid_Dimension", func(t *testing.T) {
		_, err := analyzer.Analyze("bmi")
		assert.ErrorIs(t, err, domain.ErrInvalidDimension)
	})
}

func TestInsulinAnalyzer_Errors(t *testing.T) {
	t.Run("Missing_File", func(t *testing.T) {
		_, err := NewInsulinAnalyzer(filepath.Join(t.TempDir(), "none.xlsx"), quietLogger()).Analyze("gender")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Missing_Columns", func(t *testing.T) {
		path := writeWorkbook(t, []interface{}{ColumnGender, ColumnAge}, [][]interface{}{{1, 50}})

		_, err := NewInsulinAnalyzer(path, quietLogger()).Analyze("gender")

		var missing *domain.MissingColumnsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{ColumnHeight, ColumnWeight, ColumnFasting, ColumnPostprandial}, missing.Columns)
	})
}
