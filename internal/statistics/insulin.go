// Package statistics computes grouped insulin-usage statistics from the
// diabetes case workbook.
package statistics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/medical-decision-assistant/internal/domain"
)

// DefaultWorkbook is the workbook file name inside the data directory.
const DefaultWorkbook = "糖尿病病例统计.xlsx"

// Required workbook columns.
const (
	ColumnGender       = "性别 (Female=1, Male=2)"
	ColumnAge          = "年龄 (years)"
	ColumnHeight       = "身高 (m)"
	ColumnWeight       = "体重 (kg)"
	ColumnFasting      = "空腹胰岛素 (pmol/L)"
	ColumnPostprandial = "餐后2小时胰岛素 (pmol/L)"
)

const allDiabeticNote = "所有患者均为糖尿病患者"

var requiredColumns = []string{ColumnGender, ColumnAge, ColumnHeight, ColumnWeight, ColumnFasting, ColumnPostprandial}

// Dimension is a grouping dimension.
type Dimension string

const (
	DimensionGender Dimension = "gender"
	DimensionAge    Dimension = "age"
	DimensionHeight Dimension = "height"
	DimensionWeight Dimension = "weight"
)

// Dimensions lists the valid grouping dimensions.
var Dimensions = []Dimension{DimensionGender, DimensionAge, DimensionHeight, DimensionWeight}

// ParseDimension parses a dimension name. The empty string selects gender.
func ParseDimension(s string) (Dimension, error) {
	if s == "" {
		return DimensionGender, nil
	}
	for _, d := range Dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w %q, valid: %v", domain.ErrInvalidDimension, s, Dimensions)
}

// Label returns the Chinese display label.
func (d Dimension) Label() string {
	switch d {
	case DimensionGender:
		return "性别"
	case DimensionAge:
		return "年龄段"
	case DimensionHeight:
		return "身高"
	case DimensionWeight:
		return "体重"
	}
	return string(d)
}

// Groups returns the group labels of the dimension in display order.
func (d Dimension) Groups() []string {
	switch d {
	case DimensionGender:
		return []string{"男性", "女性"}
	case DimensionAge:
		return []string{"<40岁", "40-60岁", "60-80岁", "≥80岁"}
	case DimensionHeight:
		return []string{"<1.55m", "1.55-1.70m", "≥1.70m"}
	case DimensionWeight:
		return []string{"<50kg", "50-70kg", "70-90kg", "≥90kg"}
	}
	return nil
}

// InsulinStatus classifies a patient's insulin measurements.
type InsulinStatus string

const (
	StatusUsing       InsulinStatus = "using"
	StatusNotUsing    InsulinStatus = "not_using"
	StatusNotMeasured InsulinStatus = "not_measured"
)

// ClassifyInsulin returns not_using when both cells are empty (or "/"),
// using when both hold a value and not_measured otherwise.
func ClassifyInsulin(fasting, postprandial string) InsulinStatus {
	fastingEmpty := isEmptyCell(fasting)
	postprandialEmpty := isEmptyCell(postprandial)

	switch {
	case fastingEmpty && postprandialEmpty:
		return StatusNotUsing
	case !fastingEmpty && !postprandialEmpty:
		return StatusUsing
	default:
		return StatusNotMeasured
	}
}

func isEmptyCell(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == "/" || strings.EqualFold(v, "nan")
}

// PatientRow is one workbook row reduced to the columns used here.
type PatientRow struct {
	Gender       string
	Age          string
	Height       string
	Weight       string
	Fasting      string
	Postprandial string
}

// Group returns the row's group label for d, or "" when the cell is missing
// or not numeric.
func (r PatientRow) Group(d Dimension) string {
	switch d {
	case DimensionGender:
		v, ok := parseNumber(r.Gender)
		if !ok {
			return ""
		}
		switch v {
		case 1:
			return "女性"
		case 2:
			return "男性"
		}
		return ""
	case DimensionAge:
		v, ok := parseNumber(r.Age)
		if !ok {
			return ""
		}
		return bucket(v, []float64{40, 60, 80}, d.Groups())
	case DimensionHeight:
		v, ok := parseNumber(r.Height)
		if !ok {
			return ""
		}
		return bucket(v, []float64{1.55, 1.70}, d.Groups())
	case DimensionWeight:
		v, ok := parseNumber(r.Weight)
		if !ok {
			return ""
		}
		return bucket(v, []float64{50, 70, 90}, d.Groups())
	}
	return ""
}

// bucket returns labels[i] for the first bound v is below, or the last label.
func bucket(v float64, bounds []float64, labels []string) string {
	for i, b := range bounds {
		if v < b {
			return labels[i]
		}
	}
	return labels[len(labels)-1]
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// Classification counts patients per insulin status.
type Classification struct {
	UsingInsulin    int `json:"using_insulin"`
	NotUsingInsulin int `json:"not_using_insulin"`
	NotMeasured     int `json:"not_measured"`
}

// GroupCount is the breakdown for one group.
type GroupCount struct {
	Label       string `json:"label"`
	Using       int    `json:"using"`
	NotUsing    int    `json:"not_using"`
	NotMeasured int    `json:"not_measured"`
	Total       int    `json:"total"`
}

func (g *GroupCount) add(status InsulinStatus) {
	switch status {
	case StatusUsing:
		g.Using++
	case StatusNotUsing:
		g.NotUsing++
	case StatusNotMeasured:
		g.NotMeasured++
	}
	g.Total++
}

// InsulinStatistics is the grouped result.
type InsulinStatistics struct {
	TotalPatients  int            `json:"total_patients"`
	Note           string         `json:"note"`
	Classification Classification `json:"classification"`
	Dimension      Dimension      `json:"dimension"`
	DimensionLabel string         `json:"dimension_label"`
	Distribution   []GroupCount   `json:"distribution"`
}

// Compute classifies rows and groups them by d. Empty groups are omitted.
func Compute(rows []PatientRow, d Dimension) *InsulinStatistics {
	stats := &InsulinStatistics{
		TotalPatients:  len(rows),
		Note:           allDiabeticNote,
		Dimension:      d,
		DimensionLabel: d.Label(),
		Distribution:   []GroupCount{},
	}

	labels := d.Groups()
	groups := make(map[string]*GroupCount, len(labels))
	for _, label := range labels {
		groups[label] = &GroupCount{Label: label}
	}

	for _, row := range rows {
		status := ClassifyInsulin(row.Fasting, row.Postprandial)
		switch status {
		case StatusUsing:
			stats.Classification.UsingInsulin++
		case StatusNotUsing:
			stats.Classification.NotUsingInsulin++
		case StatusNotMeasured:
			stats.Classification.NotMeasured++
		}

		if g, ok := groups[row.Group(d)]; ok {
			g.add(status)
		}
	}

	for _, label := range labels {
		if g := groups[label]; g.Total > 0 {
			stats.Distribution = append(stats.Distribution, *g)
		}
	}
	return stats
}

// InsulinAnalyzer reads the diabetes case workbook.
type InsulinAnalyzer struct {
	path   string
	logger *logrus.Logger
}

// NewInsulinAnalyzer creates an analyzer for the workbook at path.
func NewInsulinAnalyzer(path string, logger *logrus.Logger) *InsulinAnalyzer {
	if logger == nil {
		logger = logrus.New()
	}
	return &InsulinAnalyzer{path: path, logger: logger}
}

// Path returns the workbook path.
func (a *InsulinAnalyzer) Path() string {
	return a.path
}

// Analyze loads the workbook and groups it by dimension.
func (a *InsulinAnalyzer) Analyze(dimension string) (*InsulinStatistics, error) {
	d, err := ParseDimension(dimension)
	if err != nil {
		return nil, err
	}

	rows, err := a.LoadRows()
	if err != nil {
		return nil, err
	}

	stats := Compute(rows, d)
	a.logger.WithFields(logrus.Fields{
		"dimension": d,
		"patients":  stats.TotalPatients,
		"groups":    len(stats.Distribution),
	}).Info("Computed insulin statistics")
	return stats, nil
}

// LoadRows reads the first sheet of the workbook. A missing file returns
// ErrNotFound and missing columns a *MissingColumnsError.
func (a *InsulinAnalyzer) LoadRows() ([]PatientRow, error) {
	if _, err := os.Stat(a.path); errors.Is(err, fs.ErrNotExist) {
		a.logger.WithField("path", a.path).Error("Data file not found")
		return nil, domain.NotFoundf("数据文件未找到: %s", a.path)
	}

	f, err := excelize.OpenFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", a.path)
	}

	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(cells) == 0 {
		return nil, &domain.MissingColumnsError{Source: a.path, Columns: requiredColumns}
	}

	index := make(map[string]int, len(cells[0]))
	for i, name := range cells[0] {
		index[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		a.logger.WithField("missing", missing).Error("Workbook is missing columns")
		return nil, &domain.MissingColumnsError{Source: a.path, Columns: missing}
	}

	cell := func(row []string, col string) string {
		if i := index[col]; i < len(row) {
			return row[i]
		}
		return ""
	}

	rows := make([]PatientRow, 0, len(cells)-1)
	for _, row := range cells[1:] {
		if blankRow(row) {
			continue
		}
		rows = append(rows, PatientRow{
			Gender:       cell(row, ColumnGender),
			Age:          cell(row, ColumnAge),
			Height:       cell(row, ColumnHeight),
			Weight:       cell(row, ColumnWeight),
			Fasting:      cell(row, ColumnFasting),
			Postprandial: cell(row, ColumnPostprandial),
		})
	}
	return rows, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
