// Package apc 读取 NCI 年龄-时期-队列 (APC) 网页工具导出的结果工作簿，
// 提供 APC 图所需的四条曲线。
package apc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

var (
	// ErrMissingSheet 工作簿缺少某个 APC 工作表
	ErrMissingSheet = errors.New("missing APC sheet")
	// ErrMissingColumn APC 工作表缺少必需的列
	ErrMissingColumn = errors.New("missing APC column")
)

// 各工作表共用的置信区间列
const (
	ColCILo = "CILo"
	ColCIHi = "CIHi"
)

// Spec 描述一个 APC 面板：数据所在位置以及绘制方式
type Spec struct {
	Key     string
	Sheet   string
	XColumn string
	YColumn string
	Title   string
	XLabel  string
	YLabel  string
	Color   string
	// HasReference 为 true 时在 Reference 处画虚线参考线
	Reference    float64
	HasReference bool
}

// Specs 按图中顺序列出面板：drift、age、period、cohort
var Specs = []Spec{
	{
		Key: "drift", Sheet: "LocalDrifts", XColumn: "Age", YColumn: "Percent per Year",
		Title: "Local Drift (Annual % Change)", XLabel: "Age Group", YLabel: "Percentage Change (%)",
		Color: "#E41A1C", Reference: 0, HasReference: true,
	},
	{
		Key: "age", Sheet: "LongAge", XColumn: "Age", YColumn: "Rate",
		Title: "Age Effect (Longitudinal Age Curve)", XLabel: "Age Group", YLabel: "Incidence Rate (per 100,000)",
		Color: "#377EB8",
	},
	{
		Key: "period", Sheet: "PeriodRR", XColumn: "Period", YColumn: "Rate Ratio",
		Title: "Period Effect (Relative Risk)", XLabel: "Period", YLabel: "Relative Risk (RR)",
		Color: "#4DAF4A", Reference: 1, HasReference: true,
	},
	{
		Key: "cohort", Sheet: "CohortRR", XColumn: "Cohort", YColumn: "Rate Ratio",
		Title: "Cohort Effect (Relative Risk)", XLabel: "Birth Cohort", YLabel: "Relative Risk (RR)",
		Color: "#984EA3", Reference: 1, HasReference: true,
	},
}

// SheetNames 返回 APC 工作簿必须包含的工作表名
func SheetNames() []string {
	names := make([]string, len(Specs))
	for i, s := range Specs {
		names[i] = s.Sheet
	}
	return names
}

// Point 一个估计值及其置信区间
type Point struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Panel 面板定义及从对应工作表读取的数据点
type Panel struct {
	Spec
	Points []Point
}

// Read 从 r 解析 APC 工作簿
func Read(r io.Reader) ([]Panel, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return readPanels(f)
}

// ReadFile 解析 path 处的 APC 工作簿
func ReadFile(path string) (panels []Panel, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer logging.HandleDeferredError(&err, f.Close, slog.Default(), "close workbook "+path)

	panels, err = Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return panels, nil
}

func readPanels(f *excelize.File) ([]Panel, error) {
	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
	}

	panels := make([]Panel, 0, len(Specs))
	for _, spec := range Specs {
		if !present[spec.Sheet] {
			return nil, fmt.Errorf("%w: %q (expected sheets: %s)", ErrMissingSheet, spec.Sheet, strings.Join(SheetNames(), ", "))
		}
		rows, err := f.GetRows(spec.Sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", spec.Sheet, err)
		}
		points, err := parseSheet(spec, rows)
		if err != nil {
			return nil, err
		}
		panels = append(panels, Panel{Spec: spec, Points: points})
	}
	return panels, nil
}

func parseSheet(spec Spec, rows [][]string) ([]Point, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", ErrMissingColumn, spec.Sheet)
	}

	// 网页工具导出的表头有时带多余空格
	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.TrimSpace(name)] = i
	}
	cols := []string{spec.XColumn, spec.YColumn, ColCILo, ColCIHi}
	idx := make([]int, len(cols))
	for i, c := range cols {
		j, ok := index[c]
		if !ok {
			return nil, fmt.Errorf("%w: sheet %s has no %q column", ErrMissingColumn, spec.Sheet, c)
		}
		idx[i] = j
	}

	var points []Point
	for r, row := range rows[1:] {
		cells := make([]string, len(cols))
		filled := 0
		for i, j := range idx {
			if j < len(row) {
				cells[i] = strings.TrimSpace(row[j])
			}
			if cells[i] != "" {
				filled++
			}
		}
		if filled == 0 {
			continue
		}

		vals := make([]float64, len(cols))
		for i, cell := range cells {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("sheet %s row %d column %s: %w", spec.Sheet, r+2, cols[i], err)
			}
			vals[i] = v
		}
		points = append(points, Point{X: vals[0], Y: vals[1], Lo: vals[2], Hi: vals[3]})
	}
	return points, nil
}
