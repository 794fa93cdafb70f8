package analyzer

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// xlsx 导出使用的工作表名
const (
	DecompositionSheet = "Decomposition"
	SkippedSheet       = "Skipped"
)

// WriteDecompositionWorkbook 将分解表格写成 xlsx 工作簿
func WriteDecompositionWorkbook(w io.Writer, result DecompositionAnalysisResult) error {
	f, err := decompositionWorkbook(result)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveDecompositionTable 按扩展名 (.csv 或 .xlsx) 导出分解表格
func SaveDecompositionTable(path string, result DecompositionAnalysisResult) (err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		data, err := DecompositionCSV(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return fmt.Errorf("failed to write table %s: %w", path, err)
		}
		return nil
	case ".xlsx":
		var out *os.File
		out, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer logging.HandleDeferredError(&err, out.Close, slog.Default(), "close table "+path)
		if err := WriteDecompositionWorkbook(out, result); err != nil {
			return fmt.Errorf("failed to save workbook %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported table extension %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func decompositionWorkbook(result DecompositionAnalysisResult) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", DecompositionSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(DecompositionColumns))
	for i, c := range DecompositionColumns {
		header[i] = c
	}
	rows := [][]interface{}{header}
	for _, r := range result.Regions {
		row := []interface{}{r.Location}
		for _, v := range r.Row() {
			row = append(row, cellValue(v))
		}
		rows = append(rows, row)
	}
	if err := setRows(f, DecompositionSheet, rows); err != nil {
		f.Close()
		return nil, err
	}

	if len(result.Skipped) > 0 {
		if _, err := f.NewSheet(SkippedSheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to add sheet: %w", err)
		}
		rows := [][]interface{}{{"Location", "Reason"}}
		for _, s := range result.Skipped {
			rows = append(rows, []interface{}{s.Location, s.Reason})
		}
		if err := setRows(f, SkippedSheet, rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// cellValue 非有限值写成字符串，xlsx 数值单元格无法表示 NaN/Inf
func cellValue(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return FormatPercent(v)
	}
	return v
}
