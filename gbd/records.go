// Package gbd 读取 GBD 结果导出文件并整理成分析所需的形状：
// 分解使用的负担/人口连接表，以及热图使用的风险因素透视表。
package gbd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// GBD Results Tool 导出文件的列名
const (
	ColLocation = "location_name"
	ColYear     = "year"
	ColAge      = "age_name"
	ColSex      = "sex_name"
	ColMetric   = "metric_name"
	ColCause    = "cause_name"
	ColRisk     = "rei_name"
	ColValue    = "val"
)

// 连接时使用的过滤值
const (
	SexBoth      = "Both"
	MetricNumber = "Number"
)

var (
	// ErrMissingColumn 缺少必需的 CSV 列
	ErrMissingColumn = errors.New("missing required column")
	// ErrEmptyJoin 负担与人口没有共同的 (地区, 年份, 年龄组) 键
	ErrEmptyJoin = errors.New("joined dataset is empty")
	// ErrCauseNotFound 负担数据中没有目标疾病
	ErrCauseNotFound = errors.New("cause not found in burden dataset")
	// ErrNoDataForYear 热图年份没有任何风险因素数据
	ErrNoDataForYear = errors.New("no data for year")
)

// Record GBD 导出文件中的一行
type Record struct {
	Region   string
	Year     int
	AgeGroup string
	Sex      string
	Metric   string
	Cause    string // 人口导出文件中为空
	Value    float64
}

// header 去除空白后的列名到列索引的映射
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		// Excel 保存的 CSV 常以 UTF-8 BOM 开头
		name = strings.TrimPrefix(name, "\ufeff")
		h[strings.TrimSpace(name)] = i
	}
	return h
}

func (h header) require(names ...string) error {
	for _, n := range names {
		if _, ok := h[n]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingColumn, n)
		}
	}
	return nil
}

func (h header) get(row []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadRecords 解析 GBD 导出文件。负担数据必须包含 cause_name，人口数据可以省略
func ReadRecords(r io.Reader, requireCause bool) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file: %w", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := newHeader(first)
	required := []string{ColLocation, ColYear, ColAge, ColSex, ColMetric, ColValue}
	if requireCause {
		required = append(required, ColCause)
	}
	if err := h.require(required...); err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		year, err := strconv.Atoi(h.get(row, ColYear))
		if err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, ColYear, err)
		}
		val, err := strconv.ParseFloat(h.get(row, ColValue), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, ColValue, err)
		}

		records = append(records, Record{
			Region:   h.get(row, ColLocation),
			Year:     year,
			AgeGroup: h.get(row, ColAge),
			Sex:      h.get(row, ColSex),
			Metric:   h.get(row, ColMetric),
			Cause:    h.get(row, ColCause),
			Value:    val,
		})
	}
	return records, nil
}

// ReadRecordsFile 打开 path 并用 ReadRecords 解析
func ReadRecordsFile(path string, requireCause bool) (records []Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer logging.HandleDeferredError(&err, f.Close, slog.Default(), "close dataset "+path)

	records, err = ReadRecords(f, requireCause)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
