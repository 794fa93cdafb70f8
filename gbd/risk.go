package gbd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"sort"
	"strconv"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// GlobalLocation 固定为热图第一列，并决定行的排序
const GlobalLocation = "Global"

// RiskRecord 风险因素归因负担导出文件中的一行
type RiskRecord struct {
	Risk     string
	Location string
	Year     int
	Value    float64
}

// ReadRiskRecords 解析包含 rei_name、location_name、year、val 列的风险因素导出文件
func ReadRiskRecords(r io.Reader) ([]RiskRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file: %w", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := newHeader(first)
	if err := h.require(ColRisk, ColLocation, ColYear, ColValue); err != nil {
		return nil, err
	}

	var records []RiskRecord
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
		records = append(records, RiskRecord{
			Risk:     h.get(row, ColRisk),
			Location: h.get(row, ColLocation),
			Year:     year,
			Value:    val,
		})
	}
	return records, nil
}

// ReadRiskRecordsFile 打开 path 并用 ReadRiskRecords 解析
func ReadRiskRecordsFile(path string) (records []RiskRecord, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer logging.HandleDeferredError(&err, f.Close, slog.Default(), "close dataset "+path)

	records, err = ReadRiskRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Pivot 某一年的 风险因素 x 地区 矩阵，缺失单元格为 NaN
type Pivot struct {
	Year    int
	Rows    []string // 风险因素
	Columns []string // 地区
	Values  [][]float64
}

// At 返回第 r 行第 c 列的值
func (p *Pivot) At(r, c int) float64 { return p.Values[r][c] }

// PivotRisks 构造某一年的热图矩阵。重复单元格取平均值。
// Global 放在第一列，其余地区按字母排序；行按 Global 列的值从大到小排列。
func PivotRisks(records []RiskRecord, year int) (*Pivot, error) {
	type cellKey struct{ risk, loc string }
	sums := make(map[cellKey]float64)
	counts := make(map[cellKey]int)
	risks := make(map[string]struct{})
	locs := make(map[string]struct{})

	for _, rec := range records {
		if rec.Year != year {
			continue
		}
		k := cellKey{rec.Risk, rec.Location}
		sums[k] += rec.Value
		counts[k]++
		risks[rec.Risk] = struct{}{}
		locs[rec.Location] = struct{}{}
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoDataForYear, year)
	}

	rows := make([]string, 0, len(risks))
	for r := range risks {
		rows = append(rows, r)
	}
	slices.Sort(rows)

	_, hasGlobal := locs[GlobalLocation]
	cols := make([]string, 0, len(locs))
	for l := range locs {
		if l != GlobalLocation {
			cols = append(cols, l)
		}
	}
	slices.Sort(cols)
	if hasGlobal {
		cols = append([]string{GlobalLocation}, cols...)
	}

	value := func(risk, loc string) float64 {
		k := cellKey{risk, loc}
		n := counts[k]
		if n == 0 {
			return math.NaN()
		}
		return sums[k] / float64(n)
	}

	if hasGlobal {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := value(rows[i], GlobalLocation), value(rows[j], GlobalLocation)
			if math.IsNaN(b) {
				return !math.IsNaN(a)
			}
			if math.IsNaN(a) {
				return false
			}
			return a > b
		})
	}

	values := make([][]float64, len(rows))
	for i, r := range rows {
		values[i] = make([]float64, len(cols))
		for j, c := range cols {
			values[i][j] = value(r, c)
		}
	}

	return &Pivot{Year: year, Rows: rows, Columns: cols, Values: values}, nil
}

// WriteCSV 将透视表写成便于 Excel 打开的 CSV：带 BOM 的 UTF-8，
// rei_name 作为索引列，NaN 单元格留空。
func (p *Pivot) WriteCSV(w io.Writer) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{ColRisk}, p.Columns...)); err != nil {
		return err
	}
	for i, r := range p.Rows {
		row := make([]string, 0, len(p.Columns)+1)
		row = append(row, r)
		for _, v := range p.Values[i] {
			if math.IsNaN(v) {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
