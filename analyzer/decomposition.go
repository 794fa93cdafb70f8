package analyzer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/decomposition"
)

// DecompositionColumns 是导出表格的列名，顺序固定
var DecompositionColumns = []string{
	"Location",
	"Population growth",
	"Population aging",
	"Epidemiological change",
	"Net change",
}

// NewDecompositionResult 将引擎的 Report 转换为可序列化的结果结构
func NewDecompositionResult(report *decomposition.Report, cause, runID string) DecompositionAnalysisResult {
	result := DecompositionAnalysisResult{
		RunID:        runID,
		Cause:        cause,
		BaselineYear: report.BaselineYear,
		EndpointYear: report.EndpointYear,
		Unit:         fmt.Sprintf("percent of %d burden", report.BaselineYear),
		Regions:      make([]RegionDecomposition, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		result.Regions = append(result.Regions, RegionDecomposition{
			Location:              r.Region,
			PopulationGrowth:      Value(r.Percent.Growth),
			PopulationAging:       Value(r.Percent.Aging),
			EpidemiologicalChange: Value(r.Percent.Epidemiology),
			NetChange:             Value(r.Percent.NetChange),
			BaselineBurden:        Value(r.BaselineBurden),
			EndpointBurden:        Value(r.EndpointBurden),
			BaselinePopulation:    Value(r.BaselinePopulation),
			EndpointPopulation:    Value(r.EndpointPopulation),
		})
	}
	for _, s := range report.Skipped {
		result.Skipped = append(result.Skipped, SkippedRegion{Location: s.Region, Reason: s.Err.Error()})
	}
	return result
}

// Row 返回与 DecompositionColumns 对应的数值
func (r RegionDecomposition) Row() []float64 {
	return []float64{
		float64(r.PopulationGrowth),
		float64(r.PopulationAging),
		float64(r.EpidemiologicalChange),
		float64(r.NetChange),
	}
}

// AnalyzeDecomposition 将分解结果格式化为 text, markdown, json 或 csv。
func AnalyzeDecomposition(result DecompositionAnalysisResult, format string) (string, error) {
	slog.Debug("formatting decomposition report", "regions", len(result.Regions), "format", format)

	switch format {
	case "text":
		return decompositionText(result), nil
	case "markdown":
		return decompositionMarkdown(result), nil
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			errorResult := ErrorResult{Error: fmt.Sprintf("failed to marshal decomposition result: %v", err)}
			errorJSON, _ := json.Marshal(errorResult)
			return string(errorJSON), err
		}
		return string(data), nil
	case "csv":
		return DecompositionCSV(result)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func decompositionTitle(result DecompositionAnalysisResult) string {
	return fmt.Sprintf("Decomposition of %s DALYs, %d-%d (%% of %d burden)",
		result.Cause, result.BaselineYear, result.EndpointYear, result.BaselineYear)
}

func decompositionText(result DecompositionAnalysisResult) string {
	var b strings.Builder
	b.WriteString(decompositionTitle(result) + "\n")
	b.WriteString(strings.Repeat("-", 96) + "\n")
	b.WriteString(fmt.Sprintf("%-20s %18s %17s %23s %12s\n",
		DecompositionColumns[0], DecompositionColumns[1], DecompositionColumns[2], DecompositionColumns[3], DecompositionColumns[4]))
	b.WriteString(strings.Repeat("-", 96) + "\n")
	for _, r := range result.Regions {
		b.WriteString(fmt.Sprintf("%-20s %18s %17s %23s %12s\n", r.Location,
			FormatPercent(float64(r.PopulationGrowth)),
			FormatPercent(float64(r.PopulationAging)),
			FormatPercent(float64(r.EpidemiologicalChange)),
			FormatPercent(float64(r.NetChange))))
	}

	if len(result.Regions) > 0 {
		b.WriteString("\n=== DALYs ===\n")
		for _, r := range result.Regions {
			b.WriteString(fmt.Sprintf("%-20s %d: %-12s %d: %s\n", r.Location,
				result.BaselineYear, FormatCount(float64(r.BaselineBurden)),
				result.EndpointYear, FormatCount(float64(r.EndpointBurden))))
		}
	}

	if len(result.Skipped) > 0 {
		b.WriteString("\nSkipped regions:\n")
		for _, s := range result.Skipped {
			b.WriteString(fmt.Sprintf("  %s: %s\n", s.Location, s.Reason))
		}
	}
	return b.String()
}

func decompositionMarkdown(result DecompositionAnalysisResult) string {
	var b strings.Builder
	b.WriteString("### " + decompositionTitle(result) + "\n\n")
	b.WriteString("| " + strings.Join(DecompositionColumns, " | ") + " |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, r := range result.Regions {
		cells := []string{r.Location}
		for _, v := range r.Row() {
			cells = append(cells, FormatPercent(v))
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(result.Skipped) > 0 {
		b.WriteString("\n**Skipped regions**\n\n")
		for _, s := range result.Skipped {
			b.WriteString(fmt.Sprintf("- %s: %s\n", s.Location, s.Reason))
		}
	}
	return b.String()
}

// DecompositionCSV 输出与 DecompositionColumns 对应的 CSV 表格，数值保留全精度
func DecompositionCSV(result DecompositionAnalysisResult) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(DecompositionColumns); err != nil {
		return "", err
	}
	for _, r := range result.Regions {
		record := []string{r.Location}
		for _, v := range r.Row() {
			record = append(record, formatCSVNumber(v))
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.String(), nil
}
