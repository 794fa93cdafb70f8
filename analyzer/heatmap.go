package analyzer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
)

// SummarizeRiskPivot 列出 Global 列中排名前 topN 的风险因素。
// 透视表的行已按 Global 值降序排列。
func SummarizeRiskPivot(p *gbd.Pivot, disease string, topN int, runID string) RiskHeatmapResult {
	result := RiskHeatmapResult{
		RunID:       runID,
		Disease:     disease,
		Year:        p.Year,
		RiskFactors: len(p.Rows),
		Locations:   slices.Clone(p.Columns),
	}
	col := slices.Index(p.Columns, gbd.GlobalLocation)
	if col < 0 {
		return result
	}
	limit := min(topN, len(p.Rows))
	if limit < 0 {
		limit = 0
	}
	result.TopN = limit
	result.Top = make([]RiskFactorStat, 0, limit)
	for i := 0; i < limit; i++ {
		result.Top = append(result.Top, RiskFactorStat{Risk: p.Rows[i], Global: Value(p.At(i, col))})
	}
	return result
}

// AnalyzeRiskHeatmap 将热图摘要格式化为 text, markdown 或 json。
func AnalyzeRiskHeatmap(result RiskHeatmapResult, format string) (string, error) {
	slog.Debug("formatting risk heatmap summary", "disease", result.Disease, "year", result.Year, "format", format)

	switch format {
	case "text", "markdown":
		var b strings.Builder
		if format == "markdown" {
			b.WriteString("```text\n")
		}
		b.WriteString(fmt.Sprintf("%s Risk Factors in %d\n", result.Disease, result.Year))
		b.WriteString(fmt.Sprintf("%d risk factors x %d locations\n", result.RiskFactors, len(result.Locations)))
		if len(result.Top) > 0 {
			b.WriteString(fmt.Sprintf("\n=== Top %d by %s ===\n", result.TopN, gbd.GlobalLocation))
			b.WriteString(strings.Repeat("-", 60) + "\n")
			for _, s := range result.Top {
				b.WriteString(fmt.Sprintf("%-48s %10.1f\n", s.Risk, float64(s.Global)))
			}
		}
		if result.DataFile != "" {
			b.WriteString(fmt.Sprintf("\nData: %s\n", result.DataFile))
		}
		if result.ImageFile != "" {
			b.WriteString(fmt.Sprintf("Image: %s\n", result.ImageFile))
		}
		if format == "markdown" {
			b.WriteString("```\n")
		}
		return b.String(), nil
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			errorResult := ErrorResult{Error: fmt.Sprintf("failed to marshal heatmap result: %v", err)}
			errorJSON, _ := json.Marshal(errorResult)
			return string(errorJSON), err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
