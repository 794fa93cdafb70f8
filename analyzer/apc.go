package analyzer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/apc"
)

// SummarizeAPC 计算每个 APC 面板的取值范围与峰值位置
func SummarizeAPC(panels []apc.Panel, runID string) APCAnalysisResult {
	result := APCAnalysisResult{RunID: runID, Panels: make([]APCPanelSummary, 0, len(panels))}
	for _, p := range panels {
		s := APCPanelSummary{
			Panel:  p.Title,
			Sheet:  p.Sheet,
			Points: len(p.Points),
			MinY:   Value(math.NaN()),
			MaxY:   Value(math.NaN()),
			PeakX:  Value(math.NaN()),
		}
		if len(p.Points) > 0 {
			minY, maxY := math.Inf(1), math.Inf(-1)
			peakX := p.Points[0].X
			for _, pt := range p.Points {
				minY = math.Min(minY, pt.Y)
				if pt.Y > maxY {
					maxY, peakX = pt.Y, pt.X
				}
				if p.HasReference && pt.Y > p.Reference {
					s.AboveReference++
				}
			}
			s.MinY, s.MaxY, s.PeakX = Value(minY), Value(maxY), Value(peakX)
		}
		if p.HasReference {
			ref := Value(p.Reference)
			s.Reference = &ref
		}
		result.Panels = append(result.Panels, s)
	}
	return result
}

// AnalyzeAPC 将 APC 摘要格式化为 text, markdown 或 json。
func AnalyzeAPC(result APCAnalysisResult, format string) (string, error) {
	slog.Debug("formatting APC summary", "panels", len(result.Panels), "format", format)

	switch format {
	case "text", "markdown":
		var b strings.Builder
		if format == "markdown" {
			b.WriteString("```text\n")
		}
		b.WriteString("Age-Period-Cohort Analysis\n")
		b.WriteString(strings.Repeat("-", 72) + "\n")
		b.WriteString(fmt.Sprintf("%-38s %6s %8s %8s %8s\n", "Panel", "Points", "Min", "Max", "Peak at"))
		b.WriteString(strings.Repeat("-", 72) + "\n")
		for _, p := range result.Panels {
			b.WriteString(fmt.Sprintf("%-38s %6d %8s %8s %8s\n", p.Panel, p.Points,
				FormatPercent(float64(p.MinY)), FormatPercent(float64(p.MaxY)), FormatPercent(float64(p.PeakX))))
		}
		for _, p := range result.Panels {
			if p.Reference != nil && p.Points > 0 {
				b.WriteString(fmt.Sprintf("%s: %d of %d points above %s\n",
					p.Sheet, p.AboveReference, p.Points, FormatPercent(float64(*p.Reference))))
			}
		}
		if format == "markdown" {
			b.WriteString("```\n")
		}
		return b.String(), nil
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			errorResult := ErrorResult{Error: fmt.Sprintf("failed to marshal APC result: %v", err)}
			errorJSON, _ := json.Marshal(errorResult)
			return string(errorJSON), err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
