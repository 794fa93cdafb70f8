// Package pipeline 将输入、计算、报告和图表串联为完整的分析流程。
// 输入为本地文件路径，远程 URI 由调用方负责解析。
// 日志从 ctx 中获取 (logging.WithLogger)，未设置时使用 slog.Default()。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/analyzer"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/apc"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/chart"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/decomposition"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// DefaultTopN 热图摘要列出的风险因素数
const DefaultTopN = 10

// DecompositionOutput 一次分解运行的全部产出
type DecompositionOutput struct {
	Report *decomposition.Report
	Result analyzer.DecompositionAnalysisResult
	// Rendered 按配置格式渲染的报告
	Rendered string
	// 未写出文件时 ImagePath 和 TablePath 为空
	ImagePath string
	TablePath string
}

// Decompose 读取两个数据集并连接，分解每个配置的地区，写出图表和可选的表格
func Decompose(ctx context.Context, cfg config.DecompositionConfig, runID string) (*DecompositionOutput, error) {
	logger := logging.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	start := time.Now()

	burden, err := gbd.ReadRecordsFile(cfg.DALY, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load DALY dataset: %w", err)
	}
	population, err := gbd.ReadRecordsFile(cfg.Population, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load population dataset: %w", err)
	}
	logger.Debug("loaded datasets", "daly_rows", len(burden), "population_rows", len(population))

	ds, err := gbd.Join(burden, population, gbd.JoinOptions{Cause: cfg.Cause, Regions: cfg.Regions, Logger: logger})
	if err != nil {
		return nil, err
	}

	engine := decomposition.NewEngine(cfg.BaselineYear, cfg.EndpointYear,
		decomposition.WithWorkers(cfg.Workers), decomposition.WithLogger(logger))
	report, err := engine.Run(ctx, ds, cfg.Regions)
	if err != nil {
		return nil, fmt.Errorf("decomposition failed: %w", err)
	}

	out := &DecompositionOutput{
		Report: report,
		Result: analyzer.NewDecompositionResult(report, cfg.Cause, runID),
	}
	out.Rendered, err = analyzer.AnalyzeDecomposition(out.Result, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to format report: %w", err)
	}

	if len(report.Results) == 0 {
		logger.Warn("no region could be decomposed; chart and table not written", "skipped", len(report.Skipped))
	} else {
		if cfg.OutputImage != "" {
			if err := chart.SaveDecomposition(cfg.OutputImage, cfg.Cause, cfg.BaselineYear, cfg.EndpointYear, report.Results, logger); err != nil {
				return nil, err
			}
			out.ImagePath = cfg.OutputImage
		}
		if cfg.OutputTable != "" {
			if err := analyzer.SaveDecompositionTable(cfg.OutputTable, out.Result); err != nil {
				return nil, err
			}
			out.TablePath = cfg.OutputTable
		}
	}

	logging.LogOperation(logger, "decomposition complete",
		slog.String("cause", cfg.Cause),
		slog.Int("regions", len(report.Results)),
		slog.Int("skipped", len(report.Skipped)),
		slog.String("image", out.ImagePath),
		slog.String("table", out.TablePath),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// APCOutput APC 工作簿的渲染结果
type APCOutput struct {
	Panels    []apc.Panel
	Summary   analyzer.APCAnalysisResult
	ImagePath string
}

// APC 读取工作簿并绘制 2x2 面板图
func APC(ctx context.Context, cfg config.APCConfig, runID string) (*APCOutput, error) {
	logger := logging.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	start := time.Now()

	panels, err := apc.ReadFile(cfg.Workbook)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := chart.SaveAPC(cfg.OutputImage, panels); err != nil {
		return nil, err
	}

	out := &APCOutput{
		Panels:    panels,
		Summary:   analyzer.SummarizeAPC(panels, runID),
		ImagePath: cfg.OutputImage,
	}
	logging.LogOperation(logger, "APC chart complete",
		slog.String("workbook", cfg.Workbook),
		slog.String("image", out.ImagePath),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// HeatmapOutput 单个年份的热图结果
type HeatmapOutput struct {
	Pivot     *gbd.Pivot
	Summary   analyzer.RiskHeatmapResult
	DataPath  string
	ImagePath string
}

// HeatmapDataFile 和 HeatmapImageFile 返回某年份写出的文件名
func HeatmapDataFile(disease string, year int) string {
	return fmt.Sprintf("Heatmap_Data_%s_%d.csv", fileSafe(disease), year)
}

func HeatmapImageFile(disease string, year int) string {
	return fmt.Sprintf("Heatmap_%s_%d_HorizontalY.png", fileSafe(disease), year)
}

// fileSafe 去掉疾病名中的路径分隔符
func fileSafe(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// Heatmap 对每个配置的年份透视风险因素数据，写出透视 CSV 和热图。
// 某年份失败不影响其他年份，所有失败合并后返回。
func Heatmap(ctx context.Context, cfg config.HeatmapConfig, runID string) ([]HeatmapOutput, error) {
	logger := logging.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	records, err := gbd.ReadRiskRecordsFile(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk dataset: %w", err)
	}
	dir := cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	var outputs []HeatmapOutput
	var errs []error
	for _, year := range cfg.Years {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		out, err := heatmapYear(records, cfg.Disease, year, dir, runID)
		if err != nil {
			logging.LogError(logger, "heatmap failed", err, slog.Int("year", year))
			errs = append(errs, fmt.Errorf("year %d: %w", year, err))
			continue
		}
		logging.LogOperation(logger, "heatmap complete",
			slog.Int("year", year),
			slog.String("data", out.DataPath),
			slog.String("image", out.ImagePath))
		outputs = append(outputs, out)
	}
	return outputs, errors.Join(errs...)
}

func heatmapYear(records []gbd.RiskRecord, disease string, year int, dir, runID string) (out HeatmapOutput, err error) {
	pivot, err := gbd.PivotRisks(records, year)
	if err != nil {
		return out, err
	}

	dataPath := filepath.Join(dir, HeatmapDataFile(disease, year))
	f, err := os.Create(dataPath)
	if err != nil {
		return out, fmt.Errorf("failed to create %s: %w", dataPath, err)
	}
	if err := pivot.WriteCSV(f); err != nil {
		f.Close()
		return out, fmt.Errorf("failed to write %s: %w", dataPath, err)
	}
	if err := f.Close(); err != nil {
		return out, fmt.Errorf("failed to close %s: %w", dataPath, err)
	}

	imagePath := filepath.Join(dir, HeatmapImageFile(disease, year))
	if err := chart.SaveHeatmap(imagePath, pivot, disease); err != nil {
		return out, err
	}

	summary := analyzer.SummarizeRiskPivot(pivot, disease, DefaultTopN, runID)
	summary.DataFile = dataPath
	summary.ImageFile = imagePath
	return HeatmapOutput{Pivot: pivot, Summary: summary, DataPath: dataPath, ImagePath: imagePath}, nil
}
