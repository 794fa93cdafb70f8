package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/analyzer"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/pipeline"
)

// requireString 读取必需的字符串参数
func requireString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing or invalid required argument: %s (string)", name)
	}
	return v, nil
}

func optionalString(args map[string]interface{}, name, fallback string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// optionalInt 读取数字参数。MCP 的数字为 float64
func optionalInt(args map[string]interface{}, name string, fallback int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return fallback
}

// splitRegions 解析逗号分隔的地区列表
func splitRegions(s string) []string {
	var regions []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			regions = append(regions, r)
		}
	}
	return regions
}

// absPath 将相对输出路径转换为相对于服务器工作目录的绝对路径
func absPath(p string, logger *slog.Logger) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		logger.Warn("failed to resolve output path", "path", p, "error", err)
		return p
	}
	return abs
}

// imageContent 将 PNG 图片编码为 MCP 图片内容，其他格式只返回路径
func imageContent(path string) (mcp.Content, bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return mcp.ImageContent{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: "image/png",
	}, true, nil
}

// toolLogger 为每次工具调用生成独立的调用 ID，并将 logger 放入 ctx 供 pipeline 使用
func (a *app) toolLogger(ctx context.Context, tool string) (context.Context, *slog.Logger, string) {
	callID := uuid.NewString()
	logger := a.logger.With("tool", tool, "call_id", callID)
	return logging.WithLogger(ctx, logger), logger, callID
}

// withImage 在结果后追加图片内容；读取失败时只记录日志
func withImage(content []mcp.Content, path string, logger *slog.Logger) []mcp.Content {
	if path == "" {
		return content
	}
	img, ok, err := imageContent(path)
	if err != nil {
		logger.Warn("chart written but could not be read back", "path", path, "error", err)
		return content
	}
	if ok {
		content = append(content, img)
	}
	return content
}

// handleDecomposeBurden 处理 "decompose_burden" 工具调用。
func (a *app) handleDecomposeBurden(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	ctx, logger, callID := a.toolLogger(ctx, "decompose_burden")

	// --- 1. 获取并验证参数 ---
	dalyURI, err := requireString(args, "daly_uri")
	if err != nil {
		return nil, err
	}
	popURI, err := requireString(args, "population_uri")
	if err != nil {
		return nil, err
	}
	cause, err := requireString(args, "cause")
	if err != nil {
		return nil, err
	}

	d := a.cfg.Decomposition
	d.DALY, d.Population, d.Cause = dalyURI, popURI, cause
	d.BaselineYear = optionalInt(args, "baseline_year", d.BaselineYear)
	d.EndpointYear = optionalInt(args, "endpoint_year", d.EndpointYear)
	if regions := splitRegions(optionalString(args, "regions", "")); len(regions) > 0 {
		d.Regions = regions
	}
	d.Format = optionalString(args, "output_format", "text")
	d.OutputImage = absPath(optionalString(args, "output_image_path", ""), logger)
	d.OutputTable = ""
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	logger.Info("handling decompose_burden", "cause", d.Cause, "baseline_year", d.BaselineYear,
		"endpoint_year", d.EndpointYear, "regions", len(d.Regions), "format", d.Format)

	// --- 2. 获取数据文件（本地或下载）---
	dalyPath, cleanupDALY, err := getDatasetAsFile(ctx, dalyURI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get DALY dataset: %w", err)
	}
	defer cleanupDALY()
	popPath, cleanupPop, err := getDatasetAsFile(ctx, popURI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get population dataset: %w", err)
	}
	defer cleanupPop()
	d.DALY, d.Population = dalyPath, popPath

	// --- 3. 分解并返回结果 ---
	out, err := pipeline.Decompose(ctx, d, callID)
	if err != nil {
		return nil, err
	}

	content := []mcp.Content{mcp.TextContent{Type: "text", Text: out.Rendered}}
	if out.ImagePath != "" {
		content = append(content, mcp.TextContent{Type: "text", Text: fmt.Sprintf("Chart saved to: %s", out.ImagePath)})
	}
	return &mcp.CallToolResult{Content: withImage(content, out.ImagePath, logger)}, nil
}

// handlePlotAPC 处理 "plot_apc" 工具调用。
func (a *app) handlePlotAPC(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	ctx, logger, callID := a.toolLogger(ctx, "plot_apc")

	workbookURI, err := requireString(args, "workbook_uri")
	if err != nil {
		return nil, err
	}
	c := config.APCConfig{
		Workbook:    workbookURI,
		OutputImage: absPath(optionalString(args, "output_image_path", a.cfg.APC.OutputImage), logger),
	}
	logger.Info("handling plot_apc", "workbook", workbookURI, "output", c.OutputImage)

	workbook, cleanup, err := getDatasetAsFile(ctx, workbookURI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get APC workbook: %w", err)
	}
	defer cleanup()
	c.Workbook = workbook

	out, err := pipeline.APC(ctx, c, callID)
	if err != nil {
		return nil, err
	}
	summary, err := analyzer.AnalyzeAPC(out.Summary, "text")
	if err != nil {
		return nil, err
	}

	content := []mcp.Content{
		mcp.TextContent{Type: "text", Text: summary},
		mcp.TextContent{Type: "text", Text: fmt.Sprintf("APC chart saved to: %s", out.ImagePath)},
	}
	return &mcp.CallToolResult{Content: withImage(content, out.ImagePath, logger)}, nil
}

// handleRiskHeatmap 处理 "risk_heatmap" 工具调用。
func (a *app) handleRiskHeatmap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	ctx, logger, callID := a.toolLogger(ctx, "risk_heatmap")

	riskURI, err := requireString(args, "risk_uri")
	if err != nil {
		return nil, err
	}
	disease, err := requireString(args, "disease")
	if err != nil {
		return nil, err
	}
	yearFloat, ok := args["year"].(float64)
	if !ok {
		return nil, fmt.Errorf("missing or invalid required argument: year (number)")
	}
	c := config.HeatmapConfig{
		Risk:      riskURI,
		Disease:   disease,
		Years:     []int{int(yearFloat)},
		OutputDir: absPath(optionalString(args, "output_dir", "."), logger),
	}
	logger.Info("handling risk_heatmap", "disease", disease, "year", c.Years[0], "output_dir", c.OutputDir)

	riskPath, cleanup, err := getDatasetAsFile(ctx, riskURI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get risk dataset: %w", err)
	}
	defer cleanup()
	c.Risk = riskPath

	outputs, err := pipeline.Heatmap(ctx, c, callID)
	if err != nil {
		return nil, err
	}

	content := make([]mcp.Content, 0, len(outputs))
	for _, out := range outputs {
		summary, err := analyzer.AnalyzeRiskHeatmap(out.Summary, "text")
		if err != nil {
			return nil, err
		}
		content = append(content, mcp.TextContent{Type: "text", Text: summary})
	}
	return &mcp.CallToolResult{Content: content}, nil
}
