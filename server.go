package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/chart"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
)

// newMCPServer 创建 MCP 服务器并注册所有分析工具
func newMCPServer(a *app) *server.MCPServer {
	// 1. 初始化 MCP 服务器
	mcpServer := server.NewMCPServer(
		a.cfg.Server.Name,
		a.cfg.Server.Version,
		server.WithLogging(),  // 启用日志记录
		server.WithRecovery(), // 启用 panic 恢复
	)

	d := a.cfg.Decomposition

	// 2. 定义 decompose_burden 工具及其参数
	decomposeTool := mcp.NewTool("decompose_burden",
		mcp.WithDescription("Das Gupta 分解：将两年间 DALY 的变化分解为人口增长、人口老龄化和流行病学变化三部分，以基线年负担的百分比表示。"),
		mcp.WithString("daly_uri",
			mcp.Description("DALY 数据集 (GBD 导出 CSV) 的 URI，支持本地路径、'file://'、'http://'、'https://'。"),
			mcp.Required(),
		),
		mcp.WithString("population_uri",
			mcp.Description("人口数据集 (GBD 导出 CSV) 的 URI，格式同上。"),
			mcp.Required(),
		),
		mcp.WithString("cause",
			mcp.Description("疾病名称，需与 cause_name 列完全一致，例如 \"Alzheimer's disease and other dementias\"。"),
			mcp.Required(),
		),
		mcp.WithNumber("baseline_year",
			mcp.Description("基线年份。"),
			mcp.DefaultNumber(float64(d.BaselineYear)),
		),
		mcp.WithNumber("endpoint_year",
			mcp.Description("终点年份。"),
			mcp.DefaultNumber(float64(d.EndpointYear)),
		),
		mcp.WithString("regions",
			mcp.Description(fmt.Sprintf("以逗号分隔的地区列表，按输出顺序排列。默认: %v", config.DefaultRegions)),
		),
		mcp.WithString("output_format",
			mcp.Description("分析结果的输出格式。"),
			mcp.DefaultString("text"),
			mcp.Enum(config.OutputFormats...),
		),
		mcp.WithString("output_image_path",
			mcp.Description(fmt.Sprintf("图表保存路径 (.png/.svg/.pdf)，省略则不生成图表。例如 '%s'。", chart.DefaultDecompositionImage)),
		),
	)

	// 3. 定义 plot_apc 工具
	apcTool := mcp.NewTool("plot_apc",
		mcp.WithDescription("读取 NCI APC 网页工具导出的工作簿 (LocalDrifts, LongAge, PeriodRR, CohortRR)，生成 2x2 年龄-时期-队列面板图。"),
		mcp.WithString("workbook_uri",
			mcp.Description("APC 结果工作簿 (.xlsx) 的 URI。"),
			mcp.Required(),
		),
		mcp.WithString("output_image_path",
			mcp.Description("图表保存路径。"),
			mcp.DefaultString(chart.DefaultAPCImage),
		),
	)

	// 4. 定义 risk_heatmap 工具
	heatmapTool := mcp.NewTool("risk_heatmap",
		mcp.WithDescription("按年份将风险因素归因负担透视为 风险因素 x 地区 表格，导出 CSV 并生成热图。"),
		mcp.WithString("risk_uri",
			mcp.Description("风险因素导出 CSV (rei_name, location_name, year, val) 的 URI。"),
			mcp.Required(),
		),
		mcp.WithString("disease",
			mcp.Description("疾病名称，用于标题与文件名。"),
			mcp.Required(),
		),
		mcp.WithNumber("year",
			mcp.Description("要绘制的年份。"),
			mcp.Required(),
		),
		mcp.WithString("output_dir",
			mcp.Description("CSV 与热图的输出目录。"),
			mcp.DefaultString("."),
		),
	)

	// 5. 将所有工具及其处理器函数添加到服务器
	mcpServer.AddTool(decomposeTool, a.handleDecomposeBurden)
	mcpServer.AddTool(apcTool, a.handlePlotAPC)
	mcpServer.AddTool(heatmapTool, a.handleRiskHeatmap)
	return mcpServer
}

// serve 通过 stdio 启动 MCP 服务器，stdout 只承载协议数据
func (a *app) serve(ctx context.Context) error {
	mcpServer := newMCPServer(a)

	// 设置信号处理程序以进行清理
	_, stop := setupSignalHandler(ctx, a.logger)
	defer stop()

	a.logger.Info("starting MCP server via stdio", "name", a.cfg.Server.Name, "version", a.cfg.Server.Version)
	if err := server.ServeStdio(mcpServer); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	if n := tempFiles.removeAll(a.logger); n > 0 {
		a.logger.Info("removed leftover temporary files", "count", n)
	}
	return nil
}
