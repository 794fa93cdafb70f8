// Package main 是 gbd-analyzer 可执行程序：GBD 负担分析的命令行入口和 MCP stdio 服务器
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/analyzer"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/pipeline"
)

const appName = "gbd-analyzer"

// app 保存一次命令执行共享的配置、日志与运行 ID
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string
	stdout io.Writer
	stderr io.Writer
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)
	a := &app{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "GBD burden decomposition and figure toolkit",
		Long: `gbd-analyzer decomposes the change in disease burden (DALYs) between two
years into population growth, population aging and epidemiological change,
using the Das Gupta stepwise method on GBD results exports.

It also renders the age-period-cohort panels from an NCI APC workbook and
the risk-factor heatmap, and can serve all analyses as MCP tools over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(configPath, logLevel, logFormat)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(decomposeCmd(a), apcCmd(a), heatmapCmd(a), serveCmd(a), configCmd(a), versionCmd(a))
	return cmd
}

// init 加载配置并创建 logger，日志始终写到 stderr
func (a *app) init(configPath, logLevel, logFormat string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Merge(&config.Config{Logging: config.LoggingConfig{Level: logLevel, Format: logFormat}})

	a.cfg = cfg
	a.runID = uuid.NewString()
	a.logger = logging.New(a.stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With("run_id", a.runID)
	slog.SetDefault(a.logger)
	return nil
}

func decomposeCmd(a *app) *cobra.Command {
	var o config.DecompositionConfig
	cmd := &cobra.Command{
		Use:   "decompose",
		Short: "Decompose the change in DALYs into growth, aging and epidemiological change",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 命令行参数覆盖配置文件中的非零值
			a.cfg.Merge(&config.Config{Decomposition: o})
			d := a.cfg.Decomposition
			// 显式传入空路径表示不输出图表/表格
			f := cmd.Flags()
			if f.Changed("output-image") && o.OutputImage == "" {
				d.OutputImage = ""
			}
			if f.Changed("output-table") && o.OutputTable == "" {
				d.OutputTable = ""
			}
			return a.runDecompose(cmd.Context(), d)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.DALY, "daly", "", "DALY dataset (path, file:// or http(s):// URI)")
	f.StringVar(&o.Population, "population", "", "Population dataset (path, file:// or http(s):// URI)")
	f.StringVar(&o.Cause, "cause", "", "Cause label, matched exactly against cause_name")
	f.IntVar(&o.BaselineYear, "baseline-year", 0, "Baseline year")
	f.IntVar(&o.EndpointYear, "endpoint-year", 0, "Endpoint year")
	f.StringSliceVar(&o.Regions, "regions", nil, "Regions in output order (comma separated)")
	f.StringVar(&o.OutputImage, "output-image", "", "Chart path (.png, .svg, .pdf); empty disables the chart")
	f.StringVar(&o.OutputTable, "output-table", "", "Optional table export (.csv or .xlsx)")
	f.StringVarP(&o.Format, "format", "f", "", "Report format (text, markdown, json, csv)")
	f.IntVar(&o.Workers, "workers", 0, "Regions computed concurrently")
	return cmd
}

func (a *app) runDecompose(ctx context.Context, d config.DecompositionConfig) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := setupSignalHandler(logging.WithLogger(ctx, a.logger), a.logger)
	defer stop()

	dalyPath, cleanupDALY, err := getDatasetAsFile(ctx, d.DALY, a.logger)
	if err != nil {
		return fmt.Errorf("failed to get DALY dataset: %w", err)
	}
	defer cleanupDALY()
	popPath, cleanupPop, err := getDatasetAsFile(ctx, d.Population, a.logger)
	if err != nil {
		return fmt.Errorf("failed to get population dataset: %w", err)
	}
	defer cleanupPop()
	d.DALY, d.Population = dalyPath, popPath

	out, err := pipeline.Decompose(ctx, d, a.runID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, out.Rendered)
	return err
}

func apcCmd(a *app) *cobra.Command {
	var (
		workbook    string
		outputImage string
		format      string
	)
	cmd := &cobra.Command{
		Use:   "apc",
		Short: "Render the age-period-cohort panels from an NCI APC workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Merge(&config.Config{APC: config.APCConfig{Workbook: workbook, OutputImage: outputImage}})
			return a.runAPC(cmd.Context(), a.cfg.APC, format)
		},
	}
	f := cmd.Flags()
	f.StringVar(&workbook, "workbook", "", "APC result workbook (.xlsx path or URI)")
	f.StringVar(&outputImage, "output-image", "", "Chart path")
	f.StringVarP(&format, "format", "f", "text", "Summary format (text, markdown, json)")
	return cmd
}

func (a *app) runAPC(ctx context.Context, c config.APCConfig, format string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := setupSignalHandler(logging.WithLogger(ctx, a.logger), a.logger)
	defer stop()

	workbook, cleanup, err := getDatasetAsFile(ctx, c.Workbook, a.logger)
	if err != nil {
		return fmt.Errorf("failed to get APC workbook: %w", err)
	}
	defer cleanup()
	c.Workbook = workbook

	out, err := pipeline.APC(ctx, c, a.runID)
	if err != nil {
		return err
	}
	summary, err := analyzer.AnalyzeAPC(out.Summary, format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, summary)
	return err
}

func heatmapCmd(a *app) *cobra.Command {
	var (
		risk      string
		disease   string
		years     []int
		outputDir string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Pivot risk-attributable burden and render one heatmap per year",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Merge(&config.Config{Heatmap: config.HeatmapConfig{
				Risk:      risk,
				Disease:   disease,
				Years:     years,
				OutputDir: outputDir,
			}})
			return a.runHeatmap(cmd.Context(), a.cfg.Heatmap, format)
		},
	}
	f := cmd.Flags()
	f.StringVar(&risk, "risk", "", "Risk factor export (path or URI)")
	f.StringVar(&disease, "disease", "", "Disease name used in titles and file names")
	f.IntSliceVar(&years, "years", nil, "Years to plot (comma separated)")
	f.StringVar(&outputDir, "output-dir", "", "Directory for the pivot CSV and heatmap images")
	f.StringVarP(&format, "format", "f", "text", "Summary format (text, markdown, json)")
	return cmd
}

func (a *app) runHeatmap(ctx context.Context, c config.HeatmapConfig, format string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := setupSignalHandler(logging.WithLogger(ctx, a.logger), a.logger)
	defer stop()

	riskPath, cleanup, err := getDatasetAsFile(ctx, c.Risk, a.logger)
	if err != nil {
		return fmt.Errorf("failed to get risk dataset: %w", err)
	}
	defer cleanup()
	c.Risk = riskPath

	outputs, runErr := pipeline.Heatmap(ctx, c, a.runID)
	for _, out := range outputs {
		summary, err := analyzer.AnalyzeRiskHeatmap(out.Summary, format)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(a.stdout, summary); err != nil {
			return err
		}
	}
	return runErr
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyses as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// configCmd 输出合并后的有效配置，或用 --write 保存为 YAML 文件
func configCmd(a *app) *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML, or save it with --write",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write != "" {
				if err := a.cfg.SaveToFile(write); err != nil {
					return err
				}
				a.logger.Info("configuration saved", "path", write)
				return nil
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "Save the effective configuration to this path")
	return cmd
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "%s version %s\n", appName, a.cfg.Server.Version)
		},
	}
}
