// Package config 为分析命令和 MCP 服务器提供配置加载与校验
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultRegions GBD 分解图使用的 SDI 地区顺序
var DefaultRegions = []string{
	"Global",
	"High SDI",
	"High-middle SDI",
	"Middle SDI",
	"Low-middle SDI",
	"Low SDI",
}

// 报告支持的输出格式
var OutputFormats = []string{"text", "markdown", "json", "csv"}

// Config 完整的分析器配置
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Decomposition DecompositionConfig `yaml:"decomposition"`
	APC           APCConfig           `yaml:"apc"`
	Heatmap       HeatmapConfig       `yaml:"heatmap"`
	Server        ServerConfig        `yaml:"server"`
}

// LoggingConfig slog handler 配置
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`
	// Format: text 或 json
	Format string `yaml:"format"`
}

// DecompositionConfig Das Gupta 分解配置
type DecompositionConfig struct {
	// DALY 负担数据集 (路径、file:// 或 http(s):// URI)
	DALY string `yaml:"daly"`
	// Population 人口数据集
	Population string `yaml:"population"`
	// Cause 必须与数据集中的 cause_name 完全一致
	Cause        string   `yaml:"cause"`
	BaselineYear int      `yaml:"baseline_year"`
	EndpointYear int      `yaml:"endpoint_year"`
	Regions      []string `yaml:"regions"`
	// OutputImage 图表路径，为空则不绘图
	OutputImage string `yaml:"output_image"`
	// OutputTable 可选的表格导出路径 (.csv 或 .xlsx)
	OutputTable string `yaml:"output_table"`
	// Format 输出到 stdout 的报告格式
	Format string `yaml:"format"`
	// Workers 同时计算的地区数上限
	Workers int `yaml:"workers"`
}

// APCConfig APC 面板图配置
type APCConfig struct {
	Workbook    string `yaml:"workbook"`
	OutputImage string `yaml:"output_image"`
}

// HeatmapConfig 风险因素热图配置
type HeatmapConfig struct {
	Risk      string `yaml:"risk"`
	Disease   string `yaml:"disease"`
	Years     []int  `yaml:"years"`
	OutputDir string `yaml:"output_dir"`
}

// ServerConfig MCP 服务器名称与版本
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DefaultConfig 返回参考分析使用的默认配置
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Decomposition: DecompositionConfig{
			DALY:         "input_daly.csv",
			Population:   "input_pop.csv",
			Cause:        "Alzheimer's disease and other dementias",
			BaselineYear: 1990,
			EndpointYear: 2021,
			Regions:      slices.Clone(DefaultRegions),
			OutputImage:  "Figure5_Decomposition.png",
			Format:       "text",
			Workers:      4,
		},
		APC: APCConfig{
			Workbook:    "Global_Results.xlsx",
			OutputImage: "Figure6_APC_Global_Excel.png",
		},
		Heatmap: HeatmapConfig{
			Risk:      "risk_ckd.csv",
			Disease:   "Chronic kidney disease",
			Years:     []int{1990, 2021},
			OutputDir: ".",
		},
		Server: ServerConfig{
			Name:    "GBDAnalyzer",
			Version: "0.1.0",
		},
	}
}

// Validate 校验分解配置
func (c *DecompositionConfig) Validate() error {
	if c.DALY == "" {
		return fmt.Errorf("decomposition.daly is required")
	}
	if c.Population == "" {
		return fmt.Errorf("decomposition.population is required")
	}
	if c.Cause == "" {
		return fmt.Errorf("decomposition.cause is required")
	}
	if c.BaselineYear >= c.EndpointYear {
		return fmt.Errorf("decomposition.baseline_year (%d) must be before endpoint_year (%d)", c.BaselineYear, c.EndpointYear)
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("decomposition.regions must list at least one region")
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for _, r := range c.Regions {
		if r == "" {
			return fmt.Errorf("decomposition.regions contains an empty name")
		}
		if _, dup := seen[r]; dup {
			return fmt.Errorf("decomposition.regions lists %q twice", r)
		}
		seen[r] = struct{}{}
	}
	if !slices.Contains(OutputFormats, c.Format) {
		return fmt.Errorf("decomposition.format must be one of %v, got %q", OutputFormats, c.Format)
	}
	if c.Workers < 0 {
		return fmt.Errorf("decomposition.workers must not be negative")
	}
	return nil
}

// Validate 校验 APC 配置
func (c *APCConfig) Validate() error {
	if c.Workbook == "" {
		return fmt.Errorf("apc.workbook is required")
	}
	if c.OutputImage == "" {
		return fmt.Errorf("apc.output_image is required")
	}
	return nil
}

// Validate 校验热图配置
func (c *HeatmapConfig) Validate() error {
	if c.Risk == "" {
		return fmt.Errorf("heatmap.risk is required")
	}
	if c.Disease == "" {
		return fmt.Errorf("heatmap.disease is required")
	}
	if len(c.Years) == 0 {
		return fmt.Errorf("heatmap.years must list at least one year")
	}
	return nil
}

// LoadFromFile 在默认配置之上加载 YAML 配置文件
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile 将配置保存为 YAML 文件
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge 将 other 合并进当前配置，other 中的非零值优先
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}

	// Decomposition
	d, o := &c.Decomposition, other.Decomposition
	if o.DALY != "" {
		d.DALY = o.DALY
	}
	if o.Population != "" {
		d.Population = o.Population
	}
	if o.Cause != "" {
		d.Cause = o.Cause
	}
	if o.BaselineYear != 0 {
		d.BaselineYear = o.BaselineYear
	}
	if o.EndpointYear != 0 {
		d.EndpointYear = o.EndpointYear
	}
	if len(o.Regions) > 0 {
		d.Regions = slices.Clone(o.Regions)
	}
	if o.OutputImage != "" {
		d.OutputImage = o.OutputImage
	}
	if o.OutputTable != "" {
		d.OutputTable = o.OutputTable
	}
	if o.Format != "" {
		d.Format = o.Format
	}
	if o.Workers != 0 {
		d.Workers = o.Workers
	}

	// APC
	if other.APC.Workbook != "" {
		c.APC.Workbook = other.APC.Workbook
	}
	if other.APC.OutputImage != "" {
		c.APC.OutputImage = other.APC.OutputImage
	}

	// Heatmap
	if other.Heatmap.Risk != "" {
		c.Heatmap.Risk = other.Heatmap.Risk
	}
	if other.Heatmap.Disease != "" {
		c.Heatmap.Disease = other.Heatmap.Disease
	}
	if len(other.Heatmap.Years) > 0 {
		c.Heatmap.Years = slices.Clone(other.Heatmap.Years)
	}
	if other.Heatmap.OutputDir != "" {
		c.Heatmap.OutputDir = other.Heatmap.OutputDir
	}

	// Server
	if other.Server.Name != "" {
		c.Server.Name = other.Server.Name
	}
	if other.Server.Version != "" {
		c.Server.Version = other.Server.Version
	}
}
