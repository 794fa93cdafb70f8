package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestDecomposeCommand(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)
	table := filepath.Join(dir, "decomposition.csv")

	stdout, stderr, err := execute(t, "decompose",
		"--daly", dalyPath,
		"--population", popPath,
		"--regions", "Global,High SDI",
		"--output-image", "",
		"--output-table", table,
		"--format", "csv",
		"--log-format", "json",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Location,Population growth,Population aging,Epidemiological change,Net change\n")
	assert.Contains(t, stdout, "\nGlobal,")
	assert.Contains(t, stdout, "\nHigh SDI,")
	assert.Contains(t, stderr, `"msg":"decomposition complete"`)
	assert.Contains(t, stderr, `"run_id":`)
	assert.FileExists(t, table)
}

func TestDecomposeCommandWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)
	cfgPath := filepath.Join(dir, "gbd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
logging:
  level: warn
decomposition:
  daly: `+dalyPath+`
  population: `+popPath+`
  regions: [High SDI]
  output_image: ""
  format: json
`), 0o644))

	stdout, stderr, err := execute(t, "--config", cfgPath, "decompose")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"location": "High SDI"`)
	assert.NotContains(t, stdout, `"location": "Global"`)
	assert.Empty(t, stderr)
}

func TestDecomposeCommandFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)
	table := filepath.Join(dir, "from-config.csv")
	cfgPath := filepath.Join(dir, "gbd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
decomposition:
  daly: `+dalyPath+`
  population: `+popPath+`
  regions: [Global, High SDI]
  output_image: `+filepath.Join(dir, "from-config.png")+`
  output_table: `+table+`
  format: json
`), 0o644))

	// 只覆盖 format 与 regions，其余沿用配置文件；显式空路径关闭图表输出
	stdout, _, err := execute(t, "--config", cfgPath, "decompose",
		"--format", "csv", "--regions", "High SDI", "--output-image", "")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Location,Population growth")
	assert.Contains(t, stdout, "\nHigh SDI,")
	assert.NotContains(t, stdout, "\nGlobal,")
	assert.FileExists(t, table)
	assert.NoFileExists(t, filepath.Join(dir, "from-config.png"))
}

func TestConfigCommand(t *testing.T) {
	stdout, _, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, stdout, "baseline_year: 1990")
	assert.Contains(t, stdout, "endpoint_year: 2021")

	path := filepath.Join(t.TempDir(), "nested", "gbd.yaml")
	_, _, err = execute(t, "--log-level", "debug", "--log-format", "json", "config", "--write", path)
	require.NoError(t, err)

	saved, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", saved.Logging.Level)
	assert.Equal(t, "json", saved.Logging.Format)
	assert.Equal(t, config.DefaultRegions, saved.Decomposition.Regions)
}

func TestDecomposeCommandErrors(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)

	_, _, err := execute(t, "decompose", "--daly", dalyPath, "--population", popPath, "--regions", "Oceania", "--output-image", "")
	assert.ErrorContains(t, err, "joined dataset is empty")

	_, _, err = execute(t, "decompose", "--daly", dalyPath, "--population", popPath, "--baseline-year", "2030")
	assert.ErrorContains(t, err, "invalid configuration")

	_, _, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "decompose")
	assert.ErrorContains(t, err, "load config")
}

func TestHeatmapCommand(t *testing.T) {
	dir := t.TempDir()
	riskPath := filepath.Join(dir, "risk.csv")
	require.NoError(t, os.WriteFile(riskPath, []byte(
		"rei_name,location_name,year,val\n"+
			"Smoking,Global,1990,3\n"+
			"Smoking,Global,2021,2\n"+
			"High body-mass index,Global,2021,6\n"), 0o644))

	stdout, _, err := execute(t, "heatmap",
		"--risk", riskPath,
		"--disease", "Chronic kidney disease",
		"--years", "1990,2021",
		"--output-dir", dir,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Chronic kidney disease Risk Factors in 1990")
	assert.Contains(t, stdout, "Chronic kidney disease Risk Factors in 2021")
	assert.FileExists(t, filepath.Join(dir, "Heatmap_Data_Chronic kidney disease_2021.csv"))
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gbd-analyzer version 0.1.0\n", stdout)
}
