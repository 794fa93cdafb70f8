package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/config"
)

const testCause = "Alzheimer's disease and other dementias"

// writeFixtures 写出覆盖 Global 和 High SDI、1990 与 2021 年的小型负担/人口数据
func writeFixtures(t *testing.T, dir string) (dalyPath, popPath string) {
	t.Helper()
	var daly, pop strings.Builder
	daly.WriteString("location_name,sex_name,age_name,cause_name,metric_name,year,val\n")
	pop.WriteString("location_name,sex_name,age_name,metric_name,year,val\n")
	for _, region := range []string{"Global", "High SDI"} {
		for _, year := range []int{1990, 2021} {
			for i, age := range []string{"70-74 years", "75-79 years"} {
				f := float64(year-1980) * float64(i+1)
				fmt.Fprintf(&daly, "%s,Both,%s,%s,Number,%d,%g\n", region, age, testCause, year, 1000*f)
				fmt.Fprintf(&pop, "%s,Both,%s,Number,%d,%g\n", region, age, year, 1e6*float64(year-1900)/float64(i+1))
			}
		}
	}
	dalyPath = filepath.Join(dir, "input_daly.csv")
	popPath = filepath.Join(dir, "input_pop.csv")
	require.NoError(t, os.WriteFile(dalyPath, []byte(daly.String()), 0o644))
	require.NoError(t, os.WriteFile(popPath, []byte(pop.String()), 0o644))
	return dalyPath, popPath
}

func newTestApp() (*app, *bytes.Buffer, *bytes.Buffer) {
	var stdout, logs bytes.Buffer
	return &app{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		runID:  "test-run",
		stdout: &stdout,
		stderr: &logs,
	}, &stdout, &logs
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestGetDatasetAsFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := context.Background()

	t.Run("local path", func(t *testing.T) {
		path, cleanup, err := getDatasetAsFile(ctx, "input_daly.csv", logger)
		require.NoError(t, err)
		defer cleanup()
		assert.True(t, filepath.IsAbs(path))
		assert.Equal(t, "input_daly.csv", filepath.Base(path))
	})

	t.Run("file uri", func(t *testing.T) {
		path, cleanup, err := getDatasetAsFile(ctx, "file:///data/input_pop.csv", logger)
		require.NoError(t, err)
		defer cleanup()
		assert.Equal(t, "/data/input_pop.csv", path)
	})

	t.Run("http download", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/exports/input_daly.csv" {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, "location_name,year\nGlobal,1990\n")
		}))
		defer srv.Close()

		path, cleanup, err := getDatasetAsFile(ctx, srv.URL+"/exports/input_daly.csv", logger)
		require.NoError(t, err)
		assert.Equal(t, ".csv", filepath.Ext(path))
		assert.Equal(t, 1, tempFiles.count())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "location_name,year\nGlobal,1990\n", string(data))

		cleanup()
		assert.NoFileExists(t, path)
		assert.Equal(t, 0, tempFiles.count())

		_, _, err = getDatasetAsFile(ctx, srv.URL+"/missing.csv", logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status code 404")
		assert.Equal(t, 0, tempFiles.count())
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, _, err := getDatasetAsFile(ctx, "ftp://example.com/input.csv", logger)
		assert.ErrorContains(t, err, "unsupported URI scheme 'ftp'")
	})
}

func TestTempRegistryRemoveAll(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, fmt.Sprintf("gbd-%d.csv", i))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		tempFiles.track(p)
		paths = append(paths, p)
	}
	tempFiles.track(filepath.Join(dir, "already-gone.csv"))

	assert.Equal(t, 4, tempFiles.removeAll(logger))
	assert.Equal(t, 0, tempFiles.count())
	for _, p := range paths {
		assert.NoFileExists(t, p)
	}
}

func TestHandleDecomposeBurden(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)
	a, _, logs := newTestApp()
	imagePath := filepath.Join(dir, "Figure5_Decomposition.png")

	result, err := a.handleDecomposeBurden(context.Background(), callRequest("decompose_burden", map[string]interface{}{
		"daly_uri":          dalyPath,
		"population_uri":    "file://" + popPath,
		"cause":             testCause,
		"baseline_year":     1990.0,
		"endpoint_year":     2021.0,
		"regions":           "High SDI, Global, Low SDI",
		"output_format":     "markdown",
		"output_image_path": imagePath,
	}))
	require.NoError(t, err)
	require.Len(t, result.Content, 3)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "| Location | Population growth |")
	assert.Less(t, strings.Index(text.Text, "| High SDI |"), strings.Index(text.Text, "| Global |"))
	assert.Contains(t, text.Text, "- Low SDI: missing year: 1990, 2021")

	img, ok := result.Content[2].(mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.NotEmpty(t, img.Data)
	assert.FileExists(t, imagePath)

	assert.Contains(t, logs.String(), "tool=decompose_burden")
	assert.Contains(t, logs.String(), "call_id=")

	// pipeline 通过 ctx 拿到带调用 ID 的 logger
	var completed string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, `msg="decomposition complete"`) {
			completed = line
		}
	}
	require.NotEmpty(t, completed)
	assert.Contains(t, completed, "tool=decompose_burden")
	assert.Contains(t, completed, "call_id=")
}

func TestHandleDecomposeBurdenErrors(t *testing.T) {
	dir := t.TempDir()
	dalyPath, popPath := writeFixtures(t, dir)
	a, _, _ := newTestApp()

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing daly",
			args:    map[string]interface{}{"population_uri": popPath, "cause": testCause},
			wantErr: "daly_uri",
		},
		{
			name:    "years reversed",
			args:    map[string]interface{}{"daly_uri": dalyPath, "population_uri": popPath, "cause": testCause, "baseline_year": 2021.0, "endpoint_year": 1990.0},
			wantErr: "must be before",
		},
		{
			name:    "unknown cause",
			args:    map[string]interface{}{"daly_uri": dalyPath, "population_uri": popPath, "cause": "Stroke"},
			wantErr: "cause not found",
		},
		{
			name:    "bad format",
			args:    map[string]interface{}{"daly_uri": dalyPath, "population_uri": popPath, "cause": testCause, "output_format": "yaml"},
			wantErr: "decomposition.format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.handleDecomposeBurden(context.Background(), callRequest("decompose_burden", tt.args))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandleRiskHeatmap(t *testing.T) {
	dir := t.TempDir()
	riskPath := filepath.Join(dir, "risk_ckd.csv")
	require.NoError(t, os.WriteFile(riskPath, []byte(
		"rei_name,location_name,year,val\n"+
			"High fasting plasma glucose,Global,2021,30.5\n"+
			"High fasting plasma glucose,Low SDI,2021,12\n"+
			"High systolic blood pressure,Global,2021,40\n"), 0o644))
	a, _, _ := newTestApp()

	result, err := a.handleRiskHeatmap(context.Background(), callRequest("risk_heatmap", map[string]interface{}{
		"risk_uri":   riskPath,
		"disease":    "Chronic kidney disease",
		"year":       2021.0,
		"output_dir": dir,
	}))
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text := result.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "Chronic kidney disease Risk Factors in 2021")
	assert.Contains(t, text, "Heatmap_Data_Chronic kidney disease_2021.csv")
	assert.FileExists(t, filepath.Join(dir, "Heatmap_Chronic kidney disease_2021_HorizontalY.png"))

	_, err = a.handleRiskHeatmap(context.Background(), callRequest("risk_heatmap", map[string]interface{}{
		"risk_uri": riskPath,
		"disease":  "Chronic kidney disease",
		"year":     1990.0,
	}))
	assert.ErrorContains(t, err, "no data for year")

	_, err = a.handleRiskHeatmap(context.Background(), callRequest("risk_heatmap", map[string]interface{}{
		"risk_uri": riskPath,
		"disease":  "Chronic kidney disease",
	}))
	assert.ErrorContains(t, err, "year (number)")
}

func TestSplitRegions(t *testing.T) {
	assert.Equal(t, []string{"Global", "High SDI"}, splitRegions(" Global,, High SDI ,"))
	assert.Nil(t, splitRegions(""))
}

func TestNewMCPServer(t *testing.T) {
	a, _, _ := newTestApp()
	assert.NotNil(t, newMCPServer(a))
}
