package analyzer_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/analyzer"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/apc"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/decomposition"
	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
)

func testReport() *decomposition.Report {
	return &decomposition.Report{
		BaselineYear: 1990,
		EndpointYear: 2021,
		Results: []decomposition.Result{
			{
				Region:         "Global",
				Percent:        decomposition.Components{Growth: 60.5, Aging: 70.25, Epidemiology: -10.75, NetChange: 120},
				BaselineBurden: 1.25e7,
				EndpointBurden: 2.75e7,
			},
			{
				Region:  "Low SDI",
				Percent: decomposition.Components{Growth: math.NaN(), Aging: math.Inf(1), Epidemiology: 1, NetChange: 5},
			},
		},
		Skipped: []decomposition.Skip{
			{Region: "High SDI", Err: errors.New("missing year: 2021")},
		},
	}
}

func TestAnalyzeDecomposition(t *testing.T) {
	result := analyzer.NewDecompositionResult(testReport(), "Alzheimer's disease and other dementias", "run-1")

	t.Run("TextFormat", func(t *testing.T) {
		out, err := analyzer.AnalyzeDecomposition(result, "text")
		require.NoError(t, err)
		for _, expected := range []string{
			"Decomposition of Alzheimer's disease and other dementias DALYs, 1990-2021",
			"Population growth",
			"Epidemiological change",
			"60.50",
			"-10.75",
			"NaN",
			"+Inf",
			"12.50M",
			"Skipped regions:",
			"High SDI: missing year: 2021",
		} {
			assert.Contains(t, out, expected)
		}
		assert.Less(t, strings.Index(out, "Global"), strings.Index(out, "Low SDI"))
	})

	t.Run("MarkdownFormat", func(t *testing.T) {
		out, err := analyzer.AnalyzeDecomposition(result, "markdown")
		require.NoError(t, err)
		assert.Contains(t, out, "| Location | Population growth | Population aging | Epidemiological change | Net change |")
		assert.Contains(t, out, "| Global | 60.50 | 70.25 | -10.75 | 120.00 |")
		assert.Contains(t, out, "- High SDI: missing year: 2021")
	})

	t.Run("JSONFormat", func(t *testing.T) {
		out, err := analyzer.AnalyzeDecomposition(result, "json")
		require.NoError(t, err)

		var decoded analyzer.DecompositionAnalysisResult
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "run-1", decoded.RunID)
		assert.Equal(t, 1990, decoded.BaselineYear)
		require.Len(t, decoded.Regions, 2)
		assert.Equal(t, analyzer.Value(60.5), decoded.Regions[0].PopulationGrowth)
		assert.True(t, math.IsNaN(float64(decoded.Regions[1].PopulationGrowth)))
		assert.True(t, math.IsInf(float64(decoded.Regions[1].PopulationAging), 1))
		assert.Contains(t, out, `"populationGrowth": "NaN"`)
		require.Len(t, decoded.Skipped, 1)
		assert.Equal(t, "High SDI", decoded.Skipped[0].Location)
	})

	t.Run("CSVFormat", func(t *testing.T) {
		out, err := analyzer.AnalyzeDecomposition(result, "csv")
		require.NoError(t, err)
		assert.Equal(t,
			"Location,Population growth,Population aging,Epidemiological change,Net change\n"+
				"Global,60.5,70.25,-10.75,120\n"+
				"Low SDI,NaN,+Inf,1,5\n",
			out)
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		_, err := analyzer.AnalyzeDecomposition(result, "yaml")
		assert.Error(t, err)
	})
}

func TestDecompositionWorkbook(t *testing.T) {
	result := analyzer.NewDecompositionResult(testReport(), "Stroke", "")

	var buf bytes.Buffer
	require.NoError(t, analyzer.WriteDecompositionWorkbook(&buf, result))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{analyzer.DecompositionSheet, analyzer.SkippedSheet}, f.GetSheetList())
	rows, err := f.GetRows(analyzer.DecompositionSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, analyzer.DecompositionColumns, rows[0])
	assert.Equal(t, "Global", rows[1][0])
	assert.Equal(t, "NaN", rows[2][1])

	skipped, err := f.GetRows(analyzer.SkippedSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"High SDI", "missing year: 2021"}, skipped[1])
}

func TestSaveDecompositionTable(t *testing.T) {
	result := analyzer.NewDecompositionResult(testReport(), "Stroke", "")
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "table.csv")
	require.NoError(t, analyzer.SaveDecompositionTable(csvPath, result))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Location,Population growth"))

	xlsxPath := filepath.Join(dir, "table.xlsx")
	require.NoError(t, analyzer.SaveDecompositionTable(xlsxPath, result))
	_, err = os.Stat(xlsxPath)
	assert.NoError(t, err)

	assert.Error(t, analyzer.SaveDecompositionTable(filepath.Join(dir, "table.txt"), result))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "12.35", analyzer.FormatPercent(12.346))
	assert.Equal(t, "NaN", analyzer.FormatPercent(math.NaN()))
	assert.Equal(t, "-Inf", analyzer.FormatPercent(math.Inf(-1)))

	assert.Equal(t, "999", analyzer.FormatCount(999))
	assert.Equal(t, "1.50K", analyzer.FormatCount(1500))
	assert.Equal(t, "2.50M", analyzer.FormatCount(2.5e6))
	assert.Equal(t, "-3.00B", analyzer.FormatCount(-3e9))
}

func TestAnalyzeAPC(t *testing.T) {
	panels := []apc.Panel{
		{Spec: apc.Specs[0], Points: []apc.Point{{X: 42.5, Y: -0.5}, {X: 47.5, Y: 1.5}, {X: 52.5, Y: 0.5}}},
		{Spec: apc.Specs[1]},
	}
	result := analyzer.SummarizeAPC(panels, "run-2")
	require.Len(t, result.Panels, 2)

	drift := result.Panels[0]
	assert.Equal(t, 3, drift.Points)
	assert.Equal(t, analyzer.Value(-0.5), drift.MinY)
	assert.Equal(t, analyzer.Value(1.5), drift.MaxY)
	assert.Equal(t, analyzer.Value(47.5), drift.PeakX)
	require.NotNil(t, drift.Reference)
	assert.Equal(t, 2, drift.AboveReference)

	age := result.Panels[1]
	assert.Nil(t, age.Reference)
	assert.True(t, math.IsNaN(float64(age.MaxY)))

	out, err := analyzer.AnalyzeAPC(result, "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Local Drift (Annual % Change)")
	assert.Contains(t, out, "LocalDrifts: 2 of 3 points above 0.00")

	out, err = analyzer.AnalyzeAPC(result, "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"runId": "run-2"`)
}

func TestAnalyzeRiskHeatmap(t *testing.T) {
	pivot := &gbd.Pivot{
		Year:    2021,
		Rows:    []string{"High fasting plasma glucose", "High systolic blood pressure", "Diet high in sodium"},
		Columns: []string{"Global", "High SDI"},
		Values:  [][]float64{{30.5, 28}, {20.25, 25}, {5, 4}},
	}
	result := analyzer.SummarizeRiskPivot(pivot, "Chronic kidney disease", 2, "")
	assert.Equal(t, 3, result.RiskFactors)
	assert.Equal(t, 2, result.TopN)
	require.Len(t, result.Top, 2)
	assert.Equal(t, "High fasting plasma glucose", result.Top[0].Risk)
	assert.Equal(t, analyzer.Value(20.25), result.Top[1].Global)

	out, err := analyzer.AnalyzeRiskHeatmap(result, "markdown")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "```text\n"))
	assert.Contains(t, out, "Chronic kidney disease Risk Factors in 2021")
	assert.Contains(t, out, "3 risk factors x 2 locations")

	_, err = analyzer.AnalyzeRiskHeatmap(result, "csv")
	assert.Error(t, err)
}
