package chart

import (
	"fmt"
	"image/color"
	"log/slog"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/decomposition"
)

// DefaultDecompositionImage 未配置时使用的文件名
const DefaultDecompositionImage = "Figure5_Decomposition.png"

var (
	growthColor       = mustHex("#4575b4")
	agingColor        = mustHex("#fc8d59")
	epidemiologyColor = mustHex("#91bfdb")
)

// DecompositionTitle 返回疾病在两个年份之间的图表标题
func DecompositionTitle(cause string, baselineYear, endpointYear int) string {
	return fmt.Sprintf("Drivers of Change in %s DALYs (%d-%d)", cause, baselineYear, endpointYear)
}

// finiteOrZero 非有限值画成高度为 0 的柱
func finiteOrZero(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// DecompositionPlot 构造堆叠柱状图：每个地区一根柱，依次堆叠增长、老龄化和
// 流行病学变化，净变化以黑点叠加。
func DecompositionPlot(cause string, baselineYear, endpointYear int, results []decomposition.Result, logger *slog.Logger) (*plot.Plot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no regions to plot")
	}

	n := len(results)
	growth := make(plotter.Values, n)
	aging := make(plotter.Values, n)
	epi := make(plotter.Values, n)
	net := make(plotter.XYs, 0, n)
	labels := make([]string, n)

	for i, r := range results {
		labels[i] = r.Region
		var ok [4]bool
		growth[i], ok[0] = finiteOrZero(r.Percent.Growth)
		aging[i], ok[1] = finiteOrZero(r.Percent.Aging)
		epi[i], ok[2] = finiteOrZero(r.Percent.Epidemiology)
		var netY float64
		netY, ok[3] = finiteOrZero(r.Percent.NetChange)
		if ok[3] {
			net = append(net, plotter.XY{X: float64(i), Y: netY})
		}
		if !ok[0] || !ok[1] || !ok[2] || !ok[3] {
			logger.Warn("non-finite decomposition values drawn as zero",
				"region", r.Region,
				"growth", r.Percent.Growth,
				"aging", r.Percent.Aging,
				"epidemiology", r.Percent.Epidemiology,
				"net_change", r.Percent.NetChange)
		}
	}

	p := plot.New()
	p.Title.Text = DecompositionTitle(cause, baselineYear, endpointYear)
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.Text = "Change in DALYs (%)"
	p.Legend.Top = true
	p.Legend.Left = true

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	grid.Horizontal.Color = color.Gray{Y: 200}
	p.Add(grid)

	width := vg.Points(36)
	series := []struct {
		name   string
		values plotter.Values
		color  color.Color
	}{
		{"Population growth", growth, growthColor},
		{"Population aging", aging, agingColor},
		{"Epidemiological change", epi, epidemiologyColor},
	}
	var below *plotter.BarChart
	for _, s := range series {
		bars, err := plotter.NewBarChart(s.values, width)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s bars: %w", s.name, err)
		}
		bars.Color = s.color
		bars.LineStyle.Width = vg.Length(0)
		if below != nil {
			bars.StackOn(below)
		}
		below = bars
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}

	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = color.Black
	zero.Width = vg.Points(1)
	p.Add(zero)

	if len(net) > 0 {
		points, err := plotter.NewScatter(net)
		if err != nil {
			return nil, fmt.Errorf("failed to build net change points: %w", err)
		}
		points.GlyphStyle.Shape = draw.CircleGlyph{}
		points.GlyphStyle.Color = color.Black
		points.GlyphStyle.Radius = vg.Points(4)
		p.Add(points)
		p.Legend.Add("Net change", points)
	}

	p.NominalX(labels...)
	return p, nil
}

// SaveDecomposition 将分解图写到 path
func SaveDecomposition(path, cause string, baselineYear, endpointYear int, results []decomposition.Result, logger *slog.Logger) error {
	p, err := DecompositionPlot(cause, baselineYear, endpointYear, results, logger)
	if err != nil {
		return err
	}
	return save(p, 12*vg.Inch, 7*vg.Inch, path)
}
