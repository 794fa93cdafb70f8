package chart

import (
	"fmt"
	"image/color"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
)

// VibrantStops 热图色板的锚点颜色，从低到高
var VibrantStops = []string{
	"#3288bd", "#66c2a5", "#abdda4", "#e6f598", "#ffffbf",
	"#fee08b", "#fdae61", "#f46d43", "#d53e4f", "#9e0142",
}

// 稳健色阶：色板截断在有限单元格的这两个分位数
const (
	RobustLow  = 0.02
	RobustHigh = 0.98
)

// HeatmapValueLabel 色条的标签
const HeatmapValueLabel = "Age-standardized DALYs per 100,000"

// colorBarWidth 热图右侧色条所占宽度
const colorBarWidth = 1.6 * vg.Inch

// gradient 固定颜色列表，实现 palette.Palette
type gradient []color.Color

func (g gradient) Colors() []color.Color { return g }

// Gradient 将锚点线性插值为 n 种颜色
func Gradient(stops []string, n int) (palette.Palette, error) {
	if len(stops) < 2 || n < 2 {
		return nil, fmt.Errorf("gradient needs at least two stops and two colors")
	}
	anchors := make([]color.RGBA, len(stops))
	for i, s := range stops {
		c, err := ParseHex(s)
		if err != nil {
			return nil, err
		}
		anchors[i] = c
	}

	out := make(gradient, n)
	segments := float64(len(anchors) - 1)
	for i := range out {
		pos := float64(i) / float64(n-1) * segments
		k := min(int(pos), len(anchors)-2)
		t := pos - float64(k)
		a, b := anchors[k], anchors[k+1]
		lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + t*(float64(y)-float64(x)))) }
		out[i] = color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 0xff}
	}
	return out, nil
}

// RobustLimits 返回有限值的低、高分位数
func RobustLimits(values []float64) (lo, hi float64, err error) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, fmt.Errorf("no finite values to scale")
	}
	slices.Sort(finite)
	lo = stat.Quantile(RobustLow, stat.LinInterp, finite, nil)
	hi = stat.Quantile(RobustHigh, stat.LinInterp, finite, nil)
	if hi <= lo {
		lo, hi = lo-0.5, hi+0.5
	}
	return lo, hi, nil
}

// stopMap 将渐变色实现为 palette.ColorMap，供色条使用，
// 映射方式与热图单元格一致
type stopMap struct {
	colors   []color.Color
	min, max float64
	alpha    float64
}

func (m *stopMap) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < m.min:
		return nil, palette.ErrUnderflow
	case v > m.max:
		return nil, palette.ErrOverflow
	}
	return colorAt(m.colors, v, m.min, m.max), nil
}

func (m *stopMap) Max() float64       { return m.max }
func (m *stopMap) Min() float64       { return m.min }
func (m *stopMap) SetMax(v float64)   { m.max = v }
func (m *stopMap) SetMin(v float64)   { m.min = v }
func (m *stopMap) Alpha() float64     { return m.alpha }
func (m *stopMap) SetAlpha(a float64) { m.alpha = a }

func (m *stopMap) Palette(n int) palette.Palette {
	out := make(gradient, n)
	for i := range out {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		out[i] = colorAt(m.colors, m.min+t*(m.max-m.min), m.min, m.max)
	}
	return out
}

// pivotGrid 将透视表适配为 plotter.GridXYZ，第一行画在最上方
type pivotGrid struct {
	p *gbd.Pivot
}

func (g pivotGrid) Dims() (c, r int)   { return len(g.p.Columns), len(g.p.Rows) }
func (g pivotGrid) Z(c, r int) float64 { return g.p.At(len(g.p.Rows)-1-r, c) }
func (g pivotGrid) X(c int) float64    { return float64(c) }
func (g pivotGrid) Y(r int) float64    { return float64(r) }

// HeatmapTitle 返回某疾病某年份的热图标题
func HeatmapTitle(disease string, year int) string {
	return fmt.Sprintf("%s Risk Factors in %d", disease, year)
}

// HeatmapPlot 将透视表画成带数值标注的热图 (行为风险因素，列为地区)，
// 同时返回与之对应的竖直色条图。
func HeatmapPlot(p *gbd.Pivot, disease string) (heat, legend *plot.Plot, err error) {
	if len(p.Rows) == 0 || len(p.Columns) == 0 {
		return nil, nil, fmt.Errorf("empty pivot for %d", p.Year)
	}
	var all []float64
	for _, row := range p.Values {
		all = append(all, row...)
	}
	lo, hi, err := RobustLimits(all)
	if err != nil {
		return nil, nil, fmt.Errorf("heatmap %d: %w", p.Year, err)
	}
	pal, err := Gradient(VibrantStops, 256)
	if err != nil {
		return nil, nil, err
	}
	colors := pal.Colors()

	grid := pivotGrid{p: p}
	hm := plotter.NewHeatMap(grid, pal)
	hm.Min, hm.Max = lo, hi
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.NaN = color.White

	plt := plot.New()
	plt.Title.Text = HeatmapTitle(disease, p.Year)
	plt.Title.TextStyle.Font.Size = vg.Points(14)
	plt.Add(hm)

	var xys plotter.XYs
	var labels []string
	var styles []text.Style
	base := plt.X.Tick.Label
	base.XAlign = draw.XCenter
	base.YAlign = draw.YCenter
	base.Font.Size = vg.Points(7)
	for r := range p.Rows {
		for c := range p.Columns {
			v := p.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(len(p.Rows) - 1 - r)})
			labels = append(labels, fmt.Sprintf("%.1f", v))
			style := base
			style.Color = contrast(colorAt(colors, v, lo, hi))
			styles = append(styles, style)
		}
	}
	if len(xys) > 0 {
		ann, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build cell labels: %w", err)
		}
		ann.TextStyle = styles
		plt.Add(ann)
	}

	plt.NominalX(p.Columns...)
	rows := slices.Clone(p.Rows)
	slices.Reverse(rows)
	plt.NominalY(rows...)
	// 地区名竖排
	plt.X.Tick.Label.Rotation = math.Pi / 2
	plt.X.Tick.Label.XAlign = draw.XRight
	plt.X.Tick.Label.YAlign = draw.YCenter

	return plt, colorBarPlot(colors, lo, hi), nil
}

// colorBarPlot 画出 [lo, hi] 区间的竖直色条
func colorBarPlot(colors []color.Color, lo, hi float64) *plot.Plot {
	bar := plot.New()
	bar.Add(&plotter.ColorBar{
		ColorMap: &stopMap{colors: colors, min: lo, max: hi, alpha: 1},
		Vertical: true,
		Colors:   len(colors),
	})
	bar.HideX()
	bar.Y.Label.Text = HeatmapValueLabel
	bar.Y.Padding = 0
	return bar
}

// SaveHeatmap 将热图与色条画到 path，图片尺寸随表格大小变化
func SaveHeatmap(path string, p *gbd.Pivot, disease string) error {
	heat, legend, err := HeatmapPlot(p, disease)
	if err != nil {
		return err
	}
	w := vg.Length(math.Max(10, 1.2*float64(len(p.Columns))+4))*vg.Inch + colorBarWidth
	h := vg.Length(math.Max(6, 0.4*float64(len(p.Rows))+3)) * vg.Inch
	return writeCanvas(path, w, h, func(dc draw.Canvas) {
		heat.Draw(draw.Crop(dc, 0, -colorBarWidth, 0, 0))
		// 色条与热图主体区域大致对齐，底部留出竖排地区名的空间
		legend.Draw(draw.Crop(dc, w-colorBarWidth+vg.Inch/4, 0, h/4, -vg.Inch/2))
	})
}

// colorAt 按热图相同的截断方式将 v 映射到颜色
func colorAt(colors []color.Color, v, lo, hi float64) color.Color {
	t := (v - lo) / (hi - lo)
	t = math.Max(0, math.Min(1, t))
	return colors[int(math.Round(t*float64(len(colors)-1)))]
}

// contrast 根据单元格背景选择黑色或白色文字
func contrast(bg color.Color) color.Color {
	r, g, b, _ := bg.RGBA()
	luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
	if luma < 128 {
		return color.White
	}
	return color.Black
}
