package chart

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/apc"
)

// DefaultAPCImage 未配置时使用的文件名
const DefaultAPCImage = "Figure6_APC_Global_Excel.png"

var referenceColor = color.Gray{Y: 128}

// APCPanelPlot 画一条 APC 曲线：半透明置信带上的折线和数据点，
// 面板有参考值时再画一条虚线参考线。
func APCPanelPlot(panel apc.Panel) (*plot.Plot, error) {
	c, err := ParseHex(panel.Color)
	if err != nil {
		return nil, fmt.Errorf("panel %s: %w", panel.Key, err)
	}

	p := plot.New()
	p.Title.Text = panel.Title
	p.Title.TextStyle.Font.Size = vg.Points(12)
	p.X.Label.Text = panel.XLabel
	p.Y.Label.Text = panel.YLabel

	grid := plotter.NewGrid()
	grid.Vertical.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	grid.Horizontal.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	grid.Vertical.Color = color.Gray{Y: 220}
	grid.Horizontal.Color = color.Gray{Y: 220}
	p.Add(grid)

	if len(panel.Points) > 0 {
		band := make(plotter.XYs, 0, 2*len(panel.Points))
		for _, pt := range panel.Points {
			band = append(band, plotter.XY{X: pt.X, Y: pt.Lo})
		}
		for i := len(panel.Points) - 1; i >= 0; i-- {
			pt := panel.Points[i]
			band = append(band, plotter.XY{X: pt.X, Y: pt.Hi})
		}
		poly, err := plotter.NewPolygon(band)
		if err != nil {
			return nil, fmt.Errorf("panel %s confidence band: %w", panel.Key, err)
		}
		poly.Color = withAlpha(c, 0.2)
		poly.LineStyle.Width = 0
		p.Add(poly)

		xys := make(plotter.XYs, len(panel.Points))
		for i, pt := range panel.Points {
			xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return nil, fmt.Errorf("panel %s curve: %w", panel.Key, err)
		}
		line.Color = c
		line.Width = vg.Points(2)
		points.GlyphStyle.Shape = draw.CircleGlyph{}
		points.GlyphStyle.Color = c
		points.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(line, points)
	}

	if panel.HasReference {
		ref := panel.Reference
		f := plotter.NewFunction(func(float64) float64 { return ref })
		f.Color = referenceColor
		f.Width = vg.Points(1.5)
		f.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		p.Add(f)
	}
	return p, nil
}

// SaveAPC 按图中顺序将面板排成 2x2 网格写到 path
func SaveAPC(path string, panels []apc.Panel) error {
	if len(panels) == 0 {
		return fmt.Errorf("no APC panels to plot")
	}
	const cols = 2
	rows := (len(panels) + cols - 1) / cols
	grid := make([][]*plot.Plot, rows)
	for i := range grid {
		grid[i] = make([]*plot.Plot, cols)
	}
	for i, panel := range panels {
		p, err := APCPanelPlot(panel)
		if err != nil {
			return err
		}
		grid[i/cols][i%cols] = p
	}
	return saveGrid(grid, 16*vg.Inch, 12*vg.Inch, path)
}
