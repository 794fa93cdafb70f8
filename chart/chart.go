// Package chart 使用 gonum/plot 绘制分析图表。
// 输出格式由文件扩展名决定 (png, svg, pdf, jpg, eps, tif)。
package chart

import (
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// ParseHex 将 "#rrggbb" 解析为不透明颜色
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func mustHex(s string) color.RGBA {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// withAlpha 返回指定不透明度的颜色，按 image/color 的要求预乘
func withAlpha(c color.RGBA, a float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: uint8(255 * a),
	}
}

// format 根据扩展名返回画布格式
func format(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "png", "svg", "pdf", "jpg", "jpeg", "eps", "tif", "tiff":
		return ext, nil
	case "":
		return "", fmt.Errorf("output path %q has no image extension", path)
	default:
		return "", fmt.Errorf("unsupported image format %q", ext)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return nil
}

// save 将单个图写到 path
func save(p *plot.Plot, w, h vg.Length, path string) error {
	if _, err := format(path); err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("failed to save chart %s: %w", path, err)
	}
	return nil
}

// saveGrid 将多个图按 行 x 列 排在同一画布上并写到 path
func saveGrid(plots [][]*plot.Plot, w, h vg.Length, path string) error {
	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      len(plots[0]),
		PadX:      vg.Millimeter * 8,
		PadY:      vg.Millimeter * 8,
		PadTop:    vg.Millimeter * 4,
		PadBottom: vg.Millimeter * 4,
		PadLeft:   vg.Millimeter * 4,
		PadRight:  vg.Millimeter * 4,
	}
	return writeCanvas(path, w, h, func(dc draw.Canvas) {
		canvases := plot.Align(plots, tiles, dc)
		for i := range plots {
			for j, p := range plots[i] {
				if p != nil {
					p.Draw(canvases[i][j])
				}
			}
		}
	})
}

// writeCanvas 创建与扩展名对应的画布，由 drawFn 绘制后写到 path
func writeCanvas(path string, w, h vg.Length, drawFn func(draw.Canvas)) (err error) {
	ext, err := format(path)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	c, err := draw.NewFormattedCanvas(w, h, ext)
	if err != nil {
		return fmt.Errorf("failed to create %s canvas: %w", ext, err)
	}
	drawFn(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer logging.HandleDeferredError(&err, f.Close, slog.Default(), "close chart "+path)
	if _, err := c.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write chart %s: %w", path, err)
	}
	return nil
}
