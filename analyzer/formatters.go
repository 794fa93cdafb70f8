package analyzer

import (
	"fmt"
	"math"
	"strconv"
)

// FormatPercent 将百分比格式化为两位小数；非有限值原样输出 (NaN, +Inf, -Inf)。
func FormatPercent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatCount 将人数或 DALY 数转换为人类可读的字符串 (K, M, B, T)。
func FormatCount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	const unit = 1000
	abs := math.Abs(v)
	if abs < unit {
		return fmt.Sprintf("%.0f", v)
	}
	div, exp := float64(unit), 0
	for n := abs / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%c", v/div, "KMBT"[exp])
}

// formatCSVNumber 以最短精度输出数值，供 CSV 导出使用
func formatCSVNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
