// Package decomposition 实现 Das Gupta 逐步分解：将疾病负担的变化拆分为
// 人口增长、人口老龄化和流行病学变化三部分。
//
// 三个效应按固定顺序计算：先总人口规模，再年龄结构，最后年龄别率。
// 每一步都是同一基线/终点顺序下的逐项差分，因此
//
//	growth + aging + epidemiology == net change
//
// 在浮点误差内严格成立。不与反向顺序取平均。
package decomposition

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
)

var (
	// ErrMissingYear 地区缺少基线年或终点年的数据
	ErrMissingYear = errors.New("missing year")
	// ErrAgeMismatch 地区两个年份的年龄组不一致
	ErrAgeMismatch = errors.New("age groups differ between years")
)

// Components 每个分解项一个值
type Components struct {
	Growth       float64 `json:"growth"`
	Aging        float64 `json:"aging"`
	Epidemiology float64 `json:"epidemiology"`
	NetChange    float64 `json:"netChange"`
}

// Sum 返回 growth + aging + epidemiology
func (c Components) Sum() float64 {
	return c.Growth + c.Aging + c.Epidemiology
}

// Finite 判断所有项是否都是有限数
func (c Components) Finite() bool {
	for _, v := range [...]float64{c.Growth, c.Aging, c.Epidemiology, c.NetChange} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Result 单个地区的分解结果。Percent 为占基线负担的百分比，Raw 为负担原始单位
type Result struct {
	Region             string
	BaselineYear       int
	EndpointYear       int
	Percent            Components
	Raw                Components
	BaselineBurden     float64
	EndpointBurden     float64
	BaselinePopulation float64
	EndpointPopulation float64
	AgeGroups          int
}

// Series 一个地区两个年份按年龄组对齐后的向量
type Series struct {
	AgeGroups          []string
	BaselineBurden     []float64
	BaselinePopulation []float64
	EndpointBurden     []float64
	EndpointPopulation []float64
}

// Align 由两个年龄映射构造 Series，两年的年龄组集合必须完全一致
func Align(baseline, endpoint map[string]gbd.Cell) (Series, error) {
	ages := make([]string, 0, len(baseline))
	for a := range baseline {
		ages = append(ages, a)
	}
	slices.Sort(ages)

	var missing, extra []string
	for _, a := range ages {
		if _, ok := endpoint[a]; !ok {
			missing = append(missing, a)
		}
	}
	for a := range endpoint {
		if _, ok := baseline[a]; !ok {
			extra = append(extra, a)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		slices.Sort(extra)
		return Series{}, fmt.Errorf("%w: only in baseline [%s], only in endpoint [%s]",
			ErrAgeMismatch, strings.Join(missing, ", "), strings.Join(extra, ", "))
	}

	s := Series{
		AgeGroups:          ages,
		BaselineBurden:     make([]float64, len(ages)),
		BaselinePopulation: make([]float64, len(ages)),
		EndpointBurden:     make([]float64, len(ages)),
		EndpointPopulation: make([]float64, len(ages)),
	}
	for i, a := range ages {
		b, e := baseline[a], endpoint[a]
		s.BaselineBurden[i] = b.Burden
		s.BaselinePopulation[i] = b.Population
		s.EndpointBurden[i] = e.Burden
		s.EndpointPopulation[i] = e.Population
	}
	return s, nil
}

// Shares 返回各年龄组占总人口的比例。总人口为 0 时结果为 NaN
func Shares(population []float64) []float64 {
	total := floats.Sum(population)
	out := make([]float64, len(population))
	for i, p := range population {
		out[i] = p / total
	}
	return out
}

// Rates 返回各年龄组的人均负担。人口为 0 时得到 Inf 或 NaN，并原样传递
func Rates(burden, population []float64) []float64 {
	out := make([]float64, len(burden))
	floats.DivTo(out, burden, population)
	return out
}

// Decompose 对一个对齐后的序列做逐步分解
func Decompose(s Series) (raw Components, baselineBurden float64) {
	totalB := floats.Sum(s.BaselinePopulation)
	totalE := floats.Sum(s.EndpointPopulation)

	shareB := Shares(s.BaselinePopulation)
	shareE := Shares(s.EndpointPopulation)
	rateB := Rates(s.BaselineBurden, s.BaselinePopulation)
	rateE := Rates(s.EndpointBurden, s.EndpointPopulation)

	baseBase := floats.Dot(rateB, shareB) // 基线率，基线结构
	baseEnd := floats.Dot(rateB, shareE)  // 基线率，终点结构
	endEnd := floats.Dot(rateE, shareE)   // 终点率，终点结构

	baselineBurden = floats.Sum(s.BaselineBurden)
	raw = Components{
		Growth:       (totalE - totalB) * baseBase,
		Aging:        totalE * (baseEnd - baseBase),
		Epidemiology: totalE * (endEnd - baseEnd),
		NetChange:    floats.Sum(s.EndpointBurden) - baselineBurden,
	}
	return raw, baselineBurden
}

// Percent 将原始分量换算为占基线负担的百分比
func Percent(raw Components, baselineBurden float64) Components {
	scale := func(v float64) float64 { return v / baselineBurden * 100 }
	return Components{
		Growth:       scale(raw.Growth),
		Aging:        scale(raw.Aging),
		Epidemiology: scale(raw.Epidemiology),
		NetChange:    scale(raw.NetChange),
	}
}

// DecomposeRegion 分解连接数据集中的一个地区。无法分解时返回
// ErrMissingYear 或 ErrAgeMismatch。
func DecomposeRegion(ds gbd.Dataset, region string, baselineYear, endpointYear int) (Result, error) {
	var absent []string
	baseline, ok := ds.Series(region, baselineYear)
	if !ok {
		absent = append(absent, fmt.Sprint(baselineYear))
	}
	endpoint, ok := ds.Series(region, endpointYear)
	if !ok {
		absent = append(absent, fmt.Sprint(endpointYear))
	}
	if len(absent) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingYear, strings.Join(absent, ", "))
	}

	s, err := Align(baseline, endpoint)
	if err != nil {
		return Result{}, err
	}

	raw, baselineBurden := Decompose(s)
	return Result{
		Region:             region,
		BaselineYear:       baselineYear,
		EndpointYear:       endpointYear,
		Percent:            Percent(raw, baselineBurden),
		Raw:                raw,
		BaselineBurden:     baselineBurden,
		EndpointBurden:     floats.Sum(s.EndpointBurden),
		BaselinePopulation: floats.Sum(s.BaselinePopulation),
		EndpointPopulation: floats.Sum(s.EndpointPopulation),
		AgeGroups:          len(s.AgeGroups),
	}, nil
}
