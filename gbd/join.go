package gbd

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Cell 一个年龄组连接后的负担与人口
type Cell struct {
	Burden     float64
	Population float64
}

// SeriesKey 标识某地区某年份
type SeriesKey struct {
	Region string
	Year   int
}

// Dataset 连接后的负担/人口表：(地区, 年份) -> 年龄组 -> 单元格
type Dataset map[SeriesKey]map[string]Cell

// Len 返回连接后 (地区, 年份, 年龄组) 行数
func (d Dataset) Len() int {
	n := 0
	for _, ages := range d {
		n += len(ages)
	}
	return n
}

// Series 返回某地区某年份的各年龄组数据
func (d Dataset) Series(region string, year int) (map[string]Cell, bool) {
	ages, ok := d[SeriesKey{Region: region, Year: year}]
	return ages, ok
}

// JoinOptions 选择参与连接的记录
type JoinOptions struct {
	Cause   string
	Regions []string
	Logger  *slog.Logger
}

type joinKey struct {
	region string
	year   int
	age    string
}

// Join 过滤负担与人口数据，并按 (地区, 年份, 年龄组) 内连接。
// 结果为空返回 ErrEmptyJoin；没有任何负担行带有目标疾病时返回 ErrCauseNotFound。
// 负担和人口应为非负数，负值保留但会记录 WARN。
func Join(burden, population []Record, opts JoinOptions) (Dataset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	regions := make(map[string]struct{}, len(opts.Regions))
	for _, r := range opts.Regions {
		regions[r] = struct{}{}
	}
	inRegions := func(r string) bool {
		_, ok := regions[r]
		return ok
	}

	causes := make(map[string]struct{})
	burdenByKey := make(map[joinKey]float64)
	for _, rec := range burden {
		causes[rec.Cause] = struct{}{}
		if rec.Cause != opts.Cause || rec.Sex != SexBoth || rec.Metric != MetricNumber || !inRegions(rec.Region) {
			continue
		}
		k := joinKey{rec.Region, rec.Year, rec.AgeGroup}
		if _, dup := burdenByKey[k]; dup {
			logger.Debug("duplicate burden row, keeping last", "region", k.region, "year", k.year, "age", k.age)
		}
		burdenByKey[k] = rec.Value
	}
	if _, ok := causes[opts.Cause]; !ok {
		available := make([]string, 0, len(causes))
		for c := range causes {
			available = append(available, c)
		}
		slices.Sort(available)
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrCauseNotFound, opts.Cause, strings.Join(available, "; "))
	}

	popByKey := make(map[joinKey]float64)
	for _, rec := range population {
		if rec.Sex != SexBoth || rec.Metric != MetricNumber || !inRegions(rec.Region) {
			continue
		}
		k := joinKey{rec.Region, rec.Year, rec.AgeGroup}
		if _, dup := popByKey[k]; dup {
			logger.Debug("duplicate population row, keeping last", "region", k.region, "year", k.year, "age", k.age)
		}
		popByKey[k] = rec.Value
	}

	ds := make(Dataset)
	for k, b := range burdenByKey {
		p, ok := popByKey[k]
		if !ok {
			continue
		}
		sk := SeriesKey{Region: k.region, Year: k.year}
		ages, ok := ds[sk]
		if !ok {
			ages = make(map[string]Cell)
			ds[sk] = ages
		}
		if b < 0 || p < 0 {
			logger.Warn("negative value in joined row, structure shares will be distorted",
				"region", k.region, "year", k.year, "age", k.age, "burden", b, "population", p)
		}
		ages[k.age] = Cell{Burden: b, Population: p}
	}

	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: %d burden and %d population rows passed the filters but share no region/year/age group; check that region names, years and age labels match between the two files",
			ErrEmptyJoin, len(burdenByKey), len(popByKey))
	}
	logger.Debug("joined datasets", "rows", ds.Len(), "series", len(ds))
	return ds, nil
}
