package decomposition

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/gbd"
)

// Skip 记录被排除的地区及原因
type Skip struct {
	Region string
	Err    error
}

// Report 一次分解运行的有序结果
type Report struct {
	BaselineYear int
	EndpointYear int
	Results      []Result
	Skipped      []Skip
}

// Engine 对连接数据集中的每个请求地区进行分解
type Engine struct {
	baselineYear int
	endpointYear int
	workers      int
	logger       *slog.Logger
}

// Option 配置 Engine
type Option func(*Engine)

// WithWorkers 限制并发计算的地区数
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger 设置各地区诊断信息使用的 logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 返回比较 baselineYear 与 endpointYear 的引擎
func NewEngine(baselineYear, endpointYear int, opts ...Option) *Engine {
	e := &Engine{
		baselineYear: baselineYear,
		endpointYear: endpointYear,
		workers:      1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 依次分解每个地区。缺少年份或年龄组不一致的地区会被跳过并报告，
// 不会导致整体失败。结果保持 regions 的顺序。
func (e *Engine) Run(ctx context.Context, ds gbd.Dataset, regions []string) (*Report, error) {
	results := make([]*Result, len(regions))
	skips := make([]error, len(regions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, region := range regions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := DecomposeRegion(ds, region, e.baselineYear, e.endpointYear)
			if err != nil {
				if errors.Is(err, ErrMissingYear) || errors.Is(err, ErrAgeMismatch) {
					skips[i] = err
					return nil
				}
				return err
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		BaselineYear: e.baselineYear,
		EndpointYear: e.endpointYear,
		Results:      make([]Result, 0, len(regions)),
	}
	for i, region := range regions {
		if skips[i] != nil {
			e.logger.Warn("skipping region", "region", region, "reason", skips[i].Error())
			report.Skipped = append(report.Skipped, Skip{Region: region, Err: skips[i]})
			continue
		}
		res := results[i]
		if !res.Percent.Finite() {
			e.logger.Warn("non-finite decomposition values, check for zero population or burden",
				"region", region,
				"growth", res.Percent.Growth,
				"aging", res.Percent.Aging,
				"epidemiology", res.Percent.Epidemiology,
				"net_change", res.Percent.NetChange)
		}
		report.Results = append(report.Results, *res)
	}

	e.logger.Debug("decomposition finished",
		"computed", len(report.Results),
		"skipped", len(report.Skipped))
	return report, nil
}
