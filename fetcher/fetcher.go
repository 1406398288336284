package fetcher

import (
	"context"
	"errors"
	"time"

	"docgrid/metrics"

	"go.uber.org/zap"
)

// ErrNilExecutor is returned by New when no executor is supplied
var ErrNilExecutor = errors.New("fetcher: executor is required")

// defaultCountAgg is added when a request declares no aggregation
var defaultCountAgg = AggConfig{ID: "1", Type: AggCount}

// Fetcher runs bulk fetches against an executor. A Fetcher holds no per-fetch
// state and may be shared between goroutines.
type Fetcher struct {
	executor Executor
	logger   *zap.Logger
}

// New creates a Fetcher on top of the given executor
func New(executor Executor, logger *zap.Logger) (*Fetcher, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		executor: executor,
		logger:   logger.Named("fetcher"),
	}, nil
}

// Fetch executes spec, following the sort cursor across as many pages as it
// takes to collect the requested number of hits. Pages are requested one after
// the other. On error nothing accumulated so far is returned.
func (f *Fetcher) Fetch(ctx context.Context, spec SearchSpec) (*Envelope, error) {
	start := time.Now()
	env, err := f.fetch(ctx, spec)

	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCancelled
	default:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveFetch(outcome, time.Since(start))

	if err != nil {
		f.logger.Debug("fetch failed",
			zap.String("index", spec.Index),
			zap.Error(err),
		)
		return nil, err
	}
	return env, nil
}

func (f *Fetcher) fetch(ctx context.Context, spec SearchSpec) (*Envelope, error) {
	desired, limited := desiredHits(spec.Options.HitsSize)
	pageSize := min(desired, HardCap)

	req := buildRequest(spec, pageSize, limited && desired > HardCap)

	resp, err := f.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Total:        resp.Total,
		Aggregations: resp.Aggregations,
		Took:         resp.Took,
		Hits:         make([]Hit, 0, len(resp.Hits)),
	}
	env.Hits = append(env.Hits, resp.Hits...)
	env.PageStats = append(env.PageStats, pageStat(req, resp))
	if spec.Options.FieldColumns != nil {
		env.FieldColumns = spec.Options.FieldColumns
	}

	if !limited || desired <= HardCap || resp.Total <= HardCap {
		return env, nil
	}

	remaining := desired
	for {
		remaining -= pageSize

		if uint64(len(env.Hits)) >= env.Total {
			f.logger.Debug("every reported hit fetched",
				zap.String("index", spec.Index),
				zap.Uint64("total", env.Total),
				zap.Int("pages", len(env.PageStats)),
			)
			break
		}

		after, ok := lastCursor(env.Hits)
		if !ok {
			f.stopEarly(spec, env, "last hit carries no sort key")
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageSize = min(remaining, HardCap)
		page := req.WithPage(pageSize, after)

		resp, err := f.execute(ctx, page)
		if err != nil {
			return nil, err
		}

		env.Hits = append(env.Hits, resp.Hits...)
		env.Total = resp.Total
		env.Aggregations = resp.Aggregations
		env.Took += resp.Took
		env.PageStats = append(env.PageStats, pageStat(page, resp))

		if len(resp.Hits) < pageSize {
			f.stopEarly(spec, env, "page returned fewer hits than requested")
			break
		}
		if remaining <= pageSize {
			break
		}
	}

	return env, nil
}

func (f *Fetcher) execute(ctx context.Context, req Request) (*Response, error) {
	resp, err := f.executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	metrics.ObservePage(len(resp.Hits))

	f.logger.Debug("page fetched",
		zap.String("index", req.Index),
		zap.Int("size", req.SearchSource.Size),
		zap.Strings("search_after", req.SearchSource.SearchAfter),
		zap.Int("hits", len(resp.Hits)),
		zap.Uint64("total", resp.Total),
		zap.Duration("took", resp.Took),
	)
	return resp, nil
}

func (f *Fetcher) stopEarly(spec SearchSpec, env *Envelope, reason string) {
	metrics.ObserveEarlyStop()
	f.logger.Warn("pagination stopped early",
		zap.String("index", spec.Index),
		zap.String("reason", reason),
		zap.Int("accumulated", len(env.Hits)),
		zap.Uint64("total", env.Total),
		zap.Int("pages", len(env.PageStats)),
	)
}

// desiredHits returns the requested hit count and whether one was given
func desiredHits(hitsSize *int) (int, bool) {
	if hitsSize == nil || *hitsSize < 0 {
		return 0, false
	}
	return *hitsSize, true
}

// buildRequest assembles the first page request. Follow-up pages only change
// size and cursor via Request.WithPage.
func buildRequest(spec SearchSpec, pageSize int, paginated bool) Request {
	req := Request{
		Index:              spec.Index,
		Query:              spec.Query,
		Filters:            spec.Filters,
		TimeRange:          spec.TimeRange,
		ForceFetch:         spec.ForceFetch,
		PartialRows:        spec.PartialRows,
		MetricsAtAllLevels: spec.MetricsAtAllLevels,
		SearchSource: SearchSource{
			Size: pageSize,
			Sort: buildSort(spec.Options, paginated),
		},
		Aggs: enabledAggs(spec.Aggs),
	}

	if spec.Options.FieldColumns != nil {
		projection := BuildProjection(spec.Options.FieldColumns)
		req.SearchSource.Source = projection.Source
		req.SearchSource.DocValueFields = projection.DocValueFields
		req.SearchSource.ScriptFields = projection.ScriptFields
	}

	return req
}

// buildSort returns the sort of every page. Paginated fetches get a
// document-id tiebreaker so that the cursor of a hit is unique; without a sort
// field they walk the index in document-id order.
func buildSort(opts Options, paginated bool) []SortTerm {
	var sort []SortTerm
	if opts.SortField != nil && opts.SortField.Name != "" {
		sort = append(sort, SortTerm{Field: opts.SortField.Name, Order: opts.SortOrder.Normalize()})
	}
	if paginated {
		sort = append(sort, SortTerm{Field: TiebreakField, Order: SortAsc})
	}
	return sort
}

func enabledAggs(aggs []AggConfig) []AggConfig {
	enabled := make([]AggConfig, 0, len(aggs))
	for _, agg := range aggs {
		if agg.IsEnabled() {
			enabled = append(enabled, agg)
		}
	}
	if len(enabled) == 0 {
		enabled = append(enabled, defaultCountAgg)
	}
	return enabled
}

func lastCursor(hits []Hit) (Cursor, bool) {
	if len(hits) == 0 {
		return nil, false
	}
	last := hits[len(hits)-1].Sort
	if len(last) == 0 {
		return nil, false
	}
	return last, true
}

func pageStat(req Request, resp *Response) PageStat {
	return PageStat{
		Size:        req.SearchSource.Size,
		SearchAfter: req.SearchSource.SearchAfter,
		Hits:        len(resp.Hits),
		Took:        resp.Took,
	}
}
