// Package engine executes fetcher requests against local bleve indexes.
package engine

import (
	"context"
	"errors"
	"fmt"

	"docgrid/fetcher"
	"docgrid/models"
	"docgrid/scripts"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")
	ErrNoTimeField            = errors.New("time range without time field")
	ErrScriptField            = errors.New("script field failed")
)

// IndexResolver looks up an index and its configuration by ID
type IndexResolver interface {
	GetIndex(id string) (bleve.Index, *models.IndexConfig, error)
}

// Executor runs one fetcher.Request per call against a bleve index. It keeps
// no state between calls.
type Executor struct {
	indexes          IndexResolver
	scripts          *scripts.Engine
	defaultTimeField string
	logger           *zap.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithDefaultTimeField sets the time field used when neither the request nor
// the index configuration names one
func WithDefaultTimeField(field string) Option {
	return func(e *Executor) {
		e.defaultTimeField = field
	}
}

// WithLogger sets the executor logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger.Named("engine")
	}
}

// New creates an Executor. A nil script engine rejects requests with script fields.
func New(indexes IndexResolver, scriptEngine *scripts.Engine, opts ...Option) *Executor {
	e := &Executor{
		indexes: indexes,
		scripts: scriptEngine,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements fetcher.Executor
func (e *Executor) Execute(ctx context.Context, req fetcher.Request) (*fetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	index, config, err := e.indexes.GetIndex(req.Index)
	if err != nil {
		return nil, err
	}

	searchRequest, err := e.buildSearchRequest(req, config)
	if err != nil {
		return nil, err
	}

	result, err := index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits, err := e.convertHits(req.SearchSource, result.Hits)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search executed",
		zap.String("index", req.Index),
		zap.Int("size", req.SearchSource.Size),
		zap.Int("hits", len(hits)),
		zap.Uint64("total", result.Total),
		zap.Duration("took", result.Took),
	)

	return &fetcher.Response{
		Total:        result.Total,
		Hits:         hits,
		Aggregations: convertAggregations(req.Aggs, result),
		Took:         result.Took,
	}, nil
}

func (e *Executor) buildSearchRequest(req fetcher.Request, config *models.IndexConfig) (*bleve.SearchRequest, error) {
	q, err := e.buildQuery(req, config)
	if err != nil {
		return nil, err
	}

	src := req.SearchSource
	searchRequest := bleve.NewSearchRequestOptions(q, src.Size, 0, false)
	searchRequest.Fields = storedFields(src)

	if len(src.Sort) > 0 {
		searchRequest.SortBy(sortOrder(src.Sort))
	}
	if len(src.SearchAfter) > 0 {
		searchRequest.SetSearchAfter(src.SearchAfter)
	}

	if len(src.ScriptFields) > 0 {
		if e.scripts == nil {
			return nil, fmt.Errorf("%w: scripting disabled", ErrScriptField)
		}
		for name, script := range src.ScriptFields {
			if err := e.scripts.Compile(script.Source); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrScriptField, name, err)
			}
		}
	}

	for _, agg := range req.Aggs {
		switch agg.Type {
		case fetcher.AggCount:
		case fetcher.AggTerms:
			size := agg.Size
			if size <= 0 {
				size = 10
			}
			searchRequest.AddFacet(agg.ID, bleve.NewFacetRequest(agg.Field, size))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAggregation, agg.Type)
		}
	}

	return searchRequest, nil
}

// storedFields lists the fields bleve has to load. Scripts see the whole
// document, so any script field loads everything.
func storedFields(src fetcher.SearchSource) []string {
	if src.Source == nil || len(src.ScriptFields) > 0 {
		return []string{"*"}
	}
	fields := make([]string, 0, len(src.Source)+len(src.DocValueFields))
	fields = append(fields, src.Source...)
	fields = append(fields, src.DocValueFields...)
	return fields
}

func sortOrder(terms []fetcher.SortTerm) []string {
	order := make([]string, len(terms))
	for i, term := range terms {
		if term.Order.Normalize() == fetcher.SortDesc {
			order[i] = "-" + term.Field
		} else {
			order[i] = term.Field
		}
	}
	return order
}

func (e *Executor) convertHits(src fetcher.SearchSource, matches search.DocumentMatchCollection) ([]fetcher.Hit, error) {
	hits := make([]fetcher.Hit, 0, len(matches))
	for _, match := range matches {
		hit := fetcher.Hit{
			ID:     match.ID,
			Score:  match.Score,
			Sort:   fetcher.Cursor(match.Sort),
			Source: sourceOf(src, match.Fields),
		}

		if len(src.DocValueFields) > 0 || len(src.ScriptFields) > 0 {
			hit.Fields = make(map[string]any, len(src.DocValueFields)+len(src.ScriptFields))
		}
		for _, name := range src.DocValueFields {
			if v, ok := match.Fields[name]; ok {
				hit.Fields[name] = v
			}
		}
		for name, script := range src.ScriptFields {
			v, err := e.scripts.Eval(script.Source, match.Fields, match.ID, match.Score)
			if err != nil {
				return nil, fmt.Errorf("%w: %s on %s: %w", ErrScriptField, name, match.ID, err)
			}
			hit.Fields[name] = v
		}

		hits = append(hits, hit)
	}
	return hits, nil
}

// sourceOf returns the projected document. A nil projection keeps every field.
func sourceOf(src fetcher.SearchSource, fields map[string]any) map[string]any {
	source := make(map[string]any, len(fields))
	if src.Source == nil {
		for name, v := range fields {
			source[name] = v
		}
		return source
	}
	for _, name := range src.Source {
		if v, ok := fields[name]; ok {
			source[name] = v
		}
	}
	return source
}

func convertAggregations(aggs []fetcher.AggConfig, result *bleve.SearchResult) map[string]fetcher.AggResult {
	if len(aggs) == 0 {
		return nil
	}

	out := make(map[string]fetcher.AggResult, len(aggs))
	for _, agg := range aggs {
		switch agg.Type {
		case fetcher.AggCount:
			out[agg.ID] = fetcher.AggResult{Type: agg.Type, Value: float64(result.Total)}
		case fetcher.AggTerms:
			facet, ok := result.Facets[agg.ID]
			if !ok {
				continue
			}
			res := fetcher.AggResult{
				Type:    agg.Type,
				Value:   float64(facet.Total),
				Other:   facet.Other,
				Missing: facet.Missing,
			}
			if facet.Terms != nil {
				for _, term := range facet.Terms.Terms() {
					res.Buckets = append(res.Buckets, fetcher.Bucket{Key: term.Term, Count: term.Count})
				}
			}
			out[agg.ID] = res
		}
	}
	return out
}
