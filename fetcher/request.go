package fetcher

import (
	"context"
	"time"
)

// Cursor is the sort key of a hit. Passing the cursor of the last hit of a page
// as SearchAfter asks the engine for the hits that follow it.
type Cursor []string

// Script is the definition of a computed field
type Script struct {
	Source string `json:"source"`
}

// SortTerm orders hits by one field
type SortTerm struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// SearchSource holds the hit-level part of a request
type SearchSource struct {
	Size        int    `json:"size"`
	SearchAfter Cursor `json:"searchAfter,omitempty"`
	// Source lists the document fields to return; nil (null on the wire) returns
	// the whole document
	Source         []string          `json:"source"`
	DocValueFields []string          `json:"docValueFields,omitempty"`
	ScriptFields   map[string]Script `json:"scriptFields,omitempty"`
	Sort           []SortTerm        `json:"sort,omitempty"`
}

// Request is one search against the engine. The fetcher builds a fresh value
// for every page; executors must not retain it.
type Request struct {
	Index              string       `json:"index"`
	SearchSource       SearchSource `json:"searchSource"`
	Aggs               []AggConfig  `json:"aggs,omitempty"`
	TimeRange          *TimeRange   `json:"timeRange,omitempty"`
	Query              string       `json:"query,omitempty"`
	Filters            []Filter     `json:"filters,omitempty"`
	ForceFetch         bool         `json:"forceFetch,omitempty"`
	PartialRows        bool         `json:"partialRows,omitempty"`
	MetricsAtAllLevels bool         `json:"metricsAtAllLevels,omitempty"`
}

// WithPage returns a copy of r asking for size hits after the given cursor
func (r Request) WithPage(size int, after Cursor) Request {
	r.SearchSource.Size = size
	if len(after) > 0 {
		r.SearchSource.SearchAfter = append(Cursor(nil), after...)
	} else {
		r.SearchSource.SearchAfter = nil
	}
	return r
}

// Hit is a single matching document
type Hit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Sort   Cursor         `json:"sort,omitempty"`
	Source map[string]any `json:"_source,omitempty"`
	// Fields carries doc-value and scripted fields
	Fields map[string]any `json:"fields,omitempty"`
}

// Value returns the value of the named field, looking at computed fields first
func (h Hit) Value(name string) (any, bool) {
	switch name {
	case IDField:
		return h.ID, true
	case ScoreField:
		return h.Score, true
	case SourceField:
		if h.Source == nil {
			return nil, false
		}
		return h.Source, true
	}
	if v, ok := h.Fields[name]; ok {
		return v, true
	}
	v, ok := h.Source[name]
	return v, ok
}

// Bucket is one term of a terms aggregation
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AggResult is the outcome of one aggregation
type AggResult struct {
	Type    string   `json:"type"`
	Value   float64  `json:"value"`
	Buckets []Bucket `json:"buckets,omitempty"`
	Other   int      `json:"other,omitempty"`
	Missing int      `json:"missing,omitempty"`
}

// Response is what an executor returns for one request
type Response struct {
	Total        uint64               `json:"total"`
	Hits         []Hit                `json:"hits"`
	Aggregations map[string]AggResult `json:"aggregations,omitempty"`
	Took         time.Duration        `json:"took"`
}

// Executor runs exactly one search request. Implementations must be safe for
// concurrent use by independent fetches.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, req Request) (*Response, error)

// Execute calls f(ctx, req)
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
