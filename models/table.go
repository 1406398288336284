package models

import (
	"time"

	"docgrid/fetcher"
)

// TableRequest is the body of a document table fetch
type TableRequest struct {
	// HitsSize is loosely typed: non-numeric or negative values mean "unset"
	HitsSize     any                   `json:"hitsSize,omitempty"`
	FieldColumns []fetcher.FieldColumn `json:"fieldColumns,omitempty"`
	SortField    *fetcher.Field        `json:"sortField,omitempty"`
	SortOrder    fetcher.SortOrder     `json:"sortOrder,omitempty"`

	Query              string              `json:"q,omitempty"`
	Filters            []fetcher.Filter    `json:"filters,omitempty"`
	TimeRange          *fetcher.TimeRange  `json:"timeRange,omitempty"`
	Aggs               []fetcher.AggConfig `json:"aggs,omitempty"`
	PartialRows        bool                `json:"partialRows,omitempty"`
	MetricsAtAllLevels bool                `json:"metricsAtAllLevels,omitempty"`
	ForceFetch         bool                `json:"forceFetch,omitempty"`
}

// Spec converts the request into a fetch specification for the given index
func (r *TableRequest) Spec(indexID string) fetcher.SearchSpec {
	return fetcher.SearchSpec{
		Index: indexID,
		Options: fetcher.Options{
			HitsSize:     fetcher.ParseHitsSize(r.HitsSize),
			FieldColumns: r.FieldColumns,
			SortField:    r.SortField,
			SortOrder:    r.SortOrder,
		},
		Query:              r.Query,
		Filters:            r.Filters,
		TimeRange:          r.TimeRange,
		Aggs:               r.Aggs,
		PartialRows:        r.PartialRows,
		MetricsAtAllLevels: r.MetricsAtAllLevels,
		ForceFetch:         r.ForceFetch,
	}
}

// TableResponse is the result of a document table fetch
type TableResponse struct {
	Total        uint64                       `json:"total"`
	Pages        int                          `json:"pages"`
	Took         time.Duration                `json:"took"`
	Columns      []string                     `json:"columns"`
	FieldColumns []fetcher.FieldColumn        `json:"fieldColumns,omitempty"`
	Hits         []fetcher.Hit                `json:"hits"`
	Rows         [][]any                      `json:"rows"`
	Aggregations map[string]fetcher.AggResult `json:"aggregations,omitempty"`
}

// NewTableResponse shapes a fetch envelope for the API
func NewTableResponse(env *fetcher.Envelope) TableResponse {
	return TableResponse{
		Total:        env.Total,
		Pages:        env.Pages(),
		Took:         env.Took,
		Columns:      env.Columns(),
		FieldColumns: env.FieldColumns,
		Hits:         env.Hits,
		Rows:         env.Rows(),
		Aggregations: env.Aggregations,
	}
}
