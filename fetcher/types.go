package fetcher

import (
	"strconv"
	"strings"
	"time"
)

// HardCap is the maximum number of hits a single request may ask for
const HardCap = 10000

// Reserved field names understood by every executor
const (
	SourceField   = "_source" // the entire document
	IDField       = "_id"
	ScoreField    = "_score"
	TiebreakField = IDField
)

// SortOrder is the direction of a sort term
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Normalize returns SortDesc for any spelling of "desc" and SortAsc otherwise
func (o SortOrder) Normalize() SortOrder {
	if strings.EqualFold(strings.TrimSpace(string(o)), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// Field describes an index field a column is bound to
type Field struct {
	Name              string `json:"name"`
	Type              string `json:"type,omitempty"`
	ReadFromDocValues bool   `json:"readFromDocValues,omitempty"`
	Scripted          bool   `json:"scripted,omitempty"`
	Script            string `json:"script,omitempty"`
}

// FieldColumn is one display column of the document table
type FieldColumn struct {
	Label   string `json:"label"`
	Enabled *bool  `json:"enabled,omitempty"`
	Field   Field  `json:"field"`
}

// IsEnabled reports whether the column is displayed. Columns are enabled unless
// explicitly switched off.
func (c FieldColumn) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Title returns the column header
func (c FieldColumn) Title() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Field.Name
}

// Options mirrors the table configuration a caller hands to the fetcher
type Options struct {
	HitsSize     *int          `json:"hitsSize,omitempty"`
	FieldColumns []FieldColumn `json:"fieldColumns,omitempty"`
	SortField    *Field        `json:"sortField,omitempty"`
	SortOrder    SortOrder     `json:"sortOrder,omitempty"`
}

// Filter restricts hits to documents whose field matches value
type Filter struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Negate bool   `json:"negate,omitempty"`
}

// TimeRange restricts hits to documents whose time field falls in [From, To].
// A zero bound is open.
type TimeRange struct {
	Field string    `json:"field,omitempty"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Aggregation types
const (
	AggCount = "count"
	AggTerms = "terms"
)

// AggConfig declares one aggregation computed alongside the hits
type AggConfig struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Size    int    `json:"size,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the aggregation takes part in the request
func (a AggConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// SearchSpec is the input of a single bulk fetch
type SearchSpec struct {
	Index              string
	Options            Options
	Query              string
	Filters            []Filter
	TimeRange          *TimeRange
	Aggs               []AggConfig
	PartialRows        bool
	MetricsAtAllLevels bool
	ForceFetch         bool
}

// ParseHitsSize converts a loosely typed hits size, as found in decoded JSON or
// query strings, into an optional count. Anything negative or non-numeric is
// treated as unset.
func ParseHitsSize(v any) *int {
	var n int
	switch val := v.(type) {
	case nil:
		return nil
	case int:
		n = val
	case int32:
		n = int(val)
	case int64:
		n = int(val)
	case float64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil
		}
		n = parsed
	case interface{ Int64() (int64, error) }:
		parsed, err := val.Int64()
		if err != nil {
			return nil
		}
		n = int(parsed)
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}
