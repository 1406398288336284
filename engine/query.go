package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"docgrid/fetcher"
	"docgrid/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// ErrScoreCursor is returned when a request pages past a relevance sort. bleve
// cursors carry no score, so the page after would be wrong.
var ErrScoreCursor = errors.New("search after is not supported when sorting by score")

func (e *Executor) buildQuery(req fetcher.Request, config *models.IndexConfig) (query.Query, error) {
	if len(req.SearchSource.SearchAfter) > 0 && sortsByScore(req.SearchSource.Sort) {
		return nil, ErrScoreCursor
	}

	var base query.Query
	if q := strings.TrimSpace(req.Query); q == "" || q == "*" {
		base = bleve.NewMatchAllQuery()
	} else {
		base = bleve.NewQueryStringQuery(q)
	}

	must := []query.Query{base}
	var mustNot []query.Query
	for _, filter := range req.Filters {
		if filter.Field == "" {
			return nil, fmt.Errorf("filter on %q without field", filter.Value)
		}
		match := bleve.NewMatchPhraseQuery(filter.Value)
		match.SetField(filter.Field)
		if filter.Negate {
			mustNot = append(mustNot, match)
		} else {
			must = append(must, match)
		}
	}

	if tr := req.TimeRange; tr != nil && (!tr.From.IsZero() || !tr.To.IsZero()) {
		field := e.timeField(tr, config)
		if field == "" {
			return nil, ErrNoTimeField
		}
		inclusive := true
		rq := bleve.NewDateRangeInclusiveQuery(tr.From, tr.To, &inclusive, &inclusive)
		rq.SetField(field)
		must = append(must, rq)
	}

	if len(must) == 1 && len(mustNot) == 0 {
		return base, nil
	}

	bq := bleve.NewBooleanQuery()
	bq.AddMust(must...)
	if len(mustNot) > 0 {
		bq.AddMustNot(mustNot...)
	}
	return bq, nil
}

// timeField picks the field a time range applies to: the request's, then the
// index's, then the executor default
func (e *Executor) timeField(tr *fetcher.TimeRange, config *models.IndexConfig) string {
	if tr.Field != "" {
		return tr.Field
	}
	if config != nil && config.TimeField != "" {
		return config.TimeField
	}
	return e.defaultTimeField
}

func sortsByScore(terms []fetcher.SortTerm) bool {
	return slices.ContainsFunc(terms, func(term fetcher.SortTerm) bool {
		return term.Field == fetcher.ScoreField
	})
}
