package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"docgrid/fetcher"
	"docgrid/models"
	"docgrid/scripts"
	"docgrid/store"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, docs int, opts ...Option) (*Executor, *store.IndexStore) {
	t.Helper()
	s, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.CreateIndex(&models.IndexConfig{
		ID:            "events",
		PrimaryKey:    "id",
		TimeField:     "ts",
		KeywordFields: []string{"service", "level"},
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	if docs > 0 {
		if _, err := s.AddDocuments("events", eventDocs(docs), false); err != nil {
			t.Fatalf("Failed to add documents: %v", err)
		}
	}

	scriptEngine, err := scripts.NewEngine(0)
	if err != nil {
		t.Fatalf("Failed to create script engine: %v", err)
	}
	return New(s, scriptEngine, opts...), s
}

func eventDocs(n int) []map[string]any {
	docs := make([]map[string]any, n)
	for i := range n {
		service := "api"
		if i%2 == 1 {
			service = "web"
		}
		level := "info"
		if i%5 == 0 {
			level = "error"
		}
		docs[i] = map[string]any{
			"id":      fmt.Sprintf("evt-%05d", i),
			"service": service,
			"level":   level,
			"bytes":   float64(i * 100),
			"ts":      baseTime.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
	}
	return docs
}

func execute(t *testing.T, e *Executor, req fetcher.Request) *fetcher.Response {
	t.Helper()
	resp, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return resp
}

func TestExecuteMatchAll(t *testing.T) {
	e, _ := newTestExecutor(t, 50)

	resp := execute(t, e, fetcher.Request{
		Index:        "events",
		SearchSource: fetcher.SearchSource{Size: 10},
	})

	if resp.Total != 50 {
		t.Errorf("Expected total 50, got %d", resp.Total)
	}
	if len(resp.Hits) != 10 {
		t.Errorf("Expected 10 hits, got %d", len(resp.Hits))
	}
	if resp.Hits[0].Source["service"] == nil {
		t.Errorf("Expected whole document in source, got %v", resp.Hits[0].Source)
	}
}

func TestExecuteSearchAfterContinuation(t *testing.T) {
	e, _ := newTestExecutor(t, 50)

	req := fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size: 20,
			Sort: []fetcher.SortTerm{{Field: fetcher.IDField, Order: fetcher.SortAsc}},
		},
	}

	var ids []string
	var after fetcher.Cursor
	for page := 0; page < 3; page++ {
		resp := execute(t, e, req.WithPage(20, after))
		for _, hit := range resp.Hits {
			ids = append(ids, hit.ID)
		}
		if len(resp.Hits) == 0 {
			break
		}
		after = resp.Hits[len(resp.Hits)-1].Sort
	}

	if len(ids) != 50 {
		t.Fatalf("Expected 50 ids across pages, got %d", len(ids))
	}
	for i, id := range ids {
		if expected := fmt.Sprintf("evt-%05d", i); id != expected {
			t.Fatalf("Expected %s at position %d, got %s", expected, i, id)
		}
	}
}

func TestExecuteSortDescending(t *testing.T) {
	e, _ := newTestExecutor(t, 20)

	resp := execute(t, e, fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size: 3,
			Sort: []fetcher.SortTerm{{Field: "bytes", Order: fetcher.SortDesc}},
		},
	})

	if len(resp.Hits) != 3 {
		t.Fatalf("Expected 3 hits, got %d", len(resp.Hits))
	}
	if resp.Hits[0].ID != "evt-00019" || resp.Hits[2].ID != "evt-00017" {
		t.Errorf("Unexpected order: %s, %s", resp.Hits[0].ID, resp.Hits[2].ID)
	}
}

func TestExecuteFilters(t *testing.T) {
	e, _ := newTestExecutor(t, 50)

	tests := []struct {
		name     string
		filters  []fetcher.Filter
		expected uint64
	}{
		{"match", []fetcher.Filter{{Field: "service", Value: "api"}}, 25},
		{"negated", []fetcher.Filter{{Field: "service", Value: "api", Negate: true}}, 25},
		{"combined", []fetcher.Filter{{Field: "service", Value: "api"}, {Field: "level", Value: "error"}}, 5},
		{"no match", []fetcher.Filter{{Field: "service", Value: "db"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := execute(t, e, fetcher.Request{
				Index:        "events",
				Filters:      tt.filters,
				SearchSource: fetcher.SearchSource{Size: 0},
			})
			if resp.Total != tt.expected {
				t.Errorf("Expected total %d, got %d", tt.expected, resp.Total)
			}
		})
	}
}

func TestExecuteTimeRange(t *testing.T) {
	e, _ := newTestExecutor(t, 50)

	resp := execute(t, e, fetcher.Request{
		Index: "events",
		TimeRange: &fetcher.TimeRange{
			From: baseTime,
			To:   baseTime.Add(9 * time.Minute),
		},
		SearchSource: fetcher.SearchSource{Size: 0},
	})
	if resp.Total != 10 {
		t.Errorf("Expected 10 events in range, got %d", resp.Total)
	}

	resp = execute(t, e, fetcher.Request{
		Index:        "events",
		TimeRange:    &fetcher.TimeRange{From: baseTime.Add(45 * time.Minute)},
		SearchSource: fetcher.SearchSource{Size: 0},
	})
	if resp.Total != 5 {
		t.Errorf("Expected 5 events in open range, got %d", resp.Total)
	}
}

func TestExecuteTimeRangeWithoutField(t *testing.T) {
	s, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	if err := s.CreateIndex(&models.IndexConfig{ID: "plain", PrimaryKey: "id"}); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	req := fetcher.Request{
		Index:     "plain",
		TimeRange: &fetcher.TimeRange{From: baseTime},
	}

	_, err = New(s, nil).Execute(context.Background(), req)
	if !errors.Is(err, ErrNoTimeField) {
		t.Errorf("Expected ErrNoTimeField, got %v", err)
	}

	if _, err := New(s, nil, WithDefaultTimeField("ts")).Execute(context.Background(), req); err != nil {
		t.Errorf("Expected default time field to be used, got %v", err)
	}
}

func TestExecuteProjection(t *testing.T) {
	e, _ := newTestExecutor(t, 5)

	resp := execute(t, e, fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size:           5,
			Source:         []string{"service"},
			DocValueFields: []string{"bytes"},
		},
	})

	for _, hit := range resp.Hits {
		if len(hit.Source) != 1 || hit.Source["service"] == nil {
			t.Errorf("Expected only service in source, got %v", hit.Source)
		}
		if _, ok := hit.Fields["bytes"]; !ok {
			t.Errorf("Expected bytes in fields, got %v", hit.Fields)
		}
	}
}

func TestExecuteScriptFields(t *testing.T) {
	e, _ := newTestExecutor(t, 10)

	resp := execute(t, e, fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size:   10,
			Source: []string{},
			ScriptFields: map[string]fetcher.Script{
				"kb": {Source: "doc.bytes / 100.0"},
			},
			Sort: []fetcher.SortTerm{{Field: fetcher.IDField}},
		},
	})

	for i, hit := range resp.Hits {
		if hit.Fields["kb"] != float64(i) {
			t.Errorf("Expected kb=%d for %s, got %v", i, hit.ID, hit.Fields["kb"])
		}
		if len(hit.Source) != 0 {
			t.Errorf("Expected empty source, got %v", hit.Source)
		}
	}
}

func TestExecuteScriptCompileError(t *testing.T) {
	e, _ := newTestExecutor(t, 1)

	_, err := e.Execute(context.Background(), fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size:         1,
			ScriptFields: map[string]fetcher.Script{"bad": {Source: "doc.bytes +"}},
		},
	})
	if !errors.Is(err, ErrScriptField) || !errors.Is(err, scripts.ErrCompile) {
		t.Errorf("Expected script compile error, got %v", err)
	}
}

func TestExecuteAggregations(t *testing.T) {
	e, _ := newTestExecutor(t, 50)

	resp := execute(t, e, fetcher.Request{
		Index: "events",
		Aggs: []fetcher.AggConfig{
			{ID: "1", Type: fetcher.AggCount},
			{ID: "2", Type: fetcher.AggTerms, Field: "service", Size: 5},
		},
	})

	if got := resp.Aggregations["1"].Value; got != 50 {
		t.Errorf("Expected count 50, got %v", got)
	}
	counts := map[string]int{}
	for _, bucket := range resp.Aggregations["2"].Buckets {
		counts[bucket.Key] = bucket.Count
	}
	if counts["api"] != 25 || counts["web"] != 25 {
		t.Errorf("Unexpected buckets: %v", resp.Aggregations["2"].Buckets)
	}
}

func TestExecuteErrors(t *testing.T) {
	e, _ := newTestExecutor(t, 1)

	_, err := e.Execute(context.Background(), fetcher.Request{Index: "missing"})
	if !errors.Is(err, store.ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}

	_, err = e.Execute(context.Background(), fetcher.Request{
		Index: "events",
		Aggs:  []fetcher.AggConfig{{ID: "1", Type: "percentiles"}},
	})
	if !errors.Is(err, ErrUnsupportedAggregation) {
		t.Errorf("Expected ErrUnsupportedAggregation, got %v", err)
	}

	_, err = e.Execute(context.Background(), fetcher.Request{
		Index: "events",
		SearchSource: fetcher.SearchSource{
			Size:        10,
			SearchAfter: fetcher.Cursor{"_score", "evt-00001"},
			Sort:        []fetcher.SortTerm{{Field: fetcher.ScoreField, Order: fetcher.SortDesc}, {Field: fetcher.IDField}},
		},
	})
	if !errors.Is(err, ErrScoreCursor) {
		t.Errorf("Expected ErrScoreCursor, got %v", err)
	}
}

func TestExecuteCancelled(t *testing.T) {
	e, _ := newTestExecutor(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Execute(ctx, fetcher.Request{Index: "events", SearchSource: fetcher.SearchSource{Size: 10}}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestFetchPastHardCap(t *testing.T) {
	if testing.Short() {
		t.Skip("indexes more than HardCap documents")
	}

	total := fetcher.HardCap + 500
	e, _ := newTestExecutor(t, total)

	f, err := fetcher.New(e, nil)
	if err != nil {
		t.Fatalf("Failed to create fetcher: %v", err)
	}

	hitsSize := total + 1000
	env, err := f.Fetch(context.Background(), fetcher.SearchSpec{
		Index:   "events",
		Options: fetcher.Options{HitsSize: &hitsSize},
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(env.Hits) != total {
		t.Fatalf("Expected %d hits, got %d", total, len(env.Hits))
	}
	if env.Pages() != 2 {
		t.Errorf("Expected 2 pages, got %d", env.Pages())
	}
	seen := make(map[string]bool, total)
	for _, hit := range env.Hits {
		if seen[hit.ID] {
			t.Fatalf("Duplicate hit %s", hit.ID)
		}
		seen[hit.ID] = true
	}
}
