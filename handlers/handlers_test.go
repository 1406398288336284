package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docgrid/config"
	"docgrid/engine"
	"docgrid/fetcher"
	"docgrid/formats"
	"docgrid/models"
	"docgrid/remote"
	"docgrid/scripts"
	"docgrid/store"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

func newTestApp(t *testing.T) (*fiber.App, *store.IndexStore) {
	t.Helper()

	s, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	scriptEngine, err := scripts.NewEngine(0)
	if err != nil {
		t.Fatalf("Failed to create script engine: %v", err)
	}
	executor := engine.New(s, scriptEngine)
	f, err := fetcher.New(executor, nil)
	if err != nil {
		t.Fatalf("Failed to create fetcher: %v", err)
	}

	hctx := &HandlerContext{
		Store:    s,
		Executor: executor,
		Fetcher:  f,
		Config:   &config.Config{FetchTimeout: time.Minute},
	}

	app := fiber.New(fiber.Config{
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	app.Use(func(c *fiber.Ctx) error {
		SetContext(c, hctx)
		return c.Next()
	})
	Routes(app)
	return app, s
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body []byte) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		t.Fatalf("Failed to decode %s: %v", data, err)
	}
	return v
}

func seedEvents(t *testing.T, app *fiber.App, n int) {
	t.Helper()
	status, body := doRequest(t, app, "POST", "/indexes?id=events&primaryKey=id&timeField=ts&keywordFields=service,level", nil)
	if status != fiber.StatusCreated {
		t.Fatalf("Failed to create index: %d %s", status, body)
	}

	var lines strings.Builder
	for i := range n {
		service := "api"
		if i%2 == 1 {
			service = "web"
		}
		fmt.Fprintf(&lines, `{"id":"evt-%04d","service":"%s","bytes":%d,"ts":"2024-03-01T12:%02d:00Z"}`+"\n", i, service, i*10, i%60)
	}

	status, body = doRequest(t, app, "POST", "/indexes/events/documents", []byte(lines.String()))
	if status != fiber.StatusCreated {
		t.Fatalf("Failed to add documents: %d %s", status, body)
	}
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := doRequest(t, app, "GET", "/health", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("Unexpected health response: %d %s", status, body)
	}
}

func TestIndexLifecycle(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := doRequest(t, app, "POST", "/indexes?id=logs&primaryKey=id", nil)
	if status != fiber.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}

	status, body := doRequest(t, app, "POST", "/indexes?id=logs", nil)
	if status != fiber.StatusConflict {
		t.Errorf("Expected 409 for duplicate index, got %d", status)
	}
	if resp := decode[ErrorResponse](t, body); resp.Code != ErrorCodeResourceAlreadyExists {
		t.Errorf("Expected %s, got %s", ErrorCodeResourceAlreadyExists, resp.Code)
	}

	status, _ = doRequest(t, app, "POST", "/indexes", nil)
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 without id, got %d", status)
	}

	status, body = doRequest(t, app, "GET", "/indexes", nil)
	list := decode[struct {
		Items []models.IndexConfig `json:"items"`
	}](t, body)
	if status != fiber.StatusOK || len(list.Items) != 1 || list.Items[0].ID != "logs" {
		t.Errorf("Unexpected index list: %d %s", status, body)
	}

	status, _ = doRequest(t, app, "PATCH", "/indexes/logs", []byte(`{"primaryKey":"uid","timeField":"at"}`))
	if status != fiber.StatusOK {
		t.Errorf("Expected 200 on update, got %d", status)
	}

	status, _ = doRequest(t, app, "DELETE", "/indexes/logs", nil)
	if status != fiber.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", status)
	}

	status, _ = doRequest(t, app, "DELETE", "/indexes/logs", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", status)
	}
}

func TestAddDocumentsFormats(t *testing.T) {
	app, s := newTestApp(t)
	doRequest(t, app, "POST", "/indexes?id=docs&primaryKey=id", nil)

	var buf bytes.Buffer
	records := []map[string]any{{"id": "a", "title": "first"}, {"id": "b", "title": "second"}}
	if err := (&formats.MsgpackEncoder{}).Encode(&buf, records); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	status, body := doRequest(t, app, "POST", "/indexes/docs/documents?format=msgpack", buf.Bytes())
	if status != fiber.StatusCreated || !strings.Contains(string(body), `"indexed":2`) {
		t.Fatalf("Unexpected response: %d %s", status, body)
	}

	status, _ = doRequest(t, app, "POST", "/indexes/docs/documents?format=csv", []byte("id\n1"))
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported format, got %d", status)
	}

	status, _ = doRequest(t, app, "POST", "/indexes/docs/documents", []byte("{broken"))
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", status)
	}

	index, _, _ := s.GetIndex("docs")
	if count, _ := index.DocCount(); count != 2 {
		t.Errorf("Expected 2 documents, got %d", count)
	}
}

func TestAddDocumentsDetectsPrimaryKey(t *testing.T) {
	app, s := newTestApp(t)
	doRequest(t, app, "POST", "/indexes?id=users", nil)

	status, body := doRequest(t, app, "POST", "/indexes/users/documents", []byte(`{"user_id":"u1","name":"ada"}`+"\n"))
	if status != fiber.StatusCreated {
		t.Fatalf("Unexpected response: %d %s", status, body)
	}

	_, config, err := s.GetIndex("users")
	if err != nil {
		t.Fatalf("Failed to get index: %v", err)
	}
	if config.PrimaryKey != "user_id" {
		t.Errorf("Expected detected primary key user_id, got %q", config.PrimaryKey)
	}
}

func TestDocumentMutations(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 20)

	status, body := doRequest(t, app, "PATCH", "/indexes/events/documents/evt-0001", []byte(`{"service":"db"}`))
	if status != fiber.StatusOK || !strings.Contains(string(body), `"service":"db"`) {
		t.Errorf("Unexpected update response: %d %s", status, body)
	}

	status, _ = doRequest(t, app, "PATCH", "/indexes/events/documents/missing", []byte(`{"service":"db"}`))
	if status != fiber.StatusNotFound {
		t.Errorf("Expected 404 for missing document, got %d", status)
	}

	status, body = doRequest(t, app, "DELETE", "/indexes/events/documents?filter=service:api", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"deleted":10`) {
		t.Errorf("Unexpected delete response: %d %s", status, body)
	}

	status, _ = doRequest(t, app, "DELETE", "/indexes/events/documents", nil)
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 without ids or filter, got %d", status)
	}

	status, _ = doRequest(t, app, "DELETE", "/indexes/events/documents/evt-0001", nil)
	if status != fiber.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}
}

func TestSearch(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 30)

	status, body := doRequest(t, app, "POST", "/indexes/events/searches?q=service:web&limit=5", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Unexpected status %d: %s", status, body)
	}
	resp := decode[models.SearchResponse](t, body)
	if resp.TotalHits != 15 || len(resp.Hits) != 5 || resp.TotalPages != 3 {
		t.Errorf("Unexpected search response: total=%d hits=%d pages=%d", resp.TotalHits, len(resp.Hits), resp.TotalPages)
	}

	status, _ = doRequest(t, app, "POST", "/indexes/events/searches", []byte(`{"attributesToRetrieve":["id"],"attributesToExclude":["bytes"]}`))
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for conflicting attributes, got %d", status)
	}
}

func TestFetchTable(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 30)

	req := `{
		"hitsSize": 12,
		"fieldColumns": [
			{"label": "Service", "field": {"name": "service"}},
			{"field": {"name": "kb", "scripted": true, "script": "doc.bytes / 10.0"}},
			{"field": {"name": "bytes"}, "enabled": false}
		],
		"sortField": {"name": "bytes"},
		"sortOrder": "desc",
		"filters": [{"field": "service", "value": "api"}],
		"aggs": [{"id": "svc", "type": "terms", "field": "service"}]
	}`

	status, body := doRequest(t, app, "POST", "/indexes/events/tables", []byte(req))
	if status != fiber.StatusOK {
		t.Fatalf("Unexpected status %d: %s", status, body)
	}

	resp := decode[models.TableResponse](t, body)
	if resp.Total != 15 || len(resp.Hits) != 12 || len(resp.Rows) != 12 {
		t.Fatalf("Unexpected table: total=%d hits=%d rows=%d", resp.Total, len(resp.Hits), len(resp.Rows))
	}
	if strings.Join(resp.Columns, ",") != "Service,kb" {
		t.Errorf("Expected columns Service,kb, got %v", resp.Columns)
	}
	if resp.Rows[0][0] != "api" || resp.Rows[0][1] != float64(28) {
		t.Errorf("Expected first row [api 28], got %v", resp.Rows[0])
	}
	if resp.Pages != 1 {
		t.Errorf("Expected a single page, got %d", resp.Pages)
	}
	if len(resp.Aggregations["svc"].Buckets) != 1 {
		t.Errorf("Expected one service bucket, got %v", resp.Aggregations["svc"])
	}
}

func TestFetchTableRecords(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 10)

	status, body := doRequest(t, app, "POST", "/indexes/events/tables?format=jsoneachrow", []byte(`{"hitsSize":"4","fieldColumns":[{"field":{"name":"service"}}]}`))
	if status != fiber.StatusOK {
		t.Fatalf("Unexpected status %d: %s", status, body)
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 records, got %d: %s", len(lines), body)
	}
	if !strings.Contains(lines[0], `"service"`) {
		t.Errorf("Expected service in record, got %s", lines[0])
	}
}

func TestFetchTableErrors(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 5)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   ErrorCode
	}{
		{"missing index", "/indexes/missing/tables", `{"hitsSize":5}`, fiber.StatusNotFound, ErrorCodeIndexNotFound},
		{"invalid body", "/indexes/events/tables", `{"hitsSize":`, fiber.StatusBadRequest, ErrorCodeInvalidRequestBody},
		{"bad format", "/indexes/events/tables?format=xml", `{}`, fiber.StatusBadRequest, ErrorCodeInvalidFormat},
		{"bad aggregation", "/indexes/events/tables", `{"aggs":[{"id":"1","type":"median"}]}`, fiber.StatusBadRequest, ErrorCodeUnsupportedAggregation},
		{"bad script", "/indexes/events/tables", `{"fieldColumns":[{"field":{"name":"x","scripted":true,"script":"doc +"}}]}`, fiber.StatusBadRequest, ErrorCodeInvalidScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, "POST", tt.path, []byte(tt.body))
			if status != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, status, body)
			}
			if resp := decode[ErrorResponse](t, body); resp.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, resp.Code)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 10)

	status, body := doRequest(t, app, "POST", "/indexes/events/executions", []byte(`{"searchSource":{"size":3,"sort":[{"field":"_id","order":"asc"}]}}`))
	if status != fiber.StatusOK {
		t.Fatalf("Unexpected status %d: %s", status, body)
	}

	resp := decode[fetcher.Response](t, body)
	if resp.Total != 10 || len(resp.Hits) != 3 {
		t.Fatalf("Unexpected response: total=%d hits=%d", resp.Total, len(resp.Hits))
	}
	if resp.Hits[2].ID != "evt-0002" || resp.Hits[2].Sort[0] != "evt-0002" {
		t.Errorf("Unexpected last hit %+v", resp.Hits[2])
	}

	status, _ = doRequest(t, app, "POST", "/indexes/events/executions", []byte(`{"searchSource":{"size":10001}}`))
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for oversized page, got %d", status)
	}
}

func TestRemoteFetchAgainstServer(t *testing.T) {
	app, _ := newTestApp(t)
	seedEvents(t, app, 25)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go app.Listener(ln)
	defer app.Shutdown()

	client, err := remote.NewClient("http://"+ln.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	f, err := fetcher.New(client, nil)
	if err != nil {
		t.Fatalf("Failed to create fetcher: %v", err)
	}

	hitsSize := 20
	env, err := f.Fetch(context.Background(), fetcher.SearchSpec{
		Index: "events",
		Options: fetcher.Options{
			HitsSize:     &hitsSize,
			FieldColumns: []fetcher.FieldColumn{{Field: fetcher.Field{Name: "service"}}},
			SortField:    &fetcher.Field{Name: "bytes"},
		},
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(env.Hits) != 20 || env.Total != 25 {
		t.Errorf("Expected 20 of 25 hits, got %d of %d", len(env.Hits), env.Total)
	}
	if env.Hits[0].ID != "evt-0000" {
		t.Errorf("Expected ascending bytes order, got %s first", env.Hits[0].ID)
	}

	_, err = f.Fetch(context.Background(), fetcher.SearchSpec{Index: "missing"})
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected remote 404, got %v", err)
	}
}

func TestExecutionErrorForwardsRemoteStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		expected ErrorCode
	}{
		{
			name:     "structured body keeps remote code",
			err:      &remote.StatusError{StatusCode: http.StatusBadRequest, Code: string(ErrorCodeInvalidScript), Message: "bad script"},
			status:   http.StatusBadRequest,
			expected: ErrorCodeInvalidScript,
		},
		{
			name:     "plain body falls back to caller code",
			err:      fmt.Errorf("page 2: %w", &remote.StatusError{StatusCode: http.StatusUnprocessableEntity, Message: "unprocessable"}),
			status:   http.StatusUnprocessableEntity,
			expected: ErrorCodeFetchFailed,
		},
		{
			name:     "remote server error is a bad gateway",
			err:      &remote.StatusError{StatusCode: http.StatusInternalServerError, Message: "boom"},
			status:   http.StatusBadGateway,
			expected: ErrorCodeFetchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return ExecutionError(c, ErrorCodeFetchFailed, tt.err)
			})

			status, body := doRequest(t, app, "GET", "/", nil)
			if status != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, status, body)
			}
			if got := decode[ErrorResponse](t, body); got.Code != tt.expected {
				t.Errorf("Expected code %s, got %q", tt.expected, got.Code)
			}
		})
	}
}
