package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/config"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type cannedResponse struct {
	code int
	body string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			if resp.code != 0 {
				w.WriteHeader(resp.code)
			}
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

func TestRecordsAdd(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /api/records": {body: `{"ok":true,"record":{"id":7,"user":"Анна","record_type":"note","content":"к утке","wine_id":"101","created_at":"2025-03-01T10:00:00Z"},"user_source":"payload.user"}`},
	})

	rec, err := addRecord(ctx, ts.client(), map[string]any{
		"wine_id":     "101",
		"record_type": "note",
		"content":     "к утке",
		"user":        "Анна",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != 7 || rec.User != "Анна" || rec.WineID != "101" {
		t.Errorf("record = %+v", rec)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/api/records" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["content"] != "к утке" || body["record_type"] != "note" {
		t.Errorf("body = %v", body)
	}
}

func TestRecordsAdd_Rejected(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /api/records": {code: 400, body: `{"ok":false,"error":"wine_id не найден в каталоге wine_cards_wide."}`},
	})

	_, err := addRecord(ctx, ts.client(), map[string]any{"wine_id": "999", "record_type": "like"})
	if err == nil {
		t.Fatal("expected error for unknown wine")
	}
	want := "server returned 400: wine_id не найден в каталоге wine_cards_wide."
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestRecordsAdd_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"records", "add", "101"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires at least 2 arg") {
		t.Errorf("error = %q, want an argument count error", err.Error())
	}
}

func TestRecordsList_Query(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /api/records": {body: `{"ok":true,"count":1,"records":[{"id":1,"user":"Анна","record_type":"like","content":"1","wine_id":"101","created_at":"2025-03-01T10:00:00Z"}]}`},
	})

	q := map[string][]string{"user": {"Анна"}, "record_type": {"like"}}
	result, err := listRecords(ctx, ts.client(), "/api/records", q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Count != 1 || len(result.Records) != 1 {
		t.Errorf("result = %+v", result)
	}

	want := "/api/records?record_type=like&user=%D0%90%D0%BD%D0%BD%D0%B0"
	if got := ts.requests[0].Path; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestRecordsSummary(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /api/records/by-wine/101": {body: `{"ok":true,"summary":{"wine_id":"101","like_count":2,"note_count":1},"count":3,"records":[]}`},
	})

	result, err := listRecords(ctx, ts.client(), byWinePath("101"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary == nil || result.Summary.LikeCount != 2 || result.Summary.NoteCount != 1 {
		t.Errorf("summary = %+v", result.Summary)
	}
}

func TestByWinePath(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"101", "/api/records/by-wine/101"},
		{" 101 ", "/api/records/by-wine/101"},
		{"https://wine.example/ru/101", "/api/records/by-wine/https://wine.example/ru/101"},
		{"кюве 1", "/api/records/by-wine/%D0%BA%D1%8E%D0%B2%D0%B5%201"},
	}
	for _, tt := range tests {
		if got := byWinePath(tt.id); got != tt.want {
			t.Errorf("byWinePath(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestPrintRecords(t *testing.T) {
	withNoColor(t)

	var buf bytes.Buffer
	printRecords(&buf, nil)
	if got := buf.String(); got != "No records found.\n" {
		t.Errorf("empty output = %q", got)
	}

	buf.Reset()
	printRecords(&buf, []storage.Record{
		{ID: 2, User: "Борис", RecordType: "note", Content: "к устрицам", WineID: "103", CreatedAt: time.Now()},
		{ID: 1, User: "Анна", RecordType: "like", Content: storage.LikeContent, WineID: "101", CreatedAt: time.Now()},
	})
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "#2 ") || !strings.HasSuffix(lines[0], "Борис  к устрицам") {
		t.Errorf("note line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "Анна  ") {
		t.Errorf("like line should hide the placeholder content, got %q", lines[1])
	}
}

type fakeSQL struct {
	rows []catalog.Row
}

func (f fakeSQL) ExecuteReadOnly(_ context.Context, raw string, maxRows int) (string, []catalog.Row, error) {
	safe, err := sqlguard.Build(raw, maxRows)
	if err != nil {
		return "", nil, err
	}
	return safe, f.rows, nil
}

func TestRunSQL(t *testing.T) {
	var buf bytes.Buffer
	cat := fakeSQL{rows: []catalog.Row{{"wine_name": "Кюве Приват & Брют"}}}
	if err := runSQL(ctx, cat, "SELECT wine_name FROM wine_cards_wide", 5, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		SafeSQL  string        `json:"safe_sql"`
		RowCount int           `json:"row_count"`
		Rows     []catalog.Row `json:"rows"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out.RowCount != 1 || !strings.HasSuffix(out.SafeSQL, "LIMIT 5") {
		t.Errorf("out = %+v", out)
	}
	if !strings.Contains(buf.String(), "Кюве Приват & Брют") {
		t.Errorf("output should keep text unescaped, got %s", buf.String())
	}
}

func TestRunSQL_Rejected(t *testing.T) {
	var buf bytes.Buffer
	err := runSQL(ctx, fakeSQL{}, "DROP TABLE wine_cards_wide", 5, &buf)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if want := "SQL отклонен: Запрещенное ключевое слово в SQL: drop"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be printed, got %q", buf.String())
	}
}

func TestPrintModels(t *testing.T) {
	withNoColor(t)

	var buf bytes.Buffer
	printModels(&buf, []proxy.Model{{ID: "gpt-4.1"}, {ID: "babbage-002"}, {ID: "gpt-4.1-mini"}}, "gpt-4.1-mini", "gpt-4.1")

	want := "babbage-002\ngpt-4.1  (complex)\ngpt-4.1-mini  (fast)\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStatus_Health(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /health": {body: `{"ok":true,"db":"/data/wine_product.sqlite","table":"wine_cards_wide","columns":42,"records_db":"/data/public_records.sqlite","perf_log_enabled":true}`},
	})

	h, code, err := fetchHealth(ts.server.Client(), ts.server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 200 || !h.OK || h.Columns != 42 || h.Table != "wine_cards_wide" {
		t.Errorf("health = %+v (HTTP %d)", h, code)
	}
}

func TestStatus_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{})
	ts.server.Close()

	_, code, err := fetchHealth(&http.Client{Timeout: time.Second}, ts.server.URL)
	if err == nil || code != 0 {
		t.Fatalf("expected a transport error, got code=%d err=%v", code, err)
	}

	_, err = ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	resp, err := client.get(ctx, "/chat")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("error = %q, want status and body", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.LLM.APIKey = "sk-secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("ShowAll leaked the API key under %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file should be gone")
	}
}

func TestLabels(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{enabledLabel(false, "x"), "disabled"},
		{enabledLabel(true, ""), "enabled"},
		{enabledLabel(true, "gpt-4.1"), "enabled (gpt-4.1)"},
		{setLabel(true), "set"},
		{setLabel(false), "not set"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
