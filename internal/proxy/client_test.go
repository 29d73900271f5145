package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestComplete_ToolCalls(t *testing.T) {
	var got CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4.1-mini","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"execute_sql","arguments":"{\"sql\":\"SELECT 1\"}"}}]}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model:               "gpt-4.1-mini",
		Messages:            []Message{{Role: "user", Content: "hi"}},
		Tools:               []Tool{{Type: "function", Function: FunctionDef{Name: "execute_sql", Parameters: json.RawMessage(`{"type":"object"}`)}}},
		Temperature:         Float(0.1),
		MaxCompletionTokens: 1200,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	msg := resp.Message()
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Function.Name != "execute_sql" || msg.ToolCalls[0].Function.Arguments != `{"sql":"SELECT 1"}` {
		t.Errorf("tool call = %+v", msg.ToolCalls[0])
	}
	if got.Model != "gpt-4.1-mini" || len(got.Tools) != 1 || got.MaxCompletionTokens != 1200 {
		t.Errorf("request = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 {
		t.Errorf("temperature = %v", got.Temperature)
	}
}

func TestComplete_AuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"c1","choices":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if msg := resp.Message(); msg.Role != "assistant" || msg.Content != "" {
		t.Errorf("empty choices message = %+v", msg)
	}
}

func TestComplete_NoAPIKey(t *testing.T) {
	c := NewClient("  ")
	if c.Configured() {
		t.Error("blank key should not be configured")
	}
	if _, err := c.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestComplete_RateLimit_Retry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message().Content != "ok" {
		t.Errorf("content = %q", resp.Message().Content)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestComplete_RateLimit_Exhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "rate limited")
	}
	if got := attempt.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestComplete_StatusError(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model"}}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusBadRequest || !strings.Contains(se.Body, "bad model") {
		t.Errorf("StatusError = %+v", se)
	}
	if got := attempt.Load(); got != 1 {
		t.Errorf("non-429 errors must not be retried, attempts = %d", got)
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerDone
	}))
	defer srv.Close()
	defer close(handlerDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		c := NewClientWithBaseURL("test-key", srv.URL)
		_, err := c.Complete(ctx, CompletionRequest{Model: "m"})
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not return promptly after context cancellation")
	}
}

func TestRespond_RawJSON(t *testing.T) {
	var got ResponsesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"id":"r1","output":[{"type":"web_search_call"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	raw, err := c.Respond(context.Background(), ResponsesRequest{
		Model:        "gpt-4.1",
		Input:        []InputMessage{{Role: "user", Content: []InputContent{{Type: "input_text", Text: "вино"}}}},
		Tools:        []WebSearchTool{{Type: "web_search", UserLocation: &UserLocation{Type: "approximate", Country: "RU"}}},
		ToolChoice:   "required",
		MaxToolCalls: 1,
		Include:      []string{"web_search_call.action.sources"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(string(raw), `"web_search_call"`) {
		t.Errorf("raw = %s", raw)
	}
	if got.ToolChoice != "required" || got.MaxToolCalls != 1 || got.Tools[0].UserLocation.Country != "RU" {
		t.Errorf("request = %+v", got)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(ModelList{
			Object: "list",
			Data:   []Model{{ID: "gpt-4.1", Object: "model"}, {ID: "gpt-4.1-mini", Object: "model"}},
		})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1].ID != "gpt-4.1-mini" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelList{Object: "list"})
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("test-key", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want 0", len(models))
	}
}
