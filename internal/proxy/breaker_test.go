package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type mockAPI struct {
	err   error
	calls int
}

func (m *mockAPI) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &Completion{ID: "ok"}, nil
}

func (m *mockAPI) Respond(ctx context.Context, req ResponsesRequest) (json.RawMessage, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return json.RawMessage(`{}`), nil
}

func TestBreaker_PassesThrough(t *testing.T) {
	api := &mockAPI{}
	b := NewBreaker("test", api, BreakerConfig{}, nil)

	resp, err := b.Complete(context.Background(), CompletionRequest{})
	if err != nil || resp.ID != "ok" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
	raw, err := b.Respond(context.Background(), ResponsesRequest{})
	if err != nil || string(raw) != "{}" {
		t.Fatalf("Respond = %s, %v", raw, err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("backend down")
	api := &mockAPI{err: boom}
	b := NewBreaker("test", api, BreakerConfig{MaxFailures: 3, Timeout: time.Minute}, nil)

	for i := range 3 {
		if _, err := b.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, boom) {
			t.Fatalf("call %d error = %v, want backend error", i, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	_, err := b.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if api.calls != 3 {
		t.Errorf("backend called %d times, want 3", api.calls)
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	api := &mockAPI{err: errors.New("down")}
	b := NewBreaker("test", api, BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}, nil)

	b.Respond(context.Background(), ResponsesRequest{})
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	time.Sleep(40 * time.Millisecond)
	api.err = nil
	if _, err := b.Respond(context.Background(), ResponsesRequest{}); err != nil {
		t.Fatalf("half-open call failed: %v", err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	api := &mockAPI{err: context.Canceled}
	b := NewBreaker("test", api, BreakerConfig{MaxFailures: 1}, nil)

	for range 3 {
		b.Complete(context.Background(), CompletionRequest{})
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}
