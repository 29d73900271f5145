package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
)

// --- mocks ---

type mockCatalog struct {
	rows    []catalog.Row
	pingErr error
}

func (m *mockCatalog) Ping(context.Context) error { return m.pingErr }
func (m *mockCatalog) Path() string               { return "/data/wine_product.sqlite" }
func (m *mockCatalog) Table() string              { return catalog.DefaultTable }

func (m *mockCatalog) Columns(context.Context) ([]string, error) {
	return []string{"card_key", "wine_name", "producer"}, nil
}

func (m *mockCatalog) SchemaString(context.Context) (string, error) {
	return "Table: wine_cards_wide\nColumns: card_key, wine_name, producer", nil
}

func (m *mockCatalog) ExecuteReadOnly(_ context.Context, raw string, maxRows int) (string, []catalog.Row, error) {
	safe, err := sqlguard.Build(raw, maxRows)
	if err != nil {
		return "", nil, err
	}
	return safe, m.rows[:min(maxRows, len(m.rows))], nil
}

func (m *mockCatalog) SearchByText(_ context.Context, ref string, limit int) ([]catalog.Row, error) {
	var out []catalog.Row
	for _, row := range m.rows {
		if strings.Contains(strings.ToLower(catalog.Text(row["wine_name"])), strings.ToLower(ref)) {
			out = append(out, row)
		}
	}
	return out[:min(limit, len(out))], nil
}

func (m *mockCatalog) Exists(_ context.Context, id string) (bool, error) {
	for _, row := range m.rows {
		if catalog.Text(row["card_key"]) == id {
			return true, nil
		}
	}
	return false, nil
}

// mockAsker returns scripted results and remembers the turns it saw.
type mockAsker struct {
	mu      sync.Mutex
	turns   []assistant.Turn
	results []assistant.Result
	err     error
}

func (m *mockAsker) Ask(_ context.Context, t assistant.Turn) (assistant.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	if m.err != nil {
		return assistant.Result{}, m.err
	}
	if len(m.results) == 0 {
		return assistant.Result{Answer: "ok"}, nil
	}
	i := min(len(m.turns), len(m.results)) - 1
	return m.results[i], nil
}

func (m *mockAsker) Capabilities() string { return assistant.DefaultCapabilities }

var errBoom = errors.New("boom")

// --- helpers ---

func testCatalog() *mockCatalog {
	return &mockCatalog{rows: []catalog.Row{
		{"card_key": "101", "wine_name": "Кюве Приват", "producer": "Абрау-Дюрсо"},
		{"card_key": "102", "wine_name": "Красностоп", "producer": "Сикоры"},
		{"card_key": "103", "wine_name": "Рислинг", "producer": "Эссе"},
	}}
}

func newTestStore(t *testing.T, cat *mockCatalog) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:", cat)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func listed() []candidates.Item {
	return []candidates.Item{
		{ID: "101", Name: "Кюве Приват", Producer: "Абрау-Дюрсо"},
		{ID: "102", Name: "Красностоп", Producer: "Сикоры"},
	}
}
