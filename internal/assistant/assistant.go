// Package assistant answers wine questions over the catalog. A turn first
// goes through a small table of deterministic intents (capabilities, likes
// and notes against the last shown list, the caller's own records) and
// otherwise drives the backend through a bounded tool-calling loop.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/storage"
	"github.com/kalambet/vinochat/internal/websearch"
)

const (
	// MaxRounds caps backend round trips per turn.
	MaxRounds = 3
	// MaxSQLRows caps rows returned by one query.
	MaxSQLRows = 200
	// MaxRowsToModel caps rows fed back to the backend.
	MaxRowsToModel = 80
	// MaxWebResults caps lookup results kept in Meta.
	MaxWebResults = 10

	defaultFastModel    = "gpt-4.1-mini"
	defaultComplexModel = "gpt-4.1"
)

// Fixed answers.
const (
	RoundsExhausted = "Не удалось завершить обработку запроса за допустимое число шагов."
	NoAnswer        = "Не удалось сформировать ответ."
)

// Catalog is the read side of the wine catalog.
type Catalog interface {
	candidates.Lookup
	ExecuteReadOnly(ctx context.Context, raw string, maxRows int) (string, []catalog.Row, error)
	SearchByText(ctx context.Context, ref string, limit int) ([]catalog.Row, error)
	SchemaString(ctx context.Context) (string, error)
	ReferenceValues(ctx context.Context) (map[string][]string, error)
}

// Records is the annotation store.
type Records interface {
	AddRecord(ctx context.Context, user, recordType, content, wineID string) (storage.Record, error)
	ListRecords(ctx context.Context, f storage.Filter) ([]storage.Record, error)
	Summary(ctx context.Context, wineID string) (storage.Summary, error)
}

// Completer is the chat-completions backend.
type Completer interface {
	Complete(ctx context.Context, req proxy.CompletionRequest) (*proxy.Completion, error)
}

// Searcher is the web lookup provider.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) websearch.Result
}

// Config wires an Assistant. Catalog is required. Leave Records, LLM or
// Search nil (not a typed nil pointer) to run without them.
type Config struct {
	Catalog Catalog
	Records Records
	LLM     Completer
	Search  Searcher

	Table               string
	FastModel           string
	ComplexModel        string
	MaxHistoryMessages  int
	MaxCompletionTokens int

	Capabilities       string
	CapabilitiesSource string
}

// Assistant answers turns. It holds no per-session state and is safe for
// concurrent use.
type Assistant struct {
	catalog Catalog
	records Records
	llm     Completer
	search  Searcher

	fastModel    string
	complexModel string
	maxHistory   int
	maxTokens    int

	capabilities       string
	capabilitiesSource string
	systemPrompt       string
	tools              []proxy.Tool
}

// New builds an Assistant and renders its system prompt from the catalog schema.
func New(ctx context.Context, cfg Config) (*Assistant, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("assistant: catalog is required")
	}
	a := &Assistant{
		catalog:            cfg.Catalog,
		records:            cfg.Records,
		llm:                cfg.LLM,
		search:             cfg.Search,
		fastModel:          firstNonEmpty(cfg.FastModel, defaultFastModel),
		complexModel:       firstNonEmpty(cfg.ComplexModel, defaultComplexModel),
		maxHistory:         cfg.MaxHistoryMessages,
		maxTokens:          cfg.MaxCompletionTokens,
		capabilities:       firstNonEmpty(strings.TrimSpace(cfg.Capabilities), DefaultCapabilities),
		capabilitiesSource: firstNonEmpty(cfg.CapabilitiesSource, "builtin"),
	}
	if a.maxHistory <= 0 {
		a.maxHistory = 8
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1200
	}

	table := firstNonEmpty(cfg.Table, catalog.DefaultTable)
	schema, err := cfg.Catalog.SchemaString(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading catalog schema: %w", err)
	}
	refs, err := cfg.Catalog.ReferenceValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading reference values: %w", err)
	}
	a.systemPrompt = buildSystemPrompt(table, schema, refs, a.capabilities)

	a.tools = queryTools(table)
	if a.records != nil {
		a.tools = append(a.tools, recordTools(table)...)
	}
	return a, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Tools returns the tool catalog offered to the backend.
func (a *Assistant) Tools() []proxy.Tool { return a.tools }

// SystemPrompt returns the rendered system instructions.
func (a *Assistant) SystemPrompt() string { return a.systemPrompt }

// Capabilities returns the capabilities summary.
func (a *Assistant) Capabilities() string { return a.capabilities }

// ModelFor returns the backend model for a profile.
func (a *Assistant) ModelFor(p Profile) string {
	if p == Complex {
		return a.complexModel
	}
	return a.fastModel
}

// Turn is one user message together with what the session remembers.
type Turn struct {
	Text    string
	History []session.Turn
	User    string
	Context session.Context
}

// Result is the sanitized answer and the diagnostics of a turn.
type Result struct {
	Answer string `json:"response"`
	Meta   Meta   `json:"meta"`
}

// Ask answers one turn. Failures of collaborators end up in the answer;
// an error is returned only when ctx is done.
func (a *Assistant) Ask(ctx context.Context, t Turn) (Result, error) {
	started := time.Now()
	model := a.ModelFor(Classify(t.Text))

	finish := func(answer string, meta Meta, sanitize bool) (Result, error) {
		if sanitize {
			answer = Sanitize(answer)
		}
		meta.Model = model
		meta.Perf.SelectedModel = model
		meta.Perf = meta.Perf.finish(started)
		return Result{Answer: answer, Meta: meta}, nil
	}

	for _, in := range intents {
		if !in.match(a, t) {
			continue
		}
		answer, meta, ok := in.handle(a, ctx, t, model)
		if !ok {
			continue
		}
		slog.Debug("assistant: deterministic intent", "intent", in.name)
		return finish(answer, meta, in.name != "capabilities")
	}

	if a.llm == nil {
		return finish("LLM недоступен: не задан OPENAI_API_KEY.", newMeta(model), false)
	}

	st := &round{
		text:     t.Text,
		user:     t.User,
		fullList: IsFullListRequest(t.Text),
		meta:     newMeta(model),
	}
	messages := a.messages(t)

	for range MaxRounds {
		llmStart := time.Now()
		completion, err := a.llm.Complete(ctx, proxy.CompletionRequest{
			Model:               model,
			Messages:            messages,
			Tools:               a.tools,
			Temperature:         proxy.Float(0),
			MaxCompletionTokens: a.maxTokens,
		})
		st.meta.Perf.LLMRounds++
		st.meta.Perf.LLMWaitMsTotal += ms(time.Since(llmStart))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			st.meta.WebResults = dedupeSources(st.meta.WebResults)
			return finish(backendFailure(err), st.meta, false)
		}

		msg := completion.Message()
		if len(msg.ToolCalls) == 0 {
			answer := firstNonEmpty(strings.TrimSpace(msg.Content), NoAnswer)
			a.fallbackLookup(ctx, st)
			st.meta.WebResults = dedupeSources(st.meta.WebResults)
			return finish(answer, st.meta, true)
		}

		messages = append(messages, proxy.Message{
			Role:      "assistant",
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		for _, call := range msg.ToolCalls {
			res := a.dispatch(ctx, call, st)
			if st.done {
				st.meta.WebResults = dedupeSources(st.meta.WebResults)
				return finish(st.answer, st.meta, true)
			}
			messages = append(messages, proxy.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    encodeResult(res),
			})
		}
	}

	st.meta.WebResults = dedupeSources(st.meta.WebResults)
	return finish(RoundsExhausted, st.meta, false)
}

func backendFailure(err error) string {
	switch {
	case errors.Is(err, proxy.ErrNoAPIKey):
		return "LLM недоступен: не задан OPENAI_API_KEY."
	case errors.Is(err, proxy.ErrCircuitOpen):
		return "LLM временно недоступен: слишком много ошибок подряд. Попробуйте позже."
	}
	slog.Error("assistant: backend request failed", "error", err)
	return "Извините, не удалось получить ответ от LLM: " + err.Error()
}

// messages renders the system prompt, the recent history and the new user message.
func (a *Assistant) messages(t Turn) []proxy.Message {
	msgs := []proxy.Message{{Role: "system", Content: a.systemPrompt}}
	history := t.History
	if len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}
	for _, h := range history {
		if (h.Role == "user" || h.Role == "assistant") && h.Content != "" {
			msgs = append(msgs, proxy.Message{Role: h.Role, Content: h.Content})
		}
	}
	return append(msgs, proxy.Message{Role: "user", Content: t.Text})
}

// fallbackLookup runs one lookup after the final answer when nothing was
// looked up yet and the question is about price or availability, or names
// a wine the catalog did not return.
func (a *Assistant) fallbackLookup(ctx context.Context, st *round) {
	if len(st.meta.WebResults) > 0 {
		return
	}
	if !IsPriceRequest(st.text) && !(st.meta.Rows == 0 && LooksLikeWineTopic(st.text)) {
		return
	}
	start := time.Now()
	r := a.lookup(ctx, st.text, 5)
	st.meta.Perf.FallbackWebCalls++
	st.meta.Perf.FallbackWebMsTotal += ms(time.Since(start))
	if r.Query == "" {
		r.Query = st.text
	}
	st.recordLookup("fallback", r)
}

func dedupeSources(sources []websearch.Source) []websearch.Source {
	seen := make(map[string]bool, len(sources))
	out := []websearch.Source{}
	for _, s := range sources {
		u := strings.TrimSpace(s.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, s)
		if len(out) == MaxWebResults {
			break
		}
	}
	return out
}
