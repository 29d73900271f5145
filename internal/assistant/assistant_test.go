package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/pending"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
	"github.com/kalambet/vinochat/internal/websearch"
)

// --- fakes ---

type fakeCatalog struct {
	cards   []catalog.Brief
	rows    []catalog.Row
	execErr error
	queries []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{cards: []catalog.Brief{
		{CardKey: "101", Name: "Кюве Приват", Producer: "Абрау-Дюрсо", Year: "2019", Region: "Краснодарский край"},
		{CardKey: "102", Name: "Кюве Приват", Producer: "Абрау-Дюрсо", Year: "2020", Region: "Краснодарский край"},
		{CardKey: "103", Name: "Красностоп", Producer: "Сикоры", Year: "2018", Region: "Ростовская область"},
	}}
}

func (f *fakeCatalog) find(id string) (catalog.Brief, bool) {
	for _, c := range f.cards {
		if c.CardKey == id || (c.URL != "" && c.URL == id) {
			return c, true
		}
	}
	return catalog.Brief{}, false
}

func (f *fakeCatalog) ExecuteReadOnly(_ context.Context, raw string, maxRows int) (string, []catalog.Row, error) {
	safe, err := sqlguard.Build(raw, maxRows)
	if err != nil {
		return "", nil, err
	}
	f.queries = append(f.queries, safe)
	if f.execErr != nil {
		return safe, nil, f.execErr
	}
	return safe, f.rows, nil
}

func (f *fakeCatalog) SearchByText(_ context.Context, ref string, limit int) ([]catalog.Row, error) {
	var out []catalog.Row
	for _, c := range f.cards {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(ref)) {
			out = append(out, catalog.Row{"card_key": c.CardKey, "wine_name": c.Name, "producer": c.Producer})
		}
	}
	return out[:min(limit, len(out))], nil
}

func (f *fakeCatalog) ResolveIDByName(_ context.Context, name, _, _ string) (string, error) {
	for _, c := range f.cards {
		if strings.EqualFold(c.Name, name) {
			return c.CardKey, nil
		}
	}
	return "", catalog.ErrNotFound
}

func (f *fakeCatalog) Brief(_ context.Context, id string) (catalog.Brief, error) {
	if c, ok := f.find(id); ok {
		return c, nil
	}
	return catalog.Brief{}, catalog.ErrNotFound
}

func (f *fakeCatalog) Exists(_ context.Context, id string) (bool, error) {
	_, ok := f.find(id)
	return ok, nil
}

func (f *fakeCatalog) SchemaString(context.Context) (string, error) {
	return "Table: wine_cards_wide\nColumns: card_key, wine_name, producer, harvest_year", nil
}

func (f *fakeCatalog) ReferenceValues(context.Context) (map[string][]string, error) {
	return map[string][]string{"wine_color": {"белое", "красное"}}, nil
}

type scriptedLLM struct {
	replies  []proxy.Message
	err      error
	requests []proxy.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req proxy.CompletionRequest) (*proxy.Completion, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return &proxy.Completion{Choices: []proxy.Choice{{Message: s.replies[i]}}}, nil
}

func toolCall(id, name, args string) proxy.Message {
	return proxy.Message{Role: "assistant", ToolCalls: []proxy.ToolCall{{
		ID: id, Type: "function", Function: proxy.FunctionCall{Name: name, Arguments: args},
	}}}
}

func answer(text string) proxy.Message {
	return proxy.Message{Role: "assistant", Content: text}
}

type fakeSearcher struct {
	result  websearch.Result
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) websearch.Result {
	f.queries = append(f.queries, query)
	r := f.result
	r.Query = query
	return r
}

type fixture struct {
	cat    *fakeCatalog
	store  *storage.Store
	llm    *scriptedLLM
	search *fakeSearcher
	a      *Assistant
}

func newFixture(t *testing.T, replies ...proxy.Message) *fixture {
	t.Helper()
	f := &fixture{
		cat:    newFakeCatalog(),
		search: &fakeSearcher{result: websearch.Result{OK: true, Engine: websearch.Engine}},
	}
	store, err := storage.Open(":memory:", f.cat)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store

	cfg := Config{Catalog: f.cat, Records: store, Search: f.search}
	if len(replies) > 0 {
		f.llm = &scriptedLLM{replies: replies}
		cfg.LLM = f.llm
	}
	f.a, err = New(context.Background(), cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) listed(ids ...string) []candidates.Item {
	var out []candidates.Item
	for _, id := range ids {
		c, _ := f.cat.find(id)
		out = append(out, candidates.Item{ID: c.CardKey, Name: c.Name, Producer: c.Producer, Year: c.Year})
	}
	return out
}

func (f *fixture) records(t *testing.T) []storage.Record {
	t.Helper()
	recs, err := f.store.ListRecords(context.Background(), storage.Filter{})
	require.NoError(t, err)
	return recs
}

// --- deterministic intents ---

func TestAsk_LikeByPosition(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{
		Text:    "поставь лайк 2",
		Context: session.Context{Candidates: f.listed("101", "102", "103")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Лайк сохранен для вина: Кюве Приват, Абрау-Дюрсо, 2020.", res.Answer)
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "102", recs[0].WineID)
	assert.Equal(t, storage.TypeLike, recs[0].RecordType)
	assert.Equal(t, storage.LikeContent, recs[0].Content)
	assert.Equal(t, storage.DefaultUser, recs[0].User)

	assert.True(t, res.Meta.ClearPending)
	require.Len(t, res.Meta.PublicRecordOps, 1)
	assert.Equal(t, "contextual_add_public_record", res.Meta.PublicRecordOps[0].Op)
	assert.Zero(t, res.Meta.Perf.LLMRounds)
}

func TestAsk_LikeWithoutListContext(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{Text: "поставь лайк 2"})
	require.NoError(t, err)
	assert.Equal(t, msgNoListContext, res.Answer)
	assert.Empty(t, f.records(t))
}

func TestAsk_OutOfRangeKeepsPending(t *testing.T) {
	f := newFixture(t)
	p := pending.AwaitTarget(pending.Like, "", "Кюве Приват", f.listed("101", "102"))
	res, err := f.a.Ask(context.Background(), Turn{Text: "5", Context: session.Context{Pending: p}})
	require.NoError(t, err)

	assert.Equal(t, "Позиции 5 вне диапазона 1..2. Укажите корректные номера.", res.Answer)
	_, changed := res.Meta.PendingUpdate()
	assert.False(t, changed)
	assert.Empty(t, f.records(t))
}

func TestAsk_AmbiguousNameThenPick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := session.Context{}

	res, err := f.a.Ask(ctx, Turn{Text: "поставь лайк для вина Кюве Приват", Context: sc})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Answer, "Найдено несколько вариантов для лайка."), res.Answer)
	assert.Contains(t, res.Answer, "2. Кюве Приват, Абрау-Дюрсо, 2020")
	require.NotNil(t, res.Meta.SetPending)
	assert.Equal(t, pending.AwaitingTarget, res.Meta.SetPending.State)
	res.Meta.Apply(&sc)
	require.Len(t, sc.Pending.Candidates, 2)

	res, err = f.a.Ask(ctx, Turn{Text: "2", Context: sc})
	require.NoError(t, err)
	assert.Equal(t, "Лайк сохранен для вина: Кюве Приват, Абрау-Дюрсо, 2020.", res.Answer)
	res.Meta.Apply(&sc)
	assert.False(t, sc.Pending.Active())

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "102", recs[0].WineID)
}

func TestAsk_UnknownNameFails(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{Text: "поставь лайк для вина Шардоне Мечта"})
	require.NoError(t, err)
	assert.Equal(t, msgNameNotFound, res.Answer)
}

func TestAsk_UniqueNameSavesDirectly(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{Text: "поставь лайк для вина Красностоп", User: "Анна"})
	require.NoError(t, err)
	assert.Equal(t, "Лайк сохранен для вина: Красностоп, Сикоры, 2018.", res.Answer)
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Анна", recs[0].User)
}

func TestAsk_NoteAwaitsContentThenSaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := session.Context{Candidates: f.listed("101", "102", "103")}

	res, err := f.a.Ask(ctx, Turn{Text: "добавь заметку для позиции 3", Context: sc})
	require.NoError(t, err)
	assert.Equal(t, "Определены вина: Красностоп, Сикоры, 2018. Теперь укажите текст заметки в формате:\n"+
		"заметка для выбранного вина: <текст>", res.Answer)
	require.NotNil(t, res.Meta.SetPending)
	assert.Equal(t, pending.AwaitingContent, res.Meta.SetPending.State)
	res.Meta.Apply(&sc)

	res, err = f.a.Ask(ctx, Turn{Text: "заметка для выбранного вина: терпкое, 2 часа декантировать", Context: sc})
	require.NoError(t, err)
	assert.Equal(t, "Заметка сохранена для вина: Красностоп, Сикоры, 2018.\n"+
		"Текст заметки: терпкое, 2 часа декантировать", res.Answer)
	assert.True(t, res.Meta.ClearPending)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "103", recs[0].WineID)
	assert.Equal(t, "терпкое, 2 часа декантировать", recs[0].Content)
}

func TestAsk_NoteWithInlineContent(t *testing.T) {
	f := newFixture(t)
	sc := session.Context{Candidates: f.listed("101", "102", "103")}
	res, err := f.a.Ask(context.Background(), Turn{Text: "добавь заметку к позиции 1: отличное игристое", Context: sc})
	require.NoError(t, err)
	assert.Equal(t, "Заметка сохранена для вина: Кюве Приват, Абрау-Дюрсо, 2019.\nТекст заметки: отличное игристое", res.Answer)
}

func TestAsk_LikeAllDedupesTargets(t *testing.T) {
	f := newFixture(t)
	listed := f.listed("101", "101", "103")
	res, err := f.a.Ask(context.Background(), Turn{
		Text:    "поставь лайк всем из списка",
		Context: session.Context{Candidates: listed},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Answer, "Лайк сохранён для 2 вин:"), res.Answer)
	assert.Contains(t, res.Answer, "сохранены только уникальные записи")
	assert.Len(t, f.records(t), 2)
}

func TestAsk_MyRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddRecord(ctx, "Гость", "like", "", "101")
	require.NoError(t, err)
	_, err = f.store.AddRecord(ctx, "Гость", "note", "к утке", "103")
	require.NoError(t, err)
	_, err = f.store.AddRecord(ctx, "Борис", "like", "", "103")
	require.NoError(t, err)

	res, err := f.a.Ask(ctx, Turn{Text: "покажи мои лайки"})
	require.NoError(t, err)
	lines := strings.Split(res.Answer, "\n")
	require.Len(t, lines, 2, res.Answer)
	assert.Equal(t, "Найдено 1 ваших лайков (пользователь: Гость).", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1. [лайк] Кюве Приват, Абрау-Дюрсо, 2019 | "), lines[1])
	require.Len(t, res.Meta.PublicRecordOps, 1)
	assert.Equal(t, "direct_list_my_records", res.Meta.PublicRecordOps[0].Op)

	res, err = f.a.Ask(ctx, Turn{Text: "покажи мои записи", User: "Вера"})
	require.NoError(t, err)
	assert.Equal(t, "У вас пока нет публичных записей (лайков/заметок).", res.Answer)
}

func TestAsk_Capabilities(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{Text: "Что ты умеешь?"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCapabilities, res.Answer)
	assert.Equal(t, "builtin", res.Meta.InfoSource)
	assert.NotEmpty(t, res.Meta.Perf.SelectedModel)
}

func TestAsk_WithoutBackend(t *testing.T) {
	f := newFixture(t)
	res, err := f.a.Ask(context.Background(), Turn{Text: "какое вино подать к рыбе"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Answer, "LLM недоступен"), res.Answer)
}

// --- tool loop ---

func TestAsk_ToolLoop(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", ToolExecuteSQL, `{"query":"SELECT card_key, wine_name FROM wine_cards_wide WHERE wine_color = 'красное'"}`),
		answer("Рекомендую Красностоп. Подробнее: https://simplewine.ru/x\nИсточники: simplewine.ru"),
	)
	f.cat.rows = []catalog.Row{
		{"card_key": "103", "wine_name": "Красностоп"},
		{"card_key": "101", "wine_name": "Кюве Приват"},
	}

	res, err := f.a.Ask(context.Background(), Turn{
		Text:    "Что есть из красных вин?",
		History: []session.Turn{{Role: "user", Content: "привет"}, {Role: "assistant", Content: "Здравствуйте"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Рекомендую Красностоп. Подробнее:", res.Answer)
	assert.True(t, strings.HasPrefix(res.Meta.SQL, "SELECT * FROM ("), res.Meta.SQL)
	assert.Equal(t, []string{res.Meta.SQL}, res.Meta.SQLQueries)
	assert.Equal(t, 2, res.Meta.Rows)
	require.Len(t, res.Meta.Candidates, 2)
	assert.Equal(t, "103", res.Meta.Candidates[0].ID)
	assert.Equal(t, "Сикоры", res.Meta.Candidates[0].Producer)

	assert.Equal(t, 2, res.Meta.Perf.LLMRounds)
	assert.Equal(t, 1, res.Meta.Perf.DBToolCalls)
	assert.Equal(t, 1, res.Meta.Perf.ToolCallsTotal)
	assert.Empty(t, f.search.queries, "rows were found, no fallback lookup expected")

	require.Len(t, f.llm.requests, 2)
	first := f.llm.requests[0]
	assert.Equal(t, "system", first.Messages[0].Role)
	assert.Len(t, first.Messages, 4)
	assert.Len(t, first.Tools, 5)
	require.NotNil(t, first.Temperature)
	assert.Zero(t, *first.Temperature)

	msgs := f.llm.requests[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Content), &payload))
	assert.Equal(t, true, payload["ok"])
	assert.EqualValues(t, 2, payload["row_count"])
	assert.Contains(t, last.Content, "Красностоп", "non-ASCII must not be escaped")
}

func TestAsk_ComplexQuestionUsesComplexModel(t *testing.T) {
	f := newFixture(t, answer("ok"))
	res, err := f.a.Ask(context.Background(), Turn{Text: "Сравни Кюве Приват и Красностоп"})
	require.NoError(t, err)
	assert.Equal(t, defaultComplexModel, res.Meta.Model)
	assert.Equal(t, defaultComplexModel, f.llm.requests[0].Model)
}

func TestAsk_FullListShortCircuits(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", ToolExecuteSQL, `{"query":"SELECT wine_name, producer, url FROM wine_cards_wide"}`),
		answer("should not be used"),
	)
	f.cat.rows = []catalog.Row{
		{"wine_name": "Кюве Приват", "producer": "Абрау-Дюрсо", "url": "https://abraudurso.ru/1"},
		{"wine_name": "Красностоп", "producer": "Сикоры", "url": nil},
	}

	res, err := f.a.Ask(context.Background(), Turn{Text: "покажи весь список"})
	require.NoError(t, err)
	assert.Equal(t, "Найдено записей: 2. Полный список:\n"+
		"1. Вино: Кюве Приват | Производитель: Абрау-Дюрсо\n"+
		"2. Вино: Красностоп | Производитель: Сикоры", res.Answer)
	assert.Len(t, f.llm.requests, 1)
}

func TestAsk_RoundCap(t *testing.T) {
	f := newFixture(t, toolCall("c", ToolExecuteSQL, `{"query":"SELECT 1"}`))
	res, err := f.a.Ask(context.Background(), Turn{Text: "рислинг"})
	require.NoError(t, err)
	assert.Equal(t, RoundsExhausted, res.Answer)
	assert.Len(t, f.llm.requests, MaxRounds)
	assert.Equal(t, MaxRounds, res.Meta.Perf.LLMRounds)
	assert.Equal(t, MaxRounds, res.Meta.Perf.DBToolCalls)
}

func TestAsk_ToolFailuresFeedBack(t *testing.T) {
	f := newFixture(t,
		proxy.Message{Role: "assistant", ToolCalls: []proxy.ToolCall{
			{ID: "a", Type: "function", Function: proxy.FunctionCall{Name: ToolExecuteSQL, Arguments: `{"query":"DELETE FROM wine_cards_wide"}`}},
			{ID: "b", Type: "function", Function: proxy.FunctionCall{Name: ToolExecuteSQL, Arguments: `{not json`}},
			{ID: "c", Type: "function", Function: proxy.FunctionCall{Name: "drop_everything", Arguments: `{}`}},
			{ID: "d", Type: "function", Function: proxy.FunctionCall{Name: ToolAddRecord, Arguments: `{"wine_id":"999","record_type":"like"}`}},
			{ID: "e", Type: "function", Function: proxy.FunctionCall{Name: ToolRecordSummary, Arguments: `{"wine_id":""}`}},
		}},
		answer("Не получилось."),
	)
	_, err := f.a.Ask(context.Background(), Turn{Text: "удали всё"})
	require.NoError(t, err)

	tools := map[string]string{}
	for _, m := range f.llm.requests[1].Messages {
		if m.Role == "tool" {
			tools[m.ToolCallID] = m.Content
		}
	}
	require.Len(t, tools, 5)
	assert.Contains(t, tools["a"], `"error":"SQL отклонен: Запрещенное ключевое слово в SQL: delete"`)
	assert.Contains(t, tools["b"], invalidArgs)
	assert.Contains(t, tools["c"], "Неизвестный инструмент: drop_everything")
	assert.Contains(t, tools["d"], "wine_id не найден в каталоге")
	assert.Contains(t, tools["e"], "Пустой wine_id.")
	assert.Empty(t, f.cat.queries, "rejected query must not reach the catalog")
}

func TestAsk_RecordToolsUseTurnUser(t *testing.T) {
	f := newFixture(t,
		toolCall("a", ToolAddRecord, `{"wine_id":"103","record_type":"note","content":"к шашлыку"}`),
		answer("Готово."),
	)
	res, err := f.a.Ask(context.Background(), Turn{Text: "запомни: красностоп к шашлыку", User: "ext:42"})
	require.NoError(t, err)

	require.Len(t, res.Meta.PublicRecordOps, 1)
	op := res.Meta.PublicRecordOps[0]
	assert.True(t, op.OK)
	require.NotNil(t, op.Record)
	assert.Equal(t, "ext:42", op.Record.User)
	assert.Equal(t, "к шашлыку", op.Record.Content)
}

func TestAsk_FallbackLookupForPrice(t *testing.T) {
	f := newFixture(t, answer("Цена зависит от магазина."))
	f.search.result.Results = []websearch.Source{
		{Title: "a", URL: "https://simplewine.ru/a"},
		{Title: "a again", URL: "https://simplewine.ru/a"},
	}
	res, err := f.a.Ask(context.Background(), Turn{Text: "сколько стоит Кюве Приват?"})
	require.NoError(t, err)

	assert.Equal(t, []string{"сколько стоит Кюве Приват?"}, f.search.queries)
	assert.Equal(t, 1, res.Meta.Perf.FallbackWebCalls)
	require.Len(t, res.Meta.WebToolLogs, 1)
	assert.Equal(t, "fallback", res.Meta.WebToolLogs[0].Source)
	assert.Len(t, res.Meta.WebResults, 1)
	assert.Equal(t, "Цена зависит от магазина.", res.Answer)
}

func TestAsk_NoFallbackAfterToolLookup(t *testing.T) {
	f := newFixture(t,
		toolCall("w", ToolSearchWeb, `{"query":"кюве приват цена","max_results":3}`),
		answer("Около 1500 ₽."),
	)
	f.search.result.Results = []websearch.Source{{Title: "a", URL: "https://winestyle.ru/a"}}
	res, err := f.a.Ask(context.Background(), Turn{Text: "цена кюве приват"})
	require.NoError(t, err)

	assert.Len(t, f.search.queries, 1)
	assert.Equal(t, 1, res.Meta.Perf.WebToolCalls)
	assert.Zero(t, res.Meta.Perf.FallbackWebCalls)
	assert.Equal(t, []string{"кюве приват цена"}, res.Meta.WebQueries)
}

func TestAsk_BackendFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no key", proxy.ErrNoAPIKey, "LLM недоступен"},
		{"breaker", fmt.Errorf("wrapped: %w", proxy.ErrCircuitOpen), "LLM временно недоступен"},
		{"other", errors.New("status 500"), "Извините, не удалось получить ответ от LLM: status 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, answer(""))
			f.llm.err = tt.err
			res, err := f.a.Ask(context.Background(), Turn{Text: "расскажи про рислинг"})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(res.Answer, tt.want), res.Answer)
		})
	}
}

func TestAsk_CanceledContext(t *testing.T) {
	f := newFixture(t, answer(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.llm.err = context.Canceled
	_, err := f.a.Ask(ctx, Turn{Text: "расскажи про рислинг"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_ToolCatalog(t *testing.T) {
	cat := newFakeCatalog()
	a, err := New(context.Background(), Config{Catalog: cat})
	require.NoError(t, err)
	var names []string
	for _, tool := range a.Tools() {
		names = append(names, tool.Function.Name)
		assert.True(t, json.Valid(tool.Function.Parameters), tool.Function.Name)
	}
	assert.Equal(t, []string{ToolExecuteSQL, ToolSearchWeb}, names)
	assert.Contains(t, a.SystemPrompt(), "- wine_color: белое, красное")
	assert.Contains(t, a.SystemPrompt(), "- sugar_style: []")

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestMetaApply(t *testing.T) {
	items := []candidates.Item{{ID: "1"}, {ID: "2"}}
	sc := session.Context{Candidates: []candidates.Item{{ID: "old"}}}

	Meta{}.Apply(&sc)
	assert.Equal(t, "old", sc.Candidates[0].ID)

	next := pending.AwaitTarget(pending.Like, "", "x", items)
	Meta{Candidates: items, SetPending: &next}.Apply(&sc)
	assert.Equal(t, items, sc.Candidates)
	assert.Equal(t, pending.AwaitingTarget, sc.Pending.State)

	Meta{ClearPending: true}.Apply(&sc)
	assert.False(t, sc.Pending.Active())
}
