package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
	"github.com/kalambet/vinochat/internal/websearch"
)

// Tool names exposed to the backend.
const (
	ToolExecuteSQL    = "execute_sql"
	ToolSearchWeb     = "search_web"
	ToolAddRecord     = "add_public_record"
	ToolListRecords   = "list_public_records"
	ToolRecordSummary = "get_wine_public_summary"
)

const invalidArgs = "Невалидный JSON аргументов инструмента."

func function(name, description, parameters string) proxy.Tool {
	return proxy.Tool{
		Type: "function",
		Function: proxy.FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(parameters),
		},
	}
}

func queryTools(table string) []proxy.Tool {
	return []proxy.Tool{
		function(ToolExecuteSQL, "Выполняет безопасный SELECT-запрос в SQLite и возвращает строки.", `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "SQL SELECT/CTE запрос к таблице `+table+`"}
			},
			"required": ["query"]
		}`),
		function(ToolSearchWeb, "Ищет информацию в интернете по винной теме: наличие в продаже, цены, магазины, обзоры, новости.", `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Поисковый запрос"},
				"max_results": {"type": "integer", "description": "Максимум результатов (1..10)"}
			},
			"required": ["query"]
		}`),
	}
}

func recordTools(table string) []proxy.Tool {
	return []proxy.Tool{
		function(ToolAddRecord, "Добавляет публичную пользовательскую запись по вину: лайк или заметку.", `{
			"type": "object",
			"properties": {
				"wine_id": {"type": "string", "description": "Идентификатор вина: card_key или url из `+table+`"},
				"record_type": {"type": "string", "description": "Тип записи: like или note"},
				"content": {"type": "string", "description": "Содержимое заметки (для like можно не передавать)"},
				"user": {"type": "string", "description": "Имя пользователя (опционально)"}
			},
			"required": ["wine_id", "record_type"]
		}`),
		function(ToolListRecords, "Читает публичные записи пользователей (лайки/заметки).", `{
			"type": "object",
			"properties": {
				"wine_id": {"type": "string", "description": "Фильтр по вину (card_key или url)"},
				"record_type": {"type": "string", "description": "Фильтр: like или note"},
				"user": {"type": "string", "description": "Фильтр по имени пользователя"}
			}
		}`),
		function(ToolRecordSummary, "Возвращает агрегат по публичным записям вина: число лайков и заметок.", `{
			"type": "object",
			"properties": {
				"wine_id": {"type": "string", "description": "Идентификатор вина: card_key или url из `+table+`"}
			},
			"required": ["wine_id"]
		}`),
	}
}

// failure is the tool result of a rejected or failed call.
type failure struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error"`
	ElapsedMs float64 `json:"elapsed_ms,omitempty"`
}

func fail(msg string) failure { return failure{Error: msg} }

type sqlResult struct {
	OK        bool          `json:"ok"`
	SafeSQL   string        `json:"safe_sql"`
	RowCount  int           `json:"row_count"`
	Rows      []catalog.Row `json:"rows"`
	Truncated bool          `json:"truncated_for_model"`
	ElapsedMs float64       `json:"elapsed_ms"`

	all []catalog.Row
}

type webResult struct {
	websearch.Result
	ElapsedMs float64 `json:"elapsed_ms"`
}

type addResult struct {
	OK     bool           `json:"ok"`
	Record storage.Record `json:"record"`
}

type listResult struct {
	OK    bool             `json:"ok"`
	Count int              `json:"count"`
	Rows  []storage.Record `json:"rows"`
}

type summaryResult struct {
	OK      bool            `json:"ok"`
	Summary storage.Summary `json:"summary"`
}

// decodeArgs parses tool arguments; an empty string is an empty object.
func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	return json.Unmarshal([]byte(raw), v)
}

// encodeFailure is the tool result sent when a result cannot be rendered.
const encodeFailure = `{"ok":false,"error":"Не удалось сериализовать результат инструмента."}`

// encodeResult renders a tool result for the backend without escaping
// non-ASCII or HTML characters.
func encodeResult(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("assistant: encoding tool result", "error", err)
		return encodeFailure
	}
	return strings.TrimSpace(buf.String())
}

// round is the mutable state of one model-driven turn.
type round struct {
	text     string
	user     string
	fullList bool

	meta Meta

	// done is set when a full listing has been produced.
	done   bool
	answer string
}

func (a *Assistant) dispatch(ctx context.Context, call proxy.ToolCall, st *round) any {
	st.meta.Perf.ToolCallsTotal++
	switch call.Function.Name {
	case ToolExecuteSQL:
		return a.toolSQL(ctx, call.Function.Arguments, st)
	case ToolSearchWeb:
		return a.toolWeb(ctx, call.Function.Arguments, st)
	case ToolAddRecord:
		return a.toolAddRecord(ctx, call.Function.Arguments, st)
	case ToolListRecords:
		return a.toolListRecords(ctx, call.Function.Arguments, st)
	case ToolRecordSummary:
		return a.toolSummary(ctx, call.Function.Arguments, st)
	}
	return fail("Неизвестный инструмент: " + call.Function.Name)
}

func (a *Assistant) toolSQL(ctx context.Context, raw string, st *round) any {
	st.meta.Perf.DBToolCalls++
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return fail(invalidArgs)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return fail("Пустой SQL query.")
	}

	start := time.Now()
	safe, rows, err := a.catalog.ExecuteReadOnly(ctx, query, MaxSQLRows)
	elapsed := ms(time.Since(start))
	st.meta.Perf.DBQueryMsTotal += elapsed
	if err != nil {
		var verr *sqlguard.ValidationError
		if errors.As(err, &verr) {
			return failure{Error: "SQL отклонен: " + verr.Error(), ElapsedMs: round2(elapsed)}
		}
		slog.Warn("assistant: query failed", "sql", safe, "error", err)
		return failure{Error: "Ошибка выполнения SQL: " + err.Error(), ElapsedMs: round2(elapsed)}
	}

	res := sqlResult{
		OK:        true,
		SafeSQL:   safe,
		RowCount:  len(rows),
		Rows:      rows[:min(MaxRowsToModel, len(rows))],
		ElapsedMs: round2(elapsed),
		all:       rows,
	}
	res.Truncated = len(res.Rows) < len(rows)
	if res.Rows == nil {
		res.Rows = []catalog.Row{}
	}

	st.meta.SQL = safe
	st.meta.Rows = len(rows)
	st.meta.SQLQueries = append(st.meta.SQLQueries, safe)

	source := res.Rows
	if st.fullList {
		source = res.all
	}
	if found := candidates.Extract(ctx, source, a.catalog); len(found) > 0 {
		st.meta.Candidates = found
	}
	if st.fullList {
		st.done = true
		st.answer = FormatFullList(res.all)
	}
	return res
}

func (a *Assistant) toolWeb(ctx context.Context, raw string, st *round) any {
	st.meta.Perf.WebToolCalls++
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return fail(invalidArgs)
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 5
	}

	start := time.Now()
	r := a.lookup(ctx, args.Query, args.MaxResults)
	elapsed := ms(time.Since(start))
	st.meta.Perf.WebQueryMsTotal += elapsed

	st.recordLookup("tool_call", r)
	return webResult{Result: r, ElapsedMs: round2(elapsed)}
}

// lookup runs the lookup provider, treating a missing one as disabled.
func (a *Assistant) lookup(ctx context.Context, query string, maxResults int) websearch.Result {
	if a.search == nil {
		return websearch.Result{Query: strings.TrimSpace(query), Engine: websearch.Engine,
			Error: "Web-поиск недоступен: отключен в настройках."}
	}
	return a.search.Search(ctx, query, maxResults)
}

func (st *round) recordLookup(source string, r websearch.Result) {
	st.meta.WebToolLogs = append(st.meta.WebToolLogs, newWebToolLog(source, r))
	if !r.OK {
		return
	}
	q := r.SearchQuery
	if q == "" {
		q = r.Query
	}
	if q != "" {
		st.meta.WebQueries = append(st.meta.WebQueries, q)
	}
	st.meta.WebResults = append(st.meta.WebResults, r.Results...)
}

// recordFailure turns a store error into a tool failure. Rejections keep
// their message, anything else is prefixed with the tool name.
func recordFailure(tool string, err error) failure {
	var rerr *storage.RecordError
	if errors.As(err, &rerr) {
		return fail(rerr.Message)
	}
	slog.Warn("assistant: record tool failed", "tool", tool, "error", err)
	return fail(fmt.Sprintf("Ошибка %s: %v", tool, err))
}

func (a *Assistant) toolAddRecord(ctx context.Context, raw string, st *round) any {
	res := a.addRecord(ctx, raw, st.user)
	op := RecordOp{Op: ToolAddRecord}
	switch r := res.(type) {
	case addResult:
		op.OK = true
		op.Record = &r.Record
	case failure:
		op.Error = r.Error
	}
	st.meta.PublicRecordOps = append(st.meta.PublicRecordOps, op)
	return res
}

func (a *Assistant) addRecord(ctx context.Context, raw, defaultUser string) any {
	if a.records == nil {
		return fail("Хранилище публичных записей не подключено.")
	}
	var args struct {
		WineID     string `json:"wine_id"`
		RecordType string `json:"record_type"`
		Content    any    `json:"content"`
		User       string `json:"user"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return fail(invalidArgs)
	}
	user := strings.TrimSpace(args.User)
	if user == "" {
		user = defaultUser
	}
	rec, err := a.records.AddRecord(ctx, user, args.RecordType, catalog.Text(args.Content), args.WineID)
	if err != nil {
		return recordFailure(ToolAddRecord, err)
	}
	return addResult{OK: true, Record: rec}
}

func (a *Assistant) toolListRecords(ctx context.Context, raw string, st *round) any {
	res := a.listRecords(ctx, raw)
	op := RecordOp{Op: ToolListRecords}
	switch r := res.(type) {
	case listResult:
		op.OK = true
		op.Count = r.Count
	case failure:
		op.Error = r.Error
	}
	st.meta.PublicRecordOps = append(st.meta.PublicRecordOps, op)
	return res
}

func (a *Assistant) listRecords(ctx context.Context, raw string) any {
	if a.records == nil {
		return fail("Хранилище публичных записей не подключено.")
	}
	var args struct {
		WineID     string `json:"wine_id"`
		RecordType string `json:"record_type"`
		User       string `json:"user"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return fail(invalidArgs)
	}
	rows, err := a.records.ListRecords(ctx, storage.Filter{
		WineID:     args.WineID,
		RecordType: args.RecordType,
		User:       args.User,
	})
	if err != nil {
		return recordFailure(ToolListRecords, err)
	}
	if rows == nil {
		rows = []storage.Record{}
	}
	return listResult{OK: true, Count: len(rows), Rows: rows}
}

func (a *Assistant) toolSummary(ctx context.Context, raw string, st *round) any {
	res := a.summary(ctx, raw)
	op := RecordOp{Op: ToolRecordSummary}
	switch r := res.(type) {
	case summaryResult:
		op.OK = true
		op.Summary = &r.Summary
	case failure:
		op.Error = r.Error
	}
	st.meta.PublicRecordOps = append(st.meta.PublicRecordOps, op)
	return res
}

func (a *Assistant) summary(ctx context.Context, raw string) any {
	if a.records == nil {
		return fail("Хранилище публичных записей не подключено.")
	}
	var args struct {
		WineID string `json:"wine_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return fail(invalidArgs)
	}
	id := strings.TrimSpace(args.WineID)
	if id == "" {
		return fail("Пустой wine_id.")
	}
	sum, err := a.records.Summary(ctx, id)
	if err != nil {
		return recordFailure(ToolRecordSummary, err)
	}
	return summaryResult{OK: true, Summary: sum}
}
