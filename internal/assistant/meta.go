package assistant

import (
	"math"
	"time"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/pending"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/storage"
	"github.com/kalambet/vinochat/internal/websearch"
)

// Meta describes how a turn was answered. It is returned to the caller and
// written to the perf log; nothing in it is persisted by the assistant.
type Meta struct {
	SQL             string             `json:"sql"`
	SQLQueries      []string           `json:"sql_queries"`
	WebQueries      []string           `json:"web_queries"`
	WebResults      []websearch.Source `json:"web_results"`
	WebToolLogs     []WebToolLog       `json:"web_tool_logs"`
	Rows            int                `json:"rows"`
	Model           string             `json:"model"`
	PublicRecordOps []RecordOp         `json:"public_record_ops"`
	Candidates      []candidates.Item  `json:"wine_context_candidates,omitempty"`
	SetPending      *pending.Action    `json:"set_pending_record_action,omitempty"`
	ClearPending    bool               `json:"clear_pending_record_action,omitempty"`
	InfoSource      string             `json:"info_source,omitempty"`

	// Filled in by front ends.
	PublicUser       string `json:"public_user,omitempty"`
	PublicUserSource string `json:"public_user_source,omitempty"`

	Perf Perf `json:"perf"`
}

func newMeta(model string) Meta {
	return Meta{
		SQLQueries:      []string{},
		WebQueries:      []string{},
		WebResults:      []websearch.Source{},
		WebToolLogs:     []WebToolLog{},
		PublicRecordOps: []RecordOp{},
		Model:           model,
	}
}

// PendingUpdate reports what the session's pending action should become.
// ok=false means keep it as is.
func (m Meta) PendingUpdate() (next pending.Action, ok bool) {
	switch {
	case m.SetPending != nil:
		return *m.SetPending, true
	case m.ClearPending:
		return pending.Clear(), true
	}
	return pending.Action{}, false
}

// Apply folds the turn's outcome into a session context: a non-empty
// candidate list replaces the old one, and the pending action follows
// PendingUpdate.
func (m Meta) Apply(c *session.Context) {
	if len(m.Candidates) > 0 {
		c.Candidates = candidates.Cap(m.Candidates)
	}
	if next, ok := m.PendingUpdate(); ok {
		c.Pending = next
	}
}

// RecordOp logs one annotation store call.
type RecordOp struct {
	Op         string           `json:"op"`
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	Count      int              `json:"count,omitempty"`
	User       string           `json:"user,omitempty"`
	RecordType string           `json:"record_type,omitempty"`
	Record     *storage.Record  `json:"record,omitempty"`
	Records    []storage.Record `json:"records,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	Summary    *storage.Summary `json:"summary,omitempty"`
}

// WebToolLog logs one lookup, either requested by the model or the fallback.
type WebToolLog struct {
	Source      string    `json:"source"`
	OK          bool      `json:"ok"`
	Engine      string    `json:"engine,omitempty"`
	Query       string    `json:"query,omitempty"`
	SearchQuery string    `json:"search_query,omitempty"`
	Count       int       `json:"count"`
	Error       string    `json:"error,omitempty"`
	Results     []LinkRef `json:"results"`
}

// LinkRef is a title and url pair.
type LinkRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func newWebToolLog(source string, r websearch.Result) WebToolLog {
	l := WebToolLog{
		Source:      source,
		OK:          r.OK,
		Engine:      r.Engine,
		Query:       r.Query,
		SearchQuery: r.SearchQuery,
		Count:       r.Count,
		Error:       r.Error,
		Results:     []LinkRef{},
	}
	for i, s := range r.Results {
		if i == 5 {
			break
		}
		l.Results = append(l.Results, LinkRef{Title: s.Title, URL: s.URL})
	}
	return l
}

// Perf aggregates timings of one turn. Durations are milliseconds.
type Perf struct {
	SelectedModel      string  `json:"selected_model"`
	LLMRounds          int     `json:"llm_rounds"`
	LLMWaitMsTotal     float64 `json:"llm_wait_ms_total"`
	LLMWaitMsAvg       float64 `json:"llm_wait_ms_avg,omitempty"`
	ToolCallsTotal     int     `json:"tool_calls_total"`
	DBToolCalls        int     `json:"db_tool_calls"`
	DBQueryMsTotal     float64 `json:"db_query_ms_total"`
	WebToolCalls       int     `json:"web_tool_calls"`
	WebQueryMsTotal    float64 `json:"web_query_ms_total"`
	FallbackWebCalls   int     `json:"fallback_web_calls"`
	FallbackWebMsTotal float64 `json:"fallback_web_ms_total"`
	TotalMs            float64 `json:"total_ms"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// finish stamps the total and rounds every timing.
func (p Perf) finish(started time.Time) Perf {
	p.TotalMs = round2(ms(time.Since(started)))
	if p.LLMRounds > 0 {
		p.LLMWaitMsAvg = round2(p.LLMWaitMsTotal / float64(p.LLMRounds))
	}
	p.LLMWaitMsTotal = round2(p.LLMWaitMsTotal)
	p.DBQueryMsTotal = round2(p.DBQueryMsTotal)
	p.WebQueryMsTotal = round2(p.WebQueryMsTotal)
	p.FallbackWebMsTotal = round2(p.FallbackWebMsTotal)
	return p
}
