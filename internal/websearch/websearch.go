// Package websearch looks up wine prices and availability through the hosted
// web_search tool of the Responses API and ranks the returned sources.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/kalambet/vinochat/internal/proxy"
)

// Engine identifies the lookup provider in results.
const Engine = "openai_web_search"

const instructions = "Ты выполняешь web-поиск только по теме вина. " +
	"Игнорируй словари, энциклопедии, переводчики и нерелевантные страницы. " +
	"Приоритет: цены, наличие в магазинах, карточки вина, винные каталоги."

var wineMarkers = []string{
	"вино", "wine", "vino", "vin", "цена", "price", "купить", "магазин",
	"catalog", "product", "shop", "wine.rbc.ru", "russianvine", "vinoteki",
	"inwine", "winestyle", "simplewine",
}

var nonWineMarkers = []string{
	"wikipedia.org", "wiktionary", "merriam-webster", "dictionary",
	"vocabulary", "musicca", "britannica", "wordreference",
}

// Responder sends a Responses API request. *proxy.Client and *proxy.Breaker satisfy it.
type Responder interface {
	Respond(ctx context.Context, req proxy.ResponsesRequest) (json.RawMessage, error)
}

// Config tunes the hosted search tool.
type Config struct {
	Model          string
	ContextSize    string
	Country        string
	City           string
	AllowedDomains []string
}

// Source is one ranked link.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain,omitempty"`
}

// Result is the outcome of a lookup. OK=false is a normal outcome.
type Result struct {
	OK          bool     `json:"ok"`
	Query       string   `json:"query,omitempty"`
	SearchQuery string   `json:"search_query,omitempty"`
	Engine      string   `json:"engine,omitempty"`
	Model       string   `json:"model,omitempty"`
	Results     []Source `json:"results,omitempty"`
	Count       int      `json:"count,omitempty"`
	Error       string   `json:"error,omitempty"`
	AnswerText  string   `json:"answer_text,omitempty"`
}

// Client performs wine-focused lookups.
type Client struct {
	api     Responder
	enabled bool
	cfg     Config
	logger  *slog.Logger
}

// New creates a Client. A nil api or enabled=false makes every Search return
// an unavailable result.
func New(api Responder, enabled bool, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	cfg.ContextSize = strings.ToLower(strings.TrimSpace(cfg.ContextSize))
	switch cfg.ContextSize {
	case "low", "medium", "high":
	default:
		cfg.ContextSize = "medium"
	}
	cfg.Country = strings.ToUpper(strings.TrimSpace(cfg.Country))
	cfg.City = strings.TrimSpace(cfg.City)
	return &Client{api: api, enabled: enabled, cfg: cfg, logger: logger}
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeQuery steers a query towards wine shops: it adds "вино" and
// "цена купить" when missing and spells out known aliases.
func NormalizeQuery(query string) string {
	q := squash(query)
	if q == "" {
		return q
	}
	low := strings.ToLower(q)
	var extras []string
	if !containsAny(low, "вино", "wine", "vino", "вин") {
		extras = append(extras, "вино")
	}
	if !containsAny(low, "цена", "стоит", "price", "купить", "налич") {
		extras = append(extras, "цена купить")
	}
	if strings.Contains(low, "козак") && !strings.Contains(low, "cosaque") {
		extras = append(extras, "cosaque")
	}
	if strings.Contains(low, "cosaque") && !strings.Contains(low, "козак") {
		extras = append(extras, "козак")
	}
	if strings.Contains(low, "магнум") && !containsAny(low, "1.5", "1,5") {
		extras = append(extras, "1.5 л")
	}
	if len(extras) == 0 {
		return q
	}
	return q + " " + strings.Join(extras, " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (c *Client) fail(q, searchQuery, msg, answer string) Result {
	return Result{OK: false, Error: msg, Query: q, SearchQuery: searchQuery, Engine: Engine, AnswerText: answer}
}

// Search runs one lookup. maxResults is clamped to 1..10.
func (c *Client) Search(ctx context.Context, query string, maxResults int) Result {
	q := squash(query)
	if q == "" {
		return Result{OK: false, Error: "Пустой поисковый запрос."}
	}
	if !c.enabled {
		return c.fail(q, q, "Web-поиск недоступен: отключен в настройках.", "")
	}
	if c.api == nil {
		return c.fail(q, q, "Web-поиск недоступен: не задан OPENAI_API_KEY.", "")
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	maxResults = max(1, min(maxResults, 10))

	normalized := NormalizeQuery(q)
	raw, err := c.api.Respond(ctx, c.request(normalized))
	if errors.Is(err, proxy.ErrNoAPIKey) {
		return c.fail(q, q, "Web-поиск недоступен: не задан OPENAI_API_KEY.", "")
	}
	if err != nil {
		c.logger.Warn("web search failed", "query", q, "error", err)
		return c.fail(q, q, fmt.Sprintf("Ошибка OpenAI web_search: %v", err), "")
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return c.fail(q, q, fmt.Sprintf("Ошибка OpenAI web_search: %v", err), "")
	}

	searchQuery := extractSearchQuery(doc, q)
	answer := extractMessageText(doc)
	sources := extractSources(doc)
	if len(sources) == 0 && answer != "" {
		sources = linksFromText(answer)
	}
	if len(sources) == 0 {
		return c.fail(q, searchQuery, "OpenAI web_search не вернул источников. Уточните запрос.", answer)
	}

	results := rankSources(normalized, sources, maxResults)
	if len(results) == 0 {
		return c.fail(q, searchQuery, "Web-поиск вернул только нерелевантные источники. Уточните название вина/винтаж/объем.", answer)
	}
	for i := range results {
		results[i].Domain = Domain(results[i].URL)
	}

	return Result{
		OK:          true,
		Query:       q,
		SearchQuery: searchQuery,
		Engine:      Engine,
		Model:       c.cfg.Model,
		Results:     results,
		Count:       len(results),
		AnswerText:  answer,
	}
}

func (c *Client) request(query string) proxy.ResponsesRequest {
	tool := proxy.WebSearchTool{Type: "web_search", SearchContextSize: c.cfg.ContextSize}
	if c.cfg.Country != "" {
		tool.UserLocation = &proxy.UserLocation{Type: "approximate", Country: c.cfg.Country, City: c.cfg.City}
	}
	var domains []string
	for _, d := range c.cfg.AllowedDomains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) > 0 {
		tool.Filters = &proxy.SearchFilters{AllowedDomains: domains}
	}
	return proxy.ResponsesRequest{
		Model: c.cfg.Model,
		Input: []proxy.InputMessage{
			{Role: "developer", Content: []proxy.InputContent{{Type: "input_text", Text: instructions}}},
			{Role: "user", Content: []proxy.InputContent{{Type: "input_text", Text: query}}},
		},
		Tools:           []proxy.WebSearchTool{tool},
		ToolChoice:      "required",
		MaxToolCalls:    1,
		Include:         []string{"web_search_call.action.sources"},
		Temperature:     proxy.Float(0),
		MaxOutputTokens: 1200,
	}
}

// Domain returns the registrable domain of rawURL, or its host when the
// public suffix list does not know it.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func str(v any) string {
	s, _ := v.(string)
	return squash(s)
}

func items(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func outputOfType(doc map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, it := range items(doc["output"]) {
		if it["type"] == typ {
			out = append(out, it)
		}
	}
	return out
}

func extractSearchQuery(doc map[string]any, fallback string) string {
	for _, call := range outputOfType(doc, "web_search_call") {
		action, _ := call["action"].(map[string]any)
		if q := str(action["query"]); q != "" {
			return q
		}
		if list, ok := action["queries"].([]any); ok {
			for _, v := range list {
				if q := str(v); q != "" {
					return q
				}
			}
		}
	}
	return fallback
}

func extractMessageText(doc map[string]any) string {
	if t := str(doc["output_text"]); t != "" {
		return t
	}
	for _, msg := range outputOfType(doc, "message") {
		var parts []string
		for _, p := range items(msg["content"]) {
			if p["type"] == "output_text" || p["type"] == "text" {
				parts = append(parts, str(p["text"]))
			}
		}
		if t := squash(strings.Join(parts, " ")); t != "" {
			return t
		}
	}
	return ""
}

func parseSource(m map[string]any) (Source, bool) {
	u := str(m["url"])
	if u == "" {
		u = str(m["link"])
	}
	if u == "" {
		return Source{}, false
	}
	title := firstNonEmpty(str(m["title"]), str(m["name"]), "Источник")
	snippet := firstNonEmpty(str(m["snippet"]), str(m["text"]), str(m["description"]))
	return Source{Title: title, URL: u, Snippet: snippet}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type collector struct {
	seen map[string]bool
	out  []Source
}

func (c *collector) add(m map[string]any) {
	s, ok := parseSource(m)
	if !ok || c.seen[s.URL] {
		return
	}
	c.seen[s.URL] = true
	c.out = append(c.out, s)
}

func (c *collector) walk(node any) {
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n["url"].(string); ok {
			c.add(n)
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.walk(n[k])
		}
	case []any:
		for _, v := range n {
			c.walk(v)
		}
	}
}

// extractSources prefers action sources, then message citations, then any url in the document.
func extractSources(doc map[string]any) []Source {
	c := &collector{seen: make(map[string]bool)}
	for _, call := range outputOfType(doc, "web_search_call") {
		action, _ := call["action"].(map[string]any)
		for _, src := range items(action["sources"]) {
			c.add(src)
		}
	}
	for _, msg := range outputOfType(doc, "message") {
		for _, part := range items(msg["content"]) {
			for _, ann := range items(part["annotations"]) {
				c.add(ann)
			}
		}
	}
	if len(c.out) == 0 {
		c.walk(doc)
	}
	return c.out
}

var textLink = regexp.MustCompile(`https?://[^\s\])>]+`)

func linksFromText(text string) []Source {
	var out []Source
	seen := make(map[string]bool)
	for _, link := range textLink.FindAllString(text, -1) {
		clean := squash(strings.TrimRight(link, ".,;!?:"))
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, Source{Title: "Источник", URL: clean})
	}
	return out
}

var queryToken = regexp.MustCompile(`[0-9a-zа-яё]+`)

func score(query string, s Source) int {
	hay := strings.ToLower(s.Title + " " + s.Snippet + " " + s.URL)
	n := 0
	for _, m := range wineMarkers {
		if strings.Contains(hay, m) {
			n += 3
		}
	}
	for _, m := range nonWineMarkers {
		if strings.Contains(hay, m) {
			n -= 8
		}
	}
	for _, tok := range queryToken.FindAllString(strings.ToLower(query), -1) {
		if len([]rune(tok)) >= 3 && strings.Contains(hay, tok) {
			n++
		}
	}
	return n
}

// rankSources orders sources by wine relevance. Sources scoring at least 2
// are kept; if none do, anything above -8 is kept.
func rankSources(query string, sources []Source, limit int) []Source {
	type scored struct {
		score int
		src   Source
	}
	list := make([]scored, len(sources))
	for i, s := range sources {
		list[i] = scored{score(query, s), s}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	pick := func(keep func(int) bool) []Source {
		var out []Source
		for _, s := range list {
			if keep(s.score) && len(out) < limit {
				out = append(out, s.src)
			}
		}
		return out
	}
	if out := pick(func(n int) bool { return n >= 2 }); len(out) > 0 {
		return out
	}
	return pick(func(n int) bool { return n > -8 })
}
