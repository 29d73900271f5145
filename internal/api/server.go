package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/perflog"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxPerfTailLines   = 500
)

// Asker answers chat turns.
type Asker interface {
	Ask(ctx context.Context, t assistant.Turn) (assistant.Result, error)
	Capabilities() string
}

// Catalog is what the front ends need from the wine catalog.
type Catalog interface {
	Ping(ctx context.Context) error
	Path() string
	Table() string
	Columns(ctx context.Context) ([]string, error)
	SchemaString(ctx context.Context) (string, error)
	ExecuteReadOnly(ctx context.Context, raw string, maxRows int) (string, []catalog.Row, error)
	SearchByText(ctx context.Context, ref string, limit int) ([]catalog.Row, error)
}

// AppDeps wires the HTTP API to its collaborators. Records may be nil: the
// records endpoints then answer 503 and /health reports no records database.
type AppDeps struct {
	Assistant Asker
	Catalog   Catalog
	Records   *storage.Store
	Sessions  *session.Store
	Perf      *perflog.Logger

	// ExternalUserHeader names the header carrying a caller-supplied user id.
	ExternalUserHeader string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// NewAppHandler returns the HTTP API: health, capabilities, chat, the perf
// log tail and the public records endpoints. Only /chat is rate limited.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Perf == nil {
		deps.Perf = perflog.Nop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.New(0)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/capabilities", handleCapabilities(deps))
	r.With(RateLimit(NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst))).
		Post("/chat", handleChat(deps, validate))
	r.Get("/debug/perf/tail", handlePerfTail(deps))

	r.Post("/api/records", requireRecords(deps, handleCreateRecord(deps, validate)))
	r.Get("/api/records", requireRecords(deps, handleListRecords(deps)))
	r.Get("/api/records/by-wine/*", requireRecords(deps, handleRecordsByWine(deps)))

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fail := func(err error) {
			slog.Warn("api: health check failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		}
		if err := deps.Catalog.Ping(ctx); err != nil {
			fail(err)
			return
		}
		recordsDB := ""
		if deps.Records != nil {
			if err := deps.Records.Ping(ctx); err != nil {
				fail(err)
				return
			}
			recordsDB = deps.Records.Path()
		}
		cols, err := deps.Catalog.Columns(ctx)
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":                      true,
			"db":                      deps.Catalog.Path(),
			"table":                   deps.Catalog.Table(),
			"columns":                 len(cols),
			"records_db":              recordsDB,
			"external_user_id_header": deps.ExternalUserHeader,
			"perf_log_enabled":        deps.Perf.Enabled(),
			"perf_log_path":           deps.Perf.Path(),
		})
	}
}

func requireRecords(deps AppDeps, next http.HandlerFunc) http.HandlerFunc {
	if deps.Records != nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "Хранилище лайков и заметок недоступно."})
	}
}

func handleCapabilities(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"capabilities": deps.Assistant.Capabilities(),
		})
	}
}

func handlePerfTail(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("lines")))
		if err != nil {
			n = perflog.DefaultTailLines
		}
		n = max(1, min(n, maxPerfTailLines))

		raw, err := deps.Perf.Tail(n)
		if err != nil {
			slog.Warn("api: reading perf log failed", "error", err)
		}
		lines := make([]any, 0, len(raw))
		for _, line := range raw {
			var v map[string]any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				lines = append(lines, map[string]any{"raw": line})
				continue
			}
			lines = append(lines, v)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"enabled": deps.Perf.Enabled(),
			"path":    deps.Perf.Path(),
			"count":   len(lines),
			"lines":   lines,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("api: writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
