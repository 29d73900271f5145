package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/storage"
)

// RecordRequest is the body of POST /api/records. Content may be any JSON
// scalar; it is stored as text.
type RecordRequest struct {
	WineID         string `json:"wine_id" validate:"required"`
	RecordType     string `json:"record_type" validate:"required"`
	Content        any    `json:"content"`
	User           string `json:"user"`
	ExternalUserID string `json:"external_user_id"`
}

var recordFieldMessages = map[string]string{
	"WineID":     "wine_id обязателен.",
	"RecordType": "record_type должен быть 'like' или 'note'.",
}

// writeRecordError maps store rejections to 400 and anything else to 500
// with prefix.
func writeRecordError(w http.ResponseWriter, err error, prefix string) {
	var rerr *storage.RecordError
	if errors.As(err, &rerr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": rerr.Message})
		return
	}
	slog.Error("api: records request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": prefix + err.Error()})
}

func handleCreateRecord(deps AppDeps, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.WineID = strings.TrimSpace(req.WineID)
		req.RecordType = strings.TrimSpace(req.RecordType)
		if err := validate.Struct(req); err != nil {
			msg := "Некорректный запрос."
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				if m, ok := recordFieldMessages[verrs[0].StructField()]; ok {
					msg = m
				}
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": msg})
			return
		}

		user, source := effectiveUser(r, req.User, req.ExternalUserID, deps.ExternalUserHeader)
		rec, err := deps.Records.AddRecord(r.Context(), user, req.RecordType, catalog.Text(req.Content), req.WineID)
		if err != nil {
			writeRecordError(w, err, "Ошибка сохранения записи: ")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":                      true,
			"record":                  rec,
			"user_source":             source,
			"external_user_id_header": deps.ExternalUserHeader,
		})
	}
}

func recordFilter(r *http.Request) storage.Filter {
	q := r.URL.Query()
	return storage.Filter{
		WineID:     strings.TrimSpace(q.Get("wine_id")),
		RecordType: strings.TrimSpace(q.Get("record_type")),
		User:       strings.TrimSpace(q.Get("user")),
	}
}

func handleListRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Records.ListRecords(r.Context(), recordFilter(r))
		if err != nil {
			writeRecordError(w, err, "Ошибка чтения записей: ")
			return
		}
		if records == nil {
			records = []storage.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(records), "records": records})
	}
}

// handleRecordsByWine serves /api/records/by-wine/{wine_id}. Ids may be
// urls, so the whole remaining path is the id.
func handleRecordsByWine(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := recordFilter(r)
		f.WineID = strings.TrimSpace(chi.URLParam(r, "*"))

		records, err := deps.Records.ListRecords(r.Context(), f)
		if err != nil {
			writeRecordError(w, err, "Ошибка чтения записей: ")
			return
		}
		summary, err := deps.Records.Summary(r.Context(), f.WineID)
		if err != nil {
			writeRecordError(w, err, "Ошибка чтения записей: ")
			return
		}
		if records == nil {
			records = []storage.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"summary": summary,
			"count":   len(records),
			"records": records,
		})
	}
}
