package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/storage"
)

const sessionCookie = "sid"

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string `json:"message" validate:"required,max=4000"`
	User           string `json:"user"`
	ExternalUserID string `json:"external_user_id"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response string         `json:"response"`
	Meta     assistant.Meta `json:"meta"`
}

const processingFailed = "Ошибка обработки запроса: "

func chatRejection(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
		return "Слишком длинный запрос."
	}
	return "Пустой запрос."
}

func handleChat(deps AppDeps, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, ChatResponse{Response: chatRejection(err)})
			return
		}

		sid := sessionID(w, r)
		user, source := effectiveUser(r, req.User, req.ExternalUserID, deps.ExternalUserHeader)

		var res assistant.Result
		status := "ok"
		deps.Sessions.Do(sid, func(s *session.Session) error {
			turn := assistant.Turn{
				Text:    req.Message,
				History: s.Recent(session.MaxHistory),
				User:    user,
				Context: s.Context,
			}
			s.Append("user", req.Message)

			var err error
			res, err = deps.Assistant.Ask(r.Context(), turn)
			if err != nil {
				slog.Error("api: chat turn failed", "error", err)
				status = "error"
				res = assistant.Result{Answer: processingFailed + err.Error()}
			} else {
				res.Meta.Apply(&s.Context)
			}
			res.Meta.PublicUser = user
			res.Meta.PublicUserSource = source

			s.Append("assistant", res.Answer)
			return nil
		})

		perf := res.Meta.Perf
		deps.Perf.Append("chat_request", map[string]any{
			"sid":                   sid[:10],
			"method":                r.Method,
			"path":                  r.URL.Path,
			"status":                status,
			"user_source":           source,
			"public_user":           user,
			"message_len":           utf8.RuneCountInString(req.Message),
			"response_len":          utf8.RuneCountInString(res.Answer),
			"request_ms":            float64(time.Since(started).Microseconds()) / 1000,
			"llm_rounds":            perf.LLMRounds,
			"selected_model":        perf.SelectedModel,
			"llm_wait_ms_total":     perf.LLMWaitMsTotal,
			"db_tool_calls":         perf.DBToolCalls,
			"db_query_ms_total":     perf.DBQueryMsTotal,
			"web_tool_calls":        perf.WebToolCalls,
			"web_query_ms_total":    perf.WebQueryMsTotal,
			"fallback_web_calls":    perf.FallbackWebCalls,
			"fallback_web_ms_total": perf.FallbackWebMsTotal,
			"total_ms":              perf.TotalMs,
			"rows":                  res.Meta.Rows,
			"sql_count":             len(res.Meta.SQLQueries),
			"web_count":             len(res.Meta.WebQueries),
		})

		writeJSON(w, http.StatusOK, ChatResponse{Response: res.Answer, Meta: res.Meta})
	}
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request carries none or a malformed one.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// effectiveUser picks the annotation author: an explicit user name, then
// an external id from the header, query or body, then the guest name.
func effectiveUser(r *http.Request, user, externalID, header string) (name, source string) {
	if u := strings.TrimSpace(user); u != "" {
		return u, "payload.user"
	}
	ext := ""
	if header != "" {
		ext = strings.TrimSpace(r.Header.Get(header))
	}
	if ext == "" {
		ext = strings.TrimSpace(r.URL.Query().Get("external_user_id"))
	}
	if ext == "" {
		ext = strings.TrimSpace(externalID)
	}
	if ext != "" {
		return "ext:" + ext, "external_id(" + header + ")"
	}
	return storage.DefaultUser, "guest"
}
