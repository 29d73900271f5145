// Package sqlguard validates model-proposed SQL and rewrites it into a
// read-only, single-statement, row-capped query.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxRows is the row cap applied when the caller passes a non-positive cap to Build.
const DefaultMaxRows = 200

// ForbiddenKeywords are rejected when they appear as whole words anywhere in the query.
var ForbiddenKeywords = []string{
	"insert",
	"update",
	"delete",
	"drop",
	"alter",
	"create",
	"attach",
	"detach",
	"pragma",
	"vacuum",
	"reindex",
	"analyze",
	"replace",
	"truncate",
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	leadingVerb  = regexp.MustCompile(`^(select|with)\s`)
	keywordRes   = compileKeywords(ForbiddenKeywords)
)

func compileKeywords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + w + `\b`)
	}
	return out
}

// ValidationError is returned when a query is rejected. Keyword is set when
// the rejection was caused by a forbidden keyword.
type ValidationError struct {
	Message string
	Keyword string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func reject(msg string) error {
	return &ValidationError{Message: msg}
}

func stripComments(sql string) string {
	sql = blockComment.ReplaceAllString(sql, "")
	return lineComment.ReplaceAllString(sql, "")
}

// Validate checks that raw is a single SELECT/WITH statement free of
// forbidden keywords and returns it without comments or the trailing terminator.
func Validate(raw string) (string, error) {
	sql := strings.TrimSpace(stripComments(raw))
	if sql == "" {
		return "", reject("Пустой SQL-запрос.")
	}
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if strings.Contains(sql, ";") {
		return "", reject("Разрешен только один SQL-запрос.")
	}

	lower := strings.ToLower(sql)
	for i, re := range keywordRes {
		if re.MatchString(lower) {
			kw := ForbiddenKeywords[i]
			return "", &ValidationError{
				Message: "Запрещенное ключевое слово в SQL: " + kw,
				Keyword: kw,
			}
		}
	}

	if !leadingVerb.MatchString(lower) {
		return "", reject("Разрешены только SELECT/CTE-запросы.")
	}

	return sql, nil
}

// Wrap bounds a validated statement with an outer selection. It always wraps,
// even when the statement carries its own LIMIT.
func Wrap(sql string, maxRows int) string {
	if maxRows < 1 {
		maxRows = 1
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS _result LIMIT %d", sql, maxRows)
}

// Build validates raw and wraps it. A non-positive maxRows selects DefaultMaxRows.
func Build(raw string, maxRows int) (string, error) {
	sql, err := Validate(raw)
	if err != nil {
		return "", err
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return Wrap(sql, maxRows), nil
}
