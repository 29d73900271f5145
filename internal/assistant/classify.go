package assistant

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/vinochat/internal/reference"
)

// Profile selects the backend model for a turn.
type Profile string

const (
	Fast    Profile = "fast"
	Complex Profile = "complex"
)

const complexLength = 180

var complexMarkers = []string{
	"сравни",
	"сравнение",
	"проанализ",
	"обоснуй",
	"почему",
	"подробно",
	"сценар",
	"стратег",
	"подбери",
	"рекоменд",
	"пошагов",
	"разлож",
	"критер",
	"несколько вариантов",
}

// Classify routes long, analytical or multi-part questions to the complex
// profile. Everything else, including empty input, is Fast.
func Classify(text string) Profile {
	q := reference.Normalize(text)
	if q == "" {
		return Fast
	}
	if utf8.RuneCountInString(q) >= complexLength {
		return Complex
	}
	if containsAny(q, complexMarkers...) {
		return Complex
	}
	separators := strings.Count(q, " и ") + strings.Count(q, " или ") + strings.Count(q, ",")
	if separators >= 4 {
		return Complex
	}
	if strings.Count(q, "?") >= 2 {
		return Complex
	}
	return Fast
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
