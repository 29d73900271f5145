package assistant

import (
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

// EmptyAnswer replaces an answer that sanitizes down to nothing.
const EmptyAnswer = "Готов ответить по данным базы российских вин. Сформулируйте запрос."

// urlRe finds links with or without a scheme, including bare domains on any
// known TLD. linkWord spells out its boundary because RE2's \b only knows
// ASCII words.
var (
	urlRe    = xurls.Relaxed()
	linkWord = regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])ссылк[а-яё]*`)
	spacesRe = regexp.MustCompile(`\s{2,}`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

var provenanceMarkers = []string{
	"источники web-поиска",
	"web-поиск",
	"web search",
	"источники поиска",
	"источники:",
}

// Sanitize removes links, bare domains and lines announcing search sources
// from a user-visible answer, and collapses runs of blank lines.
func Sanitize(text string) string {
	cleaned := urlRe.ReplaceAllString(text, "")

	var lines []string
	for _, raw := range strings.Split(cleaned, "\n") {
		line := strings.TrimSpace(raw)
		if containsAny(strings.ToLower(line), provenanceMarkers...) {
			continue
		}
		line = strings.TrimSpace(linkWord.ReplaceAllString(line, "${1}"))
		line = spacesRe.ReplaceAllString(line, " ")
		switch {
		case line != "":
			lines = append(lines, line)
		case len(lines) > 0 && lines[len(lines)-1] != "":
			lines = append(lines, "")
		}
	}

	cleaned = strings.TrimSpace(strings.Join(lines, "\n"))
	cleaned = blankRe.ReplaceAllString(cleaned, "\n\n")
	if cleaned == "" {
		return EmptyAnswer
	}
	return cleaned
}
