package assistant

import (
	"context"
	"regexp"
	"strings"

	"github.com/kalambet/vinochat/internal/pending"
	"github.com/kalambet/vinochat/internal/reference"
)

// intent is a deterministic handler tried before the model. handle may
// still decline after a closer look.
type intent struct {
	name   string
	match  func(a *Assistant, t Turn) bool
	handle func(a *Assistant, ctx context.Context, t Turn, model string) (string, Meta, bool)
}

// intents are evaluated in order, first match wins.
var intents = []intent{
	{
		name:   "capabilities",
		match:  func(_ *Assistant, t Turn) bool { return IsCapabilitiesRequest(t.Text) },
		handle: (*Assistant).handleCapabilities,
	},
	{
		name: "contextual_record",
		match: func(a *Assistant, t Turn) bool {
			return a.records != nil && (RecordIntent(t.Text) != "" || t.Context.Pending.Active())
		},
		handle: (*Assistant).handleContextualRecord,
	},
	{
		name:   "my_records",
		match:  func(a *Assistant, t Turn) bool { return a.records != nil && IsMyRecordsRequest(t.Text) },
		handle: (*Assistant).handleMyRecords,
	},
}

var capabilityMarkers = []string{
	"что ты умеешь",
	"что умеет система",
	"возможности",
	"справка",
	"help",
	"шаблон",
	"пример команд",
	"покажи возможности",
}

// IsCapabilitiesRequest reports whether the user asks what the system can do.
func IsCapabilitiesRequest(text string) bool {
	return containsAny(reference.Normalize(text), capabilityMarkers...)
}

var fullListMarkers = []string{
	"полностью",
	"полный список",
	"весь список",
	"этот список",
	"все строки",
	"все записи",
	"без сокращ",
	"покажи все",
	"представь этот список полностью",
}

// IsFullListRequest reports whether the user wants an unabridged listing.
func IsFullListRequest(text string) bool {
	return containsAny(reference.Normalize(text), fullListMarkers...)
}

var priceMarkers = []string{
	"цена",
	"сколько стоит",
	"стоит",
	"налич",
	"продается",
	"где купить",
	"купить",
	"на полке",
	"в магазине",
}

// IsPriceRequest reports whether the question is about price or availability.
func IsPriceRequest(text string) bool {
	return containsAny(reference.Normalize(text), priceMarkers...)
}

var wordToken = regexp.MustCompile(`[0-9a-zа-яё]+`)

// LooksLikeWineTopic reports whether text is a wine topic or short enough
// to be a wine name.
func LooksLikeWineTopic(text string) bool {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return false
	}
	if containsAny(q, "вино", "вин", "сорт", "винтаж", "магнум", "игрист") {
		return true
	}
	n := len(wordToken.FindAllString(q, -1))
	return n >= 1 && n <= 8 && len([]rune(q)) <= 90
}

var (
	recordVerbs = []string{"постав", "добав", "сдела", "созда", "сохрани", "запиши", "отметь", "лайкни"}
	recordNouns = []string{"лайк", "заметк", "отметк"}
	likeWords   = []string{"лайк", "нравится", "понравил", "отметь", "отметк"}
)

// RecordIntent returns the annotation kind the text talks about, if any.
func RecordIntent(text string) pending.Kind {
	q := reference.Normalize(text)
	if strings.Contains(q, "заметк") {
		return pending.Note
	}
	if containsAny(q, likeWords...) {
		return pending.Like
	}
	return ""
}

// IsExplicitRecordAction reports whether text asks to create a like or note.
func IsExplicitRecordAction(text string) bool {
	q := reference.Normalize(text)
	return containsAny(q, recordVerbs...) && containsAny(q, recordNouns...)
}

var (
	myWord          = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])мои(?:$|[^\p{L}\p{N}_])`)
	myRecordMarkers = []string{"мои отмет", "мои лайк", "мои замет", "мои запис"}
	recordStems     = []string{"отмет", "лайк", "замет", "запис"}
)

// IsMyRecordsRequest reports whether the user asks for their own likes or notes.
func IsMyRecordsRequest(text string) bool {
	q := reference.Normalize(text)
	if containsAny(q, myRecordMarkers...) {
		return true
	}
	return myWord.MatchString(q) && containsAny(q, recordStems...)
}

// RecordsFilterType narrows a "my records" request to likes or notes when
// only one of them is mentioned.
func RecordsFilterType(text string) string {
	q := reference.Normalize(text)
	like, note := strings.Contains(q, "лайк"), strings.Contains(q, "замет")
	switch {
	case like && !note:
		return "like"
	case note && !like:
		return "note"
	}
	return ""
}

var noteTail = regexp.MustCompile(`(?i)(?:текст заметки|заметка)\s+(.+)$`)

// NoteContent extracts note text: whatever follows the first colon, or
// follows "заметка"/"текст заметки".
func NoteContent(text string) string {
	raw := strings.TrimSpace(text)
	if _, tail, ok := strings.Cut(raw, ":"); ok {
		if tail = strings.TrimSpace(tail); tail != "" {
			return tail
		}
	}
	if m := noteTail.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var wineRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:для|к)\s*вину?\s+(.+)$`),
	regexp.MustCompile(`(?i)вину?\s+(.+)$`),
	regexp.MustCompile(`(?i)вина\s+(.+)$`),
}

// WineReference extracts a free-text wine name from "... для вина X" style
// phrasing. Text after a colon is note content and is ignored.
func WineReference(text string) string {
	before, _, _ := strings.Cut(strings.TrimSpace(text), ":")
	before = strings.TrimSpace(before)
	for _, re := range wineRefPatterns {
		if m := re.FindStringSubmatch(before); m != nil {
			if ref := strings.Trim(strings.TrimSpace(m[1]), `"'«»`); ref != "" {
				return ref
			}
		}
	}
	return ""
}
