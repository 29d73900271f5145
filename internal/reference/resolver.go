// Package reference resolves Russian referring expressions ("вторую",
// "первые 3", "с 3 по 5", "все позиции") into 1-based positions of a
// previously shown list.
package reference

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Word boundaries are spelled out because RE2's \b only knows ASCII words.
const (
	wb    = `(?:^|[^\p{L}\p{N}_])`
	wbEnd = `(?:$|[^\p{L}\p{N}_])`
	tok   = `([0-9а-яё-]+)`
)

var (
	firstN = regexp.MustCompile(wb + `перв(?:ые|ых|ую|ой)?\s+` + tok)
	lastN  = regexp.MustCompile(wb + `последн(?:ие|их|юю|ей)?\s+` + tok)

	compactRange = regexp.MustCompile(`^\s*(?:с|от)?\s*[0-9а-яё-]+\s*(?:по|до|-|–|—|\.\.)\s*[0-9а-яё-]+\s*$`)
	fromToDigits = regexp.MustCompile(`(?:^|[\s,;])(?:с|от)?\s*(\d+)\s*(?:по|до)\s*(\d+)`)
	dashDigits   = regexp.MustCompile(`(\d+)\s*(?:-|–|—|\.\.)\s*(\d+)`)
	fromToWords  = regexp.MustCompile(wb + `(?:с|от)\s+` + tok + `\s+(?:по|до)\s+` + tok)

	digitsOnly  = regexp.MustCompile(`^[\d,\s;#№и\-]+$`)
	lettersOnly = regexp.MustCompile(`^[а-яё,\s\-]+$`)
	digitRun    = regexp.MustCompile(`\d+`)
	wordRun     = regexp.MustCompile(`[а-яё-]+`)
	pickedDigit = regexp.MustCompile(wb + `(\d+)`)
	allWord     = regexp.MustCompile(wb + `все` + wbEnd)
)

var allPhrases = []string{
	"все позиции",
	"всех позиций",
	"все из списка",
	"всех из списка",
	"все позиции из списка",
	"всех позиций из списка",
	"все из результатов",
	"все строки",
	"всех строк",
	"все пункты",
	"всех пунктов",
	"все варианты",
	"всех вариантов",
	"все вина из списка",
	"все найденные",
	"все найденные вина",
	"все из них",
	"все они",
	"всем из списка",
	"для всех позиций",
	"для всех пунктов",
	"по всем позициям",
}

var allExact = map[string]bool{
	"все":     true,
	"все их":  true,
	"все они": true,
	"всем":    true,
	"всех":    true,
}

var allListNouns = []string{"спис", "результат", "позиц", "пункт", "строк", "вариант"}

var listMarkers = []string{
	"позици",
	"номер",
	"из списка",
	"из результатов",
	"вариант",
	"пункт",
	"строк",
	"вино 1",
	"вина 1",
}

var pickVerbs = []string{"выбираю", "беру", "выбери", "выберу"}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsAllPhrase reports whether q (already normalized) means "all of them".
func IsAllPhrase(q string) bool {
	if containsAny(q, allPhrases) {
		return true
	}
	if allExact[strings.TrimSpace(q)] {
		return true
	}
	return allWord.MatchString(q) && containsAny(q, allListNouns)
}

// HasListReference reports whether q (already normalized) points at a
// position, item or row of a list.
func HasListReference(q string) bool {
	return containsAny(q, listMarkers)
}

// maxPosition bounds ranges when the list size is unknown.
const maxPosition = 1000

// expandRange lists start..end in the given direction. Ends are cut to limit
// (maxPosition when limit <= 0) before expanding, so the result never holds
// more than limit positions.
func expandRange(start, end, limit int) []int {
	if start <= 0 || end <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = maxPosition
	}
	lo, hi := min(start, end), max(start, end)
	if lo > limit {
		return nil
	}
	hi = min(hi, limit)
	out := make([]int, 0, hi-lo+1)
	if start <= end {
		for i := lo; i <= hi; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := hi; i >= lo; i-- {
		out = append(out, i)
	}
	return out
}

func dedupe(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// clamp drops positions outside 1..limit when limit is known.
func clamp(values []int, limit int) []int {
	if limit <= 0 {
		return values
	}
	out := values[:0:0]
	for _, v := range values {
		if v >= 1 && v <= limit {
			out = append(out, v)
		}
	}
	return out
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func allDigits(q string) []int {
	var out []int
	for _, d := range digitRun.FindAllString(q, -1) {
		out = append(out, atoi(d))
	}
	return out
}

func ordinalWords(q string) []int {
	var out []int
	for _, w := range wordRun.FindAllString(q, -1) {
		if n, ok := OrdinalWord(w); ok {
			out = append(out, n)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// dashRanges finds "3-5", "3..5" and "3–5" whose ends are not glued to other words.
func dashRanges(q string, limit int) []int {
	var out []int
	for _, m := range dashDigits.FindAllStringSubmatchIndex(q, -1) {
		if r, _ := utf8.DecodeLastRuneInString(q[:m[0]]); m[0] > 0 && isWordRune(r) {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(q[m[1]:]); m[1] < len(q) && isWordRune(r) {
			continue
		}
		out = append(out, expandRange(atoi(q[m[2]:m[3]]), atoi(q[m[4]:m[5]]), limit)...)
	}
	return out
}

// Resolve maps utterance to 1-based positions. listSize <= 0 means the list
// size is unknown. An empty result means no explicit reference was found.
func Resolve(utterance string, listSize int) []int {
	q := Normalize(utterance)
	if q == "" {
		return nil
	}
	maxN := listSize
	if maxN < 0 {
		maxN = 0
	}

	if IsAllPhrase(q) {
		if maxN > 0 {
			return seq(1, maxN)
		}
		return nil
	}

	if maxN > 0 {
		if m := firstN.FindStringSubmatch(q); m != nil {
			if n, ok := countToken(m[1]); ok && n > 0 {
				return seq(1, min(n, maxN))
			}
		}
		if m := lastN.FindStringSubmatch(q); m != nil {
			if n, ok := countToken(m[1]); ok && n > 0 {
				n = min(n, maxN)
				return seq(maxN-n+1, maxN)
			}
		}
	}

	listRef := HasListReference(q)
	allowList := maxN > 0 || listRef || compactRange.MatchString(q)

	if allowList {
		var nums []int
		for _, m := range fromToDigits.FindAllStringSubmatch(q, -1) {
			nums = append(nums, expandRange(atoi(m[1]), atoi(m[2]), maxN)...)
		}
		nums = append(nums, dashRanges(q, maxN)...)
		if len(nums) > 0 {
			if nums = clamp(dedupe(nums), maxN); len(nums) > 0 {
				return nums
			}
		}

		if words := fromToWords.FindAllStringSubmatch(q, -1); len(words) > 0 {
			var nums []int
			for _, m := range words {
				a, okA := positionToken(m[1])
				b, okB := positionToken(m[2])
				if okA && okB && a > 0 && b > 0 {
					nums = append(nums, expandRange(a, b, maxN)...)
				}
			}
			if nums = clamp(dedupe(nums), maxN); len(nums) > 0 {
				return nums
			}
		}
	}

	if digitsOnly.MatchString(q) {
		return clamp(dedupe(allDigits(q)), maxN)
	}

	if allowList && (listRef || maxN > 0) {
		nums := append(allDigits(q), ordinalWords(q)...)
		if nums = clamp(dedupe(nums), maxN); len(nums) > 0 {
			return nums
		}
	}

	if maxN > 0 && lettersOnly.MatchString(q) {
		if nums := clamp(dedupe(ordinalWords(q)), maxN); len(nums) > 0 {
			return nums
		}
	}

	if maxN > 0 && containsAny(q, pickVerbs) {
		if m := pickedDigit.FindStringSubmatch(q); m != nil {
			if n := atoi(m[1]); n >= 1 && n <= maxN {
				return []int{n}
			}
		}
		for _, n := range ordinalWords(q) {
			if n >= 1 && n <= maxN {
				return []int{n}
			}
		}
		return nil
	}

	if listRef {
		return clamp(dedupe(allDigits(q)), maxN)
	}

	if m := pickedDigit.FindStringSubmatch(q); m != nil && containsAny(q, pickVerbs[:2]) {
		return []int{atoi(m[1])}
	}

	return nil
}
