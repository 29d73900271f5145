package reference

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

type stem struct {
	prefix string
	value  int
}

// ordinalStems recognise ordinal forms: "первый", "третьей", "двенадцатую".
var ordinalStems = []stem{
	{"перв", 1},
	{"втор", 2},
	{"трет", 3},
	{"четверт", 4},
	{"пят", 5},
	{"шест", 6},
	{"седьм", 7},
	{"восьм", 8},
	{"девят", 9},
	{"десят", 10},
	{"одиннадцат", 11},
	{"двенадцат", 12},
	{"тринадцат", 13},
	{"четырнадцат", 14},
	{"пятнадцат", 15},
	{"шестнадцат", 16},
	{"семнадцат", 17},
	{"восемнадцат", 18},
	{"девятнадцат", 19},
	{"двадцат", 20},
}

// countStems recognise cardinal forms: "три", "пять", "одиннадцать".
var countStems = []stem{
	{"один", 1},
	{"два", 2},
	{"три", 3},
	{"четыр", 4},
	{"пят", 5},
	{"шест", 6},
	{"сем", 7},
	{"восем", 8},
	{"девят", 9},
	{"десят", 10},
	{"одиннадц", 11},
	{"двенадц", 12},
	{"тринадц", 13},
	{"четырнадц", 14},
	{"пятнадц", 15},
	{"шестнадц", 16},
	{"семнадц", 17},
	{"восемнадц", 18},
	{"девятнадц", 19},
	{"двадцат", 20},
}

// Normalize lower-cases text, applies NFKC and folds "ё" into "е".
func Normalize(text string) string {
	q := strings.ToLower(strings.TrimSpace(text))
	q = norm.NFKC.String(q)
	return strings.ReplaceAll(q, "ё", "е")
}

func cyrillicOnly(word string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(word) {
		if r == 'ё' {
			r = 'е'
		}
		if r >= 'а' && r <= 'я' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// longestStem returns the value of the longest stem that prefixes word.
// Overlapping stems ("один" and "одиннадц") are disambiguated by length,
// never by table order.
func longestStem(word string, stems []stem) (int, bool) {
	w := cyrillicOnly(word)
	if w == "" {
		return 0, false
	}
	best, bestLen := 0, 0
	for _, s := range stems {
		if len(s.prefix) > bestLen && strings.HasPrefix(w, s.prefix) {
			best, bestLen = s.value, len(s.prefix)
		}
	}
	return best, bestLen > 0
}

// OrdinalWord maps an ordinal word in 1..20 to its number.
func OrdinalWord(word string) (int, bool) {
	return longestStem(word, ordinalStems)
}

// CountWord maps a cardinal word in 1..20 to its number.
func CountWord(word string) (int, bool) {
	return longestStem(word, countStems)
}

func leadingDigits(s string) (int, bool) {
	n, seen := 0, false
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		seen = true
		n = n*10 + int(r-'0')
		if n > 1_000_000 {
			return 0, false
		}
	}
	return n, seen
}

// positionToken parses "3", "3-й" or "третьей".
func positionToken(token string) (int, bool) {
	t := strings.TrimFunc(Normalize(token), func(r rune) bool {
		return strings.ContainsRune(".,;:()[]{}", r) || unicode.IsSpace(r)
	})
	if t == "" {
		return 0, false
	}
	if n, ok := leadingDigits(t); ok {
		return n, true
	}
	return OrdinalWord(t)
}

// countToken parses "3" or "три".
func countToken(token string) (int, bool) {
	t := Normalize(token)
	if t == "" {
		return 0, false
	}
	if n, ok := leadingDigits(t); ok {
		return n, true
	}
	return CountWord(t)
}
