package heap

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minWordLength is the shortest word that gets indexed, shorter ones are noise
const minWordLength = 3

// Words splits text into the distinct lowercase words that the word postings
// are keyed by, sorted. Words are runs of letters and digits, at least three
// characters long.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if utf8.RuneCountInString(w) < minWordLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
