package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeMake maps a manufacturer alias or typo to its canonical name.
// Unknown makes are title-cased so repeated normalization is stable.
func (t *Tables) NormalizeMake(raw string) string {
	key := normKey(raw)
	if key == "" {
		return ""
	}
	if c, ok := t.makeIndex[key]; ok {
		return c
	}
	words := strings.Fields(key)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// KnownMake reports whether raw resolves through the manufacturer table.
func (t *Tables) KnownMake(raw string) bool {
	_, ok := t.makeIndex[normKey(raw)]
	return ok
}
