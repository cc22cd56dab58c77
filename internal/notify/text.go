package notify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// DisplayName collapses whitespace and title-cases a roster name ("  jana  NOVÁKOVÁ" -> "Jana Nováková").
func DisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.Und).String(name)
}

// smsText makes a message body safe for the GSM 7-bit alphabet most SMS gateways expect.
func smsText(s string) string {
	s = RemoveDiacritics(s)
	return strings.Join(strings.Fields(s), " ")
}
