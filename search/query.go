package search

import (
	"strings"
	"unicode"

	"github.com/aschepis/memvault/memerr"
)

// Fragments of SQLite FTS5 error messages that indicate a malformed MATCH
// expression rather than a storage failure.
var syntaxErrorMarkers = []string{
	"fts5: syntax error",
	"unterminated string",
	"no such column",
	"unknown special query",
	"fts5: column queries are not supported",
}

// classifyQueryError maps an error raised while running a MATCH query onto the
// error taxonomy.
func classifyQueryError(err error, what string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range syntaxErrorMarkers {
		if strings.Contains(msg, marker) {
			return memerr.NewQuerySyntaxError("malformed search query", err)
		}
	}
	return memerr.NewStorageError(what, err)
}

// plainQuery quotes each whitespace-separated word of text so that FTS5
// operators and punctuation are taken literally. Words without any letter or
// digit are dropped since the tokenizer would discard them anyway.
func plainQuery(text string) string {
	var terms []string
	for _, word := range strings.Fields(text) {
		if !strings.ContainsFunc(word, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(word, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}
