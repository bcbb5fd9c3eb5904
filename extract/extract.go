// Package extract isolates the useful part of a raw model completion.
//
// Completions from instruction-tuned models routinely echo the prompt's
// answer marker and keep generating: a second "Question=", an invented
// "Information:" block, chat tokens. Extract keeps the text before the first
// marker and scrubs what is left.
package extract

import (
	"regexp"
	"strings"
)

// Delimiters is the compiled marker set for one generation stage.
type Delimiters struct {
	name  string
	split *regexp.Regexp
}

// Name identifies the delimiter set in logs.
func (d Delimiters) Name() string { return d.name }

// QueryDelimiters matches the markers the query generation stage echoes.
func QueryDelimiters() Delimiters {
	return Delimiters{
		name:  "query",
		split: regexp.MustCompile(`(Answer|Réponse|>Cypher query)=`),
	}
}

// AnswerDelimiters matches the markers of the answer, validation and
// safety stages.
func AnswerDelimiters() Delimiters {
	return Delimiters{
		name:  "answer",
		split: regexp.MustCompile(`(Answer|Réponse|>Cypher query|Useful Answer)=`),
	}
}

var (
	// trailing commentary: invented information blocks, blank-line
	// continuations, re-asked questions, a new chat turn.
	trailing = regexp.MustCompile(`\n\n[^\n]*Information|\n\n\n|\n\s*Question\s*[:=]|Question=|\n\s*Human\s*:`)

	// a bracket left dangling at a line end takes its newlines with it
	artifacts = regexp.MustCompile(`<br[^>]*>|</?s>|<\|[a-z_]+\|>|\[/?INST\]|>\n+|<\n+`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// Extract returns the text preceding the first delimiter match in raw,
// with trailing commentary and markup artifacts removed. When no delimiter
// matches, raw is returned unchanged.
func Extract(raw string, d Delimiters) string {
	if d.split == nil {
		return raw
	}
	loc := d.split.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	return Clean(raw[:loc[0]])
}

// Clean applies the commentary and artifact passes without splitting.
func Clean(s string) string {
	if loc := trailing.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = artifacts.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
