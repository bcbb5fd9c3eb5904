// Package cypher cleans up generated Cypher before it reaches the graph:
// code-fence stripping, schema-triple correction and a read-only guard.
package cypher

import (
	"regexp"
	"strings"
)

var (
	fenced  = regexp.MustCompile("(?s)```(.*?)```")
	langTag = regexp.MustCompile(`(?i)^(cypher|cql|neo4j|sql|text)[ \t]*\n`)
)

// ExtractCode returns the content of the first ``` fence in text, dropping a
// language tag such as "cypher". Text wrapped in a single pair of backticks
// is unwrapped. Anything else passes through. The result is trimmed.
func ExtractCode(text string) string {
	if m := fenced.FindStringSubmatch(text); m != nil {
		body := strings.TrimLeft(m[1], " \t")
		if loc := langTag.FindStringIndex(body); loc != nil {
			body = body[loc[1]:]
		} else if lower := strings.ToLower(body); strings.HasPrefix(lower, "cypher ") {
			body = body[len("cypher "):]
		}
		return strings.TrimSpace(body)
	}

	t := strings.TrimSpace(text)
	if len(t) >= 2 && t[0] == '`' && t[len(t)-1] == '`' && strings.Count(t, "`") == 2 {
		return strings.TrimSpace(t[1 : len(t)-1])
	}
	return t
}

// Sanitize strips code wrapping and, when c is non-nil, corrects the query
// against c's allowed triples. ok is false when no usable query remains.
func Sanitize(raw string, c *Corrector) (query string, ok bool) {
	query = ExtractCode(raw)
	if c != nil && query != "" {
		query = strings.TrimSpace(c.Correct(query))
	}
	return query, query != ""
}

// mask returns a copy of q with string literal contents and comments
// overwritten, byte for byte, so pattern matching ignores them while
// offsets stay aligned with q.
func mask(q string) []byte {
	b := []byte(q)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '\'' || b[i] == '"':
			quote := b[i]
			for i++; i < len(b) && b[i] != quote; i++ {
				if b[i] == '\\' && i+1 < len(b) {
					b[i] = 'x'
					i++
				}
				b[i] = 'x'
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '/':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			for ; i < len(b); i++ {
				if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i++
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	return b
}
