package cypher

import "regexp"

var (
	writeKeyword = regexp.MustCompile(`(?i)(?:^|[^.:` + "`" + `\w])(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH)\b`)
	writeCall    = regexp.MustCompile(`(?i)\bLOAD\s+CSV\b|\bIN\s+TRANSACTIONS\b|\bapoc\.(create|merge|refactor|periodic|nodes\.delete)`)
	aliasBefore  = regexp.MustCompile(`(?i)\bAS\s+$`)
)

// IsReadOnly reports whether query contains no write clause. Keywords
// inside string literals and comments, used as map keys or as aliases are
// ignored.
func IsReadOnly(query string) bool {
	m := mask(query)
	if writeCall.Match(m) {
		return false
	}
	for _, loc := range writeKeyword.FindAllSubmatchIndex(m, -1) {
		start, end := loc[2], loc[3]
		if mapKey(m[end:]) || aliasBefore.Match(m[:start]) {
			continue
		}
		return false
	}
	return true
}

// mapKey reports whether rest starts, after blanks, with a colon.
func mapKey(rest []byte) bool {
	for _, c := range rest {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case ':':
			return true
		}
		return false
	}
	return false
}
