package cypher

import (
	"regexp"
	"strings"

	"github.com/ntealan/genaiti/schema"
)

const nodePattern = `\(\s*(\w*)\s*((?::\s*(?:` + "`[^`]*`" + `|\w+)\s*)*)(?:\{[^}]*\})?\s*\)`

var (
	nodeRe    = regexp.MustCompile(nodePattern)
	segmentRe = regexp.MustCompile(`(` + nodePattern + `)\s*((<?)-(?:\[([^\]]*)\])?-(>?))\s*(` + nodePattern + `)`)
	propsRe   = regexp.MustCompile(`\{[^}]*\}`)

	nodeHead = regexp.MustCompile(`^\(\s*\w*\s*(?::\s*(?:` + "`[^`]*`" + `|\w+)\s*)*`)
	tailRe   = regexp.MustCompile(`(?i)^\s*(?:\{|WHERE\b)`)
	relTail  = regexp.MustCompile(`(?i)\{|\bWHERE\b`)
	relToken = regexp.MustCompile(`-\s*\[|--`)
)

// segmentRe submatch indices (pairs in the index slice).
const (
	segLeftVar     = 2
	segLeftLabels  = 3
	segRel         = 4
	segRelIn       = 5
	segRelBody     = 6
	segRelOut      = 7
	segRight       = 8
	segRightVar    = 9
	segRightLabels = 10
)

type direction int

const (
	undirected direction = iota
	outgoing
	incoming
)

// Corrector checks every (node)-[rel]-(node) segment of a query against a
// set of allowed triples. Segments that only fit the schema reversed get
// their arrow flipped; segments that fit in neither direction invalidate the
// whole query.
type Corrector struct {
	triples []schema.Triple
}

// NewCorrector returns a corrector over a copy of triples.
func NewCorrector(triples []schema.Triple) *Corrector {
	c := &Corrector{triples: make([]schema.Triple, len(triples))}
	copy(c.triples, triples)
	return c
}

type segment struct {
	left, right    []string
	relStart       int
	relEnd         int
	dir            direction
	types          []string
	variableLength bool
}

// Correct returns the corrected query, or "" when a segment references a
// connection the schema does not allow.
func (c *Corrector) Correct(query string) string {
	masked := flatten(mask(query))
	vars := bindVariables(masked)
	out := []byte(query)

	segs := segments(masked, vars)
	if !covered(masked, segs) {
		return ""
	}
	for _, seg := range segs {
		if seg.variableLength {
			continue
		}
		switch seg.dir {
		case outgoing:
			if c.allowed(seg.left, seg.types, seg.right) {
				continue
			}
			if !c.allowed(seg.right, seg.types, seg.left) {
				return ""
			}
			rel := string(out[seg.relStart:seg.relEnd])
			copy(out[seg.relStart:], "<"+rel[:len(rel)-1])
		case incoming:
			if c.allowed(seg.right, seg.types, seg.left) {
				continue
			}
			if !c.allowed(seg.left, seg.types, seg.right) {
				return ""
			}
			rel := string(out[seg.relStart:seg.relEnd])
			copy(out[seg.relStart:], rel[1:]+">")
		default:
			if !c.allowed(seg.left, seg.types, seg.right) && !c.allowed(seg.right, seg.types, seg.left) {
				return ""
			}
		}
	}
	return string(out)
}

// allowed reports whether some triple matches. Empty label or type lists
// match anything.
func (c *Corrector) allowed(from, types, to []string) bool {
	for _, t := range c.triples {
		if len(from) > 0 && !contains(from, t.Start) {
			continue
		}
		if len(to) > 0 && !contains(to, t.End) {
			continue
		}
		if len(types) > 0 && !contains(types, t.Type) {
			continue
		}
		return true
	}
	return false
}

func segments(masked []byte, vars map[string][]string) []segment {
	var out []segment
	pos := 0
	for pos < len(masked) {
		m := segmentRe.FindSubmatchIndex(masked[pos:])
		if m == nil {
			break
		}
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return string(masked[pos+m[2*i] : pos+m[2*i+1]])
		}

		seg := segment{
			left:     resolveLabels(group(segLeftVar), group(segLeftLabels), vars),
			right:    resolveLabels(group(segRightVar), group(segRightLabels), vars),
			relStart: pos + m[2*segRel],
			relEnd:   pos + m[2*segRel+1],
		}
		in, outArrow := group(segRelIn) != "", group(segRelOut) != ""
		switch {
		case outArrow && !in:
			seg.dir = outgoing
		case in && !outArrow:
			seg.dir = incoming
		}
		seg.types, seg.variableLength = parseRelationship(group(segRelBody))
		out = append(out, seg)

		// the right node is the left node of the next segment in a chain
		pos += m[2*segRight]
	}
	return out
}

// covered reports whether every relationship in masked belongs to a parsed
// segment. A relationship the segment pattern could not read is unchecked,
// so the query is refused.
func covered(masked []byte, segs []segment) bool {
	for _, loc := range relToken.FindAllIndex(masked, -1) {
		ok := false
		for _, seg := range segs {
			if loc[0] >= seg.relStart && loc[0] < seg.relEnd {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// flatten blanks inline property maps and WHERE predicates inside node and
// relationship patterns, so only variables, labels and types are left to
// match. Offsets are kept.
func flatten(masked []byte) []byte {
	b := append([]byte(nil), masked...)
	for i := range b {
		switch b[i] {
		case '(':
			if i > 0 && isWord(b[i-1]) {
				continue // function call
			}
			end := closing(b, i)
			if end < 0 {
				continue
			}
			head := nodeHead.FindIndex(b[i:end])
			if head == nil || !tailRe.Match(b[i+head[1]:end]) {
				continue
			}
			blank(b[i+head[1] : end])
		case '[':
			if prevNonSpace(b, i) != '-' {
				continue
			}
			end := closing(b, i)
			if end < 0 {
				continue
			}
			if loc := relTail.FindIndex(b[i+1 : end]); loc != nil {
				blank(b[i+1+loc[0] : end])
			}
		}
	}
	return b
}

// closing returns the index of the bracket matching b[open], or -1.
func closing(b []byte, open int) int {
	o := b[open]
	c := map[byte]byte{'(': ')', '[': ']', '{': '}'}[o]
	depth := 0
	for i := open; i < len(b); i++ {
		switch b[i] {
		case o:
			depth++
		case c:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func blank(b []byte) {
	for i := range b {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}

func prevNonSpace(b []byte, i int) byte {
	for i--; i >= 0; i-- {
		if b[i] != ' ' && b[i] != '\t' && b[i] != '\n' {
			return b[i]
		}
	}
	return 0
}

func isWord(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func bindVariables(masked []byte) map[string][]string {
	vars := make(map[string][]string)
	for _, m := range nodeRe.FindAllSubmatch(masked, -1) {
		name := string(m[1])
		if name == "" {
			continue
		}
		for _, l := range splitLabels(string(m[2])) {
			if !contains(vars[name], l) {
				vars[name] = append(vars[name], l)
			}
		}
	}
	return vars
}

func resolveLabels(variable, labels string, vars map[string][]string) []string {
	if ls := splitLabels(labels); len(ls) > 0 {
		return ls
	}
	if variable != "" {
		return vars[variable]
	}
	return nil
}

func splitLabels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ":") {
		part = strings.Trim(strings.TrimSpace(part), "`")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRelationship reads the types out of a relationship body such as
// "r:A|B*1..3 {since: 1}". Anything after the type list is ignored.
func parseRelationship(body string) (types []string, variableLength bool) {
	body = propsRe.ReplaceAllString(body, "")
	if strings.Contains(body, "*") {
		variableLength = true
		body = body[:strings.Index(body, "*")]
	}
	idx := strings.Index(body, ":")
	if idx < 0 {
		return nil, variableLength
	}
	for _, part := range strings.Split(body[idx+1:], "|") {
		name, rest := relType(strings.TrimSpace(part))
		if name != "" {
			types = append(types, name)
		}
		if rest != "" {
			break
		}
	}
	return types, variableLength
}

// relType splits a leading, possibly backticked, type name from whatever
// follows it.
func relType(s string) (name, rest string) {
	s = strings.TrimLeft(s, ":!")
	if strings.HasPrefix(s, "`") {
		if end := strings.Index(s[1:], "`"); end >= 0 {
			return s[1 : end+1], strings.TrimSpace(s[end+2:])
		}
	}
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		return strings.Trim(s[:i], "`"), strings.TrimSpace(s[i:])
	}
	return strings.Trim(s, "`"), ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
