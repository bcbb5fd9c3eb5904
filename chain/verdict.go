package chain

import "strings"

// Verdict is the parsed output of a True/False stage.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictTrue
	VerdictFalse
)

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "unknown"
	}
}

var verdictPrefixes = []string{"helpful answer:", "answer:", "réponse:", "answer=", "réponse="}

// ParseVerdict reads a boolean verdict from the first line of extracted stage
// text. Anything other than a lone true/false token (English or French) is
// VerdictUnknown.
func ParseVerdict(text string) Verdict {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, "</s>", "")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}

	lower := strings.ToLower(s)
	for _, p := range verdictPrefixes {
		if strings.HasPrefix(lower, p) {
			lower = strings.TrimSpace(lower[len(p):])
			break
		}
	}
	lower = strings.TrimRight(lower, ". \t\n")
	lower = strings.Trim(lower, `"'`)

	switch lower {
	case "true", "vrai":
		return VerdictTrue
	case "false", "faux":
		return VerdictFalse
	default:
		return VerdictUnknown
	}
}
