package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/ntealan/genaiti/llm"
)

// normalizeText lowercases s and folds the Unicode spacing, hyphens and
// zero-width characters models like to emit.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// containsFact reports whether any pipe-separated alternative of fact
// occurs in text. Spaces and hyphens are ignored on a second pass so
// "yemba-français" matches "yemba français".
func containsFact(text, fact string) bool {
	normalized := normalizeText(text)
	compact := strings.NewReplacer(" ", "", "-", "").Replace(normalized)
	for _, alt := range strings.Split(fact, "|") {
		alt = normalizeText(strings.TrimSpace(alt))
		if alt == "" {
			continue
		}
		if strings.Contains(normalized, alt) ||
			strings.Contains(compact, strings.NewReplacer(" ", "", "-", "").Replace(alt)) {
			return true
		}
	}
	return false
}

// computeAccuracy is the fraction of expected facts found in the answer.
// No expected facts scores 1.
func computeAccuracy(answer string, facts []string) float64 {
	if len(facts) == 0 {
		return 1
	}
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	found := 0
	for _, f := range facts {
		if containsFact(answer, f) {
			found++
		}
	}
	return float64(found) / float64(len(facts))
}

// computeQueryMatch is the fraction of fragments found in the generated
// query, ignoring case. No fragments scores 1.
func computeQueryMatch(query string, fragments []string) float64 {
	if len(fragments) == 0 {
		return 1
	}
	q := strings.ToLower(query)
	found := 0
	for _, f := range fragments {
		if f != "" && strings.Contains(q, strings.ToLower(f)) {
			found++
		}
	}
	return float64(found) / float64(len(fragments))
}

const judgePrompt = `You are an evaluation judge for a question answering assistant over a dictionary graph. Determine which expected facts are conveyed by the answer.

A fact is "covered" if the answer conveys the same core information, even if paraphrased or in another language.
A fact is NOT covered if the answer contradicts it, omits it, or gets words, numbers or names wrong.

Answer:
%s

Expected facts:
%s
Respond with JSON only: {"covered": [true, false, ...]} with one boolean per fact, in order.`

// computeAccuracyLLM asks judge which facts the answer covers, in one call.
func computeAccuracyLLM(ctx context.Context, judge llm.Provider, model, answer string, facts []string) (float64, error) {
	if len(facts) == 0 {
		return 1, nil
	}
	if strings.TrimSpace(answer) == "" {
		return 0, nil
	}

	var list strings.Builder
	for i, fact := range facts {
		alts := strings.Split(fact, "|")
		fmt.Fprintf(&list, "%d. %s", i+1, strings.TrimSpace(alts[0]))
		if len(alts) > 1 {
			fmt.Fprintf(&list, " (also: %s)", strings.Join(alts[1:], ", "))
		}
		list.WriteByte('\n')
	}

	resp, err := judge.Chat(ctx, llm.ChatRequest{
		Model:    model,
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(judgePrompt, answer, list.String())}},
	})
	if err != nil {
		return 0, fmt.Errorf("judge call failed: %w", err)
	}

	var verdict struct {
		Covered []bool `json:"covered"`
	}
	raw := resp.Content
	if i, j := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); i >= 0 && j > i {
		raw = raw[i : j+1]
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return 0, fmt.Errorf("parsing judge response %q: %w", truncate(resp.Content, 200), err)
	}

	covered := 0
	for i, c := range verdict.Covered {
		if i < len(facts) && c {
			covered++
		}
	}
	return float64(covered) / float64(len(facts)), nil
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
