package store

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

const rrfK = 60

// Ranking methods reported on RelatedRun.
const (
	MethodVector  = "vector"
	MethodKeyword = "keyword"
)

// RelatedRun is a past run ranked by reciprocal rank fusion of question
// embedding distance and keyword overlap.
type RelatedRun struct {
	Run
	Score       float64  `json:"score"`
	Methods     []string `json:"methods"`
	VecRank     int      `json:"vec_rank,omitempty"`     // 1-based, 0 = not present
	KeywordRank int      `json:"keyword_rank,omitempty"` // 1-based, 0 = not present
}

// RelatedRuns returns up to k past runs related to question. A nil
// embedding, or a store without vectors, ranks by keywords alone.
func (s *Store) RelatedRuns(ctx context.Context, question string, embedding []float32, k int) ([]RelatedRun, error) {
	if k <= 0 {
		k = 5
	}

	var vec []Run
	if embedding != nil && s.embeddingDim > 0 {
		similar, err := s.SimilarRuns(ctx, embedding, k*2)
		if err != nil {
			return nil, err
		}
		for _, r := range similar {
			vec = append(vec, r.Run)
		}
	}

	text, err := s.keywordRuns(ctx, keywords(question), k*2)
	if err != nil {
		return nil, err
	}
	return fuseRRF(vec, text, 1.0, 1.0, k), nil
}

// keywordRuns ranks runs by how many terms their question contains.
func (s *Store) keywordRuns(ctx context.Context, terms []string, limit int) ([]Run, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	hits := make([]string, len(terms))
	var args []any
	for i, t := range terms {
		hits[i] = `(CASE WHEN question LIKE ? ESCAPE '\' THEN 1 ELSE 0 END)`
		args = append(args, "%"+escapeLike(t)+"%")
	}
	expr := "(" + strings.Join(hits, " + ") + ")"

	q := "SELECT " + runColumns + " FROM runs WHERE " + expr + " > 0 ORDER BY " + expr + " DESC, id DESC LIMIT ?"
	all := append(append(append([]any{}, args...), args...), limit)

	rows, err := s.db.QueryContext(ctx, q, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// keywords returns the distinct lowercased words of at least four letters,
// at most eight of them.
func keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	}) {
		if len([]rune(w)) < 4 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == 8 {
			break
		}
	}
	return out
}

// fuseRRF combines two rankings with score = sum(weight_i / (k + rank_i)).
// Ties go to the newer run.
func fuseRRF(vecRuns, keywordRuns []Run, weightVec, weightKeyword float64, maxResults int) []RelatedRun {
	fused := make(map[int64]*RelatedRun)
	entry := func(r Run) *RelatedRun {
		e, ok := fused[r.ID]
		if !ok {
			e = &RelatedRun{Run: r}
			fused[r.ID] = e
		}
		return e
	}

	for rank, r := range vecRuns {
		e := entry(r)
		e.Score += weightVec / float64(rrfK+rank+1)
		e.Methods = append(e.Methods, MethodVector)
		e.VecRank = rank + 1
	}
	for rank, r := range keywordRuns {
		e := entry(r)
		e.Score += weightKeyword / float64(rrfK+rank+1)
		e.Methods = append(e.Methods, MethodKeyword)
		e.KeywordRank = rank + 1
	}

	out := make([]RelatedRun, 0, len(fused))
	for _, e := range fused {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID > out[j].ID
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}
