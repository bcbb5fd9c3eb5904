package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntealan/genaiti/schema"
)

var dictionaryTriples = []schema.Triple{
	{Start: "NeoArticle", Type: "ARTICLE_IS_USED_IN", End: "NeoDictionary"},
	{Start: "NeoWord", Type: "WORD_IS_USED_IN", End: "NeoVariant"},
	{Start: "NeoRadical", Type: "RADICAL_IS_FOUND_IN", End: "NeoWord"},
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "MATCH (n) RETURN n", "MATCH (n) RETURN n"},
		{"surrounding whitespace", "  MATCH (n) RETURN n \n", "MATCH (n) RETURN n"},
		{"fence with tag", "Voici:\n```cypher\nMATCH (a:NeoArticle) RETURN count(a)\n```\nfin", "MATCH (a:NeoArticle) RETURN count(a)"},
		{"fence without tag", "```\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		{"inline fence", "```MATCH (n) RETURN n```", "MATCH (n) RETURN n"},
		{"inline fence with tag", "```cypher MATCH (n) RETURN n```", "MATCH (n) RETURN n"},
		{"first fence wins", "```MATCH (a) RETURN a``` or ```MATCH (b) RETURN b```", "MATCH (a) RETURN a"},
		{"single backticks", "`MATCH (n) RETURN n`", "MATCH (n) RETURN n"},
		{"escaped identifiers kept", "MATCH (n:`Neo Word`) RETURN n", "MATCH (n:`Neo Word`) RETURN n"},
		{"keyword on first line kept", "```\nMATCH\n(n) RETURN n```", "MATCH\n(n) RETURN n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.in))
		})
	}
}

func TestCorrect(t *testing.T) {
	c := NewCorrector(dictionaryTriples)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "no relationships",
			query: "MATCH (a:NeoArticle) RETURN count(a)",
			want:  "MATCH (a:NeoArticle) RETURN count(a)",
		},
		{
			name:  "valid outgoing",
			query: "MATCH (a:NeoArticle)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN a",
			want:  "MATCH (a:NeoArticle)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN a",
		},
		{
			name:  "reversed outgoing is flipped",
			query: "MATCH (d:NeoDictionary)-[:ARTICLE_IS_USED_IN]->(a:NeoArticle) RETURN a",
			want:  "MATCH (d:NeoDictionary)<-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN a",
		},
		{
			name:  "reversed incoming is flipped",
			query: "MATCH (a:NeoArticle)<-[r:ARTICLE_IS_USED_IN]-(d:NeoDictionary) RETURN r",
			want:  "MATCH (a:NeoArticle)-[r:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN r",
		},
		{
			name:  "valid incoming chain",
			query: "MATCH (v:NeoVariant)<-[:WORD_IS_USED_IN]-(w:NeoWord)<-[:RADICAL_IS_FOUND_IN]-(r:NeoRadical) RETURN r",
			want:  "MATCH (v:NeoVariant)<-[:WORD_IS_USED_IN]-(w:NeoWord)<-[:RADICAL_IS_FOUND_IN]-(r:NeoRadical) RETURN r",
		},
		{
			name:  "labels resolved from earlier binding",
			query: "MATCH (d:NeoDictionary), (a:NeoArticle) MATCH (d)-[:ARTICLE_IS_USED_IN]->(a) RETURN a",
			want:  "MATCH (d:NeoDictionary), (a:NeoArticle) MATCH (d)<-[:ARTICLE_IS_USED_IN]-(a) RETURN a",
		},
		{
			name:  "undirected in either direction",
			query: "MATCH (d:NeoDictionary)-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN a",
			want:  "MATCH (d:NeoDictionary)-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN a",
		},
		{
			name:  "variable length skipped",
			query: "MATCH (d:NeoDictionary)-[:UNKNOWN*1..3]->(a:NeoArticle) RETURN a",
			want:  "MATCH (d:NeoDictionary)-[:UNKNOWN*1..3]->(a:NeoArticle) RETURN a",
		},
		{
			name:  "anonymous nodes match anything",
			query: "MATCH ()-[:WORD_IS_USED_IN]->() RETURN count(*)",
			want:  "MATCH ()-[:WORD_IS_USED_IN]->() RETURN count(*)",
		},
		{
			name:  "arrows in string literals ignored",
			query: "MATCH (a:NeoArticle) WHERE a.note = '(x)-[:FAKE]->(y)' RETURN a",
			want:  "MATCH (a:NeoArticle) WHERE a.note = '(x)-[:FAKE]->(y)' RETURN a",
		},
		{
			name:  "backticked label",
			query: "MATCH (a:`NeoArticle`)-[:`ARTICLE_IS_USED_IN`]->(d) RETURN d",
			want:  "MATCH (a:`NeoArticle`)-[:`ARTICLE_IS_USED_IN`]->(d) RETURN d",
		},
		{
			name:  "unknown relationship type",
			query: "MATCH (a:NeoArticle)-[:WRITTEN_BY]->(p:NeoAuthor) RETURN p",
			want:  "",
		},
		{
			name:  "known type between wrong labels",
			query: "MATCH (w:NeoWord)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN w",
			want:  "",
		},
		{
			name:  "nested map on a node does not hide the relationship",
			query: "MATCH (a:NeoArticle {meta: {x: 1}})-[:WRITTEN_BY]->(p:NeoAuthor) RETURN p",
			want:  "",
		},
		{
			name:  "inline where on a node does not hide the relationship",
			query: "MATCH (a:NeoArticle WHERE a.disable = false)-[:WRITTEN_BY]->(p:NeoAuthor) RETURN p",
			want:  "",
		},
		{
			name:  "inline where on a node with a known triple",
			query: "MATCH (a:NeoArticle WHERE a.disable = false)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN d",
			want:  "MATCH (a:NeoArticle WHERE a.disable = false)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary) RETURN d",
		},
		{
			name:  "nested map on a node is flipped like any other",
			query: "MATCH (d:NeoDictionary {meta: {lang: 'ybb'}})-[:ARTICLE_IS_USED_IN]->(a:NeoArticle) RETURN a",
			want:  "MATCH (d:NeoDictionary {meta: {lang: 'ybb'}})<-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN a",
		},
		{
			name:  "inline where on a relationship",
			query: "MATCH (a:NeoArticle)-[r:ARTICLE_IS_USED_IN WHERE r.x > 1]->(d:NeoDictionary) RETURN d",
			want:  "MATCH (a:NeoArticle)-[r:ARTICLE_IS_USED_IN WHERE r.x > 1]->(d:NeoDictionary) RETURN d",
		},
		{
			name:  "inline where on an unknown relationship",
			query: "MATCH (a:NeoArticle)-[r:WRITTEN_BY WHERE r.x > 1]->(d:NeoDictionary) RETURN d",
			want:  "",
		},
		{
			name:  "relationship map holding a list",
			query: "MATCH (a:NeoArticle)-[:ARTICLE_IS_USED_IN {tags: [1, 2]}]->(d:NeoDictionary) RETURN d",
			want:  "MATCH (a:NeoArticle)-[:ARTICLE_IS_USED_IN {tags: [1, 2]}]->(d:NeoDictionary) RETURN d",
		},
		{
			name:  "unreadable relationship is refused",
			query: "MATCH (a:NeoArticle) - [:WRITTEN_BY] -> (p:NeoAuthor) RETURN p",
			want:  "",
		},
		{
			name:  "one bad segment invalidates the chain",
			query: "MATCH (a:NeoArticle)-[:ARTICLE_IS_USED_IN]->(d:NeoDictionary)-[:OWNED_BY]->(o) RETURN o",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Correct(tt.query))
		})
	}
}

func TestParseRelationship(t *testing.T) {
	tests := []struct {
		body     string
		types    []string
		variable bool
	}{
		{"r:ARTICLE_IS_USED_IN", []string{"ARTICLE_IS_USED_IN"}, false},
		{"r:ARTICLE_IS_USED_IN WHERE r.x > 1", []string{"ARTICLE_IS_USED_IN"}, false},
		{":A|B*1..3 {since: 1}", []string{"A", "B"}, true},
		{":A | :B", []string{"A", "B"}, false},
		{":`IS USED IN` WHERE true", []string{"IS USED IN"}, false},
		{"r", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			types, variable := parseRelationship(tt.body)
			assert.Equal(t, tt.types, types)
			assert.Equal(t, tt.variable, variable)
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	c := NewCorrector(dictionaryTriples)
	inputs := []string{
		"MATCH (a:NeoArticle) RETURN count(a)",
		"```cypher\nMATCH (d:NeoDictionary)-[:ARTICLE_IS_USED_IN]->(a:NeoArticle) RETURN a\n```",
		"`MATCH (n) RETURN n`",
		"  MATCH (v:NeoVariant)<-[:WORD_IS_USED_IN]-(w:NeoWord) RETURN w  ",
		"MATCH (a:NeoArticle)-[:WRITTEN_BY]->(p) RETURN p",
		"",
	}
	for _, corrector := range []*Corrector{nil, c} {
		for _, in := range inputs {
			once, _ := Sanitize(in, corrector)
			twice, _ := Sanitize(once, corrector)
			assert.Equal(t, once, twice, "input %q", in)
		}
	}
}

func TestSanitizeRejectsUnknownTriple(t *testing.T) {
	c := NewCorrector(dictionaryTriples)

	q, ok := Sanitize("```\nMATCH (a:NeoArticle)-[:WRITTEN_BY]->(p:NeoAuthor) RETURN p\n```", c)
	assert.False(t, ok)
	assert.Empty(t, q)
	assert.NotContains(t, q, "WRITTEN_BY")

	q, ok = Sanitize("MATCH (a:NeoArticle)-[:WRITTEN_BY]->(p:NeoAuthor) RETURN p", nil)
	require.True(t, ok)
	assert.Contains(t, q, "WRITTEN_BY")
}

func TestIsReadOnly(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"MATCH (a:NeoArticle) RETURN count(a)", true},
		{"MATCH (n) WHERE n.value CONTAINS 'delete me' RETURN n", true},
		{"MATCH (n) WHERE n.settings = 1 RETURN n.set", true},
		{"MATCH (n:Set) RETURN n // CREATE nothing", true},
		{"CREATE (n:NeoWord {value: 'x'})", false},
		{"MATCH (n) DETACH DELETE n", false},
		{"MATCH (n) SET n.disable = true", false},
		{"merge (n:NeoWord {value: 'x'})", false},
		{"LOAD CSV FROM 'file:///x.csv' AS row RETURN row", false},
		{"CALL apoc.create.node(['X'], {})", false},
		{"MATCH (n) REMOVE n.flag", false},
		{"MATCH (n:NeoWord {set: 1}) RETURN n", true},
		{"MATCH (n:NeoWord {create : 1, merge: 2}) RETURN n", true},
		{"MATCH (n:NeoWord) RETURN n.created_at AS create", true},
		{"MATCH (n) WITH n AS node SET node:Archived", false},
		{"MATCH (n) SET n += {set: 1}", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadOnly(tt.query))
		})
	}
}
