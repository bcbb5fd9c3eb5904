package mcpcmder

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
)

type fakeAsker struct {
	questions []string
	sessions  int
	err       error
}

func (f *fakeAsker) Ask(_ context.Context, question string, opts ...genaiti.AskOption) (*chain.Result, error) {
	f.questions = append(f.questions, question)
	f.sessions += len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &chain.Result{
		Question: question,
		Answer:   "Il y a 2 mots.",
		Outcome:  chain.OutcomeAnswered,
		Query:    "MATCH (w:NeoWord) RETURN count(w) AS total",
	}, nil
}

func (f *fakeAsker) Schema(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Node properties are the following:\nNeoWord {word: STRING}", nil
}

var _ = Describe("MCP Command", func() {
	var (
		ctx   context.Context
		asker *fakeAsker
		cmder *mcpCommander
	)

	BeforeEach(func() {
		ctx = context.Background()
		asker = &fakeAsker{}
		cmder = &mcpCommander{assistant: asker}
	})

	It("registers both tools", func() {
		Expect(cmder.server()).NotTo(BeNil())
	})

	Describe("ask_graph", func() {
		It("answers a question", func() {
			_, out, err := cmder.askGraph(ctx, nil, askInput{Question: "combien de mots ?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Answer).To(Equal("Il y a 2 mots."))
			Expect(out.Outcome).To(Equal(chain.OutcomeAnswered))
			Expect(out.Query).To(ContainSubstring("count(w)"))
			Expect(asker.questions).To(Equal([]string{"combien de mots ?"}))
			Expect(asker.sessions).To(BeZero())
		})

		It("asks within a session when one is given", func() {
			_, _, err := cmder.askGraph(ctx, nil, askInput{Question: "et en ghomala ?", SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(asker.sessions).To(Equal(1))
		})

		It("returns assistant errors", func() {
			asker.err = genaiti.ErrSessionNotFound
			_, _, err := cmder.askGraph(ctx, nil, askInput{Question: "q", SessionID: "gone"})
			Expect(err).To(MatchError(genaiti.ErrSessionNotFound))
		})
	})

	Describe("graph_schema", func() {
		It("returns the schema text", func() {
			_, out, err := cmder.graphSchema(ctx, nil, schemaInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Schema).To(HavePrefix("Node properties are the following:"))
		})

		It("returns schema errors", func() {
			asker.err = errors.New("graph unreachable")
			_, _, err := cmder.graphSchema(ctx, nil, schemaInput{})
			Expect(err).To(MatchError("graph unreachable"))
		})
	})
})
