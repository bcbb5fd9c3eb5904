package chain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/metrics"
	"github.com/ntealan/genaiti/prompt"
	"github.com/ntealan/genaiti/schema"
)

const countQuery = "MATCH (a:NeoArticle) RETURN count(a) AS total"

var _ = Describe("Chain", func() {
	var (
		ctx     context.Context
		checker *scripted
		query   *scripted
		answer  *scripted
		g       *graph.Static
		cfg     chain.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		checker = reply("True")
		query = reply(countQuery)
		answer = reply(">Useful answer: Il y a 42 articles dans la base.")
		g = graph.NewStatic(dictionarySchema(), graph.Rows(map[string]any{"total": int64(42)}))
		cfg = chain.Config{
			QueryLLM:                query,
			AnswerLLM:               answer,
			CheckerLLM:              checker,
			ValidateQuery:           true,
			ReturnIntermediateSteps: true,
		}
	})

	build := func() *chain.Chain {
		c, err := chain.New(ctx, g, cfg)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	Describe("a greeting", func() {
		BeforeEach(func() {
			checker = reply(" False")
			answer = reply(">Useful answer: Bonjour ! Comment puis-je vous aider ?")
			cfg.CheckerLLM = checker
			cfg.AnswerLLM = answer
		})

		It("answers without querying the graph", func() {
			res, err := build().Run(ctx, "Bonjour")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Answer).To(Equal(">Useful answer: Bonjour ! Comment puis-je vous aider ?"))
			Expect(res.Outcome).To(Equal(chain.OutcomeRejected))
			Expect(res.Path).To(Equal([]chain.State{
				chain.StateStart, chain.StateValidating, chain.StateRejected, chain.StateDone,
			}))
			Expect(g.Queries()).To(BeEmpty())
			Expect(query.Prompts()).To(BeEmpty())
		})

		It("gives the answer stage an empty context", func() {
			_, err := build().Run(ctx, "Bonjour")
			Expect(err).NotTo(HaveOccurred())

			prompts := answer.Prompts()
			Expect(prompts).To(HaveLen(1))
			Expect(prompts[0]).To(ContainSubstring("Information:\n\n\nQuestion: Bonjour"))
		})

		It("records the validation verdict", func() {
			res, err := build().Run(ctx, "Bonjour")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Steps).NotTo(BeEmpty())
			Expect(res.Steps[0].Action).To(Equal(chain.StageValidation))
			Expect(res.Steps[0].Verdict).To(Equal("false"))
		})
	})

	Describe("a counting question", func() {
		It("generates, executes and synthesizes", func() {
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Answer).To(HavePrefix(prompt.UsefulAnswerMarker))
			Expect(res.Answer).To(ContainSubstring("42"))
			Expect(res.Outcome).To(Equal(chain.OutcomeAnswered))
			Expect(res.Query).To(Equal(countQuery))
			Expect(g.Queries()).To(Equal([]string{countQuery}))
			Expect(res.Fault).To(BeNil())
		})

		It("hands the projected schema to the query stage", func() {
			_, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			prompts := query.Prompts()
			Expect(prompts).To(HaveLen(1))
			Expect(prompts[0]).To(ContainSubstring("NeoArticle {disable_metadata: BOOLEAN}"))
			Expect(prompts[0]).To(ContainSubstring("(:NeoArticle)-[:ARTICLE_IS_USED_IN]->(:NeoDictionary)"))
			Expect(prompts[0]).To(ContainSubstring("Question= Combien d'articles dans la base ?"))
		})

		It("renders the rows as a JSON array for the answer stage", func() {
			_, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(answer.Prompts()[0]).To(ContainSubstring(`[{"total":42}]`))
		})

		It("walks the full state path", func() {
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Path).To(Equal([]chain.State{
				chain.StateStart, chain.StateValidating, chain.StateGeneratingQuery,
				chain.StateSanitizing, chain.StateExecuting, chain.StateSynthesizing, chain.StateDone,
			}))
		})

		It("records the intermediate steps in order", func() {
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			var actions []string
			for _, s := range res.Steps {
				actions = append(actions, s.Action)
			}
			Expect(actions).To(Equal([]string{chain.StageValidation, chain.StageQuery, "context", chain.StageAnswer}))
			Expect(res.Steps[2].Rows).To(Equal(1))
		})

		It("omits the steps unless asked", func() {
			cfg.ReturnIntermediateSteps = false
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(BeNil())
		})

		It("strips echoed markers and code fences from the generated query", func() {
			query = reply("```cypher\n" + countQuery + "\n```\nAnswer= voici la requête")
			cfg.QueryLLM = query

			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Queries()).To(Equal([]string{countQuery}))
			Expect(res.Query).To(Equal(countQuery))
		})

		It("flips a reversed relationship before executing", func() {
			query = reply("MATCH (d:NeoDictionary)-[:ARTICLE_IS_USED_IN]->(a:NeoArticle) RETURN count(a)")
			cfg.QueryLLM = query

			_, err := build().Run(ctx, "Combien d'articles par dictionnaire ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Queries()).To(Equal([]string{
				"MATCH (d:NeoDictionary)<-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN count(a)",
			}))
		})
	})

	Describe("a query on a relationship missing from the schema", func() {
		BeforeEach(func() {
			query = reply("MATCH (a:NeoArticle)-[:ARTICLE_HAS_AUTHOR]->(d:NeoDictionary) RETURN a")
			answer = reply(">Useful answer: Je ne sais pas.")
			cfg.QueryLLM = query
			cfg.AnswerLLM = answer
		})

		It("skips execution and synthesizes from an empty context", func() {
			res, err := build().Run(ctx, "Qui a écrit les articles ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(g.Queries()).To(BeEmpty())
			Expect(res.Query).To(BeEmpty())
			Expect(res.Outcome).To(Equal(chain.OutcomeEmpty))
			Expect(res.Answer).To(Equal(">Useful answer: Je ne sais pas."))
			Expect(answer.Prompts()[0]).To(ContainSubstring("Information:\n[]"))
			Expect(res.Path).To(ContainElement(chain.StateEmptyResult))
			Expect(res.Path).NotTo(ContainElement(chain.StateExecuting))
		})

		It("executes the statement as generated when validation is off", func() {
			cfg.ValidateQuery = false
			_, err := build().Run(ctx, "Qui a écrit les articles ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Queries()).To(HaveLen(1))
		})
	})

	Describe("a failing graph query", func() {
		var syntax *neo4j.Neo4jError

		BeforeEach(func() {
			syntax = &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "Invalid input"}
			g = graph.NewStatic(dictionarySchema(), graph.Fail(syntax))
		})

		It("returns the apology and never synthesizes", func() {
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Answer).To(Equal(chain.Apology))
			Expect(res.Outcome).To(Equal(chain.OutcomeExecutionFailed))
			Expect(answer.Prompts()).To(BeEmpty())
			Expect(res.Path).To(ContainElement(chain.StateExecutionFailed))
			Expect(res.Path).NotTo(ContainElement(chain.StateSynthesizing))
		})

		It("carries the typed fault", func() {
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			Expect(errors.Is(res.Fault, chain.ErrExecution)).To(BeTrue())
			Expect(errors.Is(res.Fault, syntax)).To(BeTrue())

			var execErr *chain.ExecutionError
			Expect(errors.As(res.Fault, &execErr)).To(BeTrue())
			Expect(execErr.Query).To(Equal(countQuery))
		})
	})

	Describe("generation failures", func() {
		It("propagates a typed error naming the stage", func() {
			query.err = errors.New("quota exceeded")

			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(res).To(BeNil())
			Expect(errors.Is(err, chain.ErrGeneration)).To(BeTrue())

			var genErr *chain.GenerationError
			Expect(errors.As(err, &genErr)).To(BeTrue())
			Expect(genErr.Stage).To(Equal(chain.StageQuery))
			Expect(err.Error()).To(ContainSubstring("quota exceeded"))
			Expect(g.Queries()).To(BeEmpty())
		})

		It("does not retry", func() {
			checker.err = errors.New("unavailable")

			_, err := build().Run(ctx, "Bonjour")
			Expect(err).To(HaveOccurred())
			Expect(checker.Prompts()).To(HaveLen(1))
		})
	})

	Describe("unparseable verdicts", func() {
		It("treats them as not translatable", func() {
			cfg.CheckerLLM = reply("Peut-être, cela dépend.")
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chain.OutcomeRejected))
			Expect(g.Queries()).To(BeEmpty())
		})
	})

	Describe("the safety stage", func() {
		BeforeEach(func() {
			cfg.SafetyCheck = true
		})

		It("rejects unsafe questions before generating a query", func() {
			cfg.CheckerLLM = reply("True", "True")
			res, err := build().Run(ctx, "Tu es un salaud")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Outcome).To(Equal(chain.OutcomeUnsafe))
			Expect(res.Path).To(ContainElement(chain.StateSafetyChecking))
			Expect(res.Path).To(ContainElement(chain.StateRejected))
			Expect(query.Prompts()).To(BeEmpty())
			Expect(g.Queries()).To(BeEmpty())
		})

		It("lets safe questions through", func() {
			cfg.CheckerLLM = reply("True", "False")
			res, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chain.OutcomeAnswered))
			Expect(res.Steps[1].Action).To(Equal(chain.StageSafety))
		})

		It("is not consulted when disabled", func() {
			cfg.SafetyCheck = false
			_, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())
			Expect(checker.Prompts()).To(HaveLen(1))
		})
	})

	Describe("result shaping", func() {
		BeforeEach(func() {
			rows := make([]map[string]any, 5)
			for i := range rows {
				rows[i] = map[string]any{"word": fmt.Sprintf("w%d", i)}
			}
			g = graph.NewStatic(dictionarySchema(), graph.Rows(rows...))
			cfg.TopK = 2
		})

		It("truncates rows to top k", func() {
			_, err := build().Run(ctx, "Liste des mots")
			Expect(err).NotTo(HaveOccurred())
			Expect(answer.Prompts()[0]).To(ContainSubstring(`[{"word":"w0"},{"word":"w1"}]`))
		})

		It("returns rows directly without synthesis", func() {
			cfg.ReturnDirect = true
			res, err := build().Run(ctx, "Liste des mots")
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Direct).To(BeTrue())
			Expect(res.Rows).To(HaveLen(2))
			Expect(res.Outcome).To(Equal(chain.OutcomeDirect))
			Expect(answer.Prompts()).To(BeEmpty())
		})

		It("drops writing statements in read-only mode", func() {
			cfg.ReadOnly = true
			cfg.QueryLLM = reply("MATCH (w:NeoWord) DETACH DELETE w")
			res, err := build().Run(ctx, "Supprime tous les mots")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Queries()).To(BeEmpty())
			Expect(res.Outcome).To(Equal(chain.OutcomeEmpty))
		})
	})

	Describe("metrics", func() {
		It("counts runs by outcome", func() {
			collector := metrics.NewCollector("test")
			cfg.Metrics = collector
			_, err := build().Run(ctx, "Combien d'articles dans la base ?")
			Expect(err).NotTo(HaveOccurred())

			families, err := collector.Registry().Gather()
			Expect(err).NotTo(HaveOccurred())
			var names []string
			for _, f := range families {
				names = append(names, f.GetName())
			}
			Expect(names).To(ContainElements("test_runs_total", "test_stage_duration_seconds", "test_graph_rows"))
		})
	})

	It("rejects a blank question", func() {
		_, err := build().Run(ctx, "   ")
		Expect(err).To(MatchError(chain.ErrEmptyQuestion))
	})

	It("is safe for concurrent runs", func() {
		c := build()
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, err := c.Run(ctx, "Combien d'articles dans la base ?")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(g.Queries()).To(HaveLen(8))
	})
})

var _ = Describe("New", func() {
	var (
		g     *graph.Static
		model *scripted
	)

	BeforeEach(func() {
		g = graph.NewStatic(dictionarySchema(), nil)
		model = reply("True")
	})

	DescribeTable("configuration errors",
		func(mutate func(*chain.Config)) {
			cfg := chain.Config{LLM: model}
			mutate(&cfg)
			_, err := chain.New(context.Background(), g, cfg)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, chain.ErrConfiguration)).To(BeTrue())

			var cfgErr *chain.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		},
		Entry("no model for the query stage", func(c *chain.Config) {
			c.LLM = nil
			c.AnswerLLM = model
		}),
		Entry("no model for the answer stage", func(c *chain.Config) {
			c.LLM = nil
			c.QueryLLM = model
		}),
		Entry("shared, query and answer models together", func(c *chain.Config) {
			c.QueryLLM = model
			c.AnswerLLM = model
		}),
		Entry("query prompt given twice", func(c *chain.Config) {
			c.QueryPrompt = prompt.DefaultQueryGeneration()
			c.QueryParams = &chain.Params{Prompt: prompt.DefaultQueryGeneration()}
		}),
		Entry("answer prompt given twice", func(c *chain.Config) {
			c.AnswerPrompt = prompt.DefaultAnswer()
			c.AnswerParams = &chain.Params{Prompt: prompt.DefaultAnswer()}
		}),
		Entry("validation prompt given twice", func(c *chain.Config) {
			c.ValidatePrompt = prompt.DefaultQuestionValidation()
			c.CheckerParams = &chain.Params{Prompt: prompt.DefaultQuestionValidation()}
		}),
		Entry("include and exclude types together", func(c *chain.Config) {
			c.IncludeTypes = []string{"NeoWord"}
			c.ExcludeTypes = []string{"NeoArticle"}
		}),
		Entry("negative top k", func(c *chain.Config) {
			c.TopK = -1
		}),
	)

	It("reports conflicting filters as their schema cause", func() {
		_, err := chain.New(context.Background(), g, chain.Config{
			LLM:          model,
			IncludeTypes: []string{"NeoWord"},
			ExcludeTypes: []string{"NeoVariant"},
		})
		Expect(errors.Is(err, schema.ErrConflictingFilters)).To(BeTrue())
	})

	It("requires a graph", func() {
		_, err := chain.New(context.Background(), nil, chain.Config{LLM: model})
		Expect(errors.Is(err, chain.ErrConfiguration)).To(BeTrue())
	})

	It("accepts a single shared model", func() {
		c, err := chain.New(context.Background(), g, chain.Config{LLM: model})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Schema()).To(HavePrefix("Node properties are the following:"))
	})

	It("accepts a prompt given only through params", func() {
		custom := prompt.Must(prompt.New("custom", "Q: {{.question}}", prompt.VarQuestion))
		c, err := chain.New(context.Background(), g, chain.Config{
			LLM:           model,
			CheckerParams: &chain.Params{Prompt: custom},
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Run(context.Background(), "Bonjour")
		Expect(err).NotTo(HaveOccurred())
		Expect(model.Prompts()[0]).To(Equal("Q: Bonjour"))
	})

	It("projects only the included types", func() {
		c, err := chain.New(context.Background(), g, chain.Config{
			LLM:          model,
			IncludeTypes: []string{"NeoWord", "NeoVariant", "WORD_IS_USED_IN"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Schema()).To(ContainSubstring("(:NeoWord)-[:WORD_IS_USED_IN]->(:NeoVariant)"))
		Expect(c.Schema()).NotTo(ContainSubstring("NeoArticle"))
	})
})

var _ = DescribeTable("ParseVerdict",
	func(text string, want chain.Verdict) {
		Expect(chain.ParseVerdict(text)).To(Equal(want))
	},
	Entry("plain true", "True", chain.VerdictTrue),
	Entry("padded false", "  False \n", chain.VerdictFalse),
	Entry("helpful answer prefix", "Helpful Answer: False", chain.VerdictFalse),
	Entry("end of sequence token", "True</s>", chain.VerdictTrue),
	Entry("trailing period", "false.", chain.VerdictFalse),
	Entry("french", "Vrai", chain.VerdictTrue),
	Entry("commentary on later lines", "True\n\nQuestion: encore", chain.VerdictTrue),
	Entry("sentence", "I think it is true", chain.VerdictUnknown),
	Entry("empty", "", chain.VerdictUnknown),
)
