package askcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/schema"
)

type stageModel struct{}

func (stageModel) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.HasPrefix(p, "Task: Decide whether"):
		return &llm.ChatResponse{Content: "True"}, nil
	case strings.HasPrefix(p, "Task: Generate a Cypher"):
		return &llm.ChatResponse{Content: "MATCH (w:NeoWord) RETURN w.word AS word"}, nil
	default:
		return &llm.ChatResponse{Content: "Le dictionnaire contient mbɔ̀ et ndʉ̀."}, nil
	}
}

func (stageModel) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

var _ = Describe("Ask Command", func() {
	var (
		tmpDir  string
		cfgPath string
		out     *bytes.Buffer
		static  *graph.Static
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "genaiti-ask-test-*")
		Expect(err).NotTo(HaveOccurred())
		cfgPath = filepath.Join(tmpDir, "genaiti.yaml")
		Expect(os.WriteFile(cfgPath, []byte("no_history: true\n"), 0o644)).To(Succeed())

		static = graph.NewStatic(&schema.Description{
			NodeProps: []schema.TypeProperties{
				{Name: "NeoWord", Properties: []schema.Property{{Name: "word", Type: "STRING"}}},
			},
		}, graph.Rows(map[string]any{"word": "mbɔ̀"}, map[string]any{"word": "ndʉ̀"}))
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		root := &cobra.Command{Use: "genaiti", SilenceUsage: true, SilenceErrors: true}
		cliconfig.AddFlags(root)
		root.AddCommand(NewAskCmd(
			genaiti.WithGraph(static),
			genaiti.WithProviderFunc(func(llm.Config) (llm.Provider, error) { return stageModel{}, nil }),
		))
		root.SetOut(out)
		root.SetArgs(append([]string{"--config", cfgPath, "ask"}, args...))
		return root.ExecuteContext(context.Background())
	}

	It("prints the synthesized answer", func() {
		Expect(execute("quels", "mots", "?")).To(Succeed())
		Expect(out.String()).To(Equal("Le dictionnaire contient mbɔ̀ et ndʉ̀.\n"))
		Expect(static.Queries()).To(ConsistOf("MATCH (w:NeoWord) RETURN w.word AS word"))
	})

	It("prints rows as a table with --direct", func() {
		Expect(execute("--direct", "liste les mots")).To(Succeed())
		Expect(out.String()).To(Equal("| word |\n| --- |\n| mbɔ̀ |\n| ndʉ̀ |\n"))
	})

	It("prints the steps before the answer", func() {
		Expect(execute("--steps", "liste les mots")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("MATCH (w:NeoWord) RETURN w.word AS word\n"))
		Expect(out.String()).To(HaveSuffix("\nLe dictionnaire contient mbɔ̀ et ndʉ̀.\n"))
	})

	It("prints the whole result as JSON", func() {
		Expect(execute("--json", "liste les mots")).To(Succeed())

		var res chain.Result
		Expect(json.Unmarshal(out.Bytes(), &res)).To(Succeed())
		Expect(res.Outcome).To(Equal(chain.OutcomeAnswered))
		Expect(res.Query).To(Equal("MATCH (w:NeoWord) RETURN w.word AS word"))
		Expect(res.Steps).NotTo(BeEmpty())
	})

	It("saves the rows to a workbook", func() {
		path := filepath.Join(tmpDir, "words.xlsx")
		Expect(execute("--xlsx", path, "liste les mots")).To(Succeed())
		Expect(out.String()).To(HaveSuffix("Saved 2 rows to " + path + "\n"))

		f, err := excelize.OpenFile(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetList()[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal([][]string{{"word"}, {"mbɔ̀"}, {"ndʉ̀"}}))
	})

	It("rejects an unknown session", func() {
		err := execute("--session", "missing", "liste les mots")
		Expect(err).To(MatchError(genaiti.ErrSessionNotFound))
	})

	It("requires a question", func() {
		Expect(execute()).To(HaveOccurred())
	})
})
