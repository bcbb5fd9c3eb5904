package evalcmder

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

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/eval"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/schema"
)

// stageModel rejects greetings and counts dictionaries for everything else.
type stageModel struct{}

func (stageModel) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.HasPrefix(p, "Task: Decide whether"):
		if strings.Contains(p, "Question: Bonjour\n") {
			return &llm.ChatResponse{Content: "False"}, nil
		}
		return &llm.ChatResponse{Content: "True"}, nil
	case strings.HasPrefix(p, "Task: Generate a Cypher"):
		return &llm.ChatResponse{Content: "MATCH (d:NeoDictionary) RETURN count(d) AS total"}, nil
	default:
		return &llm.ChatResponse{Content: "Il y a 3 dictionnaires."}, nil
	}
}

func (stageModel) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

var _ = Describe("Eval Command", func() {
	var (
		tmpDir  string
		cfgPath string
		out     *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "genaiti-eval-test-*")
		Expect(err).NotTo(HaveOccurred())
		cfgPath = filepath.Join(tmpDir, "genaiti.yaml")
		Expect(os.WriteFile(cfgPath, []byte("no_history: true\n"), 0o644)).To(Succeed())
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		static := graph.NewStatic(&schema.Description{
			NodeProps: []schema.TypeProperties{
				{Name: "NeoDictionary", Properties: []schema.Property{{Name: "name", Type: "STRING"}}},
			},
		}, graph.Rows(map[string]any{"total": 3}))
		root := &cobra.Command{Use: "genaiti", SilenceUsage: true, SilenceErrors: true}
		cliconfig.AddFlags(root)
		root.AddCommand(NewEvalCmd(
			genaiti.WithGraph(static),
			genaiti.WithProviderFunc(func(llm.Config) (llm.Provider, error) { return stageModel{}, nil }),
		))
		root.SetOut(out)
		root.SetArgs(append([]string{"--config", cfgPath, "eval"}, args...))
		return root.ExecuteContext(context.Background())
	}

	writeDataset := func() string {
		path := filepath.Join(tmpDir, "questions.yaml")
		body := `name: smoke
tests:
  - question: Combien de dictionnaires ?
    expected_outcome: answered
    expected_facts: ["3"]
    query_fragments: [NeoDictionary]
  - question: Bonjour
    expected_outcome: rejected
  - question: Combien de mots ?
    query_fragments: [NeoWord]
`
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	It("prints a summary for a dataset file", func() {
		Expect(execute("--dataset", writeDataset())).To(Succeed())
		Expect(out.String()).To(ContainSubstring("=== Evaluation Report: smoke ==="))
		Expect(out.String()).To(ContainSubstring("Total: 3 | Passed: 2 (66.7%) | Failed: 1 | Errors: 0"))
		Expect(out.String()).To(ContainSubstring("[FAIL] 3. Combien de mots ?"))
	})

	It("writes the JSON report", func() {
		report := filepath.Join(tmpDir, "report.json")
		Expect(execute("--dataset", writeDataset(), "--max-tests", "2", "--output", report)).To(Succeed())
		Expect(out.String()).To(HaveSuffix("Report written to " + report + "\n"))

		data, err := os.ReadFile(report)
		Expect(err).NotTo(HaveOccurred())
		var r eval.Report
		Expect(json.Unmarshal(data, &r)).To(Succeed())
		Expect(r.TotalTests).To(Equal(2))
		Expect(r.Passed).To(Equal(2))
		Expect(r.Outcomes).To(HaveKeyWithValue("rejected", 1))
	})

	It("runs the built-in questions", func() {
		Expect(execute("--json")).To(Succeed())
		var r eval.Report
		Expect(json.Unmarshal(out.Bytes(), &r)).To(Succeed())
		Expect(r.TotalTests).To(Equal(len(eval.DictionaryDataset().Tests)))
		Expect(r.Errors).To(BeZero())
	})

	It("rejects a malformed dataset", func() {
		path := filepath.Join(tmpDir, "bad.yaml")
		Expect(os.WriteFile(path, []byte("name: empty\ntests: []\n"), 0o644)).To(Succeed())
		Expect(execute("--dataset", path)).To(MatchError(ContainSubstring("invalid dataset")))
	})
})
