package schemacmder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/schema"
)

type silentModel struct{}

func (silentModel) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not expected")
}

func (silentModel) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

var _ = Describe("Schema Command", func() {
	var (
		tmpDir  string
		cfgPath string
		out     *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "genaiti-schema-test-*")
		Expect(err).NotTo(HaveOccurred())
		cfgPath = filepath.Join(tmpDir, "genaiti.yaml")
		Expect(os.WriteFile(cfgPath, []byte("no_history: true\n"), 0o644)).To(Succeed())
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		desc := &schema.Description{
			NodeProps: []schema.TypeProperties{
				{Name: "NeoWord", Properties: []schema.Property{{Name: "word", Type: "STRING"}}},
				{Name: "NeoVariant", Properties: []schema.Property{{Name: "variant", Type: "STRING"}}},
			},
			Relationships: []schema.Triple{{Start: "NeoVariant", Type: "VARIANT_OF", End: "NeoWord"}},
		}
		root := &cobra.Command{Use: "genaiti", SilenceUsage: true, SilenceErrors: true}
		cliconfig.AddFlags(root)
		root.AddCommand(NewSchemaCmd(
			genaiti.WithGraph(graph.NewStatic(desc, graph.Rows())),
			genaiti.WithProviderFunc(func(llm.Config) (llm.Provider, error) { return silentModel{}, nil }),
		))
		root.SetOut(out)
		root.SetArgs(append([]string{"--config", cfgPath, "schema"}, args...))
		return root.ExecuteContext(context.Background())
	}

	It("prints the projected schema", func() {
		Expect(execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("NeoWord {word: STRING},NeoVariant {variant: STRING}"))
		Expect(out.String()).To(ContainSubstring("(:NeoVariant)-[:VARIANT_OF]->(:NeoWord)"))
	})

	It("leaves excluded types out of the properties", func() {
		Expect(execute("--exclude", "NeoVariant")).To(Succeed())
		Expect(out.String()).NotTo(ContainSubstring("NeoVariant {"))
		Expect(out.String()).To(ContainSubstring("NeoWord {word: STRING}"))
	})

	It("rejects include and exclude together", func() {
		err := execute("--include", "NeoWord", "--exclude", "NeoVariant")
		Expect(err).To(HaveOccurred())
	})

	It("prints the node labels", func() {
		Expect(execute("--labels")).To(Succeed())
		Expect(out.String()).To(Equal("NeoWord\nNeoVariant\n"))
	})

	It("prints only the included labels", func() {
		Expect(execute("--labels", "--include", "NeoVariant")).To(Succeed())
		Expect(out.String()).To(Equal("NeoVariant\n"))
	})

	It("prints the description as JSON", func() {
		Expect(execute("--json")).To(Succeed())
		var desc schema.Description
		Expect(json.Unmarshal(out.Bytes(), &desc)).To(Succeed())
		Expect(desc.Labels()).To(ConsistOf("NeoWord", "NeoVariant"))
		Expect(desc.Triples()).To(HaveLen(1))
	})
})
