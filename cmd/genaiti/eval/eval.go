package evalcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/eval"
	"github.com/ntealan/genaiti/llm"
)

const evalLongDesc string = `Score the assistant against a set of questions.

Each question is asked in turn and checked for its expected outcome,
the facts its answer should contain and the fragments its Cypher query
should contain. Without --dataset the built-in dictionary questions are
used.

With --judge-provider an LLM judge decides which facts an answer covers;
substring matching is still reported as strict accuracy.

Examples:
  genaiti eval
  genaiti eval --dataset questions.yaml --output report.json
  genaiti eval --judge-provider groq --judge-model llama-3.3-70b-versatile`

const evalShortDesc string = "Score the assistant against a question set"

type evalCommander struct {
	dataset   string
	output    string
	maxTests  int
	jsonOut   bool
	judge     llm.Config
	judgeName string

	opts []genaiti.Option
}

// NewEvalCmd returns the eval command. opts are passed to the assistant.
func NewEvalCmd(opts ...genaiti.Option) *cobra.Command {
	cmder := &evalCommander{opts: opts}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: evalShortDesc,
		Long:  evalLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.dataset, "dataset", "", "Path to a YAML or JSON question set")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", "", "Write the JSON report to this file")
	cmd.Flags().IntVar(&cmder.maxTests, "max-tests", 0, "Only run the first n questions (0 runs all)")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the JSON report instead of the summary")
	cmd.Flags().StringVar(&cmder.judge.Provider, "judge-provider", "", "LLM provider for the accuracy judge")
	cmd.Flags().StringVar(&cmder.judgeName, "judge-model", "", "Judge model name")
	cmd.Flags().StringVar(&cmder.judge.BaseURL, "judge-base-url", "", "Judge provider base URL")
	cmd.Flags().StringVar(&cmder.judge.APIKey, "judge-api-key", "", "Judge provider API key")

	return cmd
}

func (c *evalCommander) run(ctx context.Context, cmd *cobra.Command) error {
	ds := eval.DictionaryDataset()
	if c.dataset != "" {
		var err error
		if ds, err = eval.LoadDataset(c.dataset); err != nil {
			return err
		}
	}
	if c.maxTests > 0 && c.maxTests < len(ds.Tests) {
		ds.Tests = ds.Tests[:c.maxTests]
	}

	cfg, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	log := cliconfig.Logger(cfg)

	opts := append([]genaiti.Option{genaiti.WithLogger(log)}, c.opts...)
	a, err := genaiti.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("could not start assistant: %w", err)
	}
	defer a.Close()

	e := eval.NewEvaluator(a, log)
	if c.judge.Provider != "" {
		c.judge.Model = c.judgeName
		judge, err := llm.NewProvider(c.judge)
		if err != nil {
			return fmt.Errorf("could not create judge: %w", err)
		}
		e.SetJudge(judge, c.judgeName)
	}

	log.Info("eval: starting", zap.String("dataset", ds.Name), zap.Int("tests", len(ds.Tests)))
	report, err := e.Run(ctx, ds)
	if err != nil {
		return fmt.Errorf("evaluation interrupted: %w", err)
	}

	if c.output != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.output, data, 0o644); err != nil {
			return fmt.Errorf("could not write report: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(report)
	}
	fmt.Fprint(out, eval.FormatReport(report))
	if c.output != "" {
		fmt.Fprintf(out, "\nReport written to %s\n", c.output)
	}
	return nil
}
