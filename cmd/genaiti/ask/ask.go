package askcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/export"
)

const askLongDesc string = `Ask one question about the dictionary graph.

The question is checked, translated into Cypher, run against the graph
and answered in natural language. With --direct the query rows are
printed instead of a synthesized answer.

Examples:
  genaiti ask "Combien d'articles y a-t-il dans la base ?"
  genaiti ask --direct --xlsx words.xlsx "liste les mots du dictionnaire yemba"
  genaiti ask --session 3f2c... --steps "et en ghomala ?"`

const askShortDesc string = "Ask the graph a question"

type askCommander struct {
	sessionID string
	direct    bool
	steps     bool
	jsonOut   bool
	xlsxPath  string
	limit     int

	opts []genaiti.Option
}

// NewAskCmd returns the ask command. opts are passed to the assistant.
func NewAskCmd(opts ...genaiti.Option) *cobra.Command {
	cmder := &askCommander{opts: opts}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.sessionID, "session", "s", "", "Ask within a stored session")
	cmd.Flags().BoolVar(&cmder.direct, "direct", false, "Print the query rows instead of an answer")
	cmd.Flags().BoolVar(&cmder.steps, "steps", false, "Print the intermediate steps")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the full result as JSON")
	cmd.Flags().StringVar(&cmder.xlsxPath, "xlsx", "", "Save the query rows to an Excel file (implies --direct)")
	cmd.Flags().IntVar(&cmder.limit, "limit", 0, "Maximum number of rows to keep")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, question string) error {
	if c.xlsxPath != "" {
		c.direct = true
	}

	a, err := cliconfig.Open(ctx, cmd, func(cfg *genaiti.Config) {
		cfg.Session.ReturnDirect = cfg.Session.ReturnDirect || c.direct
		cfg.Session.ReturnIntermediateSteps = cfg.Session.ReturnIntermediateSteps || c.steps || c.jsonOut
		if c.limit > 0 {
			cfg.Session.ResultLimit = c.limit
		}
	}, c.opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	var askOpts []genaiti.AskOption
	if c.sessionID != "" {
		askOpts = append(askOpts, genaiti.InSession(c.sessionID))
	}
	res, err := a.Ask(ctx, question, askOpts...)
	if err != nil {
		return fmt.Errorf("could not answer: %w", err)
	}

	if c.xlsxPath != "" {
		if err := export.SaveXLSX(c.xlsxPath, res.Rows); err != nil {
			return fmt.Errorf("could not save rows: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(res)
	}
	c.print(out, res)
	if c.xlsxPath != "" {
		fmt.Fprintf(out, "Saved %d rows to %s\n", len(res.Rows), c.xlsxPath)
	}
	return nil
}

func (c *askCommander) print(out io.Writer, res *chain.Result) {
	if c.steps {
		for _, s := range res.Steps {
			line := s.Output
			if s.Verdict != "" {
				line = s.Verdict
			}
			fmt.Fprintf(out, "[%s] %s\n", s.Action, strings.TrimSpace(line))
		}
		fmt.Fprintln(out)
	}

	if res.Direct {
		if len(res.Rows) == 0 {
			fmt.Fprintln(out, "No rows.")
		} else {
			fmt.Fprint(out, export.Markdown(res.Rows))
		}
	} else {
		fmt.Fprintln(out, strings.TrimSpace(res.Answer))
	}

	if res.Outcome == chain.OutcomeExecutionFailed && res.Fault != nil {
		fmt.Fprintf(out, "\n(%v)\n", res.Fault)
	}
}
