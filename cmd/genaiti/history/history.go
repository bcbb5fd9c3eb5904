package historycmder

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/store"
)

const historyLongDesc string = `List past questions from the run log.

Runs are listed newest first. The log lives in the sqlite database named
by db_path in the config (~/.genaiti/genaiti.db by default); the graph
is not contacted.

Examples:
  genaiti history
  genaiti history --session default --limit 5
  genaiti history --like dictionnaire --outcome answered
  genaiti history --related "combien de mots en yemba ?"
  genaiti history --stats`

const historyShortDesc string = "List past questions"

type historyCommander struct {
	sessionID string
	like      string
	related   string
	outcome   string
	limit     int
	jsonOut   bool
	stats     bool
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.sessionID, "session", "s", "", "Only runs of this session")
	cmd.Flags().StringVar(&cmder.like, "like", "", "Only runs whose question or answer contains this text")
	cmd.Flags().StringVar(&cmder.related, "related", "", "Rank runs by how closely their question relates to this one")
	cmd.Flags().StringVar(&cmder.outcome, "outcome", "", "Only runs with this outcome")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 20, "Maximum number of runs")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print runs as JSON")
	cmd.Flags().BoolVar(&cmder.stats, "stats", false, "Print row counts instead of runs")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	if cfg.NoHistory {
		return fmt.Errorf("history is disabled in the configuration")
	}

	st, err := store.New(cfg.ResolveDBPath(), cfg.EmbeddingDim, cliconfig.Logger(cfg))
	if err != nil {
		return fmt.Errorf("could not open run log: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if c.stats {
		s, err := st.Stats(ctx)
		if err != nil {
			return fmt.Errorf("could not count rows: %w", err)
		}
		fmt.Fprintf(out, "sessions: %d\nmessages: %d\nruns: %d\nembeddings: %d\n", s.Sessions, s.Messages, s.Runs, s.Embeddings)
		for _, outcome := range slices.Sorted(maps.Keys(s.Outcomes)) {
			fmt.Fprintf(out, "  %s: %d\n", outcome, s.Outcomes[outcome])
		}
		return nil
	}

	if c.related != "" {
		return c.runRelated(ctx, cmd, cfg, st)
	}

	runs, err := st.ListRuns(ctx, store.RunFilter{
		SessionID: c.sessionID,
		Outcome:   c.outcome,
		Like:      c.like,
		Limit:     c.limit,
	})
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if c.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	fmt.Fprintln(out, renderRuns(runs))
	return nil
}

func (c *historyCommander) runRelated(ctx context.Context, cmd *cobra.Command, cfg genaiti.Config, st *store.Store) error {
	var embedding []float32
	if cfg.Embedding != nil && cfg.EmbeddingDim > 0 {
		embedder, err := llm.NewProvider(*cfg.Embedding)
		if err != nil {
			return fmt.Errorf("could not create embedding provider: %w", err)
		}
		vecs, err := embedder.Embed(ctx, []string{c.related})
		if err != nil {
			cliconfig.Logger(cfg).Warn("history: embedding failed, ranking by keywords", zap.Error(err))
		} else if len(vecs) > 0 {
			embedding = vecs[0]
		}
	}

	related, err := st.RelatedRuns(ctx, c.related, embedding, c.limit)
	if err != nil {
		return fmt.Errorf("could not rank runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(related)
	}
	if len(related) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	runs := make([]store.Run, len(related))
	for i, r := range related {
		runs[i] = r.Run
	}
	fmt.Fprintln(out, renderRuns(runs))
	return nil
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.CreatedAt,
			r.Outcome,
			truncate(r.Question, 48),
			truncate(r.Answer, 48),
			strconv.FormatInt(r.ElapsedMs, 10),
		})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "OUTCOME", "QUESTION", "ANSWER", "MS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
