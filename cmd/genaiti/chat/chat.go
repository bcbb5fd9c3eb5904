package chatcmder

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
)

const chatLongDesc string = `Chat with the dictionary graph in the terminal.

Every chat is a session: its turns are kept in the run log and can be
resumed with --session. Answers are rendered as markdown.

Examples:
  genaiti chat
  genaiti chat --model mistralai/Mixtral-8x7B-Instruct-v0.1
  genaiti chat --session 3f2c...`

const chatShortDesc string = "Chat with the graph in the terminal"

type chatCommander struct {
	sessionID string
	model     string
	direct    bool

	opts []genaiti.Option
}

// NewChatCmd returns the chat command. opts are passed to the assistant.
func NewChatCmd(opts ...genaiti.Option) *cobra.Command {
	cmder := &chatCommander{opts: opts}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.sessionID, "session", "s", "", "Resume a stored session")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model for every stage of a new session")
	cmd.Flags().BoolVar(&cmder.direct, "direct", false, "Show query rows instead of answers")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}

	// Log lines would tear the screen apart.
	log := zap.NewNop()
	if cfg.Debug {
		log = cliconfig.Logger(cfg)
	}
	opts := append([]genaiti.Option{genaiti.WithLogger(log)}, c.opts...)
	a, err := genaiti.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("could not start assistant: %w", err)
	}
	defer a.Close()

	sessionID := c.sessionID
	agent := cfg.Session.AgentName
	if sessionID == "" {
		settings := cfg.Session
		if c.model != "" {
			settings.QAModel = c.model
			settings.CypherModel = ""
			settings.ValidateModel = ""
		}
		settings.ReturnDirect = settings.ReturnDirect || c.direct
		s, err := a.Sessions().Create(ctx, settings)
		if err != nil {
			return fmt.Errorf("could not create session: %w", err)
		}
		sessionID = s.ID()
	} else {
		s, err := a.Sessions().Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("could not resume session %s: %w", sessionID, err)
		}
		agent = s.Settings().AgentName
	}
	if strings.TrimSpace(agent) == "" {
		agent = "genaiti"
	}

	ask := func(ctx context.Context, q string) (*chain.Result, error) {
		return a.Ask(ctx, q, genaiti.InSession(sessionID))
	}
	p := tea.NewProgram(newModel(ctx, agent, ask, markdownRenderer()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat ended: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s\n", sessionID)
	return nil
}

// markdownRenderer renders with glamour, caching one renderer per width.
func markdownRenderer() renderFunc {
	renderers := make(map[int]*glamour.TermRenderer)
	return func(md string, width int) string {
		r, ok := renderers[width]
		if !ok {
			var err error
			r, err = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(max(width-2, 20)),
			)
			if err != nil {
				return md
			}
			renderers[width] = r
		}
		out, err := r.Render(md)
		if err != nil {
			return md
		}
		return strings.TrimRight(out, "\n")
	}
}
