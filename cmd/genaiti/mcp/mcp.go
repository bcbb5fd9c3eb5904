package mcpcmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
)

const mcpLongDesc string = `Serve the assistant as an MCP server over stdio.

Tools:
  ask_graph     answer a question about the dictionary graph
  graph_schema  return the schema the query generator sees

Example client configuration:
  {"command": "genaiti", "args": ["mcp", "--config", "/etc/genaiti.yaml"]}`

const mcpShortDesc string = "Serve the assistant over MCP (stdio)"

// asker is the part of the assistant the tools use.
type asker interface {
	Ask(ctx context.Context, question string, opts ...genaiti.AskOption) (*chain.Result, error)
	Schema(ctx context.Context) (string, error)
}

type mcpCommander struct {
	assistant asker
	logger    *zap.Logger

	opts []genaiti.Option
}

// NewMCPCmd returns the mcp command. opts are passed to the assistant.
func NewMCPCmd(opts ...genaiti.Option) *cobra.Command {
	cmder := &mcpCommander{opts: opts}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
	return cmd
}

type askInput struct {
	Question  string `json:"question" jsonschema:"the question, in any language the models understand"`
	SessionID string `json:"session_id,omitempty" jsonschema:"optional session to ask within"`
}

type askOutput struct {
	Answer  string           `json:"answer"`
	Outcome string           `json:"outcome"`
	Query   string           `json:"query,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`
}

type schemaInput struct{}

type schemaOutput struct {
	Schema string `json:"schema"`
}

func (c *mcpCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	c.logger = cliconfig.Logger(cfg)

	opts := append([]genaiti.Option{genaiti.WithLogger(c.logger)}, c.opts...)
	a, err := genaiti.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("could not start assistant: %w", err)
	}
	defer a.Close()
	c.assistant = a

	server := c.server()
	c.logger.Info("mcp: serving on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}

func (c *mcpCommander) server() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "genaiti", Version: "v1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_graph",
		Description: "Answer a natural language question from the NTeALan dictionary knowledge graph.",
	}, c.askGraph)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "graph_schema",
		Description: "Return the node types, relationship types and their properties in the dictionary graph.",
	}, c.graphSchema)
	return server
}

func (c *mcpCommander) askGraph(ctx context.Context, _ *mcp.CallToolRequest, in askInput) (*mcp.CallToolResult, askOutput, error) {
	var opts []genaiti.AskOption
	if in.SessionID != "" {
		opts = append(opts, genaiti.InSession(in.SessionID))
	}
	res, err := c.assistant.Ask(ctx, in.Question, opts...)
	if err != nil {
		return nil, askOutput{}, err
	}
	if c.logger != nil {
		c.logger.Debug("mcp: answered", zap.String("run_id", res.RunID.String()), zap.String("outcome", res.Outcome))
	}
	return nil, askOutput{
		Answer:  res.Answer,
		Outcome: res.Outcome,
		Query:   res.Query,
		Rows:    res.Rows,
	}, nil
}

func (c *mcpCommander) graphSchema(ctx context.Context, _ *mcp.CallToolRequest, _ schemaInput) (*mcp.CallToolResult, schemaOutput, error) {
	text, err := c.assistant.Schema(ctx)
	if err != nil {
		return nil, schemaOutput{}, err
	}
	return nil, schemaOutput{Schema: text}, nil
}
