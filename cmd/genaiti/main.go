package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	askcmder "github.com/ntealan/genaiti/cmd/genaiti/ask"
	chatcmder "github.com/ntealan/genaiti/cmd/genaiti/chat"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	evalcmder "github.com/ntealan/genaiti/cmd/genaiti/eval"
	historycmder "github.com/ntealan/genaiti/cmd/genaiti/history"
	mcpcmder "github.com/ntealan/genaiti/cmd/genaiti/mcp"
	schemacmder "github.com/ntealan/genaiti/cmd/genaiti/schema"
)

const rootLongDesc string = `genaiti answers questions about the NTeALan dictionary graph.

A question is checked for relevance, translated into a Cypher query,
run against Neo4j and answered in natural language.

Configuration comes from --config (or $GENAITI_CONFIG) and the
NEO4J_*, LLM_* and GENAITI_* environment variables.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "genaiti",
		Short:         "Question answering over the dictionary graph",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cliconfig.AddFlags(cmd)

	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(schemacmder.NewSchemaCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(mcpcmder.NewMCPCmd())
	cmd.AddCommand(evalcmder.NewEvalCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
