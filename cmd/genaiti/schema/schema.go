package schemacmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/cmd/genaiti/cliconfig"
	"github.com/ntealan/genaiti/schema"
)

const schemaLongDesc string = `Print the graph schema the query generator sees.

Node and relationship types are listed with their properties, followed
by the valid (start)-[type]->(end) patterns. --include and --exclude
narrow the listing the same way the session settings do.

Examples:
  genaiti schema
  genaiti schema --exclude NeoVariant,NeoRadical
  genaiti schema --labels
  genaiti schema --json`

const schemaShortDesc string = "Print the graph schema"

type schemaCommander struct {
	include []string
	exclude []string
	jsonOut bool
	labels  bool

	opts []genaiti.Option
}

// NewSchemaCmd returns the schema command. opts are passed to the assistant.
func NewSchemaCmd(opts ...genaiti.Option) *cobra.Command {
	cmder := &schemaCommander{opts: opts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: schemaShortDesc,
		Long:  schemaLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringSliceVar(&cmder.include, "include", nil, "Only list these types")
	cmd.Flags().StringSliceVar(&cmder.exclude, "exclude", nil, "Leave these types out")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the unfiltered description as JSON")
	cmd.Flags().BoolVar(&cmder.labels, "labels", false, "Only print the node labels, one per line")

	return cmd
}

func (c *schemaCommander) run(ctx context.Context, cmd *cobra.Command) error {
	a, err := cliconfig.Open(ctx, cmd, func(cfg *genaiti.Config) {
		if len(c.include) > 0 || len(c.exclude) > 0 {
			cfg.Session.IncludeTypes = c.include
			cfg.Session.ExcludeTypes = c.exclude
		}
	}, c.opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if c.jsonOut {
		desc, err := a.Describe(ctx)
		if err != nil {
			return fmt.Errorf("could not read schema: %w", err)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	}

	if c.labels {
		desc, err := a.Describe(ctx)
		if err != nil {
			return fmt.Errorf("could not read schema: %w", err)
		}
		filtered, err := schema.Filter(desc, c.include, c.exclude)
		if err != nil {
			return err
		}
		for _, l := range filtered.Labels() {
			fmt.Fprintln(out, l)
		}
		return nil
	}

	text, err := a.Schema(ctx)
	if err != nil {
		return fmt.Errorf("could not read schema: %w", err)
	}
	fmt.Fprintln(out, text)
	return nil
}
