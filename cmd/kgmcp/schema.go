package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/config"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and validate schema definitions",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available schema definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		for _, name := range schema.NewLoader(cfg.Schema.Dir).Available() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate [name]",
	Short: "Compile a schema definition and report whether it is valid",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, name, err := schemaTarget(args)
		if err != nil {
			return err
		}

		registry, err := schema.NewLoader(cfg.Schema.Dir).Load(name)
		if err != nil {
			return err
		}

		summary := registry.Summary()
		fmt.Fprintf(cmd.OutOrStdout(), "schema %q is valid: %d entity types, %d relationship rules\n",
			name, summary.EntityTypeCount, summary.RelationshipCount)
		return nil
	},
}

var schemaSummaryCmd = &cobra.Command{
	Use:   "summary [name]",
	Short: "Print the compiled schema summary as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, name, err := schemaTarget(args)
		if err != nil {
			return err
		}

		registry, err := schema.NewLoader(cfg.Schema.Dir).Load(name)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(registry.Summary(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func schemaTarget(args []string) (*config.Config, string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, "", err
	}
	name := cfg.Schema.Name
	if len(args) > 0 {
		name = args[0]
	}
	return cfg, name, nil
}

func init() {
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaValidateCmd)
	schemaCmd.AddCommand(schemaSummaryCmd)
}
