package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tgsearchbot/toolloop"
)

func (a *app) newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.setup(cmd)
			if err != nil {
				return err
			}
			ts, err := buildTools(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer ts.Close()

			out := cmd.OutOrStdout()
			if prompt, _ := cmd.Flags().GetBool("prompt"); prompt {
				_, _ = fmt.Fprintln(out, toolloop.ToolPrompt(ts.reg.ListEnabled()))
				return nil
			}
			if schema, _ := cmd.Flags().GetBool("schema"); schema {
				return printSchemas(cmd, ts.reg.ListEnabled())
			}

			name := color.New(color.FgYellow, color.Bold)
			for _, def := range ts.reg.List() {
				state := ""
				if !def.Enabled {
					state = " (disabled)"
				}
				_, _ = name.Fprint(out, def.Name)
				_, _ = fmt.Fprintf(out, "%s [%s]: %s\n", state, def.Category, def.Description)
			}
			return nil
		},
	}
	cmd.Flags().Bool("prompt", false, "Print the tool advertisement sent to the model.")
	cmd.Flags().Bool("schema", false, "Print each enabled tool's JSON Schema.")
	return cmd
}

func printSchemas(cmd *cobra.Command, defs []toolloop.ToolDefinition) error {
	schemas := make(map[string]any, len(defs))
	for _, def := range defs {
		m, err := def.SchemaMap()
		if err != nil {
			return fmt.Errorf("schema for %s: %w", def.Name, err)
		}
		schemas[def.Name] = m
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(schemas)
}
