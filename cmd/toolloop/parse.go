package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tgsearchbot/toolloop"
)

func (a *app) newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Show the tool calls found in a model response (stdin when no file or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
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
			calls, found := toolloop.ScanToolCalls(text, ts.reg.Has)
			if !found {
				_, _ = fmt.Fprintln(out, "no tool calls")
				return nil
			}
			run, _ := cmd.Flags().GetBool("run")
			dispatcher := toolloop.NewDispatcher(ts.reg, toolloop.WithDispatchLogger(logger))
			known := color.New(color.FgGreen)
			unknown := color.New(color.FgRed)
			for i, c := range calls {
				label := known
				if !c.Registered {
					label = unknown
				}
				_, _ = label.Fprintf(out, "%d. %s", i+1, c.ToolName)
				if !c.Registered {
					_, _ = fmt.Fprint(out, " (not registered)")
				}
				_, _ = fmt.Fprintln(out)
				keys := make([]string, 0, len(c.Arguments))
				for k := range c.Arguments {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					_, _ = fmt.Fprintf(out, "   %s = %q\n", k, c.Arguments[k])
				}
				if run && c.Registered {
					res := dispatcher.Invoke(cmd.Context(), c.Invocation)
					_, _ = fmt.Fprintf(out, "   -> %s\n", strings.ReplaceAll(res.String(), "\n", "\n      "))
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("run", false, "Dispatch the registered calls and print their results.")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}
