package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zupport/zupport/internal/registry"
)

func (c *cli) toolsCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "tools [plugin]",
		Short: "List plugins and the tools they registered",
		Long: `List the loaded plugins and the tools they registered.

Examples:
  # All tools
  zupport tools

  # Tools of one plugin, with their parameters
  zupport tools fileio -v`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app) error {
				filter := ""
				if len(args) == 1 {
					filter = args[0]
				}
				return c.printTools(a, filter, verbose)
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show tool parameters")
	return cmd
}

func (c *cli) printTools(a *app, filter string, verbose bool) error {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tSTATE\tTOOLS")
	for _, p := range a.manager.Plugins() {
		if filter != "" && p.Name() != filter {
			continue
		}
		names := utilityNames(p.RegisteredTools())
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name(), p.State(), strings.Join(names, ", "))
		if err := p.Err(); err != nil {
			fmt.Fprintf(w, "\terror\t%v\n", err)
		}
		for tool, err := range p.ToolErrors() {
			fmt.Fprintf(w, "\tskipped %s\t%v\n", tool, err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !verbose {
		return nil
	}
	for _, u := range a.manager.Registry().UtilitiesFor(filter) {
		params := u.Tool.Parameters()
		fmt.Fprintf(c.out, "\n%s\n", registry.Key(u.Plugin, u.Name))
		if help := params.Help(); help != "" {
			fmt.Fprintln(c.out, help)
		}
		pw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, p := range params.All() {
			fmt.Fprintf(pw, "  %s\t%v\t%s\n", p.Label(), p.Value, p.Tip)
		}
		if err := pw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func utilityNames(us []registry.Utility) []string {
	names := make([]string, len(us))
	for i, u := range us {
		names[i] = u.Name
	}
	slices.Sort(names)
	return names
}
