package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zupport/zupport/internal/fileio"
)

func (c *cli) scanCmd() *cobra.Command {
	var (
		template string
		wildcard string
		groupBy  []string
		mapping  map[string]string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "Parse and group the files of a workspace",
		Long: `Scan a directory, parse the file names against a template and
optionally group them by template tags.

Examples:
  # Tags of every raster
  zupport scan /data/rasters -t '<BODY1>_<ID1>_<BODY2>' -w '*.img'

  # Group by ID1, remapping the values
  zupport scan /data/rasters -t '<BODY1>_<ID1>_<BODY2>' -g ID1 -m 1=low -m 2=low -m 3=high

  # Keep listing as files come and go
  zupport scan /data/rasters --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			if template == "" {
				template = cfg.Workspace.Template
			}
			if !cmd.Flags().Changed("wildcard") {
				wildcard = cfg.Workspace.Wildcard
			}
			logger := newLogger(cfg.Log.Level, cfg.Log.Format, c.errOut)
			opts := []fileio.Option{fileio.WithLogger(logger)}

			var mp fileio.Mapping
			if len(mapping) > 0 {
				mp = fileio.Mapping(mapping)
			}
			show := func() error { return printScan(c.out, args[0], wildcard, template, groupBy, mp, opts) }
			if err := show(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ws, err := fileio.NewWorkspace(args[0], wildcard, opts...)
			if err != nil {
				return err
			}
			return fileio.Watch(ctx, ws, cfg.Workspace.Debounce, func(err error) {
				if err != nil {
					logger.Error("Workspace refresh failed.", "error", err)
					return
				}
				fmt.Fprintf(c.out, "\n--- %s\n", time.Now().Format(time.TimeOnly))
				if err := show(); err != nil {
					logger.Error("Scan failed.", "error", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "file name template (default from config)")
	cmd.Flags().StringVarP(&wildcard, "wildcard", "w", "*", "glob pattern")
	cmd.Flags().StringSliceVarP(&groupBy, "group-by", "g", nil, "tags to group by")
	cmd.Flags().StringToStringVarP(&mapping, "map", "m", nil, "map a tag value to a group value as value=group")
	cmd.Flags().BoolVar(&watch, "watch", false, "rescan whenever the directory changes")
	return cmd
}

func printScan(out io.Writer, dir, wildcard, template string, groupBy []string, mapping fileio.Mapping, opts []fileio.Option) error {
	if template == "" {
		ws, err := fileio.NewWorkspace(dir, wildcard, opts...)
		if err != nil {
			return err
		}
		for _, f := range ws.Files() {
			fmt.Fprintln(out, f)
		}
		return nil
	}

	it, err := fileio.NewFileGroupIterator(dir, wildcard, template, groupBy, mapping, opts...)
	if err != nil {
		return err
	}
	if len(groupBy) == 0 {
		for _, rec := range it.Workspace().Files() {
			fmt.Fprintf(out, "%s\t%s\n", rec.Name(), formatTags(rec))
		}
		return nil
	}
	for grp := range it.All() {
		fmt.Fprintf(out, "[%s]\n", grp.Label())
		for _, m := range grp.Members {
			fmt.Fprintf(out, "  %s\n", m.Name())
		}
	}
	return nil
}

func formatTags(rec *fileio.ParsedFileName) string {
	parts := make([]string, 0, len(rec.Order()))
	for _, tag := range rec.Order() {
		v, _ := rec.Tag(tag)
		parts = append(parts, tag+"="+fileio.FormatValue(v))
	}
	return strings.Join(parts, " ")
}

