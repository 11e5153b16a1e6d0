package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zupport/zupport/internal/core"
	"github.com/zupport/zupport/internal/job"
)

// jobFlags are shared by run and submit.
type jobFlags struct {
	service string
	args    []string
	params  []string
	batch   bool
	gui     bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.service, "service", "s", "", "service to run, optionally qualified as plugin::service")
	cmd.Flags().StringArrayVarP(&f.args, "arg", "a", nil, "positional parameter value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "named parameter as name=value (repeatable)")
	cmd.Flags().BoolVar(&f.batch, "batch", true, "ignore native parameter values")
	cmd.Flags().BoolVar(&f.gui, "gui", false, "mark the job as started from a GUI")
}

// specs returns the jobs of the job file, or the single job described
// by the flags.
func (f *jobFlags) specs(args []string) ([]job.Spec, error) {
	if len(args) == 1 {
		if f.service != "" {
			return nil, fmt.Errorf("use either a job file or --service, not both")
		}
		return job.LoadSpecs(args[0])
	}
	if f.service == "" {
		return nil, fmt.Errorf("a job file or --service is required")
	}
	spec := job.Spec{Service: f.service, Batch: f.batch, GUI: f.gui}
	for _, a := range f.args {
		spec.Args = append(spec.Args, decodeValue(a))
	}
	if len(f.params) > 0 {
		spec.Params = make(map[string]any, len(f.params))
		for _, p := range f.params {
			name, value, ok := strings.Cut(p, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("parameter %q is not of the form name=value", p)
			}
			spec.Params[name] = decodeValue(value)
		}
	}
	return []job.Spec{spec}, nil
}

// decodeValue reads a flag value as a yaml scalar, so that "3" becomes
// an int and "true" a bool. Values that do not decode stay strings.
func decodeValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

func (c *cli) runCmd() *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   "run [job-file]",
		Short: "Run jobs from a job file or the command line",
		Long: `Queue jobs and run them one after the other.

Examples:
  # Every job in a file
  zupport run jobs.yaml

  # A single service
  zupport run -s fileiterator -p input_workspace=/data/rasters -p wildcard='*.img'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := f.specs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				for _, s := range specs {
					if _, err := a.manager.AddJob(ctx, s); err != nil {
						return err
					}
				}
				sum, err := a.manager.RunJobs(ctx)
				if perr := c.printSummary(sum); perr != nil && err == nil {
					err = perr
				}
				if err != nil {
					return err
				}
				if sum.Failed > 0 {
					return fmt.Errorf("%d of %d jobs failed", sum.Failed, sum.Total())
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   "submit [job-file]",
		Short: "Queue jobs without running them",
		Long: `Queue jobs for a running "zupport serve" to pick up. Only useful with
the redis queue backend.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := f.specs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.cfg.Queue.Backend != "redis" {
					a.logger.Warn("Jobs submitted to the memory queue are lost on exit.")
				}
				for _, s := range specs {
					id, err := a.manager.AddJob(ctx, s)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.out, id)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) printSummary(sum core.Summary) error {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSERVICE\tSTATUS\tDURATION\tDETAIL")
	for _, r := range sum.Results {
		detail := r.Error
		if detail == "" && len(r.Outputs) > 0 {
			detail = fmt.Sprintf("%d outputs", len(r.Outputs))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.JobID, r.Service, r.Status, r.Duration(), detail)
	}
	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped\n", sum.Succeeded, sum.Failed, sum.Skipped)
	return w.Flush()
}
