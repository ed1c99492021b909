package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"upcheck/internal/history"
	"upcheck/internal/manifest"
	"upcheck/internal/uptodate"
)

func (a *app) checkCommand() *cobra.Command {
	var (
		maxReasons int
		record     bool
	)
	cmd := &cobra.Command{
		Use:   "check INPUTS",
		Short: "Decide whether work is up to date with its recorded history",
		Long: `Compare the input properties in an inputs manifest with the execution last
recorded for the same work, and explain why the work is out of date.

Exits 0 when the work is up to date and 1 when it is not.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := manifest.LoadInputs(args[0])
			if err != nil {
				return err
			}
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			previous, err := store.Load(in.Work)
			if err != nil {
				return err
			}

			checker := uptodate.NewChecker()
			checker.MaxReasons = a.cfg.MaxReasons
			if cmd.Flags().Changed("max-reasons") {
				if maxReasons < 0 {
					return invalidInvocationf("--max-reasons must not be negative")
				}
				checker.MaxReasons = maxReasons
			}
			checker.IncludeAdded = a.cfg.IncludeAdded
			checker.Metrics = a.metrics
			checker.Trace = a.trace
			checker.Logger = a.logger

			d, err := checker.Check(in.Work, previous, in.Properties)
			if err != nil {
				return err
			}
			if d.UpToDate {
				fmt.Fprintf(a.stdout, "%s is up to date.\n", in.Work)
				return nil
			}
			fmt.Fprintf(a.stdout, "%s is out of date:\n", in.Work)
			for _, r := range d.Reasons {
				fmt.Fprintf(a.stdout, "  %s\n", r)
			}
			if d.Truncated {
				fmt.Fprintln(a.stdout, "  (further changes not listed)")
			}
			if record {
				if err := a.record(store, in); err != nil {
					return err
				}
			}
			return changed()
		},
	}
	cmd.Flags().IntVar(&maxReasons, "max-reasons", 0, "reasons to report (0: all; default from config)")
	cmd.Flags().BoolVar(&record, "record", false, "record the current inputs when the work is out of date")
	return cmd
}

func (a *app) recordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record INPUTS",
		Short: "Record an inputs manifest as the latest execution of its work",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := manifest.LoadInputs(args[0])
			if err != nil {
				return err
			}
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			return a.record(store, in)
		},
	}
}

func (a *app) record(store history.Store, in manifest.Inputs) error {
	exec := history.NewExecution(in.Work, in.Properties, time.Now())
	if err := store.Save(exec); err != nil {
		return err
	}
	a.logger.Info("recorded execution", "work", exec.Work, "id", exec.ID, "properties", len(exec.Properties))
	return nil
}

func (a *app) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded executions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the work with a recorded execution",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			works, err := store.List()
			if err != nil {
				return err
			}
			for _, w := range works {
				fmt.Fprintln(a.stdout, w)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show WORK",
		Short: "Show the latest recorded execution of WORK",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			exec, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if exec == nil {
				return invalidInvocationf("no history for %q", args[0])
			}
			fmt.Fprintf(a.stdout, "work:        %s\n", exec.Work)
			fmt.Fprintf(a.stdout, "id:          %s\n", exec.ID)
			fmt.Fprintf(a.stdout, "recorded at: %s\n", exec.RecordedAt.Format(time.RFC3339))
			for _, name := range exec.PropertyNames() {
				fmt.Fprintf(a.stdout, "  %s: %d entries\n", name, len(exec.Properties[name]))
			}
			return nil
		},
	})
	return cmd
}
