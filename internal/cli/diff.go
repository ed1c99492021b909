package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"upcheck/internal/change"
	"upcheck/internal/fingerprint"
	"upcheck/internal/manifest"
)

func (a *app) diffCommand() *cobra.Command {
	var (
		property     string
		includeAdded bool
		limit        int
		summary      bool
	)
	cmd := &cobra.Command{
		Use:   "diff PREVIOUS CURRENT",
		Short: "List file changes between two snapshot manifests",
		Long: `Compare two snapshot manifests and print one line per change.

Entries are matched by content first, so moved files are not reported. Exits 1
when at least one change is found.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return invalidInvocationf("--limit must not be negative")
			}
			previous, err := manifest.LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			current, err := manifest.LoadSnapshot(args[1])
			if err != nil {
				return err
			}
			return a.diff(current, previous, property, includeAdded, limit, summary)
		},
	}
	cmd.Flags().StringVar(&property, "property", "Input", "label used in change messages")
	cmd.Flags().BoolVar(&includeAdded, "include-added", true, "report files present only in CURRENT")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many changes (0: no limit)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print counts per change type after the changes")
	return cmd
}

func (a *app) diff(current, previous fingerprint.Snapshot, property string, includeAdded bool, limit int, summary bool) error {
	counter := &change.Counter{}
	var sink change.Sink = change.Tee(counter, change.SinkFunc(func(c change.Change) bool {
		a.metrics.ObserveChange(c.Type.String())
		fmt.Fprintln(a.stdout, c.Message())
		return true
	}))
	var limiter *change.Limiter
	if limit > 0 {
		limiter = change.Limit(limit, sink)
		sink = limiter
	}

	change.Detect(current, previous, property, includeAdded, sink)
	truncated := limiter != nil && limiter.Truncated()
	a.logger.Debug("diff", "property", property, "changes", counter.Total(), "truncated", truncated)

	if summary {
		fmt.Fprintf(a.stdout, "%d added, %d removed, %d modified\n",
			counter.Count(change.Added), counter.Count(change.Removed), counter.Count(change.Modified))
		if truncated {
			fmt.Fprintln(a.stdout, "(stopped at --limit)")
		}
	}
	if counter.Total() > 0 {
		return changed()
	}
	return nil
}
