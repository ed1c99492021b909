package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"upcheck/internal/manifest"
	"upcheck/internal/memo"
	"upcheck/internal/transform"
)

func (a *app) pipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run memoized transformation pipelines",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var output string
	run := &cobra.Command{
		Use:   "run PIPELINE SOURCE",
		Short: "Derive an artifact from SOURCE, reusing cached stages",
		Long: `Apply the steps of a pipeline manifest to SOURCE in order. A step whose
command and input are unchanged since a previous run is not executed again.

Steps run through sh -c in the pipeline file's directory, reading the previous
output on stdin. Only the environment declared by the step is visible.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, source, err := a.loadPipeline(args[0], args[1])
			if err != nil {
				return err
			}
			out, err := p.Run(cmd.Context(), source)
			if err != nil {
				var execErr *memo.ExecutionError
				if errors.As(err, &execErr) {
					return &InvocationError{ExitCode: ExitChanged, Message: err.Error()}
				}
				return err
			}
			if output == "" {
				_, err = a.stdout.Write(out)
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	run.Flags().StringVarP(&output, "output", "o", "", "write the artifact here instead of stdout")

	status := &cobra.Command{
		Use:   "status PIPELINE SOURCE",
		Short: "Report whether every stage is cached for SOURCE",
		Long:  "Exits 0 when running the pipeline would execute nothing and 1 otherwise.",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, source, err := a.loadPipeline(args[0], args[1])
			if err != nil {
				return err
			}
			if p.UpToDate(cmd.Context(), source) {
				fmt.Fprintln(a.stdout, "up to date")
				return nil
			}
			fmt.Fprintln(a.stdout, "out of date")
			return changed()
		},
	}

	cmd.AddCommand(run, status)
	return cmd
}

func (a *app) loadPipeline(pipelinePath, sourcePath string) (*transform.Pipeline, []byte, error) {
	spec, err := manifest.LoadPipeline(pipelinePath)
	if err != nil {
		return nil, nil, err
	}
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read source: %w", err)
	}
	cache, err := a.memoCache()
	if err != nil {
		return nil, nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(pipelinePath))
	if err != nil {
		return nil, nil, err
	}
	steps := make([]transform.Step, 0, len(spec.Steps))
	for _, st := range spec.Steps {
		steps = append(steps, transform.CommandStep{
			StepName: st.Name,
			Run:      st.Run,
			Env:      st.Env,
			Dir:      dir,
		})
	}

	runner := memo.NewRunner(cache)
	runner.Algorithm = a.cfg.Algorithm()
	runner.Logger = a.logger
	runner.Metrics = a.metrics
	runner.Trace = a.trace
	return &transform.Pipeline{Steps: steps, Runner: runner}, source, nil
}
