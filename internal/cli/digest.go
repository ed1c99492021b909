package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"upcheck/internal/fingerprint"
	"upcheck/internal/manifest"
)

func (a *app) digestCommand() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "digest MANIFEST",
		Short: "Print the combined digest of a snapshot manifest",
		Long: `Print the hex combined digest of every fingerprint in a snapshot manifest.

The digest ignores entry order and locations: two file sets with the same
normalized paths, kinds and contents share a digest.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg := a.cfg.Algorithm()
			if cmd.Flags().Changed("algorithm") {
				parsed, err := fingerprint.ParseAlgorithm(algorithm)
				if err != nil {
					return invalidInvocationf("--algorithm: %v", err)
				}
				alg = parsed
			}
			s, err := manifest.LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, s.Digest(alg).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "sha256|xxhash64 (default from config)")
	return cmd
}
