package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"timelock/internal/seal"
)

func newEncryptCmd(a *app) *cobra.Command {
	var release string

	cmd := &cobra.Command{
		Use:   "encrypt [path]",
		Short: "Seal a file or stdin until a release time",
		Long: `encrypt seals the contents of path, or of stdin when no path is given,
and prints the id of the sealed item. The release is an RFC3339 timestamp or
a duration such as 90s; it defaults to release.delay from now.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := seal.LockRequest{ReleaseTime: release}
			if len(args) == 1 {
				req.InputPath = args[0]
			} else {
				req.Stdin = seal.PipedStdin(a.stdin)
			}

			s, err := a.sealer()
			if err != nil {
				return err
			}
			res, err := s.Lock(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, res.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "release time (RFC3339 or duration)")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "decrypt <id>",
		Short: "Open a sealed item once its key is released",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.sealer()
			if err != nil {
				return err
			}
			if wait {
				a.startMetrics(cmd.Context())
			}
			res, err := s.Unseal(cmd.Context(), args[0], wait)
			if errors.Is(err, seal.ErrStillSealed) {
				return fmt.Errorf("%w (use --wait to block until the release)", err)
			}
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(res.Plaintext)
			return err
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the release key is published")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List sealed items and open those that are released",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.sealer()
			if err != nil {
				return err
			}
			result, err := s.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprint(a.stdout, seal.FormatStatusOutput(result.Items, a.clock.Now()))

			if result.ValidationFailed {
				for _, verr := range result.ValidationErrors {
					a.logger.Error("invalid item", "err", verr)
				}
				return fmt.Errorf("%d item(s) failed validation", len(result.ValidationErrors))
			}
			if result.MaterializationFailed {
				return fmt.Errorf("materialization failed: %w", result.FirstError)
			}
			return nil
		},
	}
}
