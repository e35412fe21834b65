package main

import (
	"github.com/spf13/cobra"

	"timelock/internal/devnet"
	"timelock/internal/timeauth"
)

func newDevnetCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Serve a local key-release network",
		Long: `devnet serves the key-release protocol on a local address so the http
registry backend can be exercised. Anyone holding the devnet secret can
decrypt early; do not use it for anything that matters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.Devnet.Listen
			}
			secret, err := a.devnetSecret()
			if err != nil {
				return err
			}
			network, err := timeauth.NewDevnet(secret, a.clock)
			if err != nil {
				return err
			}
			return devnet.NewServer(network, a.logger).Run(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to serve on (default devnet.listen)")
	return cmd
}
