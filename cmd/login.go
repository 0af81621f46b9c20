package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/internal/observability"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in once and save the session for later searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if !cfg.Credentials.Present() {
				return errNoCredentials
			}
			logger := observability.GetLogger()

			sc, err := launchSearcher(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := sc.Close(); err != nil {
					logger.Warn("Failed to close browser.", zap.Error(err))
				}
			}()

			method, err := sc.Login(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in (%s). Session file: %s\n", method, cfg.Session.CookiePath)
			return nil
		},
	}
	cmd.Flags().Bool("headless", true, "run the browser without a window")
	return cmd
}
