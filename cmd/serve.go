package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/internal/observability"
	"github.com/tcgscout/tcgscout/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web search front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			if !cfg.Credentials.Present() {
				logger.Warn("Marketplace credentials are not configured; searches will be rejected.")
			}

			store, err := openHistory(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Warn("Failed to close history store.", zap.Error(err))
				}
			}()

			srv, err := server.New(cfg, store, logger, server.WithMetrics(observability.NewMetrics()))
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":5001", "address to listen on")
	return cmd
}
