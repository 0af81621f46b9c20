package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/observability"
)

var (
	cfgFile string
	osExit  = os.Exit
)

// flagBindings maps command line flags to the viper keys they override.
var flagBindings = map[string]string{
	"addr":     "server.addr",
	"max":      "scraper.max_results",
	"headless": "browser.headless",
	"limit":    "server.history_limit",
}

type configKey struct{}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tcgscout",
		Short:         "tcgscout finds trading card listings on snkrdunk.com.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting tcgscout", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newSearchCmd(),
		newLoginCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// Execute runs the CLI until it finishes or the process receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	observability.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}

// initializeConfig reads the config file and environment into v, then binds
// any flags the command defines.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TCGSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}
	return nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration was not loaded")
	}
	return cfg, nil
}
