package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smsalert/internal/config"
	"smsalert/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile  string
	Store    string
	LogLevel string

	cfg    *config.Config
	logger *logging.ContextLogger
}

// NewRootCommand creates the root command for the smsalert CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "smsalert",
		Short:         "SMS subscription manager",
		Long:          "Manages SMS alert subscriptions: web form intake, inbound keyword replies and the daily report broadcast.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "record store backend (memory|postgres|sqlite|dapr), overrides SMSALERT_STORE")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides SMSALERT_LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewBroadcastCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("store") {
		cfg.Store = o.Store
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	o.cfg = cfg
	o.logger = logging.NewLoggerWithOutput(cfg.LogLevel, cmd.OutOrStdout())
	return nil
}
