package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"smsalert/internal/broadcast"
	"smsalert/internal/sms"
)

func NewBroadcastCommand(root *RootOptions) *cobra.Command {
	var (
		concurrency int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send the daily report to every subscribed number",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			logger := root.logger
			ctx := cmd.Context()

			if !cmd.Flags().Changed("concurrency") {
				concurrency = cfg.ReportConfig.Concurrency
			}

			repo, closeRepo, err := openRepository(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeRepo()

			var sender sms.Sender = sms.LogSender{Logger: logger}
			if !dryRun {
				sender = newSender(cfg, twilioFor(cfg, logger), logger)
			}

			source := broadcast.NewSocrataSource(cfg.ReportConfig.Source, cfg.ReportConfig.StartDate, nil)
			result, err := broadcast.NewJob(repo, source, sender, concurrency, logger).Run(ctx)
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"recipients": result.Recipients,
				"sent":       result.Sent,
				"failed":     result.Failed,
			}).Info("Broadcast complete")

			if result.Failed > 0 {
				return fmt.Errorf("%d of %d messages failed", result.Failed, result.Recipients)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel sends, overrides SMSALERT_REPORT_CONCURRENCY")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log messages instead of sending them")

	return cmd
}
