package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"smsalert/internal/app"
	"smsalert/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand(root *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serves the web form endpoint (POST /sms-form), the Twilio messaging webhook (POST /sms-inbound) and GET /health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			logger := root.logger

			if cfg.Tracing {
				tp, err := telemetry.InitTracing(cfg.ServiceName, cfg.Version, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer func() {
					if err := telemetry.ShutdownTracing(context.Background(), tp); err != nil {
						logger.WithError(err).Error("Error shutting down tracer provider")
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, closeRepo, err := openRepository(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeRepo()

			twilioClient := twilioFor(cfg, logger)
			verifier, closeCache := newCarrierVerifier(cfg, twilioClient, logger)
			defer closeCache()

			application := app.Build(&app.Config{
				ServiceName:    cfg.ServiceName,
				ServiceVersion: cfg.Version,
				Port:           cfg.Port,
				Logger:         logger,
				TracerProvider: otel.GetTracerProvider(),
				GinMode:        cfg.GinMode,
				Repository:     repo,
				Homepage:       cfg.Homepage,
				PublicURL:      cfg.PublicURL,
				Keywords:       cfg.Keywords(),
				Carrier:        verifier,
				Captcha:        newCaptchaVerifier(cfg),
				Sender:         newSender(cfg, twilioClient, logger),
				SendTimeout:    cfg.SendTimeout,
				Validator:      newSignatureValidator(cfg),
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- application.Run()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := application.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			logger.Info("Server exited")
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port, overrides SMSALERT_PORT")

	return cmd
}
