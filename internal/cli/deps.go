package cli

import (
	"context"
	"fmt"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"

	"smsalert/internal/cache"
	"smsalert/internal/captcha"
	"smsalert/internal/carrier"
	"smsalert/internal/config"
	"smsalert/internal/db"
	"smsalert/internal/handlers"
	"smsalert/internal/logging"
	"smsalert/internal/repository"
	"smsalert/internal/sms"
)

// openRepository connects the configured backend. The returned func
// releases it.
func openRepository(ctx context.Context, cfg *config.Config, logger *logging.ContextLogger) (repository.SubscriptionRepository, func(), error) {
	logger.WithField("store", cfg.Store).Info("Opening record store")

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPgxPool(ctx, cfg.PgConfig)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresSubscriptionRepository(pool, cfg.TableName), pool.Close, nil

	case config.StoreSQLite:
		repo, err := repository.OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close sqlite database")
			}
		}, nil

	case config.StoreDapr:
		client, err := dapr.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create dapr client: %w", err)
		}
		return repository.NewDaprSubscriptionRepository(client, cfg.DaprStore), client.Close, nil

	default:
		logger.Warn("Using the in-memory store; subscriptions are lost on restart")
		return repository.NewInMemorySubscriptionRepository(), func() {}, nil
	}
}

func newTwilioClient(cfg *config.Config) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
}

// newCarrierVerifier returns the cached Twilio lookup, or AllowAll when no
// Twilio credentials are configured. The cache is closed by the caller.
func newCarrierVerifier(cfg *config.Config, client *twilio.RestClient, logger *logging.ContextLogger) (carrier.Verifier, func()) {
	if client == nil {
		logger.Warn("Twilio is not configured; carrier checks are disabled")
		return carrier.AllowAll{}, func() {}
	}
	results := cache.NewInMemoryCache[carrier.Result](time.Minute)
	verifier := carrier.NewCachedVerifier(carrier.NewTwilioVerifier(client.LookupsV1), results, cfg.CacheTTL, logger)
	return verifier, results.Close
}

func newCaptchaVerifier(cfg *config.Config) captcha.Verifier {
	if cfg.Secret == "" {
		return nil
	}
	return captcha.NewReCaptcha(cfg.Secret, cfg.VerifyURL)
}

func newSender(cfg *config.Config, client *twilio.RestClient, logger *logging.ContextLogger) sms.Sender {
	if client == nil {
		logger.Warn("Twilio is not configured; outbound messages are only logged")
		return sms.LogSender{Logger: logger}
	}
	return sms.NewTwilioSender(client.Api, cfg.PhoneNumber)
}

func newSignatureValidator(cfg *config.Config) handlers.SignatureValidator {
	if !cfg.ValidateSignatures {
		return nil
	}
	validator := twilioclient.NewRequestValidator(cfg.AuthToken)
	return &validator
}

func twilioFor(cfg *config.Config, logger *logging.ContextLogger) *twilio.RestClient {
	if !cfg.TwilioConfig.Enabled() {
		return nil
	}
	logger.WithFields(logrus.Fields{"from": cfg.PhoneNumber}).Info("Using Twilio")
	return newTwilioClient(cfg)
}
