package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/captcha"
	"smsalert/internal/carrier"
	"smsalert/internal/handlers"
	"smsalert/internal/logging"
	"smsalert/internal/messages"
	"smsalert/internal/repository"
	"smsalert/internal/service"
	"smsalert/internal/sms"
	"smsalert/internal/subscription"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Port           string
	Logger         *logging.ContextLogger
	TracerProvider trace.TracerProvider
	GinMode        string
	Repository     repository.SubscriptionRepository // Allow injecting any repository implementation

	Homepage  string
	PublicURL string
	Keywords  subscription.Keywords

	Carrier     carrier.Verifier
	Captcha     captcha.Verifier
	Sender      sms.Sender
	SendTimeout time.Duration
	// Validator checks inbound webhook signatures; nil accepts all.
	Validator handlers.SignatureValidator
}

type Application struct {
	server     *http.Server
	config     *Config
	router     *gin.Engine
	repo       repository.SubscriptionRepository
	dispatcher *sms.Dispatcher
	service    *service.SubscriptionService
	handler    *handlers.SubscriptionHandler
}

func Build(config *Config) *Application {
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}

	// Use injected repository or fall back to in-memory
	var repo repository.SubscriptionRepository
	if config.Repository != nil {
		repo = config.Repository
	} else {
		repo = repository.NewInMemorySubscriptionRepository()
	}

	var sender sms.Sender = sms.LogSender{Logger: config.Logger}
	if config.Sender != nil {
		sender = config.Sender
	}
	sendTimeout := config.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	dispatcher := sms.NewDispatcher(sender, config.Logger, sendTimeout)

	keywords := config.Keywords
	if len(keywords.Enter)+len(keywords.Confirm)+len(keywords.Exit) == 0 {
		keywords = subscription.DefaultKeywords()
	}

	subscriptionService := service.NewSubscriptionService(repo, service.Options{
		Carrier:    config.Carrier,
		Captcha:    config.Captcha,
		Dispatcher: dispatcher,
		Renderer:   messages.NewRenderer(config.Homepage, keywords),
		Keywords:   keywords,
	}, config.Logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, config.Validator, config.PublicURL, config.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(config.ServiceName))

	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		config.Logger.WithTracing(c.Request.Context()).WithFields(map[string]interface{}{
			"method":     method,
			"path":       path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}).Info("HTTP request completed")
	})

	router.POST("/sms-form", subscriptionHandler.SubmitForm)
	router.POST("/sms-inbound", subscriptionHandler.Inbound)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   config.ServiceName,
			"version":   config.ServiceVersion,
		})
	})

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		server:     server,
		config:     config,
		router:     router,
		repo:       repo,
		dispatcher: dispatcher,
		service:    subscriptionService,
		handler:    subscriptionHandler,
	}
}

func (app *Application) Run() error {
	app.config.Logger.Info("Starting server on :" + app.config.Port)
	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for queued SMS sends.
func (app *Application) Shutdown(ctx context.Context) error {
	app.config.Logger.Info("Shutting down server...")
	if err := app.server.Shutdown(ctx); err != nil {
		return err
	}
	return app.dispatcher.Wait(ctx)
}

func (app *Application) GetRepo() repository.SubscriptionRepository {
	return app.repo
}

func (app *Application) GetDispatcher() *sms.Dispatcher {
	return app.dispatcher
}

func (app *Application) GetService() *service.SubscriptionService {
	return app.service
}

func (app *Application) GetRouter() *gin.Engine {
	return app.router
}
