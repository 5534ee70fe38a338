package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gowa-hub/config"
	"gowa-hub/database"
	"gowa-hub/internal/broker"
	"gowa-hub/internal/core"
	"gowa-hub/internal/handler"
	"gowa-hub/internal/helper"
	"gowa-hub/internal/model"
	"gowa-hub/internal/wa"
	"gowa-hub/internal/ws"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	if err := database.InitWhatsmeow(ctx, cfg.DBURL, log); err != nil {
		log.Fatal().Err(err).Msg("init whatsmeow store")
	}
	if err := database.InitAppDB(cfg.AppDBURL, log); err != nil {
		log.Fatal().Err(err).Msg("init app database")
	}

	if len(os.Args) > 1 && os.Args[1] == "--createschema" {
		if err := helper.InitAppSchema(); err != nil {
			log.Fatal().Err(err).Msg("create schema")
		}
		log.Info().Msg("schema created")
	}

	// WebSocket hub for dashboard push.
	hub := ws.NewHub(log)
	go hub.Run()

	// Event consumers shared by every session.
	webhookWorker := core.NewWebhookWorker(core.WebhookWorkerConfig{
		Workers:     cfg.WebhookWorkers,
		QueueSize:   cfg.WebhookQueueSize,
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
	}, model.WebhookProvider{}, model.NewDeliveryReporter(log), log)

	consumers := []core.Consumer{
		model.NewEventSink(log),
		webhookWorker,
		ws.NewBroadcaster(hub),
	}

	var amqpPub *broker.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err = broker.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect amqp broker")
		}
		consumers = append(consumers, amqpPub)
	}

	factory := wa.NewFactory(database.Container, log)
	registry := core.NewRegistry(core.Config{
		Supervisor: core.SupervisorConfig{
			PairingTimeout: cfg.PairingTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
			ReconnectBase:  cfg.ReconnectBase,
			ReconnectCap:   cfg.ReconnectCap,
			ReconnectMax:   cfg.ReconnectMax,
		},
		Outbound: core.OutboundConfig{
			MaxDepth:       cfg.QueueMaxDepth,
			Rate:           cfg.SendRate,
			Burst:          cfg.SendBurst,
			SendTimeout:    cfg.SendTimeout,
			RetryDelay:     cfg.SendRetryDelay,
			DedupWindow:    cfg.DedupWindow,
			AllowBuffering: cfg.AllowBuffering,
		},
		ConsumerBuffer: cfg.ConsumerBuffer,
		StopGrace:      cfg.StopGrace,
	}, model.CredentialStore{}, factory.NewClient, consumers, log)

	resumeSessions(registry, cfg.AllowBuffering, log)

	handler.Init(registry, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))
	e.OPTIONS("/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(10),
				Burst:     10,
				ExpiresIn: 3 * time.Minute,
			},
		),
	}))

	e.POST("/login-jwt", handler.LoginJWT)
	e.GET("/ws", handler.WebSocketHandler(hub))
	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"success": true,
			"message": "Session gateway is running",
			"version": "1.0.0",
		})
	})

	api := e.Group("/api", echojwt.WithConfig(echojwt.Config{
		SigningKey: handler.JwtKey,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "Authentication required",
				"message": "Please provide a valid Bearer token in the Authorization header",
			})
		},
	}))
	api.GET("/validate", handler.ValidateToken)

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required. Please login first."
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}

		c.JSON(code, response)
	}

	// Session lifecycle
	api.POST("/sessions", handler.StartSession)
	api.GET("/sessions", handler.GetAllSessions)
	api.GET("/sessions/:instanceId", handler.GetSessionStatus)
	api.GET("/sessions/:instanceId/pairing", handler.GetPairing)
	api.DELETE("/sessions/:instanceId", handler.StopSession)
	api.DELETE("/instances/:instanceId", handler.DeleteInstance)

	// Messaging and event replay
	api.POST("/send/:instanceId", handler.SendMessage)
	api.POST("/check/:instanceId", handler.CheckNumber)
	api.GET("/events/:instanceId", handler.GetEvents)

	// Webhook configuration
	api.PUT("/webhook/:instanceId", handler.PutWebhook)
	api.GET("/webhook/:instanceId", handler.GetWebhook)
	api.DELETE("/webhook/:instanceId", handler.DeleteWebhook)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := e.Start("0.0.0.0:" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain sessions.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("registry shutdown")
	}
	webhookWorker.Close()
	if amqpPub != nil {
		amqpPub.Close()
	}
	log.Info().Msg("shutdown complete")
}

// resumeSessions restarts supervisors for every instance that still has
// stored credentials and was not deliberately stopped.
func resumeSessions(registry *core.Registry, allowBuffering bool, log zerolog.Logger) {
	instances, err := model.GetResumableInstances()
	if err != nil {
		log.Warn().Err(err).Msg("load resumable instances")
		return
	}
	for _, inst := range instances {
		if _, err := registry.Start(inst.InstanceID, core.StartOptions{AllowBuffering: allowBuffering}); err != nil {
			log.Warn().Err(err).Str("instance_id", inst.InstanceID).Msg("resume session")
			continue
		}
		log.Info().Str("instance_id", inst.InstanceID).Msg("session resumed")
	}
}
