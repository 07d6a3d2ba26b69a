package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/openquill/voxsignal/internal/channel"
	"github.com/openquill/voxsignal/internal/config"
	"github.com/openquill/voxsignal/internal/gateway"
	"github.com/openquill/voxsignal/internal/httputil"
	"github.com/openquill/voxsignal/internal/log"
	"github.com/openquill/voxsignal/internal/monitor"
	"github.com/openquill/voxsignal/internal/otel"
	"github.com/openquill/voxsignal/internal/redisutil"
	"github.com/openquill/voxsignal/internal/retry"
	"github.com/openquill/voxsignal/internal/signaling"
	"github.com/openquill/voxsignal/internal/store"
	"github.com/openquill/voxsignal/internal/token"
	"github.com/openquill/voxsignal/internal/transport"
	"github.com/openquill/voxsignal/internal/workflow"
)

type Config struct {
	App       config.App       `mapstructure:"app"`
	HTTP      httputil.Config  `mapstructure:"http"`
	Redis     redisutil.Config `mapstructure:"redis"`
	Otel      otel.Config      `mapstructure:"otel"`
	Gateway   gateway.Config   `mapstructure:"gateway"`
	Signaling signaling.Config `mapstructure:"signaling"`
	Monitor   monitor.Config   `mapstructure:"monitor"`

	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("allowed_origins", []string{"*"})

		config.Setup(v, "app")
		httputil.Setup(v, "http")
		redisutil.Setup(v, "redis")
		otel.Setup(v, "otel")
		gateway.Setup(v, "gateway")
		signaling.Setup(v, "signaling")
		monitor.Setup(v, "monitor")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger := log.New()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting voice signaling core...")

	redisClient := redisutil.NewClient(&config.Redis)
	pingRetry := retry.New(logger.Module("RedisPing"), time.Second, 5*time.Second, 30*time.Second)
	if err := pingRetry.Do(ctx, func() error {
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		logger.Fatal("Failed to connect to Redis", log.Error(err))
	}

	jwtAuth := token.NewAuth(config.JWTSecret)

	channelStore := store.NewChannelStore(redisClient, logger.Module("ChannelStore"))
	campaignACL := store.NewCampaignACL(redisClient)

	manager := channel.NewManager(logger.Module("Manager"))

	voiceMonitor := monitor.New(config.Monitor, logger.Module("Monitor"))
	voiceMonitor.Start(ctx)

	issuer := signaling.NewCredentialIssuer(config.Signaling)

	registry := gateway.NewRegistry(logger.Module("Registry"))
	broker := signaling.NewBroker(
		manager,
		voiceMonitor,
		issuer,
		registry,
		logger.Module("Broker"),
	)

	if len(config.Gateway.AllowedOrigins) == 0 {
		config.Gateway.AllowedOrigins = config.AllowedOrigins
	}
	gwServer := gateway.NewServer(
		config.Gateway,
		broker,
		jwtAuth,
		registry,
		logger.Module("Gateway"),
	)

	router := transport.NewRouter(
		channelStore,
		campaignACL,
		manager,
		voiceMonitor,
		issuer,
		jwtAuth,
		config.AllowedOrigins,
		gwServer.HandleWebSocket,
		logger.Module("Router"),
	)

	httpServer := httputil.NewServer(&config.HTTP, router.Handler())
	go func() {
		logger.Info("Starting HTTP server", log.String("addr", config.HTTP.Addr))
		if err := httpServer.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	cleanup := func(ctx context.Context) {
		_ = httpServer.Shutdown(ctx)

		voiceMonitor.Stop()

		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis client", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
