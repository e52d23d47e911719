// Command yummy is the entrypoint for the Yummy session/room engine: it
// wires config, persistence, the state store, the message bus, the
// domain services, and the WebSocket coordinator behind a single gin
// router, then serves until an interrupt, the same shape as the
// teacher's cmd/v1/session/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yummyio/yummy/internal/v1/auth"
	"github.com/yummyio/yummy/internal/v1/authservice"
	"github.com/yummyio/yummy/internal/v1/bus"
	"github.com/yummyio/yummy/internal/v1/config"
	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/health"
	"github.com/yummyio/yummy/internal/v1/logging"
	"github.com/yummyio/yummy/internal/v1/middleware"
	"github.com/yummyio/yummy/internal/v1/plugin"
	"github.com/yummyio/yummy/internal/v1/ratelimit"
	"github.com/yummyio/yummy/internal/v1/roomservice"
	"github.com/yummyio/yummy/internal/v1/session"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"github.com/yummyio/yummy/internal/v1/tracing"
	"github.com/yummyio/yummy/internal/v1/userservice"
)

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	development := cfg.GoEnv != "production"
	if err := logging.Initialize(development); err != nil {
		panic(err)
	}
	ctx := context.Background()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, cfg.ServerName, collectorAddr)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", zap.Error(err))
	}

	var (
		store       statestore.StateStore
		messageBus  bus.MessageBus
		redisBus    *bus.Service
		redisClient *redis.Client
	)
	if cfg.RedisEnabled {
		replicated, err := statestore.NewReplicated(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err != nil {
			logging.Fatal(ctx, "failed to connect state store to redis", zap.Error(err))
		}
		store = replicated

		svc, err := bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect message bus to redis", zap.Error(err))
		}
		messageBus = svc
		redisBus = svc
		redisClient = svc.Client()
		logging.Info(ctx, "running in replicated mode", zap.String("redis_addr", cfg.RedisAddr))
	} else {
		store = statestore.NewMemory()
		messageBus = bus.NewLocal()
		logging.Info(ctx, "running in single-instance mode")
	}

	if cfg.JWTAlgorithm != "HS256" {
		logging.Fatal(ctx, "unsupported JWT_ALGORITHM: RS256 key material is not wired into config yet", zap.String("algorithm", cfg.JWTAlgorithm))
	}
	tokens, err := auth.NewHS256TokenService(cfg.JWTSecret, cfg.ServerName, cfg.TokenLifetime)
	if err != nil {
		logging.Fatal(ctx, "failed to build token service", zap.Error(err))
	}

	users := userservice.New(database, cfg.MaxUserMeta)
	pluginHost, err := plugin.NewHost(cfg.PluginScriptPath, users)
	if err != nil {
		logging.Fatal(ctx, "failed to load plugins", zap.Error(err))
	}

	authSvc := authservice.New(store, database, tokens, messageBus, cfg.ConnectionRestoreWaitTimeout)
	rooms := roomservice.New(store, database, messageBus, cfg.MaxRoomMeta)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	coordinator := session.NewCoordinator(authSvc, users, rooms, store, messageBus, pluginHost,
		cfg.HeartbeatInterval, cfg.HeartbeatTimeout, allowedOrigins)

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	healthHandler := health.NewHandler(database, redisBus)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware(cfg.ServerName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(rateLimiter.GlobalMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("", coordinator.ServeWs)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "yummy server starting", zap.String("port", cfg.Port))
		var serveErr error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			serveErr = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(serveErr))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	if err := messageBus.Close(); err != nil {
		logging.Error(ctx, "message bus close failed", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
