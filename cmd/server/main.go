package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/npezzotti/portal-chat/internal/api"
	"github.com/npezzotti/portal-chat/internal/config"
	"github.com/npezzotti/portal-chat/internal/database"
	"github.com/npezzotti/portal-chat/internal/gateway"
	"github.com/npezzotti/portal-chat/internal/moderation"
	"github.com/npezzotti/portal-chat/internal/ratelimit"
	"github.com/npezzotti/portal-chat/internal/server"
	"github.com/npezzotti/portal-chat/internal/session"
	"github.com/npezzotti/portal-chat/internal/stats"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	logger := log.New(os.Stderr, "[portal-chat] ", log.LstdFlags)

	if err := config.LoadEnv(); err != nil {
		logger.Fatal("load .env:", err)
	}

	var (
		f              config.Flags
		allowedOrigins = stringSliceFlag(config.EnvList("ALLOWED_ORIGINS"))
	)
	flag.StringVar(&f.Addr, "addr", config.Env("ADDR", "localhost:8000"), "server address")
	flag.StringVar(&f.DSN, "dsn", config.Env("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&f.SessionSigningKey, "session-signing-key", config.Env("SESSION_SIGNING_KEY", defaultSigningKey), "base64 encoded room session signing key")
	flag.StringVar(&f.PortalSigningKey, "portal-signing-key", config.Env("PORTAL_SIGNING_KEY", defaultSigningKey), "base64 encoded portal identity signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&f.RedisURL, "redis-url", config.Env("REDIS_URL", ""), "redis URL for cross-process event relay")
	flag.IntVar(&f.RateLimitPerMinute, "rate-limit", config.EnvInt("RATE_LIMIT_PER_MINUTE", config.DefaultRateLimitPerMinute), "default messages per sender per minute, 0 disables")
	flag.DurationVar(&f.HeartbeatInterval, "heartbeat", config.EnvDuration("HEARTBEAT_INTERVAL", config.DefaultHeartbeatInterval), "stream heartbeat interval")
	flag.DurationVar(&f.BanCacheTTL, "ban-cache-ttl", config.EnvDuration("BAN_CACHE_TTL", 0), "ban lookup cache ttl, 0 disables")
	flag.DurationVar(&f.SessionTTL, "session-ttl", config.EnvDuration("SESSION_TTL", config.DefaultSessionTTL), "room session lifetime")
	flag.BoolVar(&f.Migrate, "migrate", config.EnvBool("MIGRATE", false), "apply database migrations at startup")
	flag.Parse()
	f.AllowedOrigins = allowedOrigins

	cfg, err := config.NewConfig(f)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if cfg.Migrate {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
		logger.Println("database migrations applied")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	registry := server.NewRegistry(logger, statsUpdater, cfg.HeartbeatInterval)
	broadcaster := server.NewBroadcaster(logger, registry, statsUpdater)

	if cfg.RedisURL != "" {
		redisClient, err := server.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer redisClient.Close()

		broadcaster.WithRelay(server.NewRedisRelay(logger, redisClient, server.DefaultRelayChannel))
		logger.Println("relaying events through redis")
	}

	limiter := ratelimit.NewLimiter()
	bans := moderation.NewBanRegistry(logger, dbConn, broadcaster, registry, statsUpdater, cfg.BanCacheTTL)
	sessions := session.NewVerifier(logger, dbConn, cfg.SessionSigningKey, cfg.SessionTTL)

	gw := gateway.New(gateway.Options{
		Logger:           logger,
		Store:            dbConn,
		Limiter:          limiter,
		Bans:             bans,
		Sessions:         sessions,
		Publisher:        broadcaster,
		Stats:            statsUpdater,
		DefaultRateLimit: cfg.RateLimitPerMinute,
	})

	srv := api.NewChatApp(mux, logger, dbConn, gw, registry, sessions, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go limiter.Run(ctx, 0)
	go bans.Run(ctx)

	go func() {
		if err := broadcaster.Run(ctx); err != nil {
			logger.Println("broadcaster:", err)
		}
	}()
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server:", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
			"streams": func(ctx context.Context) error {
				logger.Println("closing open streams...")
				registry.CloseAll()
				cancel()
				return nil
			},
		},
	)

	exitCode := <-wait
	logger.Printf("shutdown complete (exit code %d)", exitCode)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
