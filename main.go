package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard/api"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
		log.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	)
	otel.SetTracerProvider(tp)

	store, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	health := []api.Pinger{store}
	var sessions domain.SessionStorage
	if cfg.RedisURL != "" {
		redisOpts, err := storage.RedisOptions(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		redisSessions := storage.NewRedisSessionStore(rc)
		sessions = redisSessions
		health = append(health, redisSessions)
		defer rc.Close()
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; sessions are kept in memory")
		sessions = storage.NewMemorySessionStore()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit("64K"))

	err = api.Register(e, api.Deps{
		Credentials:  domain.NewCredentialService(store, sessions, cfg.BcryptCost, cfg.SessionTTL),
		Tasks:        domain.NewTaskService(store),
		Tokens:       api.NewSessionTokens([]byte(cfg.SecretKey), cfg.CookieSecure),
		Health:       health,
		Logger:       logger,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("taskboard listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("close storage")
	}
}
