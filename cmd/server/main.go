package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/config"
	"github.com/butaca/booking/internal/database"
	"github.com/butaca/booking/internal/handler"
	"github.com/butaca/booking/internal/middleware"
	"github.com/butaca/booking/internal/notify"
	"github.com/butaca/booking/internal/queue"
	"github.com/butaca/booking/internal/router"
	"github.com/butaca/booking/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence backend.
	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemory()
		log.Warn().Msg("using in-memory store, data will not survive restarts")
	default:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer func() { _ = db.Close() }()
		st = store.NewMySQL(db)
	}

	// Events and notifications.  Both are optional: no broker URL means
	// purchases still commit, they just emit nothing.
	var pub booking.EventPublisher = booking.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub = queue.NewPublisher(cfg.AMQPURL, log)
		consumer := queue.NewConsumer(cfg.AMQPURL, st, notify.NewMailerFromEnv(log), log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("consumer stopped")
			}
		}()
	}

	svc := booking.NewService(st, pub, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	opts := router.Options{}
	if rdb := config.NewRedisClient(); rdb != nil {
		opts.RateLimit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
		opts.Cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	} else {
		log.Warn().Msg("redis unavailable, rate limiting and response cache disabled")
	}

	router.Register(e, router.Handlers{
		Auth: &handler.AuthHandler{
			Store:      st,
			JWTSecret:  cfg.JWTSecret,
			AccessTTL:  cfg.AccessTTLMin,
			BcryptCost: cfg.BcryptCost,
			Log:        log,
		},
		Showtime: &handler.ShowtimeHandler{Store: st, Log: log},
		Product:  &handler.ProductHandler{Store: st, Log: log},
		Ticket:   &handler.TicketHandler{Svc: svc, Log: log},
		Order:    &handler.OrderHandler{Svc: svc, Log: log},
		Coupon:   &handler.CouponHandler{Svc: svc, Store: st, Log: log},
		Admin:    &handler.AdminHandler{Svc: svc, Log: log},
	}, cfg.JWTSecret, opts)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("store", cfg.StoreBackend).Msg("listening")
	if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
}
