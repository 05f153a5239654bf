package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/fanout"
	"github.com/example/dispatchradio/internal/dispatch/handler"
	"github.com/example/dispatchradio/internal/dispatch/repository"
	dispatchservice "github.com/example/dispatchradio/internal/dispatch/service"
	ratelimitmw "github.com/example/dispatchradio/internal/http/middleware"
	"github.com/example/dispatchradio/pkg/events"
	"github.com/example/dispatchradio/pkg/observability"
)

type appConfig struct {
	HTTPAddr           string
	LogLevel           string
	RedisAddr          string
	NATSURL            string
	NATSSubject        string
	WSSendBuffer       int
	WSMaxMessage       int64
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	RateHandshakeRPS   float64
	RateHandshakeBurst float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	logger := observability.SetupLogger("dispatch-server", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "dispatch-server")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed, handshake limiting disabled", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var publisher domain.EventPublisher
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchserver")); err == nil {
			publisher = events.NewPublisher(conn, cfg.NATSSubject)
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	engine := dispatchservice.New(
		fanout.NewHub(),
		repository.NewSequenceIDs(domain.SystemClock{}),
		publisher,
		domain.SystemClock{},
		logger.Named("engine"),
	)
	ws := handler.NewWS(engine, logger.Named("ws"), handler.WSConfig{
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessage,
		PingInterval:    cfg.WSPingInterval,
		WriteTimeout:    cfg.WSWriteTimeout,
	})

	var handshake func(http.Handler) http.Handler
	if redisClient != nil {
		limiter := ratelimitmw.NewHandshakeLimiter(redisClient, ratelimitmw.RateConfig{
			Rate:  cfg.RateHandshakeRPS,
			Burst: cfg.RateHandshakeBurst,
		}, logger.Named("ratelimit"))
		handshake = limiter.Middleware
	}

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter())
	r.Mount("/", handler.NewHTTP(engine, ws, handshake).Router())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatch server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:           getenv("HTTP_ADDR", ":3000"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSSubject:        getenv("NATS_SUBJECT", "dispatch.events"),
		WSSendBuffer:       parseIntEnv("WS_SEND_BUFFER", 256),
		WSMaxMessage:       int64(parseIntEnv("WS_MAX_MESSAGE_BYTES", 1<<20)),
		WSPingInterval:     time.Duration(parseIntEnv("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSWriteTimeout:     time.Duration(parseIntEnv("WS_WRITE_TIMEOUT_MS", 5000)) * time.Millisecond,
		RateHandshakeRPS:   parseFloatEnv("RATE_WS_RPS", 1),
		RateHandshakeBurst: parseFloatEnv("RATE_WS_BURST", 5),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
