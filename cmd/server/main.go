package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"govqueue/internal/catalog"
	"govqueue/internal/estimate"
	"govqueue/internal/event"
	httpapi "govqueue/internal/http"
	jwttoken "govqueue/internal/jwt_token"
	"govqueue/internal/notify"
	"govqueue/internal/platform/config"
	"govqueue/internal/platform/httpserver"
	"govqueue/internal/platform/logger"
	platformmetrics "govqueue/internal/platform/metrics"
	platformredis "govqueue/internal/platform/redis"
	"govqueue/internal/ticket/handler"
	"govqueue/internal/ticket/metrics"
	"govqueue/internal/ticket/service"
	"govqueue/internal/ticket/store"
)

const (
	jwtIssuer   = "govqueue"
	jwtAudience = "govqueue-api"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("queue engine exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load office catalog: %w", err)
	}

	ticketStore, db, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	hub := notify.NewHub(notify.WithLogger(log))
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithEstimator(estimate.New(cfg.Estimator, cat)),
		service.WithMaxOpenPerOffice(cfg.MaxOpenPerOffice),
		service.WithPublisher(hub),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := event.NewKafkaPublisher(ctx, cfg.Kafka, event.WithKafkaLogger(log))
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafkaPublisher.Close(closeCtx); err != nil {
				log.Error("close kafka publisher", "error", err)
			}
		}()
		opts = append(opts, service.WithPublisher(kafkaPublisher))
		log.Info("kafka event stream enabled", "topic", cfg.Kafka.Topic)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, service.WithPublisher(notify.NewRedisBridge(redisClient, cfg.Redis.Channel, log)))
		log.Info("redis event bridge enabled", "channel", cfg.Redis.Channel)
	}

	svc := service.New(ticketStore, cat, opts...)
	validator := jwttoken.NewJWTService(cfg.JWTSigningKey, jwtIssuer, jwtAudience)

	router := httpapi.NewRouter(handler.New(svc, cat, hub, log), validator, log)
	router.WithHTTPMetrics(platformmetrics.NewHTTP())
	if redisClient != nil {
		router.WithHealthCheck("redis", redisClient)
	}
	if db != nil {
		router.WithHealthCheck("postgres", dbHealth{db: db})
	}

	srv := httpserver.New(cfg.Addr, router.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting queue engine", "addr", cfg.Addr, "offices", len(cat.Offices()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newStore selects the ticket store: postgres when a DSN is configured,
// otherwise the in-memory store for single-instance deployments.
func newStore(ctx context.Context, cfg config.Server, log *slog.Logger) (store.Store, *sql.DB, error) {
	if cfg.PostgresDSN == "" {
		log.Info("using in-memory ticket store")
		return store.NewInMemory(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, store.Schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("using postgres ticket store")
	return store.NewPostgres(db), db, nil
}

type dbHealth struct {
	db *sql.DB
}

func (d dbHealth) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
