package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-gate/internal/auth"
	"github.com/kirinyoku/tix-gate/internal/config"
	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/events"
	"github.com/kirinyoku/tix-gate/internal/mail"
	"github.com/kirinyoku/tix-gate/internal/postgres"
	redisx "github.com/kirinyoku/tix-gate/internal/redis"
	"github.com/kirinyoku/tix-gate/internal/render"
	postgresrepo "github.com/kirinyoku/tix-gate/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tix-gate/internal/repository/redis"
	"github.com/kirinyoku/tix-gate/internal/service"
	"github.com/kirinyoku/tix-gate/internal/service/catalog"
	"github.com/kirinyoku/tix-gate/internal/service/intake"
	"github.com/kirinyoku/tix-gate/internal/sheets"
	httpgin "github.com/kirinyoku/tix-gate/internal/transport/http/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	pool       *pgxpool.Pool
	rdb        *goredis.Client
	kafka      *events.KafkaPublisher
	bus        *events.Bus
	dispatcher *delivery.Dispatcher
	services   *service.Services

	// stopStreams ends the scan monitor streams once shutdown begins.
	stopStreams context.CancelFunc
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pgxPool, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN(),
		MaxConns: int32(cfg.Postgres.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pgxPool); err != nil {
			pgxPool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	rdb, err := redisx.New(ctx, redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, pool: pgxPool, rdb: rdb}

	// Repositories and adapters
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.NewCache(rdb)
	monitor := redisrepo.NewTicketEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "redeem", cfg.RateLimit.RedeemLimit, cfg.RateLimit.RedeemWindow)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, cfg.App.IdemTTL, 30*time.Second)

	sinks := []events.Publisher{monitor}
	if cfg.Kafka.Enabled {
		prod, err := events.NewSyncProducer(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			RetryMax:     3,
			RequiredAcks: int(sarama.WaitForLocal),
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize kafka: %w", err)
		}
		a.kafka = events.NewKafkaPublisher(prod, cfg.Kafka.Topic)
		sinks = append(sinks, a.kafka)
	}
	a.bus = events.NewBus(events.NewFanout(logger, sinks...), cfg.Events.QueueSize, logger)

	sender, err := mail.NewSender(cfg.Email, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize mail: %w", err)
	}
	renderer := render.NewRenderer(render.Config{
		BaseURL: cfg.App.PublicBaseURL,
		Brand:   cfg.App.BrandName,
		Venue:   cfg.App.Venue,
	})
	a.dispatcher = delivery.NewDispatcher(delivery.Config{
		Workers:   cfg.Delivery.Workers,
		QueueSize: cfg.Delivery.QueueSize,
		Brand:     cfg.App.BrandName,
		Contact:   cfg.App.ContactEmail,
		Venue:     cfg.App.Venue,
	}, sender, renderer, logger)

	var source intake.Source
	if cfg.Sheets.Enabled() {
		gs, err := sheets.NewGoogleSource(ctx, sheets.Config{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			CredentialsJSON: cfg.Sheets.CredentialsJSON,
			CredentialsFile: cfg.Sheets.CredentialsFile,
			Range:           cfg.Sheets.Range,
			DefaultEvent:    cfg.Sheets.DefaultEvent,
			MaxQuantity:     cfg.Sheets.MaxQuantity,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize sheets: %w", err)
		}
		source = gs
	} else {
		logger.Warn("google sheets sync disabled: spreadsheet id or credentials missing")
	}

	// Services
	a.services = service.NewServices(service.Deps{
		Store:      store,
		Cache:      cache,
		Events:     a.bus,
		Dispatcher: a.dispatcher,
		Renderer:   renderer,
		Source:     source,
		Logger:     logger,
	}, service.Config{
		Catalog: catalog.Config{StatsTTL: cfg.App.StatsTTL},
	})

	streams, stopStreams := context.WithCancel(context.Background())
	a.stopStreams = stopStreams

	router := httpgin.NewRouter(httpgin.Handlers{
		Redemption: a.services.Redemption,
		Approval:   a.services.Approval,
		Catalog:    a.services.Catalog,
		Intake:     a.services.Intake,
		Audit:      a.services.Audit,
	}, httpgin.Options{
		AppURL:         cfg.App.URL,
		TrustedProxies: cfg.Server.TrustedProxies,
		Verifier:       auth.NewVerifier(cfg.Auth.JWTSecret),
		Limiter:        limiter,
		Idem:           idempotencyStore,
		Monitor:        monitor,
		StreamsDone:    streams.Done(),
		Metrics:        promhttp.Handler(),
		Ready:          a.ready,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for connections to go idle, which a stream never does
	// on its own.
	a.httpServer.RegisterOnShutdown(stopStreams)

	return a, nil
}

func (a *App) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Ticket event sinks
	g.Go(func() error {
		return a.bus.Run(gCtx)
	})

	// Email delivery workers
	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	// Spreadsheet poller
	g.Go(func() error {
		return a.services.Intake.Poll(gCtx, a.cfg.Sheets.PollInterval)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if a.stopStreams != nil {
		a.stopStreams()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("close kafka producer", "err", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
