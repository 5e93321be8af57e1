package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/gasha-backend/internal/config"
	"github.com/DoyleJ11/gasha-backend/internal/httpapi"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/logging"
	"github.com/DoyleJ11/gasha-backend/internal/relay"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/sse"
	"github.com/DoyleJ11/gasha-backend/internal/store"
	"github.com/DoyleJ11/gasha-backend/internal/types"
	"github.com/DoyleJ11/gasha-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, snapshots.Close()) }()

	var publisher relay.Publisher = relay.Nop{}
	if cfg.NATSURL != "" {
		natsCfg := relay.DefaultNATSConfig(cfg.NATSURL)
		natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		p, perr := relay.NewNATSPublisher(natsCfg, log.Named("relay"))
		if perr != nil {
			return perr
		}
		publisher = p
		defer func() { err = multierr.Append(err, publisher.Close()) }()
	}

	roomOpts := room.DefaultOptions()
	roomOpts.MinStrength = cfg.Limits.MinStrength
	roomOpts.MaxStrength = cfg.Limits.MaxStrength
	roomOpts.PersistTimeout = cfg.PersistTimeout

	// Rooms outlive the signal context so shutdown can drain them in order.
	h := hub.NewHub(context.WithoutCancel(ctx), room.Deps{
		Store:   snapshots,
		Relay:   publisher,
		Clock:   clockwork.NewRealClock(),
		Logger:  log.Named("room"),
		Options: roomOpts,
	})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, httpapi.Options{
		PublicBaseURL:  cfg.PublicBaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		Limits: types.Limits{
			MaxItems:        cfg.Limits.MaxItems,
			MaxLabelLength:  cfg.Limits.MaxLabelLength,
			MaxPrizeLength:  cfg.Limits.MaxPrizeLength,
			DefaultStrength: cfg.Limits.DefaultStrength,
		},
		WS: ws.Config{
			ReadTimeout:  cfg.WSReadTimeout,
			WriteTimeout: cfg.WSWriteTimeout,
			OutboxSize:   cfg.OutboxSize,
			CommandRate:  rate.Limit(cfg.CommandRate),
			CommandBurst: cfg.CommandBurst,
		},
		SSE:    sse.Config{OutboxSize: cfg.OutboxSize, KeepAlive: 15 * time.Second},
		Logger: log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(
			srv.Shutdown(shutdownCtx),
			h.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.SnapshotStore, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:      cfg.DatabaseURL,
			MaxConns: int32(cfg.DBMaxConns),
		}, log.Named("store"))
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		log.Warn("using in-memory store; rooms are lost on restart")
		return store.NewMemoryStore(), nil
	}
}
