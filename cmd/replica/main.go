package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/kuhhandel/internal/config"
	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/httpapi"
	"github.com/DoyleJ11/kuhhandel/internal/hub"
	"github.com/DoyleJ11/kuhhandel/internal/identity"
	"github.com/DoyleJ11/kuhhandel/internal/store"
	"github.com/DoyleJ11/kuhhandel/internal/store/bolt"
	"github.com/DoyleJ11/kuhhandel/internal/store/postgres"
	"github.com/DoyleJ11/kuhhandel/internal/transport"
	"github.com/DoyleJ11/kuhhandel/internal/transport/memory"
	"github.com/DoyleJ11/kuhhandel/internal/transport/mqtt"
	"github.com/DoyleJ11/kuhhandel/internal/transport/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}
	log, err := cfg.Logger()
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("replica stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	h := hub.NewHub(ctx, hub.Options{
		Dial:   dialer(cfg, log),
		Store:  st,
		Logger: log,
		Base: dispatcher.Config{
			DedupCapacity:     cfg.DedupCapacity,
			ReconcileInterval: cfg.ReconcileInterval,
			RequestStateAfter: cfg.RequestStateAfter,
		},
	})

	me := httpapi.Player{ID: identity.Ensure(cfg.PlayerID), Name: identity.NormalizeName(cfg.PlayerName)}
	if me.Name == "" {
		me.Name = me.ID
	}
	log = log.With(zap.String("player", me.ID))

	if cfg.Room != "" {
		room, err := h.Join(ctx, cfg.Room, me.ID, me.Name)
		if err != nil {
			return err
		}
		if room.Dispatcher() == nil {
			return room.Err()
		}
		log.Info("joined room", zap.String("room", cfg.Room))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(h, me, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("transport", cfg.Transport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.Config) (store.SnapshotStore, error) {
	switch cfg.Store {
	case "bolt":
		return bolt.Open(cfg.BoltPath)
	case "postgres":
		return postgres.Open(cfg.DatabaseURL)
	default:
		return store.Nop(), nil
	}
}

func dialer(cfg config.Config, log *zap.Logger) hub.Dialer {
	switch cfg.Transport {
	case "redis":
		return func(ctx context.Context, channel string) (transport.Transport, error) {
			return redis.Dial(ctx, redis.Options{
				Addr:        cfg.RedisAddr,
				Channel:     channel,
				PresenceTTL: cfg.PresenceTTL,
				Logger:      log,
			})
		}
	case "mqtt":
		return func(ctx context.Context, channel string) (transport.Transport, error) {
			return mqtt.Dial(ctx, mqtt.Options{
				Broker:  cfg.MQTTBroker,
				Channel: channel,
				Logger:  log,
			})
		}
	default:
		// Single process only: every room replica shares this bus.
		bus := memory.NewBus()
		return func(_ context.Context, channel string) (transport.Transport, error) {
			return bus.Connect(channel), nil
		}
	}
}
