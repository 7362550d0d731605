package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"riderdispatch/internal/api"
	"riderdispatch/internal/auth"
	"riderdispatch/internal/config"
	"riderdispatch/internal/dispatch"
	"riderdispatch/internal/metrics"
	"riderdispatch/internal/model"
	"riderdispatch/internal/store"
	"riderdispatch/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.LogWarnings()
	log.Printf("starting with %s", cfg)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, outbox, rdb, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() { _ = st.Close() }()

	var broker api.EventBroker = api.NewBroker()
	if rdb != nil {
		broker = api.NewRedisBroker(rdb)
	}

	sched := dispatch.New(dispatch.Config{
		Depot:            cfg.Depot,
		MaxBatchSize:     cfg.MaxBatchSize,
		MaxClusterSize:   cfg.MaxClusterSize,
		ReleaseThreshold: cfg.ReleaseThreshold,
		Estimator:        cfg.Estimator,
		Notifier: dispatch.Notifiers{
			dispatch.LogNotifier{},
			metrics.EventCounter{},
			broker,
			webhooks.NewPublisher(outbox),
		},
		Archive: st,
	})
	if err := restore(ctx, sched, st); err != nil {
		log.Fatalf("restore: %v", err)
	}
	seedRoster(ctx, cfg, sched, outbox)

	metrics.Registry.MustRegister(metrics.WorkingSetCollector{Read: func() metrics.WorkingSet {
		s := sched.Stats()
		return metrics.WorkingSet{Orders: s.Orders, RidersAvailable: s.RidersAvailable, RidersBusy: s.RidersBusy}
	}})

	ticker := dispatch.NewTicker(sched, st, cfg.TickInterval)
	ticker.OnTick = func(rep dispatch.TickReport) {
		metrics.ObserveTick(len(rep.Released), len(rep.Delivered))
	}
	ticker.Start()
	worker := webhooks.NewWorker(outbox, cfg.WebhookMaxAttempts)
	worker.Start()

	srv := api.NewServer(api.Deps{
		Scheduler: sched,
		Store:     st,
		Outbox:    outbox,
		Auth:      auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret),
		Broker:    broker,
		Config:    cfg,
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	close(ticker.Stop)
	close(worker.Stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := st.SaveSnapshot(shutdownCtx, sched.Snapshot()); err != nil {
		log.Printf("final snapshot: %v", err)
	}
}

// openStore picks Postgres, then Redis, then memory. The Redis store keeps
// no webhook outbox, so deliveries stay in process in that mode.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, store.Outbox, *redis.Client, error) {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		rdb = redis.NewClient(opt)
	}
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, nil, err
		}
		log.Printf("store: postgres")
		return pg, pg, rdb, nil
	case rdb != nil:
		log.Printf("store: redis (webhook outbox in memory)")
		return store.NewRedisClient(rdb), store.NewMemory(), rdb, nil
	default:
		log.Printf("store: memory")
		mem := store.NewMemory()
		return mem, mem, nil, nil
	}
}

func restore(ctx context.Context, sched *dispatch.Scheduler, st store.Store) error {
	snap, err := st.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("no snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	if err := sched.Restore(snap); err != nil {
		return err
	}
	log.Printf("restored %d orders and %d riders from snapshot of %s", len(snap.Orders), len(snap.Riders), snap.SavedAt.Format(time.RFC3339))
	return nil
}

// seedRoster registers roster riders and webhooks that are not already
// known, so restarts do not duplicate them.
func seedRoster(ctx context.Context, cfg *config.Config, sched *dispatch.Scheduler, outbox store.Outbox) {
	known := map[string]bool{}
	for _, r := range sched.ListRiders() {
		known[r.Name] = true
	}
	for _, name := range cfg.Roster.Riders {
		if known[name] {
			continue
		}
		if _, err := sched.AddRider(ctx, name); err != nil {
			log.Printf("roster rider %q: %v", name, err)
		}
		known[name] = true
	}

	subs, err := outbox.ListSubscriptions(ctx)
	if err != nil {
		log.Printf("roster webhooks: %v", err)
		return
	}
	have := map[string]bool{}
	for _, s := range subs {
		have[s.URL] = true
	}
	for _, w := range cfg.Roster.Webhooks {
		if have[w.URL] {
			continue
		}
		if _, err := outbox.CreateSubscription(ctx, model.Subscription{URL: w.URL, Events: w.Events, Secret: w.Secret}); err != nil {
			log.Printf("roster webhook %s: %v", w.URL, err)
		}
	}
}
