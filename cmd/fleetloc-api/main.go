// README: Entry point; loads config, wires the store, services and HTTP server, runs the reaper.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetloc/internal/config"
	"fleetloc/internal/events"
	httptransport "fleetloc/internal/http"
	"fleetloc/internal/infra"
	"fleetloc/internal/maps"
	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/dispatch"
	"fleetloc/internal/modules/history"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/modules/tracking"
	"fleetloc/internal/rtdb"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fleetloc exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	metrics.RegisterDefault()

	var (
		fb          *infra.Firebase
		redisClient *redis.Client
		store       rtdb.Client
		ready       func() error
	)
	if cfg.Store == "redis" || cfg.Matching.Index == "redis" {
		redisClient = infra.NewRedis(cfg.Redis.Addr)
		if err := infra.PingRedis(ctx, redisClient); err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}
	switch cfg.Store {
	case "firebase":
		var err error
		fb, err = infra.NewFirebase(ctx, cfg.Firebase.DatabaseURL, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		store = rtdb.NewFirebaseClient(fb.DB)
	case "redis":
		store = rtdb.NewRedisClient(redisClient, "")
		ready = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}
	default:
		log.Warn("using in-memory store; state is lost on restart")
		store = rtdb.NewMemoryClient()
	}
	defer func() { _ = store.Close() }()

	var index location.SpatialIndex
	switch cfg.Matching.Index {
	case "grid":
		index = location.NewGridIndex(cfg.Matching.GridCellDeg)
	case "redis":
		index = location.NewRedisGeoIndex(redisClient, "")
	}

	presenceOpts := []location.Option{}
	if index != nil {
		presenceOpts = append(presenceOpts, location.WithIndex(index))
	}
	var trails *history.Store
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		trails = history.NewStore(pool)
		presenceOpts = append(presenceOpts, location.WithHistory(trails))
	}
	presence := location.NewStore(store, log, presenceOpts...)
	if n, err := presence.WarmIndex(ctx); err != nil {
		log.Warn("spatial index warm-up failed; workers missing from the index are found by scan", "err", err)
	} else if index != nil {
		log.Info("spatial index warmed", "workers", n)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer func() { _ = amqpPub.Close() }()
		publisher = amqpPub
	}

	var provider routecache.RouteProvider
	if cfg.Routes.MapsAPIKey != "" {
		svc, err := maps.NewRouteService(cfg.Routes.MapsAPIKey)
		if err != nil {
			return err
		}
		provider = svc
	} else {
		log.Info("no maps API key; route resolve serves cached routes only")
	}

	matcher := matching.NewService(presence, index, cfg.Matching, log)
	tracker := tracking.NewStore(store, log)
	cache := routecache.NewCache(store, log)
	resolver := routecache.NewResolver(cache, provider, cfg.Routes.TTL, metrics.RouteObserver{}, log)

	deps := dispatch.Deps{
		Matcher:   matcher,
		Claims:    presence,
		Tracker:   tracker,
		Routes:    resolver,
		Publisher: publisher,
	}
	if fb != nil {
		deps.Notifier = dispatch.NewFCMNotifier(fb.Messaging, log)
	}
	dispatcher := dispatch.NewService(deps, cfg.Matching.ClaimAttempts, log)

	routerDeps := httptransport.RouterDeps{
		Presence: presence,
		Matcher:  matcher,
		Tracker:  tracker,
		Routes:   cache,
		Resolver: resolver,
		Dispatch: dispatcher,
		Ready:    ready,
	}
	if trails != nil {
		routerDeps.History = trails
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.NewRouter(routerDeps, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	reaper := location.NewReaper(presence, cfg.Presence.Retention, cfg.Presence.ReaperInterval, log,
		location.WithSweepHook(metrics.ObserveSweep))
	go reaper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr, "store", cfg.Store, "index", cfg.Matching.Index)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
