package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shopsync/internal/cache"
	"shopsync/internal/config"
	"shopsync/internal/handler"
	"shopsync/internal/market"
	"shopsync/internal/observability"
	"shopsync/internal/processor"
	"shopsync/internal/replication"
	"shopsync/internal/repository"
	"shopsync/internal/router"
	"shopsync/internal/scheduler"
	"shopsync/internal/shop"
	"shopsync/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const listingPurgeInterval = time.Minute

func main() {
	// Load configuration
	cfg := config.MustLoad()

	level := observability.ParseLogLevel(cfg.App.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	newLogger := func(component string) zerolog.Logger {
		return observability.NewLoggerWithLevel(component, level)
	}

	logger.Info().Str("version", cfg.App.Version).Msg("Starting shopsync...")
	logger.Info().Str("environment", cfg.App.Environment).Msg("configuration loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealth()

	// Initialize the backing store based on config
	store, err := openStore(cfg, newLogger("store"))
	if err != nil {
		logger.Fatal().Err(err).Str("type", cfg.Data.StoreType).Msg("failed to initialize store")
	}
	logger.Info().Str("type", cfg.Data.StoreType).Msg("store initialized")

	// Redis is optional: it carries the bus and the shared cache tier
	var redisClient *redis.Client
	if cfg.Sync.UsesRedis() {
		redisClient, err = replication.NewRedisClient(replication.RedisOptions{
			Addr:     cfg.Sync.RedisAddress(),
			Password: cfg.Sync.RedisPassword,
			DB:       cfg.Sync.RedisDB,
			TLS:      cfg.Sync.RedisTLS,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis connection failed, running single-node")
			redisClient = nil
		} else {
			logger.Info().Str("addr", cfg.Sync.RedisAddress()).Msg("Redis client initialized")
		}
	}

	var recordCache cache.RecordCache = cache.NewMemoryCache(cache.MemoryConfig{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	if cfg.Sync.SharedCache && redisClient != nil {
		shared := cache.NewRedisCache(redisClient, cache.RedisConfig{
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
		}, newLogger("cache"))
		recordCache = cache.NewLayered(recordCache, shared)
		logger.Info().Msg("shared Redis cache tier enabled")
	}

	// Execution contexts
	executor := scheduler.NewExecutor(cfg.Workers.ExecutorQueue, newLogger("executor"))
	executor.Start()
	pool := scheduler.NewPool(cfg.Workers.PoolSize, cfg.Workers.PoolQueue, newLogger("pool"))
	pool.OnReject(metrics.PoolReject)

	// State, shops and market
	var shops *shop.Registry
	states := state.NewManager(state.Options{
		Store:    store,
		Cache:    recordCache,
		Pool:     pool,
		Executor: executor,
		OnLoaded: func() {
			n := shops.UpdateAllPrices(context.Background(), time.Now())
			logger.Info().Int("updated", n).Msg("post-load price pass done")
		},
		Logger:  newLogger("state"),
		Metrics: metrics,
	})
	shops = shop.NewRegistry(states, newLogger("shop"))

	catalog, err := shop.LoadCatalog(cfg.Data.CatalogPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Data.CatalogPath).Msg("catalog not loaded, starting without shops")
		catalog = &shop.Catalog{}
	}
	if err := shops.Load(catalog); err != nil {
		logger.Fatal().Err(err).Msg("failed to build shops")
	}
	logger.Info().Int("shops", len(shops.Shops())).Msg("catalog loaded")

	listings := market.NewListingBook(nil, newLogger("market"))
	bank := market.NewBankLedger(nil, newLogger("bank"))
	online := replication.NewOnlineSet()

	loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := states.LoadAll(loadCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load shop data")
	}
	loadCancel()

	// Sync transport
	var (
		transport *replication.Transport
		bus       replication.Bus
	)
	if cfg.Sync.Enabled {
		bus, err = openBus(cfg, redisClient, newLogger("bus"))
		if err != nil {
			logger.Warn().Err(err).Str("broker", cfg.Sync.Broker).Msg("sync bus unavailable, running single-node")
		}
	}
	if bus != nil {
		transport = replication.NewTransport(replication.Options{
			Bus:              bus,
			Channel:          cfg.Sync.Channel,
			NodeID:           cfg.Sync.NodeID,
			State:            states,
			Listings:         listings,
			Bank:             bank,
			Pool:             pool,
			Executor:         executor,
			Online:           online.Names,
			PresenceInterval: cfg.Sync.PresenceInterval,
			Logger:           newLogger("sync"),
			Metrics:          metrics,
		})
		states.SetPublisher(transport)
		listings.SetPublisher(transport)
		bank.SetPublisher(transport)

		startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := transport.Start(startCtx); err != nil {
			logger.Warn().Err(err).Msg("sync transport inactive, running single-node")
		} else {
			logger.Info().Str("node_id", transport.NodeID()).Str("channel", cfg.Sync.Channel).Msg("sync transport active")
		}
		startCancel()
	}

	// Background jobs
	flushJob := scheduler.NewIntervalJob(scheduler.IntervalConfig{
		Name:     "flush",
		Interval: cfg.Data.SaveInterval,
	}, newLogger("scheduler"), func(ctx context.Context) error {
		states.Flush(ctx)
		return nil
	})
	flushJob.Start()

	proc := processor.New(shops, states, newLogger("processor"), metrics)
	runner := processor.NewRunner(proc, pool, executor, cfg.Data.ShopUpdateInterval, newLogger("processor"))
	runner.Start()

	purgeJob := scheduler.NewIntervalJob(scheduler.IntervalConfig{
		Name:     "listing-purge",
		Interval: listingPurgeInterval,
	}, newLogger("scheduler"), func(context.Context) error {
		listings.Purge(time.Now().UnixMilli())
		return nil
	})
	purgeJob.Start()

	health.SetReady(true)

	// Initialize handlers
	var syncInfo handler.SyncInfo
	if transport != nil {
		syncInfo = transport
	}
	healthHandler := handler.New(health, states, syncInfo, online, cfg.App.Name, cfg.App.Version)
	shopHandler := handler.NewShopHandler(shops, listings)
	adminHandler := handler.NewAdminHandler(handler.AdminConfig{
		States:    states,
		Store:     store,
		StoreType: cfg.Data.StoreType,
		Health:    health,
		Sync:      syncInfo,
		Listings:  listings,
		Bank:      bank,
		Processor: runner,
	})

	r := router.New(router.Config{
		Handler:      healthHandler,
		ShopHandler:  shopHandler,
		AdminHandler: adminHandler,
		AdminKey:     cfg.Server.AdminKey,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Gatherer:     registry,
		Logger:       newLogger("http"),
	})

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		// Start server in goroutine
		go func() {
			logger.Info().Str("addr", cfg.Server.Address()).Msg("Server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("server error")
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down...")
	health.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}

	purgeJob.Stop()
	runner.Stop()
	flushJob.Stop()

	// Final flush runs before the transport stops so other nodes see it
	res, err := states.FlushNow(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("final flush failed")
	}
	logger.Info().Int("records", res.Total()).Msg("final flush done")

	if transport != nil {
		transport.Stop()
	}
	executor.Stop()
	pool.Close()

	// A Redis bus owns the client and closes it
	closeRedis := redisClient != nil
	if bus != nil {
		if _, ok := bus.(*replication.RedisBus); ok {
			closeRedis = false
		}
		if err := bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close sync bus")
		}
	}
	if closeRedis {
		_ = redisClient.Close()
	}
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}

	logger.Info().Msg("Server stopped")
	fmt.Println("Goodbye!")
}

// openStore opens the backing store selected by STORE_TYPE.
func openStore(cfg *config.Config, logger zerolog.Logger) (repository.ShopDataStore, error) {
	tables := repository.Tables{
		Prices:    cfg.Data.PriceTable,
		Stocks:    cfg.Data.StockTable,
		Rotations: cfg.Data.RotationTable,
	}

	switch strings.ToLower(cfg.Data.StoreType) {
	case "mongodb":
		return asStore(repository.NewMongoStore(cfg.Data.MongoURI, cfg.Data.MongoDatabase, tables, logger))
	case "postgres":
		return asStore(repository.NewPostgresStore(cfg.Data.PostgresDSN(), tables, logger))
	case "mysql":
		return asStore(repository.NewMySQLStore(cfg.Data.MySQLDSN(), tables, logger))
	default: // sqlite
		return asStore(repository.NewSQLiteStore(cfg.Data.Path, tables, logger))
	}
}

// asStore keeps a failed constructor's nil pointer out of the interface.
func asStore[S repository.ShopDataStore](s S, err error) (repository.ShopDataStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openBus connects the pub/sub bus selected by SYNC_BROKER.
func openBus(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (replication.Bus, error) {
	switch strings.ToLower(cfg.Sync.Broker) {
	case "nats":
		nc, err := replication.ConnectNATS(cfg.Sync.NATSURL, cfg.App.Name, logger)
		if err != nil {
			return nil, err
		}
		return replication.NewNATSBus(nc), nil
	default: // redis
		if redisClient == nil {
			return nil, fmt.Errorf("redis client is not connected")
		}
		return replication.NewRedisBus(redisClient, logger), nil
	}
}
