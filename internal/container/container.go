package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"homespark/harvester/internal/api"
	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/client"
	"homespark/harvester/internal/config"
	"homespark/harvester/internal/extract"
	"homespark/harvester/internal/index"
	"homespark/harvester/internal/metrics"
	"homespark/harvester/internal/proxy"
	"homespark/harvester/internal/queue"
	"homespark/harvester/internal/repository"
	"homespark/harvester/internal/scheduler"
	"homespark/harvester/internal/service"
	"homespark/harvester/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Container holds all initialized components
type Container struct {
	Config       *config.Config
	Repository   repository.ListingRepository
	Index        index.Index
	Queue        queue.Queue
	StateManager state.StateManager
	Launcher     browser.Launcher
	Metrics      *metrics.Metrics

	Service *service.Service

	db     *pgxpool.Pool
	mongo  *mongo.Client
	redis  *redis.Client
	search *index.ElasticsearchIndex
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config:  cfg,
		Metrics: metrics.New(),
	}

	if err := container.initStore(ctx); err != nil {
		container.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	container.redis = rdb

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("✅ Connected to Redis successfully")

	container.Queue = queue.NewRedisQueue(rdb, cfg.Redis)
	container.StateManager = state.NewRedisStateManager(rdb, cfg.Redis.KeyPrefix)

	esClient, err := index.NewElasticsearchClient(cfg.Elasticsearch)
	if err != nil {
		container.Close()
		return nil, err
	}
	container.search = index.NewElasticsearchIndex(esClient, cfg.Elasticsearch.Index, cfg.Embedding.Dimensions)
	if err := container.search.EnsureIndex(ctx); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to prepare index %s: %w", cfg.Elasticsearch.Index, err)
	}
	container.Index = container.search
	log.Infof("✅ Similarity index %s is ready", cfg.Elasticsearch.Index)

	proxySupplier, err := proxy.NewProxySupplier(ctx, cfg.Proxies, cfg.Browser.ProxyCheckURL)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize proxy supplier: %w", err)
	}

	launcher, err := browser.NewLauncher(cfg.Browser, cfg.Crawl.NavigationTimeout, proxySupplier)
	if err != nil {
		container.Close()
		return nil, err
	}
	container.Launcher = launcher

	m := container.Metrics
	sessions := func(targetID string) *browser.SessionManager {
		session := browser.NewSessionManager(targetID, launcher, browser.Mode(cfg.Browser.Mode), cfg.Browser.NavigationsPerSecond)
		session.OnRecreate = func(targetID string) {
			m.SessionRecreations.WithLabelValues(targetID).Inc()
		}
		return session
	}

	container.Service = service.NewService(service.Dependencies{
		Queue:      container.Queue,
		State:      container.StateManager,
		Repository: container.Repository,
		Index:      container.Index,
		Embedder:   client.NewEmbedder(cfg.Embedding),
		Rules:      extract.DefaultRegistry(cfg.Crawl.NavigationTimeout),
		Sessions:   sessions,
		Metrics:    m,
	}, service.SettingsFromConfig(cfg.Crawl), cfg.CrawlTargets())

	return container, nil
}

func (c *Container) initStore(ctx context.Context) error {
	switch c.Config.Database.Driver {
	case "mongo":
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(c.Config.Database.MongoURI))
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.mongo = mongoClient
		if err := mongoClient.Ping(ctx, nil); err != nil {
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		c.Repository = repository.NewMongoListingRepository(mongoClient.Database(c.Config.Database.Name))
	default:
		db, err := pgxpool.New(ctx, c.Config.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		c.db = db
		c.Repository = repository.NewListingRepository(db)
	}

	if err := c.Repository.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare listing store: %w", err)
	}
	log.Infof("✅ Listing store (%s) is ready", c.Config.Database.Driver)
	return nil
}

// Run executes one cycle for the given targets, or for every target when none are given.
func (c *Container) Run(ctx context.Context, targetIDs ...string) error {
	if len(targetIDs) == 0 {
		_, err := c.Service.RunAll(ctx)
		return err
	}

	var errs []error
	for _, id := range targetIDs {
		target, ok := c.Service.Target(id)
		if !ok {
			return fmt.Errorf("target %s is not configured", id)
		}
		if _, err := c.Service.RunCycle(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP API and, when enabled, the cron schedule until ctx is done.
func (c *Container) Serve(ctx context.Context) error {
	handler := api.NewHandler(c.Service, c.healthChecks())
	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(c.Config.Server, api.NewRouter(handler, c.Metrics.Handler()))

	var cron *scheduler.Scheduler
	if c.Config.Schedule.Enabled {
		s, err := scheduler.New(ctx, c.Config.Schedule.Cron, c.Service)
		if err != nil {
			return err
		}
		cron = s
		cron.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("🚀 HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cron != nil {
		cron.Stop(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

func (c *Container) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		},
	}
	if c.db != nil {
		checks["postgres"] = c.db.Ping
	}
	if c.mongo != nil {
		checks["mongo"] = func(ctx context.Context) error {
			return c.mongo.Ping(ctx, nil)
		}
	}
	return checks
}

// Close performs cleanup when shutting down
func (c *Container) Close() {
	log.Info("Shutting down container...")

	if stopper, ok := c.Launcher.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			log.Warnf("⚠️ Failed to stop browser driver: %v", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.mongo != nil {
		if err := c.mongo.Disconnect(context.Background()); err != nil {
			log.Warnf("⚠️ Failed to disconnect from MongoDB: %v", err)
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}

	log.Info("Container shut down successfully")
}
