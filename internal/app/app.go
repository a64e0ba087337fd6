// Package app builds the mirror's long-lived services from configuration and
// owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/api"
	"github.com/JakeFAU/notion-mirror/internal/auth"
	"github.com/JakeFAU/notion-mirror/internal/cache"
	"github.com/JakeFAU/notion-mirror/internal/config"
	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/ingest"
	"github.com/JakeFAU/notion-mirror/internal/kv"
	kvgcs "github.com/JakeFAU/notion-mirror/internal/kv/gcs"
	kvlocal "github.com/JakeFAU/notion-mirror/internal/kv/local"
	kvpostgres "github.com/JakeFAU/notion-mirror/internal/kv/postgres"
	kvredis "github.com/JakeFAU/notion-mirror/internal/kv/redis"
	"github.com/JakeFAU/notion-mirror/internal/logging"
	"github.com/JakeFAU/notion-mirror/internal/metrics"
	"github.com/JakeFAU/notion-mirror/internal/notion"
	"github.com/JakeFAU/notion-mirror/internal/publisher"
	gcppublisher "github.com/JakeFAU/notion-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/notion-mirror/internal/ratelimit"
	"github.com/JakeFAU/notion-mirror/internal/snapshot"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pipeline  *ingest.Pipeline
	cache     *cache.Service
	snapshots *snapshot.Store
	server    *api.Server

	closers   []closer
	closeOnce sync.Once
}

// Build creates the logger and every dependency from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return New(ctx, cfg, logger)
}

// New creates the dependencies from cfg using logger.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.Strings("missing", cfg.MissingNotion()),
	)

	client := notion.New(notion.Config{
		BaseURL:  cfg.Notion.BaseURL,
		Token:    cfg.Notion.Token,
		Version:  cfg.Notion.Version,
		PageSize: cfg.Notion.PageSize,
		Timeout:  cfg.NotionTimeout(),
		Retry:    notion.NewLinearRetryPolicy(cfg.Notion.MaxRetries, cfg.BackoffStep()),
	}, logger)

	a.pipeline = ingest.New(ingest.Config{
		Token:           cfg.Notion.Token,
		CategoriesID:    cfg.Notion.CategoriesDBID,
		ArticlesID:      cfg.Notion.ArticlesDBID,
		BlockFetchPause: cfg.BlockFetchPause(),
	}, client, logger)

	a.cache = cache.New(a.pipeline, cache.Options{
		TTL:       cfg.CacheTTL(),
		Persister: a.setupCachePersister(),
		Logger:    logger,
	})

	remote, err := a.setupRemote(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	pub, err := a.setupPublisher(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	a.snapshots = snapshot.New(a.setupMirror(ctx), snapshot.Options{
		Remote:    remote,
		Prefix:    cfg.Snapshot.KeyPrefix,
		Publisher: pub,
		Topic:     cfg.PubSub.TopicName,
		Logger:    logger,
	})

	gate := auth.New(auth.Config{
		User:         cfg.Admin.User,
		Password:     cfg.Admin.Password,
		PasswordHash: cfg.Admin.PasswordHash,
		Secret:       cfg.Admin.SessionSecret,
		CookieName:   cfg.Admin.CookieName,
		SessionTTL:   cfg.SessionTTL(),
		SecureCookie: cfg.Admin.SecureCookie,
	})
	if !gate.Configured() {
		logger.Warn("admin credentials not configured, admin endpoints are disabled")
	}

	a.server = api.NewServer(api.Options{
		Content:        a.cache,
		Snapshots:      a.snapshots,
		Gate:           gate,
		Limiter:        ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute}),
		Missing:        cfg.MissingNotion,
		PublicOrigin:   cfg.Server.PublicOrigin,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         logger.Named("api"),
	})
	return a, nil
}

// localStore opens the directory holding path and returns it with the file name as key.
func (a *App) localStore(path string) (kv.Store, string, error) {
	store, err := kvlocal.New(kvlocal.Config{BaseDir: filepath.Dir(path)})
	if err != nil {
		return nil, "", fmt.Errorf("open local store: %w", err)
	}
	return store, filepath.Base(path), nil
}

func (a *App) setupCachePersister() cache.Persister {
	if !a.cfg.Cache.DiskEnabled {
		a.logger.Info("disk cache disabled")
		return nil
	}
	store, key, err := a.localStore(filepath.Join(a.cfg.Cache.Dir, a.cfg.Cache.File))
	if err != nil {
		a.logger.Warn("disk cache unavailable", zap.Error(err))
		return nil
	}
	return cache.NewStorePersister(store, key, a.logger)
}

func (a *App) setupMirror(ctx context.Context) *snapshot.Mirror {
	if a.cfg.Snapshot.LocalFile == "" {
		return snapshot.NewMirror(ctx, nil, "", a.logger)
	}
	store, key, err := a.localStore(a.cfg.Snapshot.LocalFile)
	if err != nil {
		a.logger.Warn("snapshot mirror file unavailable, keeping snapshots in memory", zap.Error(err))
		return snapshot.NewMirror(ctx, nil, "", a.logger)
	}
	return snapshot.NewMirror(ctx, store, key, a.logger)
}

func (a *App) setupRemote(ctx context.Context) (kv.Store, error) {
	sc := a.cfg.Snapshot
	switch sc.Backend {
	case config.BackendRedis:
		store, err := kvredis.New(ctx, kvredis.Config{URL: sc.Redis.URL})
		if err != nil {
			return nil, fmt.Errorf("redis snapshot backend init failed: %w", err)
		}
		a.addCloser("redis", store.Close)
		a.logger.Info("using redis snapshot backend")
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := kvgcs.New(client, kvgcs.Config{Bucket: sc.GCS.Bucket, Prefix: sc.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs snapshot backend init failed: %w", err)
		}
		a.addCloser("gcs", store.Close)
		a.logger.Info("using GCS snapshot backend", zap.String("bucket", sc.GCS.Bucket))
		return store, nil
	case config.BackendPostgres:
		store, err := kvpostgres.New(ctx, kvpostgres.Config{
			DSN:      sc.Postgres.DSN,
			Table:    sc.Postgres.Table,
			MaxConns: int32(sc.Postgres.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres snapshot backend init failed: %w", err)
		}
		a.addCloser("postgres", func() error { store.Close(); return nil })
		a.logger.Info("using postgres snapshot backend", zap.String("table", sc.Postgres.Table))
		return store, nil
	default:
		a.logger.Info("no remote snapshot backend, using the local mirror only")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, publish notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.NewFromProject(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Warm loads the disk cache into the empty content cache.
func (a *App) Warm(ctx context.Context) bool {
	return a.cache.Warm(ctx)
}

// Dump composes a payload without touching the snapshots.
func (a *App) Dump(ctx context.Context, preview bool) (*content.Payload, error) {
	return a.cache.Get(ctx, preview, true)
}

// Sync refreshes the payload and stores it as the draft.
func (a *App) Sync(ctx context.Context) (*content.Snapshot, error) {
	payload, err := a.cache.Get(ctx, false, true)
	if err != nil {
		return nil, fmt.Errorf("refresh payload: %w", err)
	}
	if payload.Stale {
		return nil, fmt.Errorf("refresh payload: %s", payload.StaleReason)
	}
	draft, err := a.snapshots.SetDraft(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	return draft, nil
}

// Publish copies the draft into the published slot.
func (a *App) Publish(ctx context.Context) (*content.Snapshot, error) {
	published, err := a.snapshots.PublishDraft(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish draft: %w", err)
	}
	return published, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Warm(ctx) {
		a.logger.Info("serving warmed cache until the first refresh")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases clients in reverse order of creation. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn(c.name+" close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
