// Package app wires configuration into the services shared by the api, worker
// and certctl binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"certhub/internal/assets"
	"certhub/internal/certification"
	"certhub/internal/cloudinary"
	"certhub/internal/config"
	"certhub/internal/idcard"
	"certhub/internal/issuer"
	"certhub/internal/metrics"
	"certhub/internal/queue"
	"certhub/internal/records"
	"certhub/internal/render"
	"certhub/internal/results"
	"certhub/internal/store"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config  config.App
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Assets  *assets.Client

	DB      *store.DB
	Redis   *store.Redis
	Records records.Store
	Queue   queue.Queue
	Pending issuer.Reservations

	Catalog  results.Catalog
	Results  *results.Holder
	Renderer *render.CertificateRenderer
	Composer *idcard.Composer
	Service  *certification.Service
}

// NewRecords connects the record store and, for the SQL backend, the database.
// The worker calls it directly since it needs nothing else.
func NewRecords(ctx context.Context, cfg config.App, log *zap.Logger) (records.Store, *store.DB, error) {
	switch cfg.RecordBackend {
	case "sheets":
		s, err := records.NewSheetsStore(ctx, cfg.GoogleServiceJSON, cfg.SpreadsheetID, cfg.RecordSheet, cfg.RecordStoreTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("sheets record store: %w", err)
		}
		return s, nil, nil
	default:
		db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			if db == nil {
				return nil, nil, fmt.Errorf("open database: %w", err)
			}
			log.Warn("database not reachable yet", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, db, err
			}
		}
		return records.NewSQLStore(db.Client, cfg.DBDriver, cfg.RecordStoreTimeout), db, nil
	}
}

// NewQueue returns the configured queue backend. redis may be nil for the memory backend.
func NewQueue(cfg config.App, redis *store.Redis, log *zap.Logger) queue.Queue {
	if cfg.QueueBackend == "memory" || redis == nil {
		return queue.NewInMemory(64)
	}
	return queue.NewRedisQueue(redis.Client, cfg.QueueKey, log)
}

// NewReservations returns where queued certificate ids are held until the
// worker writes them. It follows the queue backend.
func NewReservations(cfg config.App, redis *store.Redis) issuer.Reservations {
	if cfg.QueueBackend == "memory" || redis == nil {
		return issuer.NewMemoryReservations()
	}
	return issuer.NewRedisReservations(redis.Client, "", cfg.PendingIDTTL)
}

// New builds every component and loads the result tables once.
func New(ctx context.Context, cfg config.App, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(reg),
		Assets:  assets.New(cfg.AssetTimeout),
	}

	var err error
	a.Records, a.DB, err = NewRecords(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.RedisAddr != "" {
		a.Redis = store.NewRedis(cfg.RedisAddr)
	}
	a.Queue = NewQueue(cfg, a.Redis, log)
	a.Pending = NewReservations(cfg, a.Redis)

	if cfg.CategoriesFile != "" {
		a.Catalog, err = results.LoadCatalog(cfg.CategoriesFile, cfg.ResultsBaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.Catalog = results.DefaultCatalog(cfg.ResultsBaseURL)
	}

	var cache results.Cache
	if a.Redis != nil {
		cache = results.NewRedisCache(a.Redis.Client, "", cfg.ResultsCacheTTL)
	}
	loader := results.NewLoader(a.Assets, cache, log.Named("results"), a.Metrics)
	a.Results = results.NewHolder(loader, a.Catalog, loader.LoadAll(ctx, a.Catalog))

	var persister issuer.Persister = issuer.DirectPersister{Store: a.Records}
	if cfg.IssuePersistMode == "queue" {
		persister = issuer.QueuedPersister{Queue: a.Queue, Pending: a.Pending}
	}

	a.Renderer = render.NewCertificateRenderer(a.Assets, cfg.CertTemplate, cfg.PublicHost,
		render.WithLogger(log.Named("render")), render.WithMetrics(a.Metrics))
	a.Composer, err = idcard.NewComposer(a.Assets, idcard.TemplatesFromConfig(cfg.CardTemplates), nil,
		idcard.WithLogger(log.Named("idcard")), idcard.WithMetrics(a.Metrics))
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := certification.Deps{
		Store:    a.Records,
		Results:  a.Results,
		Issuer:   issuer.New(issuer.NewGenerator(cfg.CertIDPrefix), persister, log.Named("issuer"), a.Metrics),
		Renderer: a.Renderer,
		Composer: a.Composer,
		Logger:   log.Named("certification"),
		Metrics:  a.Metrics,
	}
	if cfg.CloudinaryEnabled() {
		deps.Publisher = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	}
	if cfg.IssueDate != "" {
		fixed, err := time.Parse("2006-01-02", cfg.IssueDate)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ISSUE_DATE: %w", err)
		}
		deps.IssueDate = func() time.Time { return fixed }
	}
	a.Service = certification.New(deps)
	return a, nil
}

// Health reports dependency reachability for /healthz.
func (a *App) Health(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if a.Config.RecordBackend != "sheets" {
		out["db"] = a.DB.Healthy(ctx)
	}
	if a.Redis != nil {
		out["redis"] = a.Redis.Healthy(ctx)
	}
	return out
}

// Close releases connections.
func (a *App) Close() {
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("db close failed", zap.Error(err))
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn("redis close failed", zap.Error(err))
	}
}
