// Package server wires the upload pipeline together and runs it in one of
// the process modes: a long running worker (serve) or a one-shot upload,
// quota sync or connection check.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/config"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/notify"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
	"github.com/dmitrijs2005/mediasync/internal/server/remote/miniostore"
	"github.com/dmitrijs2005/mediasync/internal/server/remote/s3store"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediasync/internal/server/services"

	gs "github.com/dmitrijs2005/mediasync/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	uploads *services.UploadService
	seed    *config.Seed
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger, seed: &config.Seed{}}

	store, err := app.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	notifier, err := app.openNotifier(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("notifier init error: %w", err)
	}

	app.uploads = services.NewUploadService(store, app.remoteFactory(), notifier, logger, c)

	if c.AccountsFile != "" {
		seed, err := config.LoadAccounts(c.AccountsFile)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("accounts: %w", err)
		}
		if err := app.uploads.SeedAccounts(ctx, seed.Accounts); err != nil {
			app.Close()
			return nil, err
		}
		app.seed = seed
	}

	return app, nil
}

func (app *App) openStore(ctx context.Context) (repomanager.Store, error) {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, jobs are kept in memory")
		return repomanager.NewMemoryStore(), nil
	}

	db, err := repomanager.OpenPostgres(ctx, app.config.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	app.db = db
	return repomanager.NewSQLStore(db, rm), nil
}

func (app *App) openNotifier(ctx context.Context) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(app.logger)
	if app.config.RedisAddr == "" {
		return logNotifier, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	app.redis = rdb
	return notify.Multi{
		logNotifier,
		notify.NewRedisNotifier(rdb, app.config.RedisChannel, app.config.RedisStatusTTL),
	}, nil
}

func (app *App) remoteFactory() remote.Factory {
	registry := remote.NewRegistry(remote.NewRefResolver())
	registry.Register(models.ProviderS3, s3store.Builder(s3store.Options{
		Region:         app.config.S3Region,
		BaseEndpoint:   app.config.S3BaseEndpoint,
		ForcePathStyle: app.config.S3ForcePathStyle,
		DefaultBucket:  app.config.S3Bucket,
		LinkExpiry:     app.config.LinkExpiry,
		Logger:         app.logger,
	}))
	registry.Register(models.ProviderMinio, miniostore.Builder(miniostore.Options{
		Endpoint:      app.config.MinioEndpoint,
		UseSSL:        app.config.MinioUseSSL,
		Region:        app.config.S3Region,
		DefaultBucket: app.config.S3Bucket,
		LinkExpiry:    app.config.LinkExpiry,
		Logger:        app.logger,
	}))
	return registry
}

// Close releases the database and redis connections.
func (app *App) Close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.Background(), "close db", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(context.Background(), "close redis", "error", err)
		}
	}
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run executes mode until it finishes or the process receives a stop signal.
func (app *App) Run(ctx context.Context, mode string, task Task) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(ctx, cancelFunc)
	app.logger.Info(ctx, "Starting app...", "mode", mode)

	switch mode {
	case ModeServe:
		return app.serve(ctx)
	case ModeUpload:
		return app.upload(ctx, task)
	case ModeSync:
		return app.sync(ctx, task.Account)
	case ModeCheck:
		return app.check(ctx, task.Account)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func (app *App) serve(ctx context.Context) error {
	health := gs.NewHealthServer(app.config.HealthAddrGRPC, app.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.uploads.Run(ctx)
	})

	g.Go(func() error {
		return health.Run(ctx)
	})

	g.Go(func() error {
		n, err := app.uploads.Resume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("resume: %w", err)
		}
		app.logger.Info(ctx, "jobs resumed", "count", n)
		health.SetServing(gs.UploadService, true)
		return nil
	})

	if app.seed.SyncInterval > 0 {
		g.Go(func() error {
			app.syncLoop(ctx, app.seed.SyncInterval)
			return nil
		})
	}

	return g.Wait()
}

func (app *App) syncLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.uploads.SyncAll(ctx); err != nil {
				app.logger.Warn(ctx, "periodic quota sync", "error", err)
			}
		}
	}
}

func (app *App) upload(ctx context.Context, task Task) error {
	if task.Source == "" {
		return errors.New("upload: -src is required")
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.uploads.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	id, err := app.uploads.Submit(ctx, services.SubmitRequest{
		SourcePath: task.Source,
		AccountID:  task.Account,
		OwnerID:    task.Owner,
		FolderID:   task.Folder,
		Title:      task.Title,
		TargetName: task.Name,
	})
	if err != nil {
		return err
	}

	snap, err := app.uploads.Wait(ctx, id)
	if err != nil {
		return err
	}
	if snap.Status != models.JobCompleted {
		return fmt.Errorf("upload %s ended %v: %s: %s", id, snap.Status, snap.ErrorKind, snap.ErrorMessage)
	}
	app.logger.Info(ctx, "upload finished", "job_id", id, "remote_id", snap.RemoteID, "link", snap.RemoteLink)
	return nil
}

func (app *App) sync(ctx context.Context, accountID string) error {
	if accountID == "" {
		return app.uploads.SyncAll(ctx)
	}
	_, err := app.uploads.SyncQuota(ctx, accountID)
	return err
}

func (app *App) check(ctx context.Context, accountID string) error {
	if accountID == "" {
		return errors.New("check: -account is required")
	}
	res, err := app.uploads.CheckConnection(ctx, accountID)
	if err != nil {
		return err
	}
	app.logger.Info(ctx, "connection ok", "account_id", accountID,
		"used", res.Quota.Used, "percent_used", res.PercentUsed, "folders", res.FolderCount)
	return nil
}
