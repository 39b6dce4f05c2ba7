// Package daemon composes the engine with fx and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/config"
	"github.com/Fyned/wp-crm-sub000/internal/contacts"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/httpapi"
	"github.com/Fyned/wp-crm-sub000/internal/ingest"
	"github.com/Fyned/wp-crm-sub000/internal/lock"
	"github.com/Fyned/wp-crm-sub000/internal/logging"
	"github.com/Fyned/wp-crm-sub000/internal/media"
	"github.com/Fyned/wp-crm-sub000/internal/outbox"
	"github.com/Fyned/wp-crm-sub000/internal/paths"
	"github.com/Fyned/wp-crm-sub000/internal/status"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"github.com/Fyned/wp-crm-sub000/internal/syncer"
	"github.com/Fyned/wp-crm-sub000/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved runtime paths passed to the fx module.
type Params struct {
	DataDir    string
	ListenAddr string // optional override; empty = use config value
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideGatewayClient,
			provideRegistry,
			provideResolver,
			provideBlobStore,
			provideMediaPipeline,
			provideWriter,
			provideSyncEngine,
			provideWebhookProcessor,
			provideSender,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := paths.EnsureTree(p.DataDir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigPath(p.DataDir))
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.HTTP.ListenAddr = p.ListenAddr
	}
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = paths.MediaDir(p.DataDir)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.DataDir)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	if !result.FTS {
		logger.Warn("sqlite build lacks FTS5, search degrades to LIKE scans")
	}
	// Sync locks only outlive their run when the previous daemon died
	// mid-sync; the flock guarantees no other live holder exists.
	if err := db.ClearSyncLocks(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGatewayClient(cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.NewClient(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.GatewayTimeout(),
	}, logger)
}

func provideRegistry(b *bus.Bus) *status.Registry {
	return status.NewRegistry(b)
}

func provideResolver(db *store.DB, logger *zap.Logger) *contacts.Resolver {
	return contacts.NewResolver(db, logger)
}

func provideBlobStore(cfg *config.Config) media.BlobStore {
	return media.NewFSBlobStore(cfg.Media.Dir, "/media")
}

func provideMediaPipeline(db *store.DB, blobs media.BlobStore, client *gateway.Client, b *bus.Bus, logger *zap.Logger) *media.Pipeline {
	return media.NewPipeline(db, blobs, client, b, logger)
}

func provideWriter(db *store.DB, resolver *contacts.Resolver, pipeline *media.Pipeline, b *bus.Bus, logger *zap.Logger) *ingest.Writer {
	return ingest.NewWriter(db, resolver, pipeline, b, logger)
}

func provideSyncEngine(db *store.DB, client *gateway.Client, writer *ingest.Writer, resolver *contacts.Resolver, registry *status.Registry, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *syncer.Engine {
	return syncer.NewEngine(db, client, writer, resolver, registry, b, syncer.Config{
		ChatPageSize:      cfg.Sync.ChatPageSize,
		MaxChatPages:      cfg.Sync.MaxChatPages,
		MessageFetchLimit: cfg.Sync.MessageFetchLimit,
		ChatsPerBatch:     cfg.Sync.ChatsPerBatch,
		MessagesPerBatch:  cfg.Sync.MessagesPerBatch,
		BatchDelay:        cfg.BatchDelay(),
	}, logger)
}

func provideWebhookProcessor(db *store.DB, writer *ingest.Writer, resolver *contacts.Resolver, b *bus.Bus, logger *zap.Logger) *webhook.Processor {
	return webhook.NewProcessor(db, writer, resolver, b, logger)
}

func provideSender(db *store.DB, client *gateway.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func provideServer(db *store.DB, client *gateway.Client, engine *syncer.Engine, processor *webhook.Processor, sender *outbox.Sender, cfg *config.Config, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(db, client, engine, processor, sender, cfg.Media.Dir, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, cfg *config.Config, lk *lock.Lock, engine *syncer.Engine, pipeline *media.Pipeline, sender *outbox.Sender, db *store.DB, logger *zap.Logger) {
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.HTTP.ListenAddr)
			if err != nil {
				return err
			}
			logger.Info("http api listening", zap.String("addr", ln.Addr().String()))

			go func() {
				if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			sender.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			sender.Stop()
			engine.Stop()
			pipeline.Wait()
			if err := db.Close(); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
