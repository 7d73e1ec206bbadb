// Package daemon composes the session, sync, and stream components into a
// long-running process.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/config"
	"github.com/converse-im/converse/internal/logging"
	"github.com/converse-im/converse/internal/messaging/loopback"
	"github.com/converse-im/converse/internal/session"
	"github.com/converse-im/converse/internal/signer"
	"github.com/converse-im/converse/internal/store"
	"github.com/converse-im/converse/internal/stream"
	intsync "github.com/converse-im/converse/internal/sync"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideSigner,
			provideLogger,
			provideBus,
			provideNetwork,
			provideManager,
			provideSession,
			provideStore,
			provideSyncEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideSigner() (*signer.RawKeySigner, error) {
	// Each daemon run gets a fresh ephemeral identity. A wallet-owned
	// session replaces it through the manager at runtime.
	return signer.GenerateKey()
}

func provideLogger(cfg *config.Config, sig *signer.RawKeySigner) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	identity := sig.Identity()
	if err := session.EnsureDir(cfg.DataDir, identity); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(cfg.DataDir, identity), identity, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideNetwork() *loopback.Network {
	return loopback.NewNetwork()
}

func provideManager(cfg *config.Config, n *loopback.Network, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(n.NewClient, cfg.DataDir, cfg.SettleDelay(), b, logger)
}

func provideSession(m *session.Manager, sig *signer.RawKeySigner, logger *zap.Logger) (*session.Session, error) {
	sess, err := m.Open(context.Background(), session.Owner{
		Kind:   session.OwnerEphemeral,
		Signer: sig,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session opened",
		zap.String("identity", sess.OwnerIdentity),
		zap.String("inbox_id", sess.InboxID))
	return sess, nil
}

func provideStore(cfg *config.Config, sess *session.Session, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ViewDBPath(cfg.DataDir, sess.OwnerIdentity)
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
	logger.Info("view cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSyncEngine(cfg *config.Config, sess *session.Session, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(sess.Client, db, b, logger, intsync.Options{
		PreviewWindow: cfg.PreviewWindow,
		Stream: stream.Config{
			RetryAttempts: cfg.StreamRetryAttempts,
			RetryDelay:    cfg.StreamRetryDelay(),
		},
	})
}

func registerLifecycle(lc fx.Lifecycle, m *session.Manager, engine *intsync.Engine, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// Show the cached view immediately, then reconcile.
			if err := engine.RestoreFromCache(); err != nil {
				logger.Warn("view cache restore failed", zap.Error(err))
			}
			if err := engine.LoadConversations(ctx); err != nil {
				logger.Warn("initial conversation load failed", zap.Error(err))
			}

			engine.StartConversationStream(ctx)
			engine.StartAllMessagesStream(ctx, nil)

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.StopStreams()
			m.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing view cache", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
