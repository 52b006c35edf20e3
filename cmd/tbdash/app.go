package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/tbdash/migrations"

	"github.com/nerrad567/tbdash/internal/credstore"
	"github.com/nerrad567/tbdash/internal/infrastructure/config"
	"github.com/nerrad567/tbdash/internal/infrastructure/database"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/metrics"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// errNotSignedIn is returned by commands that need a stored session.
var errNotSignedIn = errors.New("not signed in; run 'tbdash login' first")

// app is the wiring shared by every command: config, logger, credential
// store and backend client.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	store   credstore.Store
	client  *thingsboard.Client
	closers []func() error

	// storeCheck pings the credential store's connection; nil for the
	// memory and file backends.
	storeCheck func(context.Context) error
}

// storeConn is the connection behind a credential store.
type storeConn struct {
	close func() error
	check func(context.Context) error
}

// newApp loads configuration and builds the client. Logs go to logOut when
// it is non-nil, otherwise where the config says.
func newApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	path := opts.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	if logOut != nil {
		a.log = logging.NewWithWriter(cfg.Logging, version, logOut)
	} else {
		a.log = logging.New(cfg.Logging, version)
	}
	a.log.Debug("configuration loaded", "path", path)

	store, conn, err := openStore(ctx, cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.storeCheck = conn.check
	a.onClose(conn.close)

	a.client, err = thingsboard.New(thingsboard.Options{
		BaseURL:     cfg.Backend.URL,
		BrokerURL:   cfg.Broker.URL,
		Timeout:     cfg.BackendTimeout(),
		RPCTimeout:  cfg.RPCTimeout(),
		RefreshPath: cfg.Backend.RefreshPath,
		PageSize:    cfg.Backend.PageSize,
	}, store,
		thingsboard.WithLogger(a.log),
		thingsboard.WithMetrics(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating backend client: %w", err)
	}
	return a, nil
}

// onClose registers fn to run on close, in reverse registration order.
func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("error during shutdown", "error", err)
		}
	}
	a.closers = nil
}

// requireSession restores the stored session or fails with errNotSignedIn.
func (a *app) requireSession(ctx context.Context) error {
	ok, err := a.client.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errNotSignedIn
	}
	return nil
}

// openStore builds the configured credential store and returns the
// connection it holds, if any.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (credstore.Store, storeConn, error) {
	var (
		store credstore.Store
		conn  = storeConn{close: func() error { return nil }}
		attrs []any
	)

	switch cfg.Credentials.Backend {
	case config.CredentialsMemory:
		store = credstore.NewMemoryStore()

	case config.CredentialsFile:
		store = credstore.NewFileStore(cfg.Credentials.Path)

	case config.CredentialsSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, conn, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, conn, fmt.Errorf("running migrations: %w", err)
		}
		schema, err := db.Version(ctx)
		if err != nil {
			_ = db.Close()
			return nil, conn, err
		}
		store = credstore.NewSQLiteStore(db)
		conn = storeConn{close: db.Close, check: db.HealthCheck}
		attrs = append(attrs, "path", cfg.Database.Path, "schema", schema)

	case config.CredentialsRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Credentials.Redis.Addr,
			Password: cfg.Credentials.Redis.Password,
			DB:       cfg.Credentials.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, conn, fmt.Errorf("connecting to redis: %w", err)
		}
		store = credstore.NewRedisStore(rdb, cfg.Credentials.Redis.Prefix)
		conn = storeConn{
			close: rdb.Close,
			check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}
		attrs = append(attrs, "addr", cfg.Credentials.Redis.Addr)

	default:
		return nil, conn, fmt.Errorf("unknown credential backend %q", cfg.Credentials.Backend)
	}

	if cfg.Credentials.Secret != "" {
		store = credstore.Sealed(store, cfg.Credentials.Secret)
	}
	log.Debug("credential store ready", append([]any{
		"backend", cfg.Credentials.Backend,
		"sealed", cfg.Credentials.Secret != "",
	}, attrs...)...)
	return store, conn, nil
}
