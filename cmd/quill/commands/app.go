package commands

import (
	"database/sql"
	"os"

	"github.com/quillnotes/quill/config"
	"github.com/quillnotes/quill/db"
	"github.com/quillnotes/quill/engine"
	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/logger"
	"github.com/quillnotes/quill/note"
	"github.com/quillnotes/quill/queue"
	"github.com/quillnotes/quill/resolver"
)

// app bundles the wired-up components a command needs. Close it when done.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	notes  *note.Store
	queue  *queue.Queue
	svc      *note.Service
	remote   engine.RemoteAPI
	resolver *resolver.Resolver
	engine   *engine.Engine
}

func (a *app) Close() error {
	return a.db.Close()
}

// openDatabase opens and migrates the database at the configured path. An
// explicit dbPath overrides configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// openApp wires the stores, queue, and sync engine from configuration
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return nil, err
	}

	policy, err := resolver.ParsePolicy(cfg.Sync.ConflictPolicy)
	if err != nil {
		database.Close()
		return nil, err
	}

	notes := note.NewStore(database)
	q := queue.NewQueue(database, queue.Config{
		Cap:          cfg.Sync.QueueCap,
		RetryCeiling: cfg.Sync.RetryCeiling,
		Backoff: queue.Backoff{
			Base: cfg.BackoffBase(),
			Cap:  cfg.BackoffCap(),
		},
	})

	remote := engine.NewHTTPRemote(cfg.Remote.BaseURL, cfg.Remote.AuthToken, cfg.RequestTimeout(), logger.Logger)
	res := resolver.New(policy, logger.Logger)
	eng := engine.New(database, notes, q, remote, res, logger.Logger, engine.Options{
		BatchSize:         cfg.Sync.BatchSize,
		RequestsPerMinute: cfg.Sync.RequestsPerMinute,
	})

	return &app{
		cfg:      cfg,
		db:       database,
		notes:    notes,
		queue:    q,
		svc:      note.NewService(database, notes, q, logger.Logger),
		remote:   remote,
		resolver: res,
		engine:   eng,
	}, nil
}

// watchConfig starts a hot-reload watcher on the user config file and
// applies retry tuning and conflict policy changes to the running
// components. Returns nil when there is no config file to watch.
func (a *app) watchConfig() *config.Watcher {
	path := config.GetUserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	w, err := config.NewWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable", "path", path, "error", err)
		return nil
	}
	config.SetGlobalWatcher(w)

	w.OnReload(func(c *config.Config) error {
		a.queue.Reconfigure(queue.Config{
			Cap:          c.Sync.QueueCap,
			RetryCeiling: c.Sync.RetryCeiling,
			Backoff: queue.Backoff{
				Base: c.BackoffBase(),
				Cap:  c.BackoffCap(),
			},
		})
		policy, err := resolver.ParsePolicy(c.Sync.ConflictPolicy)
		if err != nil {
			return err
		}
		a.resolver.SetPolicy(policy)
		logger.Infow("Applied reloaded sync settings",
			"retry_ceiling", c.Sync.RetryCeiling,
			"conflict_policy", policy)
		return nil
	})
	w.Start()
	return w
}
