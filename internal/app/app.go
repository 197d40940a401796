// Package app is the composition root of the agent. It builds every engine
// from config, owns their lifecycles and routes events between them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/backup"
	"cardsync-go/internal/config"
	"cardsync-go/internal/database"
	"cardsync-go/internal/dedup"
	"cardsync-go/internal/encryption"
	"cardsync-go/internal/event"
	"cardsync-go/internal/fsutil"
	"cardsync-go/internal/observer"
	"cardsync-go/internal/progress"
	"cardsync-go/internal/queue"
	"cardsync-go/internal/remote"
	"cardsync-go/internal/session"
	"cardsync-go/internal/snapshot"
	"cardsync-go/internal/vault"
	"cardsync-go/internal/volume"
)

// Agent wires the engines together. Exactly one Agent may own a state
// directory at a time; the second one fails with agent.ErrLocked.
type Agent struct {
	cfg    *config.Config
	op     *Operation
	clock  agent.Clock
	idgen  agent.IDGenerator
	logger agent.Logger

	lock    *fsutil.Lock
	logFile *os.File
	kv      *database.SQLiteStore
	bus     *event.Bus

	sessions  *session.Engine
	snapshots *snapshot.Builder
	backup    *backup.Engine
	queue     *queue.Queue
	dedup     *dedup.Index
	observer  *observer.Observer
	reporter  *progress.Reporter
	detector  *volume.Detector

	client    *remote.Client
	tracker   *remote.Tracker
	gateway   *remote.Gateway
	vault     agent.Vault
	encryptor agent.Encryptor

	// lifecycle serialises card insertion and removal handling.
	lifecycle  sync.Mutex
	autoBackup bool

	mu      sync.Mutex
	eventID string
}

// deps are the collaborators tests replace.
type deps struct {
	clock   agent.Clock
	idgen   agent.IDGenerator
	console io.Writer
	logger  agent.Logger // when set, no log file is opened
}

// NewAgent creates a fully wired Agent from cfg. operation names the CLI
// command being run and parameters its arguments. The caller must call Close.
func NewAgent(cfg *config.Config, operation, parameters string) (*Agent, error) {
	return newAgent(cfg, operation, parameters, deps{
		clock:   agent.RealClock{},
		idgen:   agent.UUIDGenerator{},
		console: os.Stderr,
	})
}

func newAgent(cfg *config.Config, operation, parameters string, d deps) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, parameters, d.clock.Now())
	a := &Agent{
		cfg:        cfg,
		op:         op,
		clock:      d.clock,
		idgen:      d.idgen,
		logger:     d.logger,
		autoBackup: cfg.Backup.AutoStart,
	}
	opened := false
	defer func() {
		if !opened {
			a.closeResources()
		}
	}()

	lock, err := fsutil.AcquireLock(filepath.Join(cfg.StateDir, "agent.lock"))
	if err != nil {
		return nil, err
	}
	a.lock = lock

	if a.logger == nil {
		l, f, err := newLogger(cfg.LogDir, op.RunID, slog.LevelInfo, d.console)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.logger = &slogAdapter{l: l}
		a.logFile = f
	}

	a.kv, err = database.NewStoreFromConfig(cfg.Database, cfg.AgentID, d.clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := a.kv.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	a.bus = event.NewBus()
	matcher := fsutil.NewExtensionMatcher(cfg.Watch.Extensions)

	a.sessions = session.NewEngine(session.NewStore(a.kv), a.bus, a.logger, d.clock, d.idgen)
	if _, err := a.sessions.Restore(); err != nil {
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	a.snapshots = snapshot.NewBuilder(
		snapshot.NewStore(filepath.Join(cfg.StateDir, "snapshots")),
		matcher, a.bus, a.logger, d.clock, d.idgen,
	)
	a.backup = backup.NewEngine(
		backup.NewStateStore(filepath.Join(cfg.StateDir, "backups")),
		backup.NewBandwidthLimiter(cfg.Backup.BandwidthLimit),
		a.bus, a.logger, d.clock,
	)

	a.queue, err = queue.NewQueueFromConfig(cfg.Queue, filepath.Join(cfg.StateDir, "queue"), a.bus, a.logger, d.clock, d.idgen)
	if err != nil {
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	a.dedup, err = dedup.Open(filepath.Join(cfg.StateDir, "dedup.json"), cfg.Dedup.Capacity, d.clock, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening duplication index: %w", err)
	}

	a.client = remote.NewClient(cfg.Remote, cfg.AgentID)
	a.tracker = remote.NewTracker(a.client.Configured(), d.clock, a.logger)
	a.gateway = remote.NewGateway(a.client, a.queue, a.tracker, d.idgen, a.logger)
	a.reporter = progress.NewReporter(a.gateway, cfg.Progress.MinInterval.D(), d.clock, a.logger)

	a.observer = observer.New(cfg.Watch.Folders, matcher, a.bus, a.logger, d.clock)
	if cfg.Watch.MediaRoot != "" {
		a.detector = volume.NewDetector(cfg.Watch.MediaRoot, cfg.Watch.RescanInterval.D(), a.logger)
	}

	if len(cfg.Vaults) > 0 {
		a.vault, err = vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}
	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	if cur := a.sessions.Active(); cur != nil {
		if snap, err := a.snapshots.Load(cur.ID); err == nil && snap != nil {
			a.observer.SetSnapshot(snap)
		}
	}

	opened = true
	a.logger.Info("agent opened", "operation", op.Name, "agent_id", cfg.AgentID)
	return a, nil
}

// Config returns the configuration the agent was built from.
func (a *Agent) Config() *config.Config { return a.cfg }

// Events subscribes to lifecycle notifications. Call cancel when done.
func (a *Agent) Events(buffer int) (<-chan event.Event, func()) {
	return a.bus.Subscribe(buffer)
}

// SetAutoBackup makes every new or resumed session start a backup to the
// configured destination.
func (a *Agent) SetAutoBackup(on bool) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.autoBackup = on
}

// MarkFailed records that the CLI operation failed.
func (a *Agent) MarkFailed() { a.op.Fail() }

// Close stops a running backup, flushes the queue and releases every resource.
func (a *Agent) Close() error {
	if a.backup.Stop() {
		a.backup.Wait()
	}
	a.logger.Info("agent closing", "operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(a.clock.Now()))
	return a.closeResources()
}

func (a *Agent) closeResources() error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing queue: %w", err))
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing lock: %w", err))
		}
	}
	return errors.Join(errs...)
}
