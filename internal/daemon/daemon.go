// Package daemon runs background reconciliation for one project: periodic
// pulls, a push drain triggered by database activity, and scheduled memory
// decay.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/semfora/pmsync/internal/decay"
	"github.com/semfora/pmsync/internal/reconcile"
)

// Config controls daemon behavior.
type Config struct {
	// PullInterval is how often remote state is pulled incrementally.
	PullInterval time.Duration

	// FullResyncInterval is how often a pruning full pull runs.
	FullResyncInterval time.Duration

	// PushDebounce is how long after the last local write the push drain
	// fires. Rapid successive edits collapse into one drain.
	PushDebounce time.Duration
}

// DefaultConfig returns daemon settings suitable for interactive use.
func DefaultConfig() Config {
	return Config{
		PullInterval:       5 * time.Minute,
		FullResyncInterval: 6 * time.Hour,
		PushDebounce:       5 * time.Second,
	}
}

// Daemon owns the background loops for one project.
type Daemon struct {
	reconciler *reconcile.Reconciler
	scheduler  *decay.Scheduler
	dbPath     string
	cfg        Config
	logger     *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a daemon. The decay scheduler may be nil to disable pruning.
func New(rec *reconcile.Reconciler, sched *decay.Scheduler, dbPath string, cfg Config, logger *log.Logger) *Daemon {
	if cfg.PullInterval == 0 {
		cfg.PullInterval = DefaultConfig().PullInterval
	}
	if cfg.FullResyncInterval == 0 {
		cfg.FullResyncInterval = DefaultConfig().FullResyncInterval
	}
	if cfg.PushDebounce == 0 {
		cfg.PushDebounce = DefaultConfig().PushDebounce
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Daemon{
		reconciler: rec,
		scheduler:  sched,
		dbPath:     dbPath,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the loops. Returns an error if already running or the
// database directory cannot be watched.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory, not the file: SQLite swaps WAL files around and
	// per-file watches go stale.
	if err := watcher.Add(filepath.Dir(d.dbPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch database directory: %w", err)
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true

	if d.scheduler != nil {
		d.scheduler.Start(ctx)
	}

	go d.run(ctx, watcher)
	d.logger.Printf("[daemon] started (pull every %s, full resync every %s)",
		d.cfg.PullInterval, d.cfg.FullResyncInterval)
	return nil
}

// Stop halts the loops and waits for them to exit.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()
	<-done
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	d.logger.Printf("[daemon] stopped")
}

func (d *Daemon) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(d.done)
	defer watcher.Close()

	pull := time.NewTicker(d.cfg.PullInterval)
	defer pull.Stop()
	fullResync := time.NewTicker(d.cfg.FullResyncInterval)
	defer fullResync.Stop()

	// The debounce timer starts stopped and is re-armed on every database
	// write. When it fires, queued local changes get pushed.
	debounce := time.NewTimer(d.cfg.PushDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	base := filepath.Base(d.dbPath)
	for {
		select {
		case <-ctx.Done():
			return

		case <-pull.C:
			if _, err := d.reconciler.Pull(ctx, false); err != nil {
				d.logger.Printf("[daemon] pull failed: %v", err)
			}

		case <-fullResync.C:
			if _, err := d.reconciler.Pull(ctx, true); err != nil {
				d.logger.Printf("[daemon] full resync failed: %v", err)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(event.Name) != base && filepath.Base(event.Name) != base+"-wal" {
				continue
			}
			debounce.Reset(d.cfg.PushDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("[daemon] watcher error: %v", err)

		case <-debounce.C:
			if _, err := d.reconciler.Push(ctx, false); err != nil {
				d.logger.Printf("[daemon] push failed: %v", err)
			}
		}
	}
}
