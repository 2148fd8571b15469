package cedar

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

// Reloader polls a policy file's modification time at a fixed interval
// and swaps the engine's bundle on any content change (spec §4.4 "Hot
// reload"). Polling, not a kernel file-watch, is the primary mechanism
// so that config sources mounted as an atomic-swap symlink (the common
// Kubernetes ConfigMap pattern) are observed correctly; fsnotify, when
// it can attach to the path, only wakes the poller early between ticks
// instead of replacing the poll.
type Reloader struct {
	engine      *Engine
	policyPath  string
	schemaPath  string
	interval    time.Duration
	logger      *slog.Logger
	lastModTime time.Time
	lastHash    uint64
}

// NewReloader constructs a Reloader for policyPath, re-validating
// against schemaPath (which may be empty) on every observed change.
func NewReloader(engine *Engine, policyPath, schemaPath string, interval time.Duration, logger *slog.Logger) *Reloader {
	return &Reloader{
		engine:     engine,
		policyPath: policyPath,
		schemaPath: schemaPath,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. It is meant to be launched as a
// single background goroutine at startup; only called when policyPath
// is non-empty (an env-blob or built-in-default bundle has nothing on
// disk to poll).
func (r *Reloader) Run(ctx context.Context) {
	if r.policyPath == "" {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	wake := r.watchFastPath(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			r.tick()
		case <-ticker.C:
			r.tick()
		}
	}
}

// watchFastPath attaches an fsnotify watcher to the policy file's parent
// directory (watching the directory, not the file itself, survives the
// symlink-swap rename pattern that watching the file directly would
// miss). Returns a channel that fires on any write/create/rename event
// touching the file; if fsnotify cannot attach, it returns a channel
// that never fires and reload falls back to polling alone.
func (r *Reloader) watchFastPath(ctx context.Context) <-chan struct{} {
	never := make(chan struct{})
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Debug("fsnotify unavailable, relying on polling only", "error", err)
		return never
	}

	dir := parentDir(r.policyPath)
	if err := watcher.Add(dir); err != nil {
		r.logger.Debug("fsnotify could not watch policy directory, relying on polling only", "dir", dir, "error", err)
		watcher.Close()
		return never
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != r.policyPath {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-watcher.Errors:
			}
		}
	}()
	return wake
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// tick checks mtime, then content hash, then attempts a reload — each
// step cheaper than the last is skipped only once the previous step
// proved nothing changed.
func (r *Reloader) tick() {
	info, err := os.Stat(r.policyPath)
	if err != nil {
		r.logger.Warn("policy reload: stat failed", "path", r.policyPath, "error", err)
		r.engine.reloadFailTotal.Add(1)
		return
	}
	if !info.ModTime().After(r.lastModTime) {
		return
	}
	r.lastModTime = info.ModTime()

	data, err := os.ReadFile(r.policyPath)
	if err != nil {
		r.logger.Warn("policy reload: read failed", "path", r.policyPath, "error", err)
		r.engine.reloadFailTotal.Add(1)
		return
	}

	hash := xxhash.Sum64(data)
	if hash == r.lastHash {
		// mtime ticked (common on some mounted-secret filesystems doing
		// periodic atomic rewrites) but content is byte-identical —
		// skip the schema re-validate entirely.
		return
	}

	var schemaBytes []byte
	if r.schemaPath != "" {
		schemaBytes, err = os.ReadFile(r.schemaPath)
		if err != nil {
			r.logger.Warn("policy reload: schema read failed", "path", r.schemaPath, "error", err)
			r.engine.reloadFailTotal.Add(1)
			return
		}
	}

	newBundle, err := loadBundle(data, schemaBytes, "file:"+r.policyPath)
	if err != nil {
		r.logger.Warn("policy reload: rejected invalid bundle, keeping previous bundle in force", "error", err)
		r.engine.reloadFailTotal.Add(1)
		return
	}

	r.lastHash = hash
	r.engine.current.Store(newBundle)
	r.engine.policyCount.Store(int64(newBundle.policySet.PolicyCount()))
	r.engine.lastReloadUnix.Store(time.Now().Unix())
	r.engine.reloadOKTotal.Add(1)
	r.logger.Info("policy bundle reloaded", "path", r.policyPath, "policy_count", newBundle.policySet.PolicyCount())
}
