package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/netpulselabs/netpulse/internal/metrics"
)

// debounce between a filesystem event and the reload, so editors that write
// in several steps (truncate, write, rename) trigger a single re-parse.
const watchDebounce = 250 * time.Millisecond

type StoreConfig struct {
	Logger *slog.Logger

	// Path of the config JSON file. The file does not have to exist yet;
	// the Store serves defaults until it appears.
	Path string
}

func (c *StoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		return errors.New("config path is required")
	}
	return nil
}

// Store keeps the current configuration snapshot behind an atomic pointer.
// Readers call Current per operation and never see a half-applied config. A
// failed re-parse keeps the previous snapshot active.
type Store struct {
	log  *slog.Logger
	path string

	cur atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(*Config)
}

func NewStore(cfg *StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		log:  cfg.Logger,
		path: cfg.Path,
	}
	loaded, err := Load(cfg.Logger, cfg.Path)
	if err != nil {
		return nil, err
	}
	s.cur.Store(loaded)
	return s, nil
}

// Current returns the active snapshot. The returned value must not be
// mutated.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Path returns the config file path the store reads from.
func (s *Store) Path() string {
	return s.path
}

// Subscribe registers a callback invoked after every successful reload with
// the fresh snapshot. Callbacks run on the reloading goroutine and should
// return quickly.
func (s *Store) Subscribe(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Reload re-parses the config file and swaps the snapshot. On parse failure
// the previous snapshot stays active and the error is returned for the
// caller's logging.
func (s *Store) Reload() error {
	loaded, err := Load(s.log, s.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	s.cur.Store(loaded)
	metrics.ConfigReloads.WithLabelValues(metrics.ResultOK).Inc()

	s.mu.Lock()
	subs := make([]func(*Config), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(loaded)
	}
	return nil
}

// Watch re-parses the file whenever it changes on disk, until the context is
// done. The parent directory is watched rather than the file itself so
// rename-and-replace writes keep working.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.log.Debug("config: watching for changes", "path", s.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("config: watch stopping", "reason", ctx.Err())
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("config: watch error", "error", err)
		case <-pending:
			if err := s.Reload(); err != nil {
				s.log.Error("config: reload failed, keeping previous config", "error", err)
				continue
			}
			s.log.Info("config: reloaded", "path", s.path)
		}
	}
}
