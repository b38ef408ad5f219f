package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brojonat/cataloger/internal/observability"
)

// Watcher hot-reloads fileOverrides from CATALOGER_CONFIG_FILE whenever the
// file changes on disk, so operators can tune the log level, model, or
// sandbox pool size without a redeploy. Most of Config is read once at
// process start and baked into long-lived objects (the provider, the store),
// so only the settings those objects expose a live setter for actually take
// effect; everything else in the file is picked up on the next restart.
type Watcher struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cfg     *Config
}

// Watch starts watching cfg's CATALOGER_CONFIG_FILE for changes, merging
// each debounced write back onto cfg and, for the one setting with a live
// setter, onto logger. It returns nil, nil if no config file was configured:
// hot-reload is an optional feature, not a required one. Callers should
// defer Close() on a non-nil result.
func (cfg *Config) Watch(ctx context.Context, logger *observability.Logger) (*Watcher, error) {
	path := cfg.configFilePath
	if path == "" {
		return nil, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{path: path, logger: logger, watcher: fw, cancel: cancel, cfg: cfg}
	w.wg.Add(1)
	go w.loop(watchCtx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		var f fileOverrides
		data, err := os.ReadFile(w.path)
		if err != nil {
			w.logger.Warn(ctx, "config hot-reload: read failed", "path", w.path, "error", err)
			return
		}
		if err := parseFileOverrides(data, &f); err != nil {
			w.logger.Warn(ctx, "config hot-reload: parse failed", "path", w.path, "error", err)
			return
		}
		mergeFileOverrides(w.cfg, f)
		if f.LogLevel != "" {
			w.logger.SetLevel(w.cfg.LogLevel)
		}
		w.logger.Info(ctx, "config hot-reload applied", "path", w.path,
			"llm_provider", w.cfg.LLMProvider, "model", w.cfg.Model, "log_level", w.cfg.LogLevel)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "config hot-reload watch error", "error", err)
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
