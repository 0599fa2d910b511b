package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration when its file changes and hands the
// fresh Config to a callback. Reloads are debounced; editors often emit
// several events per save.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewWatcher starts watching the loader's config file. onChange only runs
// for configs that load and validate cleanly; a broken edit keeps the
// previous configuration live.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	configPath, err := loader.Path()
	if err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch the directory: editors replace files on save, which would drop a
	// watch on the file itself.
	if err := fsw.Add(filepath.Dir(configPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		logger:   logger,
		onChange: onChange,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	go w.run(filepath.Base(configPath))
	return w, nil
}

// Stop halts watching.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run(fileName string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Config file changed")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			if w.timer != nil {
				w.timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}
	if err := Validate(cfg); err != nil {
		w.logger.Error().Err(err).Msg("Config reload rejected, keeping previous configuration")
		return
	}
	w.logger.Info().Msg("Configuration reloaded")
	w.onChange(cfg)
}
