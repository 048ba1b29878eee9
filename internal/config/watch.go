package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syncmesh/syncmesh/internal/applog"
)

// Watcher hot-reloads syncmesh.toml on change, debouncing rapid writes the
// same way the teacher's file watchers debounce editor save-triggered
// rewrite bursts.
type Watcher struct {
	path string
	log  *applog.Logger
	fsw  *fsnotify.Watcher
	stop chan struct{}
}

// WatchFile starts watching path and invokes onChange with the freshly
// loaded Config whenever the file is written and parses cleanly. Errors
// from a bad reload are logged and the previous Config keeps running.
func WatchFile(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, log: applog.New("config"), fsw: fsw, stop: make(chan struct{})}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func(*Config)) {
	debounceDelay := 500 * time.Millisecond
	var timer *time.Timer

	base := filepath.Base(w.path)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) || filepath.Base(event.Name) != base {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					w.log.Warn("reload " + w.path + ": " + err.Error())
					return
				}
				w.log.Info("reloaded " + w.path)
				onChange(cfg)
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: " + err.Error())
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
