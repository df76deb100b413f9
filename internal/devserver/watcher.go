package devserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/bundlecfg/internal/proxy"
)

const defaultDebounce = 250 * time.Millisecond

// RuleWatcher reloads the proxy table when the rule file changes. A rule file that fails to
// load, or has been removed, leaves the current table in place.
type RuleWatcher struct {
	path     string
	server   *Server
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
	reloaded chan struct{}
}

// WatchRules starts watching path. The directory is watched rather than the file so editors
// that save through a rename are still picked up.
func (s *Server) WatchRules(path string) (*RuleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &RuleWatcher{
		path:     abs,
		server:   s,
		watcher:  watcher,
		debounce: defaultDebounce,
		logger:   s.opts.Logger.With().Str("rules", abs).Logger(),
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded is signalled after every reload attempt.
func (w *RuleWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run processes file events until ctx is cancelled.
func (w *RuleWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			w.logger.Debug().Str("op", event.Op.String()).Msg("Rule file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Rule watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *RuleWatcher) reload() {
	defer func() {
		select {
		case w.reloaded <- struct{}{}:
		default:
		}
	}()

	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn().Msg("Rule file removed, keeping previous proxy table")
		return
	}

	rules, err := proxy.LoadFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Keeping previous proxy table")
		return
	}

	w.server.UpdateRules(rules)
	w.server.metrics.ProxyReloadsTotal.Add(context.Background(), 1)
}
