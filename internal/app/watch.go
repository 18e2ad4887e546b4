package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nuetzliches/sbinspect/internal/config"
)

const watchDebounce = 200 * time.Millisecond

// watchScenarios watches the directory of path, so editors that replace the
// file atomically still trigger a reload.
func watchScenarios(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil || path == "" {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	base := filepath.Base(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	logger.Info("watching_scenarios", slog.String("path", path))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(watchDebounce)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}

// reloadScenarios rebuilds the set from path and swaps it into provider.
// The running set is kept when the file is unreadable or invalid.
func reloadScenarios(path string, provider *config.Provider, logger *slog.Logger, trigger string) bool {
	if logger == nil {
		logger = slog.Default()
	}
	set, res, err := config.Load(path, os.LookupEnv)
	if err != nil {
		logger.Error("scenarios_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return false
	}
	if !res.OK {
		logger.Error("scenarios_reload_failed", slog.String("error", config.FormatValidationText(res)), slog.String("trigger", trigger))
		return false
	}
	for _, w := range res.Warnings {
		logger.Warn("scenarios_warning", slog.String("warning", w))
	}
	provider.Replace(set)
	logger.Info("scenarios_reloaded_ok",
		slog.String("trigger", trigger),
		slog.Int("scenarios", len(set.Scenarios)),
	)
	return true
}
