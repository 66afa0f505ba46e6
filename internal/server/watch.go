package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/leapmap/internal/mapconfig"
)

// watchFile reloads the map document whenever it is written. The parent
// directory is watched so editors that replace the file are seen too.
func (s *Server) watchFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.mapFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("failed to watch map file", "file", target, "error", err)
		// Don't fail - serve without watching
		<-ctx.Done()
		return nil
	}
	s.logger.Info("watching map file", "file", target)

	// Debounce timer
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, _ := filepath.Abs(event.Name); name != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.debounce, func() {
				if err := s.reloadFile(ctx); err != nil {
					s.logger.Error("reload failed", "file", target, "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// reloadFile reads, validates and reloads the map document. An invalid
// document is logged and leaves the session as it was.
func (s *Server) reloadFile(ctx context.Context) error {
	data, err := os.ReadFile(s.mapFile)
	if err != nil {
		return fmt.Errorf("failed to read map file: %w", err)
	}
	format := s.format
	if format == mapconfig.FormatAuto {
		format = mapconfig.FormatFromPath(s.mapFile)
	}
	cfg, result, err := mapconfig.Load(data, format)
	if err != nil {
		return err
	}
	if cfg == nil {
		s.logger.Warn("map file is invalid, keeping current map", "errors", mapconfig.FormatErrors(result))
		s.notifier.Broadcast("invalid")
		return nil
	}

	s.logger.Debug("map file changed, reloading", "file", s.mapFile)
	if err := s.session.Reload(ctx, cfg); err != nil {
		s.logger.Warn("reload finished with layer failures", "error", err)
	}
	s.notifier.Broadcast("reload")
	return nil
}
