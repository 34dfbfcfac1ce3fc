package security

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pricingReloadDebounce = 500 * time.Millisecond

// PricingWatcher reloads a BudgetGuard's pricing file when it changes on disk.
type PricingWatcher struct {
	guard   *BudgetGuard
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewPricingWatcher watches the directory holding path, so editors that
// replace the file by rename are still observed.
func NewPricingWatcher(guard *BudgetGuard, path string, logger *slog.Logger) (*PricingWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving pricing file %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &PricingWatcher{guard: guard, path: abs, watcher: w, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (p *PricingWatcher) Run(ctx context.Context) error {
	defer p.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(pricingReloadDebounce, func() {
				if err := p.guard.LoadPricingFile(p.path); err != nil {
					p.logger.Error("pricing hot-reload failed",
						slog.String("path", p.path),
						slog.String("error", err.Error()),
					)
				}
			})

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("pricing watcher error", slog.String("error", err.Error()))
		}
	}
}
