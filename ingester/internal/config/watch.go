package config

import (
	"context"
	"log/slog"

	"github.com/fleetscore/fleetscore/pkg/filewatch"
)

// Watch reloads path whenever it changes and passes the new Config to
// onChange. It runs until ctx is cancelled. A reload that fails to parse or
// validate is logged and skipped; the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, filewatch.DefaultDebounce, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path)
		onChange(cfg)
	})
}
