package config

import (
	"context"
	"log/slog"

	"github.com/fleetscore/fleetscore/pkg/filewatch"
)

// Watch reloads path on change and passes the new Config to onChange until
// ctx is cancelled. Reloads that fail validation are logged and dropped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, filewatch.DefaultDebounce, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("server config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("server config: reloaded", "path", path,
			"profiles", len(cfg.Server.Weights.Profiles), "rules", len(cfg.Server.Alerts.Rules))
		onChange(cfg)
	})
}
