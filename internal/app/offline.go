package app

import (
	"context"
	"fmt"

	"restartbot/internal/config"
	"restartbot/internal/plugin"
	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

// ValidateFile runs the same checks as a hot reload against the file at
// path without starting anything.
func ValidateFile(ctx context.Context, path string, plugins ...plugin.Plugin) (*Config, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateHostConfig(cfg); err != nil {
		return nil, err
	}
	pm := plugin.NewManager(logx.Nop(), cfgm, plugin.Deps{}, nil)
	pm.Register(plugins...)
	if err := pm.ValidateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the configured storage. It returns (nil, nil) when
// storage is disabled.
func OpenStore(cfg *Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}
