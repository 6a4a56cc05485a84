package config

import (
	"log/slog"
	"maps"

	"github.com/jpalmerr/statehub"
)

// BuildOptions converts parsed configuration into hub options.
//
// The logger is passed through to the hub. Collections keep their file
// order.
func BuildOptions(cfg *Config, logger *slog.Logger) []statehub.Option {
	opts := []statehub.Option{
		statehub.WithPort(cfg.Port),
		statehub.WithTitle(cfg.Title),
		statehub.WithRefreshInterval(cfg.RefreshInterval.Duration()),
	}
	if logger != nil {
		opts = append(opts, statehub.WithLogger(logger))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, statehub.WithMaxConcurrency(cfg.MaxConcurrency))
	}

	for _, cc := range cfg.Collections {
		opts = append(opts, statehub.WithCollection(buildSpec(cc)))
	}
	return opts
}

// buildSpec converts a single CollectionConfig to a hub collection spec.
func buildSpec(cc CollectionConfig) statehub.CollectionSpec {
	spec := statehub.CollectionSpec{
		Name:            cc.Name,
		URL:             cc.URL,
		Envelope:        cc.Envelope,
		BodyField:       cc.BodyField,
		ItemLabel:       cc.ItemLabel,
		ReadOnly:        cc.ReadOnly,
		Timeout:         cc.Timeout.Duration(),
		RefreshInterval: cc.RefreshInterval.Duration(),
		FailureMessage:  cc.FailureMessage,
		Headers:         maps.Clone(cc.Headers),
	}
	if cc.NoRefresh {
		spec.RefreshInterval = -1
	}
	return spec
}
