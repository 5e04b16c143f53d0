package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/config"
	"github.com/MikeSquared-Agency/tally/internal/hermes"
	"github.com/MikeSquared-Agency/tally/internal/processor"
	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/settings"
	"github.com/MikeSquared-Agency/tally/internal/store"
)

// appEnv is everything a command needs, wired from cfg.
type appEnv struct {
	Store     store.Store
	Registry  *provider.Registry
	Processor *processor.Processor
	Settings  settings.Settings
	NATS      *hermes.Client
}

// initEnv opens the store, loads settings and configures the processor from
// the active provider. NATS is connected only when withEvents is set and a
// URL is configured.
func initEnv(ctx context.Context, withEvents bool) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	env := &appEnv{
		Store:    st,
		Registry: provider.NewRegistry(provider.WithLogger(logger)),
	}

	var events hermes.Publisher
	if withEvents && cfg.NATS.URL != "" {
		nc, err := hermes.NewClient(cfg.NATS.URL, cfg.NATS.Token, logger)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.NATS = nc
		events = nc
		logger.Info("NATS connected", zap.String("url", cfg.NATS.URL))
	}

	env.Processor = processor.New(env.Registry, st.Participants(), st.Activity(), events, logger)

	s, err := settings.Load(ctx, st.Settings(), cfg.Settings.Key, env.Registry)
	if err != nil {
		env.Close()
		return nil, err
	}
	if seedProvider(&s, cfg.Provider, env.Registry) {
		if err := settings.Save(ctx, st.Settings(), cfg.Settings.Key, s); err != nil {
			env.Close()
			return nil, err
		}
		logger.Info("provider seeded from config", zap.String("provider", s.AIProvider.Provider))
	}
	env.Settings = s

	if s.AIProvider.APIKey != "" {
		if err := env.Processor.Configure(s.AIProvider); err != nil {
			logger.Warn("stored provider config rejected", zap.Error(err))
		}
	} else {
		logger.Warn("no AI provider key configured; extraction disabled until settings are saved")
	}

	return env, nil
}

func (e *appEnv) Close() {
	if e.NATS != nil {
		e.NATS.Close()
	}
	if err := e.Store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

// seedProvider activates pc when it carries a key and the stored settings
// have none. Missing model and endpoint come from the backend defaults.
func seedProvider(s *settings.Settings, pc config.ProviderConfig, reg *provider.Registry) bool {
	if pc.APIKey == "" || s.AIProvider.APIKey != "" {
		return false
	}

	id := pc.Name
	if id == "" {
		id = s.AIProvider.Provider
	}
	if !reg.IsSupported(id) {
		logger.Warn("ignoring seed for unknown provider", zap.String("provider", id))
		return false
	}

	seed := reg.DefaultConfig(id)
	seed.APIKey = pc.APIKey
	if pc.Model != "" {
		seed.Model = settings.UpgradeModel(pc.Model)
	}
	if pc.Endpoint != "" {
		seed.Endpoint = pc.Endpoint
	}
	s.SetActive(seed)
	return true
}
