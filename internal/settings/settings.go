// Package settings persists the operator's provider choice and migrates
// blobs written by the single-provider releases.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/MikeSquared-Agency/tally/internal/locale"
	"github.com/MikeSquared-Agency/tally/internal/provider"
)

// DefaultKey is the store key settings live under.
const DefaultKey = "ai-reporter-settings"

// Settings is the current persisted shape.
type Settings struct {
	AIProvider      provider.Config            `json:"aiProvider"`
	ProviderConfigs map[string]provider.Config `json:"providerConfigs"`
	Language        string                     `json:"language"`
}

// Store is a key/value blob store. Load returns nil, nil for a missing key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

// Registry is the part of provider.Registry the migrator needs.
type Registry interface {
	Default() provider.BackendInfo
	DefaultConfig(id string) provider.Config
	IsSupported(id string) bool
}

// Model names retired upstream, mapped to their replacements.
var modelUpgrades = map[string]string{
	"gpt-4":                  "gpt-4o",
	"gpt-4-turbo":            "gpt-4o",
	"gpt-3.5-turbo":          "gpt-4o-mini",
	"claude-3-opus-20240229": "claude-3-5-sonnet-20241022",
}

// UpgradeModel returns the replacement for a retired model name, or model.
func UpgradeModel(model string) string {
	if m, ok := modelUpgrades[model]; ok {
		return m
	}
	return model
}

type legacy struct {
	AIAPIKey       string `json:"aiApiKey"`
	OpenAIEndpoint string `json:"openaiEndpoint"`
	AIModel        string `json:"aiModel"`
	Language       string `json:"language"`
}

// Default returns settings for the registry's first backend with no key.
func Default(reg Registry) Settings {
	cfg := reg.DefaultConfig(reg.Default().ID)
	return Settings{
		AIProvider:      cfg,
		ProviderConfigs: map[string]provider.Config{},
		Language:        locale.DefaultCode,
	}
}

// Migrate decodes blob into the current shape. The bool reports whether the
// blob was in the legacy single-provider shape and should be rewritten.
func Migrate(blob []byte, reg Registry) (Settings, bool, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || bytes.Equal(blob, []byte("null")) {
		return Default(reg), false, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(blob, &keys); err != nil {
		return Settings{}, false, eris.Wrap(err, "settings: decode")
	}

	_, hasProvider := keys["aiProvider"]
	_, hasKey := keys["aiApiKey"]
	_, hasEndpoint := keys["openaiEndpoint"]

	if !hasProvider && (hasKey || hasEndpoint) {
		var old legacy
		if err := json.Unmarshal(blob, &old); err != nil {
			return Settings{}, false, eris.Wrap(err, "settings: decode legacy")
		}
		return fromLegacy(old, reg), true, nil
	}

	var s Settings
	if err := json.Unmarshal(blob, &s); err != nil {
		return Settings{}, false, eris.Wrap(err, "settings: decode")
	}
	if s.AIProvider.Provider == "" {
		s.AIProvider = reg.DefaultConfig(reg.Default().ID)
	}
	if s.ProviderConfigs == nil {
		s.ProviderConfigs = map[string]provider.Config{}
	}
	if s.Language == "" {
		s.Language = locale.DefaultCode
	}
	return s, false, nil
}

func fromLegacy(old legacy, reg Registry) Settings {
	s := Default(reg)

	cfg := s.AIProvider
	cfg.APIKey = old.AIAPIKey
	if old.OpenAIEndpoint != "" {
		cfg.Endpoint = old.OpenAIEndpoint
	}
	if model := strings.TrimSpace(old.AIModel); model != "" {
		cfg.Model = model
	}
	cfg.Model = UpgradeModel(cfg.Model)

	s.AIProvider = cfg
	s.ProviderConfigs[cfg.Provider] = cfg
	if old.Language != "" {
		s.Language = old.Language
	}
	return s
}

// Load reads and migrates the settings under key. Migrated blobs are
// written back in the current shape before returning.
func Load(ctx context.Context, store Store, key string, reg Registry) (Settings, error) {
	blob, err := store.Load(ctx, key)
	if err != nil {
		return Settings{}, eris.Wrapf(err, "settings: load %s", key)
	}

	s, migrated, err := Migrate(blob, reg)
	if err != nil {
		return Settings{}, err
	}
	if migrated {
		if err := Save(ctx, store, key, s); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// Save writes s under key.
func Save(ctx context.Context, store Store, key string, s Settings) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "settings: encode")
	}
	if err := store.Save(ctx, key, blob); err != nil {
		return eris.Wrapf(err, "settings: save %s", key)
	}
	return nil
}

// SetActive makes cfg the active config and remembers it for its provider.
func (s *Settings) SetActive(cfg provider.Config) {
	if s.ProviderConfigs == nil {
		s.ProviderConfigs = map[string]provider.Config{}
	}
	s.AIProvider = cfg
	if cfg.Provider != "" {
		s.ProviderConfigs[cfg.Provider] = cfg
	}
}

// SwitchProvider stashes the active config and activates the last config
// used for id, or id's default.
func (s *Settings) SwitchProvider(id string, reg Registry) error {
	if !reg.IsSupported(id) {
		return &provider.Error{
			Kind:     provider.KindConfiguration,
			Provider: id,
			Message:  "unknown AI provider: " + id,
		}
	}
	if s.ProviderConfigs == nil {
		s.ProviderConfigs = map[string]provider.Config{}
	}
	if cur := s.AIProvider; cur.Provider != "" {
		s.ProviderConfigs[cur.Provider] = cur
	}

	next, ok := s.ProviderConfigs[id]
	if !ok {
		next = reg.DefaultConfig(id)
	}
	s.AIProvider = next
	return nil
}

// Redacted returns a copy with every API key masked to its last four
// characters.
func (s Settings) Redacted() Settings {
	out := s
	out.AIProvider.APIKey = mask(s.AIProvider.APIKey)
	out.ProviderConfigs = make(map[string]provider.Config, len(s.ProviderConfigs))
	for id, cfg := range s.ProviderConfigs {
		cfg.APIKey = mask(cfg.APIKey)
		out.ProviderConfigs[id] = cfg
	}
	return out
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	const visible = 4
	if len(key) <= visible {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-visible) + key[len(key)-visible:]
}

// RestoreKeys puts back keys from prev wherever s still carries the masked
// form prev.Redacted would have produced. A masked key is only restored for
// the endpoint and headers it was stored with; any other target is a
// configuration error.
func (s *Settings) RestoreKeys(prev Settings) error {
	restore := func(cfg provider.Config) (provider.Config, error) {
		old, ok := prev.ProviderConfigs[cfg.Provider]
		if prev.AIProvider.Provider == cfg.Provider {
			old, ok = prev.AIProvider, true
		}
		if !ok || old.APIKey == "" || cfg.APIKey != mask(old.APIKey) {
			return cfg, nil
		}
		if !sameTarget(cfg, old) {
			return cfg, &provider.Error{
				Kind:     provider.KindConfiguration,
				Provider: cfg.Provider,
				Message:  "Re-enter the API key to use a different endpoint or headers.",
			}
		}
		cfg.APIKey = old.APIKey
		return cfg, nil
	}

	active, err := restore(s.AIProvider)
	if err != nil {
		return err
	}
	restored := make(map[string]provider.Config, len(s.ProviderConfigs))
	for id, cfg := range s.ProviderConfigs {
		if restored[id], err = restore(cfg); err != nil {
			return err
		}
	}

	s.AIProvider = active
	for id, cfg := range restored {
		s.ProviderConfigs[id] = cfg
	}
	return nil
}

func sameTarget(a, b provider.Config) bool {
	return strings.TrimRight(a.Endpoint, "/") == strings.TrimRight(b.Endpoint, "/") &&
		maps.Equal(a.Headers, b.Headers)
}
