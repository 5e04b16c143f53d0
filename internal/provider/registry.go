package provider

import (
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Factory returns a fresh, unconfigured adapter.
type Factory func() *Adapter

type registryOptions struct {
	http   *http.Client
	logger *zap.Logger
}

type RegistryOption func(*registryOptions)

// WithHTTPClient sets the http client shared by the built-in adapters.
func WithHTTPClient(hc *http.Client) RegistryOption {
	return func(o *registryOptions) { o.http = hc }
}

// WithLogger sets the logger handed to the built-in adapters.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

// Registry maps provider ids to adapter factories, in registration order.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]Factory
	opts      registryOptions
}

// NewRegistry returns a registry with the openai, anthropic and github
// backends registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, o := range opts {
		o(&r.opts)
	}
	if r.opts.logger == nil {
		r.opts.logger = zap.NewNop()
	}

	for _, newBackend := range []func() *Backend{OpenAI, Anthropic, GitHub} {
		r.RegisterBackend(newBackend())
	}
	return r
}

// Register adds or replaces the factory for id. A replaced id keeps its
// original position.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; !ok {
		r.order = append(r.order, id)
	}
	r.factories[id] = f
}

// RegisterBackend registers b using the registry's http client and logger.
func (r *Registry) RegisterBackend(b *Backend) {
	r.Register(b.ID, func() *Adapter {
		return NewAdapter(b, r.opts.http, r.opts.logger)
	})
}

// GetProvider returns a new adapter for id.
func (r *Registry) GetProvider(id string) (*Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, configError(id, "unknown AI provider: "+id)
	}
	return f(), nil
}

// CreateService returns an adapter for cfg.Provider already configured
// with cfg.
func (r *Registry) CreateService(cfg Config) (*Adapter, error) {
	a, err := r.GetProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if err := a.Configure(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Available lists registered ids in registration order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) IsSupported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Catalog describes every registered backend.
func (r *Registry) Catalog() []BackendInfo {
	ids := r.Available()
	out := make([]BackendInfo, 0, len(ids))
	for _, id := range ids {
		if a, err := r.GetProvider(id); err == nil {
			out = append(out, a.Info())
		}
	}
	return out
}

// Default describes the first registered backend.
func (r *Registry) Default() BackendInfo {
	if ids := r.Available(); len(ids) > 0 {
		if a, err := r.GetProvider(ids[0]); err == nil {
			return a.Info()
		}
	}
	return BackendInfo{}
}

// DefaultConfig returns a keyless config for id with its first model and
// default endpoint. Unknown ids yield a config naming only the provider.
func (r *Registry) DefaultConfig(id string) Config {
	a, err := r.GetProvider(id)
	if err != nil {
		return Config{Provider: id}
	}
	return a.backend.DefaultConfig()
}
