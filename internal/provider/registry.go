package provider

import (
	"sort"
)

// DefaultName is used when a request does not select a provider.
const DefaultName = "gemini"

// Factory builds a provider variant bound to one credential.
type Factory func(apiKey string) Provider

// Registry is the single dispatch point from provider identifier to variant.
// Adding a provider means registering a new factory, never branching in the
// pipeline.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("openai", func(apiKey string) Provider { return NewOpenAI(apiKey) })
	r.Register("gemini", func(apiKey string) Provider { return NewGemini(apiKey) })
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Supported(name string) bool {
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a provider for one job. The credential lives only as long as the
// returned value.
func (r *Registry) New(name, apiKey string) (Provider, error) {
	if name == "" {
		name = DefaultName
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, errf(KindRejected, nil, "unknown provider %q (available: %v)", name, r.Names())
	}
	if apiKey == "" {
		return nil, errf(KindInvalidCredential, nil, "%s API key not configured", name)
	}
	return f(apiKey), nil
}
