package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Binding maps an agent role to a provider, model and invocation limits.
type Binding struct {
	ProviderID string        `json:"provider_id"`
	Model      string        `json:"model"`
	Timeout    time.Duration `json:"timeout"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
}

// Router manages registered providers and resolves role bindings.
type Router struct {
	providers map[string]Provider
	pricing   map[string]map[string]ModelPricing // providerID -> model -> rates
	bindings  map[string]Binding                 // role -> binding
	defaults  string                             // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		pricing:   make(map[string]map[string]ModelPricing),
		bindings:  make(map[string]Binding),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first registered provider
// becomes the default.
func (r *Router) Register(p Provider, pricing map[string]ModelPricing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	r.pricing[p.ID()] = pricing
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("name", p.Name()))
}

// Bind associates a role with a provider, model and timeout.
func (r *Router) Bind(role string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = b
	r.logger.Info("bound role",
		zap.String("role", role),
		zap.String("provider", b.ProviderID),
		zap.String("model", b.Model))
}

// SetDefault sets the default provider used by unbound roles.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Resolve returns the provider and binding for a role. Roles without an
// explicit binding fall back to the default provider with no model override.
func (r *Router) Resolve(role string) (Provider, Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, bound := r.bindings[role]
	if !bound {
		b = Binding{ProviderID: r.defaults}
	}
	p, ok := r.providers[b.ProviderID]
	if !ok {
		return nil, Binding{}, fmt.Errorf("no provider for role %s", role)
	}
	return p, b, nil
}

// EstimateCost returns the configured USD cost of a completion for the given
// provider and model, or nil when no pricing is configured.
func (r *Router) EstimateCost(providerID, model string, u Usage) *float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rates, ok := r.pricing[providerID][model]
	if !ok {
		return nil
	}
	cost := float64(u.PromptTokens)/1000*rates.InputPer1K +
		float64(u.CompletionTokens)/1000*rates.OutputPer1K
	return &cost
}

// Bindings returns a copy of the current role bindings.
func (r *Router) Bindings() map[string]Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Binding, len(r.bindings))
	for role, b := range r.bindings {
		out[role] = b
	}
	return out
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}

// HealthCheckAll pings every registered provider, returning per-provider errors.
func (r *Router) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	out := make(map[string]error, len(providers))
	for _, p := range providers {
		out[p.ID()] = p.HealthCheck(ctx)
	}
	return out
}
