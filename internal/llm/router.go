package llm

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"foodlog/internal/config"
	"foodlog/internal/metrics"
	"foodlog/internal/promptcache"
)

// DefaultRoute is used for purposes without an explicit route
const DefaultRoute = "default"

type modelEmbedder interface {
	EmbedWithModel(ctx context.Context, model, text string) ([]float32, error)
}

type route struct {
	provider  string
	model     string
	completer Completer
	embedder  modelEmbedder
}

type routeTable map[string]route

// Router is a Completer and Embedder that dispatches each request to the
// provider configured for its purpose. Routes can be swapped at runtime.
type Router struct {
	cache  promptcache.Cache
	routes atomic.Pointer[routeTable]
}

// NewRouter builds a router from providers configuration. Every completion
// goes through cache.
func NewRouter(cfg *config.ProvidersConfig, cache promptcache.Cache) (*Router, error) {
	r := &Router{cache: cache}
	if err := r.Reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the routing table. On error the previous table stays active.
func (r *Router) Reload(cfg *config.ProvidersConfig) error {
	providers := make(map[string]interface{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Kind {
		case "openai", "fireworks", "perplexity":
			providers[p.Name] = NewOpenAICompatible(p.Name, p.Kind, p.BaseURL, p.APIKey, p.DefaultModel, p.Timeout)
		case "vertex":
			providers[p.Name] = NewGemini(p.Name, p.BaseURL, p.APIKey, p.DefaultModel, p.Timeout)
		default:
			return fmt.Errorf("provider %q has unknown kind %q", p.Name, p.Kind)
		}
	}

	table := routeTable{}
	for purpose, rc := range cfg.Routes {
		provider, ok := providers[rc.Provider]
		if !ok {
			return fmt.Errorf("route %q references unknown provider %q", purpose, rc.Provider)
		}
		rt := route{provider: rc.Provider, model: rc.Model}
		if completer, ok := provider.(Completer); ok {
			rt.completer = NewCachedCompleter(completer, r.cache)
		}
		if embedder, ok := provider.(modelEmbedder); ok {
			rt.embedder = embedder
		}
		table[purpose] = rt
	}

	r.routes.Store(&table)
	log.Printf("✅ [LLM] Loaded %d providers, %d routes", len(cfg.Providers), len(table))
	return nil
}

func (r *Router) lookup(purpose string) (route, error) {
	table := r.routes.Load()
	if table == nil {
		return route{}, ErrProviderNotFound
	}
	if rt, ok := (*table)[purpose]; ok {
		return rt, nil
	}
	if rt, ok := (*table)[DefaultRoute]; ok {
		return rt, nil
	}
	return route{}, fmt.Errorf("%w: purpose %q", ErrProviderNotFound, purpose)
}

func (r *Router) prepare(req Request) (route, Request, error) {
	rt, err := r.lookup(req.Purpose)
	if err != nil {
		return route{}, req, err
	}
	if rt.completer == nil {
		return route{}, req, fmt.Errorf("%w: provider %q cannot complete text", ErrProviderNotFound, rt.provider)
	}
	if req.Model == "" {
		req.Model = rt.model
	}
	return rt, req, nil
}

// Complete dispatches a completion to the configured provider
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	rt, req, err := r.prepare(req)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := rt.completer.Complete(ctx, req)
	metrics.RecordLLMRequest(rt.provider, req.Purpose, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", rt.provider, err)
	}
	return text, nil
}

// CompleteStream dispatches a streaming completion to the configured provider
func (r *Router) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	rt, req, err := r.prepare(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := rt.completer.CompleteStream(ctx, req)
	metrics.RecordLLMRequest(rt.provider, req.Purpose, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("%s stream failed: %w", rt.provider, err)
	}
	return stream, nil
}

// Embed embeds text with the provider routed for embeddings
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	rt, err := r.lookup(config.PurposeEmbedding)
	if err != nil {
		return nil, err
	}
	if rt.embedder == nil {
		return nil, fmt.Errorf("%w: provider %q cannot embed", ErrProviderNotFound, rt.provider)
	}
	return rt.embedder.EmbedWithModel(ctx, rt.model, text)
}
