package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Purposes a provider route can be configured for
const (
	PurposeSplit     = "split"
	PurposeServing   = "serving"
	PurposeExtract   = "extract"
	PurposeEmbedding = "embedding"
)

// ProvidersConfig represents the providers.yaml file structure
type ProvidersConfig struct {
	Providers []ProviderConfig       `yaml:"providers"`
	Routes    map[string]RouteConfig `yaml:"routes"`
}

// ProviderConfig describes one model vendor endpoint
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"` // openai, fireworks, perplexity, vertex
	BaseURL      string        `yaml:"base_url"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`

	// APIKey is resolved from APIKeyEnv at load time and never read from the file
	APIKey string `yaml:"-"`
}

// RouteConfig binds a purpose (split, serving, ...) to a provider and model
type RouteConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Provider returns the provider with the given name
func (p *ProvidersConfig) Provider(name string) (ProviderConfig, bool) {
	for _, provider := range p.Providers {
		if provider.Name == name {
			return provider, true
		}
	}
	return ProviderConfig{}, false
}

// LoadProviders loads providers configuration from a YAML file
func LoadProviders(filePath string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders parses and validates providers YAML
func ParseProviders(data []byte) (*ProvidersConfig, error) {
	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers YAML: %w", err)
	}

	seen := make(map[string]bool)
	for i := range cfg.Providers {
		provider := &cfg.Providers[i]
		if provider.Name == "" {
			return nil, fmt.Errorf("provider #%d has no name", i)
		}
		if seen[provider.Name] {
			return nil, fmt.Errorf("duplicate provider %q", provider.Name)
		}
		seen[provider.Name] = true

		switch provider.Kind {
		case "openai", "fireworks", "perplexity", "vertex":
		default:
			return nil, fmt.Errorf("provider %q has unknown kind %q", provider.Name, provider.Kind)
		}
		if provider.APIKeyEnv != "" {
			provider.APIKey = os.Getenv(provider.APIKeyEnv)
		}
		if provider.Timeout == 0 {
			provider.Timeout = 60 * time.Second
		}
	}

	for purpose, route := range cfg.Routes {
		if !seen[route.Provider] {
			return nil, fmt.Errorf("route %q references unknown provider %q", purpose, route.Provider)
		}
	}

	return &cfg, nil
}

// WatchProviders watches the providers file and calls onChange with every
// successfully parsed new version. It blocks until ctx is cancelled.
func WatchProviders(ctx context.Context, filePath string, onChange func(*ProvidersConfig)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		return
	}

	// Watch the directory, editors replace files rather than writing in place
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, func() {
				log.Printf("🔄 Detected changes in %s, reloading providers...", filePath)
				cfg, err := LoadProviders(filePath)
				if err != nil {
					log.Printf("❌ Failed to reload providers, keeping previous config: %v", err)
					return
				}
				onChange(cfg)
				log.Printf("✅ Providers reloaded from %s", filePath)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
