package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/llm/anthropic"
	"github.com/qiangli/mychat/llm/gemini"
	"github.com/qiangli/mychat/llm/ollama"
	"github.com/qiangli/mychat/llm/openai"
)

// Factory binds a provider configuration to a new adapter. Factories must
// validate the configuration without any network I/O.
type Factory func(cfg *api.ProviderConfig) (llm.Client, error)

const (
	cacheSize = 64
	cacheTTL  = 15 * time.Minute
)

// cacheKey identifies one bound configuration. The credential is kept as a
// digest so the cache never holds the raw secret.
type cacheKey struct {
	Provider     string
	Model        string
	BaseUrl      string
	Timeout      time.Duration
	SystemPrompt string
	Credential   string
}

func newCacheKey(key string, cfg *api.ProviderConfig) cacheKey {
	ck := cacheKey{Provider: strings.ToLower(key)}
	if cfg == nil {
		return ck
	}
	ck.Model = cfg.Model
	ck.BaseUrl = cfg.BaseUrl
	ck.Timeout = cfg.Timeout
	ck.SystemPrompt = cfg.SystemPrompt
	if cfg.ApiKey.IsSet() {
		sum := sha256.Sum256([]byte(cfg.ApiKey.Reveal()))
		ck.Credential = hex.EncodeToString(sum[:])
	}
	return ck
}

// Registry maps provider keys to adapter constructors and keeps constructed
// adapters for reuse. Idle adapters expire and are closed.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory

	cache *expirable.LRU[cacheKey, llm.Client]
}

func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		cache: expirable.NewLRU[cacheKey, llm.Client](cacheSize, func(_ cacheKey, c llm.Client) {
			_ = c.Close()
		}, cacheTTL),
	}
}

// Register adds or replaces the factory for key.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(key)] = f
}

// Keys returns the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) lookup(key string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, api.NewConfigurationError(key, fmt.Sprintf("unknown provider %q, valid providers: %s", key, strings.Join(r.Keys(), ", ")))
	}
	return f, nil
}

// Create constructs a new adapter for key. Nothing is cached.
func (r *Registry) Create(key string, cfg *api.ProviderConfig) (llm.Client, error) {
	f, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// Get returns the cached adapter for key bound to an equal configuration,
// constructing it on first use. Configurations differing in any field,
// including the credential, get separate adapters.
func (r *Registry) Get(key string, cfg *api.ProviderConfig) (llm.Client, error) {
	f, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	ck := newCacheKey(key, cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache.Get(ck); ok {
		return c, nil
	}
	c, err := f(cfg)
	if err != nil {
		return nil, err
	}
	r.cache.Add(ck, c)
	return c, nil
}

// Close closes and drops every cached adapter.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	return nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process registry with the built-in providers.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
		RegisterBuiltin(defaultRegistry)
	})
	return defaultRegistry
}

// RegisterBuiltin adds the built-in providers to r.
func RegisterBuiltin(r *Registry) {
	r.Register(openai.Provider, factory(openai.New))
	r.Register(openai.DeepSeekProvider, factory(openai.NewDeepSeek))
	r.Register(ollama.Provider, factory(ollama.New))
	r.Register(anthropic.Provider, factory(anthropic.New))
	r.Register(gemini.Provider, factory(gemini.New))
}

// factory adapts a concrete constructor, keeping a failed construction nil.
func factory[T llm.Client](fn func(*api.ProviderConfig) (T, error)) Factory {
	return func(cfg *api.ProviderConfig) (llm.Client, error) {
		c, err := fn(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
