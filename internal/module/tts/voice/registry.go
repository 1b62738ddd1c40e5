package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownVoice is returned when a requested voice is not registered.
var ErrUnknownVoice = errors.New("unknown voice")

const cacheKey = "tts:voices"

// Catalog is the voice listing served to clients.
type Catalog struct {
	Voices  []string                  `json:"voices"`
	Total   int                       `json:"total"`
	Details map[string]map[string]any `json:"details"`
}

// Registry serves the voice catalog from a JSON file, with a Redis cache
// in front so every instance does not re-read the file on each request.
type Registry struct {
	path     string
	client   redis.UniversalClient
	cacheTTL time.Duration
}

// NewRegistry creates a registry backed by the given voice file. A nil
// Redis client disables caching.
func NewRegistry(path string, client redis.UniversalClient, cacheTTL time.Duration) *Registry {
	return &Registry{path: path, client: client, cacheTTL: cacheTTL}
}

// Catalog returns the voice catalog, preferring the cache.
func (r *Registry) Catalog(ctx context.Context) (*Catalog, error) {
	if r.client != nil {
		raw, err := r.client.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cat Catalog
			if jsonErr := json.Unmarshal(raw, &cat); jsonErr == nil {
				return &cat, nil
			}
		}
	}

	cat, err := r.load()
	if err != nil {
		return nil, err
	}

	if r.client != nil {
		if raw, err := json.Marshal(cat); err == nil {
			// Cache failures are non-fatal.
			_ = r.client.Set(ctx, cacheKey, raw, r.cacheTTL).Err()
		}
	}
	return cat, nil
}

// Exists reports whether a voice is registered.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	cat, err := r.Catalog(ctx)
	if err != nil {
		return false, err
	}
	_, ok := cat.Details[name]
	return ok, nil
}

// Validate returns ErrUnknownVoice when the voice is not registered.
func (r *Registry) Validate(ctx context.Context, name string) error {
	ok, err := r.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, name)
	}
	return nil
}

// Invalidate drops the cached catalog so the next read hits the file.
func (r *Registry) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Del(ctx, cacheKey).Err()
}

// load reads the voice file. A missing file yields an empty catalog
// rather than an error.
func (r *Registry) load() (*Catalog, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{Voices: []string{}, Details: map[string]map[string]any{}}, nil
		}
		return nil, fmt.Errorf("read voice file: %w", err)
	}

	var details map[string]map[string]any
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("parse voice file: %w", err)
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Catalog{
		Voices:  names,
		Total:   len(names),
		Details: details,
	}, nil
}
