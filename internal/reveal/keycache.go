package reveal

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"timelock/internal/codec"
	"timelock/internal/metrics"
	"timelock/internal/timeauth"
)

// DefaultKeyCacheSize is the number of release keys kept per session.
const DefaultKeyCacheSize = 64

// DefaultFetchTimeout bounds one shared key request.
const DefaultFetchTimeout = 30 * time.Second

// KeyCache fetches release keys from a registry and keeps the published
// ones, so each identity costs at most one successful fetch.
type KeyCache struct {
	registry timeauth.Registry
	keys     *lru.Cache
	group    singleflight.Group
	timeout  time.Duration
	metrics  metrics.RevealMetrics
}

// NewKeyCache creates a cache holding up to size keys.
func NewKeyCache(registry timeauth.Registry, size int) (*KeyCache, error) {
	keys, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &KeyCache{
		registry: registry,
		keys:     keys,
		timeout:  DefaultFetchTimeout,
		metrics:  metrics.NewRevealMetrics("timelock"),
	}, nil
}

// Registry returns the registry keys are fetched from.
func (k *KeyCache) Registry() timeauth.Registry {
	return k.registry
}

// Fetch returns the release key for identity. Concurrent callers for the
// same identity share one request. Only published keys are cached.
//
// The shared request is not tied to any caller's context: a caller whose
// ctx ends gets ctx.Err() back while the others keep waiting.
func (k *KeyCache) Fetch(ctx context.Context, identity codec.Hex) (codec.Hex, error) {
	identity = codec.NormalizeHex(string(identity))

	if key, ok := k.keys.Get(identity); ok {
		k.metrics.KeyFetches(metrics.FetchCached).Inc()
		return key.(codec.Hex), nil
	}

	ch := k.group.DoChan(string(identity), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
		defer cancel()

		timer := k.metrics.FetchTimer(k.registry.Name())
		key, err := k.registry.FetchReleaseKey(fetchCtx, identity)
		timer.ObserveDuration()

		switch {
		case errors.Is(err, timeauth.ErrKeyNotYetAvailable):
			k.metrics.KeyFetches(metrics.FetchNotReady).Inc()
			return nil, err
		case err != nil:
			k.metrics.KeyFetches(metrics.FetchError).Inc()
			return nil, err
		}
		k.metrics.KeyFetches(metrics.FetchOK).Inc()
		k.keys.Add(identity, key)
		return key, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(codec.Hex), nil
	}
}

// Len returns the number of cached keys.
func (k *KeyCache) Len() int {
	return k.keys.Len()
}
