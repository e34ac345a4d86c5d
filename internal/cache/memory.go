package cache

import (
	"context"
	"strconv"
	"sync"

	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"

	"golang.org/x/sync/singleflight"
)

// Memory is a process-local Cache.
type Memory struct {
	resolver Resolver

	mu      sync.Mutex
	entries map[string]*model.Capabilities
	gens    map[string]uint64

	group singleflight.Group
}

// NewMemory creates an in-process cache in front of resolver.
func NewMemory(resolver Resolver) *Memory {
	return &Memory{
		resolver: resolver,
		entries:  make(map[string]*model.Capabilities),
		gens:     make(map[string]uint64),
	}
}

func (m *Memory) Get(ctx context.Context, userID string) (*model.Capabilities, error) {
	m.mu.Lock()
	if caps, ok := m.entries[userID]; ok {
		m.mu.Unlock()
		metrics.CapabilityCacheTotal.WithLabelValues("memory", "hit").Inc()
		return caps, nil
	}
	gen := m.gens[userID]
	m.mu.Unlock()
	metrics.CapabilityCacheTotal.WithLabelValues("memory", "miss").Inc()

	// Callers that miss under the same generation share one recompute.
	key := userID + "#" + strconv.FormatUint(gen, 10)
	caps, err := sharedResolve(ctx, &m.group, key, func(ctx context.Context) (*model.Capabilities, error) {
		caps, err := m.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gens[userID] == gen {
			m.entries[userID] = caps
		} else {
			metrics.CapabilityCacheTotal.WithLabelValues("memory", "stale").Inc()
		}
		m.mu.Unlock()
		return caps, nil
	})
	if err != nil {
		metrics.CapabilityCacheTotal.WithLabelValues("memory", "error").Inc()
		return nil, err
	}
	return caps, nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[userID]++
	delete(m.entries, userID)
	return nil
}
