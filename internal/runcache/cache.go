package runcache

import (
	"context"
	"log/slog"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/model"
)

// ComputeFunc produces the run record for a fingerprint on a cache miss.
type ComputeFunc func(ctx context.Context) (*model.RunRecord, error)

// Cache stores completed run records keyed by fingerprint.
type Cache interface {
	// GetOrCompute returns the stored record for the fingerprint, or runs
	// compute and stores its result. hit reports whether the record came
	// from the store or from a computation another caller already had in
	// flight. Failed computations are never stored.
	GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (rec *model.RunRecord, hit bool, err error)
}

// Memory is an in-process Cache with LRU and TTL eviction. Concurrent
// requests for one fingerprint share a single computation; distinct
// fingerprints compute independently.
type Memory struct {
	entries *expirable.LRU[string, *model.RunRecord]
	group   singleflight.Group
}

func NewMemory(cfg config.CacheConfig) *Memory {
	return &Memory{
		entries: expirable.NewLRU[string, *model.RunRecord](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (m *Memory) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (*model.RunRecord, bool, error) {
	if rec, ok := m.entries.Get(fingerprint); ok {
		slog.DebugContext(ctx, "run cache hit", "fingerprint", fingerprint)
		return rec, true, nil
	}

	v, err, shared := m.group.Do(fingerprint, func() (any, error) {
		if rec, ok := m.entries.Get(fingerprint); ok {
			return rec, nil
		}
		rec, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.entries.Add(fingerprint, rec)
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*model.RunRecord), shared, nil
}

// Len reports the number of live entries, for diagnostics.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Nop is the disabled cache: every call computes, nothing is stored.
type Nop struct{}

func (Nop) GetOrCompute(ctx context.Context, _ string, compute ComputeFunc) (*model.RunRecord, bool, error) {
	rec, err := compute(ctx)
	return rec, false, err
}
