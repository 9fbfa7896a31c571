package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cespare/xxhash/v2"
)

type (
	// MemoryBackend keeps sessions inside the process. Sessions are lost on
	// restart and are not shared between processes.
	MemoryBackend struct {
		cache *bigcache.BigCache
	}

	xxhasher struct{}
)

func (xxhasher) Sum64(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NewMemoryBackend returns a backend whose entries are evicted at most
// ttl after their last write.
func NewMemoryBackend(ctx context.Context, ttl time.Duration) (*MemoryBackend, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Hasher = xxhasher{}
	cfg.CleanWindow = time.Minute
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create session cache, cause %w", err)
	}
	return &MemoryBackend{cache: cache}, nil
}

func (m *MemoryBackend) Get(ctx context.Context, id string) (Record, error) {
	buf, err := m.cache.Get(id)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}
	return decodeRecord(id, buf)
}

func (m *MemoryBackend) Put(ctx context.Context, rec Record) error {
	return m.cache.Set(rec.ID, encodeRecord(rec))
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	err := m.cache.Delete(id)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (m *MemoryBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	var expired []string
	it := m.cache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}
		rec, err := decodeRecord(entry.Key(), entry.Value())
		if err != nil || !now.Before(rec.ExpiresAt) {
			expired = append(expired, entry.Key())
		}
	}
	var removed int64
	for _, id := range expired {
		if err := m.cache.Delete(id); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Len() int {
	return m.cache.Len()
}

func (m *MemoryBackend) Close() error {
	return m.cache.Close()
}
