package cache

// This is a persistent cache of built modules. An entry holds everything the
// builder produced for one module: the transformed source, the statement
// analysis and the resolved dependency edges. The key covers the module id,
// the loaded content, the transform options and the compiler version, so an
// entry can never be read back by a build that would produce something else.
//
// Two things are not covered by the key and are checked by the builder on
// every hit:
//
//   - Every dependency specifier is resolved again. If any of them now points
//     at a different module id the entry is treated as a miss.
//
//   - Plugins get a chance to invalidate the entry through the
//     "handle_persistent_cached_module" hook.
//
// Entries are immutable once stored. The manager hands out shared pointers,
// so callers must clone the module before changing it.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/logger"
)

type CachedDependency struct {
	Source   string            `msgpack:"source"`
	Kind     graph.ResolveKind `msgpack:"kind"`
	Order    int               `msgpack:"order"`
	TargetId graph.ModuleId    `msgpack:"target"`
}

type CachedModule struct {
	Module       *graph.Module      `msgpack:"module"`
	Dependencies []CachedDependency `msgpack:"deps"`
}

// Key fingerprints one module build. The digest is Options.Digest().
func Key(id graph.ModuleId, content string, digest string) string {
	return helpers.HashHex(helpers.HashStrings(string(id), content, digest, config.Version))
}

func Encode(cached *CachedModule) ([]byte, error) {
	return msgpack.Marshal(cached)
}

func Decode(data []byte) (*CachedModule, error) {
	cached := &CachedModule{}
	if err := msgpack.Unmarshal(data, cached); err != nil {
		return nil, err
	}
	if cached.Module == nil {
		return nil, fmt.Errorf("cached entry has no module")
	}
	cached.Module.ModuleGroups = graph.ModuleGroupSet{}
	return cached, nil
}

const shardCount = 16

type shard struct {
	mutex   sync.RWMutex
	entries map[string]*CachedModule
}

type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
}

// Manager layers an in-memory map over a persistent store. Concurrent reads
// of the same key share one store round trip.
type Manager struct {
	store  Store
	log    logger.Log
	zap    *zap.Logger
	shards [shardCount]shard
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64

	// The store is only reported as unavailable once per manager
	storeWarned atomic.Bool
}

func NewManager(store Store, log logger.Log, z *zap.Logger) *Manager {
	if z == nil {
		z = zap.NewNop()
	}
	m := &Manager{store: store, log: log, zap: z}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*CachedModule)
	}
	return m
}

func (m *Manager) shardFor(key string) *shard {
	return &m.shards[helpers.HashString(key)%shardCount]
}

func (m *Manager) StoreName() string {
	if m.store == nil {
		return "none"
	}
	return m.store.Name()
}

// Get returns the cached module for a key. Corrupt entries and store
// failures are misses.
func (m *Manager) Get(ctx context.Context, key string) (*CachedModule, bool) {
	s := m.shardFor(key)
	s.mutex.RLock()
	cached, ok := s.entries[key]
	s.mutex.RUnlock()
	if ok {
		m.hits.Add(1)
		return cached, true
	}
	if m.store == nil {
		m.misses.Add(1)
		return nil, false
	}

	value, _, _ := m.group.Do(key, func() (interface{}, error) {
		data, found, err := m.store.Get(ctx, key)
		if err != nil {
			m.storeUnavailable(err)
			return nil, nil
		}
		if !found {
			return nil, nil
		}
		decoded, err := Decode(data)
		if err != nil {
			m.log.AddID(logger.MsgID_Cache_Corrupted, logger.Warning, nil,
				fmt.Sprintf("Ignoring corrupted cache entry %s: %s", key, err.Error()))
			m.zap.Debug("corrupted cache entry", zap.String("key", key), zap.Error(err))
			return nil, nil
		}
		s.mutex.Lock()
		s.entries[key] = decoded
		s.mutex.Unlock()
		return decoded, nil
	})

	if cached, ok := value.(*CachedModule); ok && cached != nil {
		m.hits.Add(1)
		return cached, true
	}
	m.misses.Add(1)
	return nil, false
}

// Put stores an entry in memory and in the persistent store. Writing the same
// key twice is harmless because entries are content-addressed.
func (m *Manager) Put(ctx context.Context, key string, cached *CachedModule) error {
	s := m.shardFor(key)
	s.mutex.Lock()
	s.entries[key] = cached
	s.mutex.Unlock()
	m.writes.Add(1)

	if m.store == nil {
		return nil
	}
	data, err := Encode(cached)
	if err != nil {
		return fmt.Errorf("could not encode cache entry for %q: %w", cached.Module.Id, err)
	}
	if err := m.store.Put(ctx, key, data); err != nil {
		m.storeUnavailable(err)
	}
	return nil
}

// Invalidate forgets the in-memory copy so the next Get reads the store
func (m *Manager) Invalidate(key string) {
	s := m.shardFor(key)
	s.mutex.Lock()
	delete(s.entries, key)
	s.mutex.Unlock()
}

func (m *Manager) Clear(ctx context.Context) error {
	for i := range m.shards {
		s := &m.shards[i]
		s.mutex.Lock()
		s.entries = make(map[string]*CachedModule)
		s.mutex.Unlock()
	}
	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx)
}

func (m *Manager) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Writes: m.writes.Load()}
}

func (m *Manager) storeUnavailable(err error) {
	m.zap.Warn("cache store failed", zap.String("store", m.store.Name()), zap.Error(err))
	if m.storeWarned.CompareAndSwap(false, true) {
		m.log.AddID(logger.MsgID_Cache_StoreUnavailable, logger.Warning, nil,
			fmt.Sprintf("The %s cache store is unavailable: %s", m.store.Name(), err.Error()))
	}
}
