package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/farm-fe/farm-sub000/internal/config"
)

// Store persists encoded cache entries. Implementations must be safe for
// concurrent use. A missing key is reported with found == false, not an error.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Put(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context) error
}

// OpenStore builds the store selected by the "persistent_cache" options.
// It returns nil when the persistent cache is disabled.
func OpenStore(options *config.Options) (Store, error) {
	cacheOptions := options.PersistentCache
	if !cacheOptions.Enabled {
		return nil, nil
	}
	switch cacheOptions.Store {
	case "", "disk":
		dir := cacheOptions.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(options.Root, dir)
		}
		return NewDiskStore(dir), nil
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cacheOptions.Redis.Addr, cacheOptions.Redis.Prefix), nil
	case "s3":
		return NewS3Store(cacheOptions.S3)
	}
	return nil, fmt.Errorf("unknown cache store %q", cacheOptions.Store)
}

type MemoryStore struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	data, ok := s.entries[key]
	return data, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[key] = append([]byte{}, data...)
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// DiskStore keeps one msgpack blob per key. Blobs are written to a temporary
// file first and renamed into place, so readers never see a partial write.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Name() string {
	return "disk"
}

func (s *DiskStore) Dir() string {
	return s.dir
}

// Entries are spread over 256 subdirectories by the first byte of the key
func (s *DiskStore) pathFor(key string) string {
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(s.dir, prefix, key+".mp")
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *DiskStore) Put(_ context.Context, key string, data []byte) error {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *DiskStore) Clear(context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
