package fs

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
)

type EntryKind uint8

const (
	DirEntry  EntryKind = 1
	FileEntry EntryKind = 2
)

type Entry struct {
	symlink string
	base    string
	kind    EntryKind
}

func (e *Entry) Kind() EntryKind {
	return e.kind
}

func (e *Entry) Symlink() string {
	return e.symlink
}

func (e *Entry) Base() string {
	return e.base
}

type DirEntries struct {
	data map[string]*Entry
	dir  string
}

func MakeEmptyDirEntries(dir string) DirEntries {
	return DirEntries{dir: dir, data: make(map[string]*Entry)}
}

func (entries DirEntries) Dir() string {
	return entries.dir
}

func (entries DirEntries) Get(query string) *Entry {
	if entries.data == nil {
		return nil
	}
	return entries.data[query]
}

func (entries DirEntries) Len() int {
	return len(entries.data)
}

func (entries DirEntries) SortedKeys() (keys []string) {
	if entries.data != nil {
		keys = make([]string, 0, len(entries.data))
		for k := range entries.data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return
}

type FS interface {
	// The returned entries are cached across invocations. Do not mutate them.
	ReadDirectory(path string) (DirEntries, error)
	ReadFile(path string) (string, error)
	WriteFile(path string, contents []byte) error

	// Forget any cached state for this path. Called by the watcher before a
	// rebuild so stale directory listings are not reused.
	Invalidate(path string)

	// This is part of the interface because the mock interface used for tests
	// should not depend on file system behavior (i.e. different slashes for
	// Windows) while the real interface should.
	IsAbs(path string) bool
	Abs(path string) (string, bool)
	Dir(path string) string
	Base(path string) string
	Ext(path string) string
	Join(parts ...string) string
	Cwd() string
	Rel(base string, target string) (string, bool)
	EvalSymlinks(path string) (string, bool)
}

var ErrNotExist = os.ErrNotExist

// IsNotExist also matches the error values the mock file system returns
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTDIR)
}

// Files under these directories are treated as immutable during watch mode
func IsInsideNodeModules(path string) bool {
	for _, segment := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == "node_modules" {
			return true
		}
	}
	return false
}

type entriesCache struct {
	mutex   sync.RWMutex
	entries map[string]entriesOrErr
}

type entriesOrErr struct {
	err     error
	entries DirEntries
}

func (c *entriesCache) get(dir string) (entriesOrErr, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	cached, ok := c.entries[dir]
	return cached, ok
}

func (c *entriesCache) put(dir string, value entriesOrErr) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[dir] = value
}

func (c *entriesCache) forget(dir string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, dir)
}
