package fs

import (
	"os"
	"path/filepath"
)

type realFS struct {
	// Stores the file entries for directories we've listed before
	cache entriesCache

	cwd string
}

func RealFS() FS {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	} else if path, err := filepath.EvalSymlinks(cwd); err == nil {
		// Resolve symlinks in the current working directory so module ids built
		// from it match the ids of files reached through a realpath
		cwd = path
	}
	return &realFS{
		cache: entriesCache{entries: make(map[string]entriesOrErr)},
		cwd:   cwd,
	}
}

func (fs *realFS) ReadDirectory(dir string) (DirEntries, error) {
	// First, check the cache
	if cached, ok := fs.cache.get(dir); ok {
		return cached.entries, cached.err
	}

	// Cache miss: read the directory entries
	dirents, err := os.ReadDir(dir)
	entries := MakeEmptyDirEntries(dir)
	if err == nil {
		for _, dirent := range dirents {
			name := dirent.Name()
			entry := &Entry{base: name}
			mode := dirent.Type()

			// Follow symlinks now so the cache contains the translation
			if mode&os.ModeSymlink != 0 {
				entryPath := filepath.Join(dir, name)
				link, err := filepath.EvalSymlinks(entryPath)
				if err != nil {
					continue // Skip over this entry
				}
				stat, err := os.Stat(link)
				if err != nil {
					continue // Skip over this entry
				}
				entry.symlink = link
				mode = stat.Mode()
			}

			if mode.IsDir() {
				entry.kind = DirEntry
			} else {
				entry.kind = FileEntry
			}
			entries.data[name] = entry
		}
	}

	// Update the cache unconditionally. Even if the read failed, we don't want to
	// retry again later. The directory is inaccessible so trying again is wasted.
	if err != nil {
		entries = DirEntries{}
	}
	fs.cache.put(dir, entriesOrErr{entries: entries, err: err})
	return entries, err
}

func (fs *realFS) ReadFile(path string) (string, error) {
	buffer, err := os.ReadFile(path)
	return string(buffer), err
}

func (fs *realFS) WriteFile(path string, contents []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fs.cache.forget(dir)
	return os.WriteFile(path, contents, 0o644)
}

func (fs *realFS) Invalidate(path string) {
	fs.cache.forget(path)
	fs.cache.forget(filepath.Dir(path))
}

func (*realFS) IsAbs(p string) bool {
	return filepath.IsAbs(p)
}

func (*realFS) Abs(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	return abs, err == nil
}

func (*realFS) Dir(p string) string {
	return filepath.Dir(p)
}

func (*realFS) Base(p string) string {
	return filepath.Base(p)
}

func (*realFS) Ext(p string) string {
	return filepath.Ext(p)
}

func (*realFS) Join(parts ...string) string {
	return filepath.Clean(filepath.Join(parts...))
}

func (fs *realFS) Cwd() string {
	return fs.cwd
}

func (*realFS) Rel(base string, target string) (string, bool) {
	if rel, err := filepath.Rel(base, target); err == nil {
		return rel, true
	}
	return "", false
}

func (*realFS) EvalSymlinks(path string) (string, bool) {
	if path, err := filepath.EvalSymlinks(path); err == nil {
		return path, true
	}
	return "", false
}
