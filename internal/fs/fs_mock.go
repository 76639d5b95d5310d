package fs

// This is a mock implementation of the "fs" module for use with tests. It does
// not actually read from the file system. Instead, it reads from a pre-specified
// map of file paths to files. Paths are always unix-style.

import (
	"path"
	"strings"
	"sync"
	"syscall"
)

type mockFS struct {
	mutex         sync.RWMutex
	dirs          map[string]DirEntries
	files         map[string]string
	symlinks      map[string]string
	absWorkingDir string
}

// MockFS builds an in-memory file system. Keys whose value starts with
// "symlink:" become symbolic links to the path after the prefix.
func MockFS(input map[string]string, absWorkingDir string) FS {
	fs := &mockFS{
		dirs:          make(map[string]DirEntries),
		files:         make(map[string]string),
		symlinks:      make(map[string]string),
		absWorkingDir: absWorkingDir,
	}
	for k, v := range input {
		if target, ok := strings.CutPrefix(v, "symlink:"); ok {
			fs.symlinks[k] = target
			fs.addLocked(k, "")
			continue
		}
		fs.addLocked(k, v)
	}
	return fs
}

func (fs *mockFS) addLocked(k string, contents string) {
	if _, isLink := fs.symlinks[k]; !isLink {
		fs.files[k] = contents
	}
	original := k

	// Build the directory map
	for {
		kDir := path.Dir(k)
		dir, ok := fs.dirs[kDir]
		if !ok {
			dir = MakeEmptyDirEntries(kDir)
			fs.dirs[kDir] = dir
		}
		if kDir == k {
			break
		}
		base := path.Base(k)
		if k == original {
			dir.data[base] = &Entry{kind: FileEntry, base: base, symlink: fs.symlinks[k]}
		} else if _, ok := dir.data[base]; !ok {
			dir.data[base] = &Entry{kind: DirEntry, base: base}
		}
		k = kDir
	}
}

func (fs *mockFS) ReadDirectory(p string) (DirEntries, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	// Trim trailing slashes before lookup
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	if dir, ok := fs.dirs[p]; ok {
		return dir, nil
	}
	return DirEntries{}, syscall.ENOENT
}

func (fs *mockFS) ReadFile(p string) (string, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if target, ok := fs.symlinks[p]; ok {
		p = target
	}
	if contents, ok := fs.files[p]; ok {
		return contents, nil
	}
	return "", syscall.ENOENT
}

func (fs *mockFS) WriteFile(p string, contents []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.addLocked(p, string(contents))
	return nil
}

func (*mockFS) Invalidate(string) {}

func (*mockFS) IsAbs(p string) bool {
	return path.IsAbs(p)
}

func (*mockFS) Abs(p string) (string, bool) {
	return path.Clean(path.Join("/", p)), true
}

func (*mockFS) Dir(p string) string {
	return path.Dir(p)
}

func (*mockFS) Base(p string) string {
	return path.Base(p)
}

func (*mockFS) Ext(p string) string {
	return path.Ext(p)
}

func (*mockFS) Join(parts ...string) string {
	return path.Clean(path.Join(parts...))
}

func (fs *mockFS) Cwd() string {
	return fs.absWorkingDir
}

func splitOnSlash(path string) (string, string) {
	if slash := strings.IndexByte(path, '/'); slash != -1 {
		return path[:slash], path[slash+1:]
	}
	return path, ""
}

func (*mockFS) Rel(base string, target string) (string, bool) {
	base = path.Clean(base)
	target = path.Clean(target)

	if base == target {
		return ".", true
	}
	if base == "." {
		base = ""
	}
	if (len(base) > 0 && base[0] == '/') != (len(target) > 0 && target[0] == '/') {
		return "", false
	}

	// Find the common parent directory
	for {
		bHead, bTail := splitOnSlash(base)
		tHead, tTail := splitOnSlash(target)
		if bHead != tHead {
			break
		}
		base = bTail
		target = tTail
	}

	// Stop now if base is a subpath of target
	if base == "" {
		return target, true
	}

	// Traverse up to the common parent
	commonParent := strings.Repeat("../", strings.Count(base, "/")+1)

	// Stop now if target is a subpath of base
	if target == "" {
		return commonParent[:len(commonParent)-1], true
	}

	// Otherwise, down to the parent
	return commonParent + target, true
}

func (fs *mockFS) EvalSymlinks(p string) (string, bool) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if target, ok := fs.symlinks[p]; ok {
		return target, true
	}
	if _, ok := fs.files[p]; ok {
		return p, true
	}
	if _, ok := fs.dirs[p]; ok {
		return p, true
	}
	return "", false
}
