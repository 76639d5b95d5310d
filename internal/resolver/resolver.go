package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/fs"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/logger"
)

var ErrModuleNotFound = errors.New("module not found")

type NotFoundError struct {
	Specifier string
	Importer  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not resolve %q from %q", e.Specifier, e.Importer)
}

func (e *NotFoundError) Unwrap() error {
	return ErrModuleNotFound
}

type Result struct {
	Id graph.ModuleId

	// Absolute path of the file. Empty for external modules.
	Path string

	External    bool
	SideEffects bool
	Immutable   bool
}

const memoSize = 8192

type memoKey struct {
	specifier string
	dir       string
	kind      graph.ResolveKind
}

type alias struct {
	key   string
	exact bool
	value string
}

type dirInfo struct {
	absPath     string
	entries     fs.DirEntries
	packageJSON *packageJSON
}

type Resolver struct {
	fs   fs.FS
	log  logger.Log
	root string

	extensions []string
	mainFields []string
	browser    bool
	symlinks   bool

	aliases    []alias
	externals  []*regexp.Regexp
	immutables []*regexp.Regexp

	conditionsImport  map[string]bool
	conditionsRequire map[string]bool

	memo *lru.Cache[memoKey, Result]

	// Guards the directory cache. Lookups that hit the memo never take it.
	mutex sync.Mutex
	dirs  map[string]*dirInfo
}

func NewResolver(fsys fs.FS, options *config.Options, log logger.Log) (*Resolver, error) {
	memo, err := lru.New[memoKey, Result](memoSize)
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		fs:                fsys,
		log:               log,
		root:              options.Root,
		extensions:        options.Resolve.Extensions,
		mainFields:        options.Resolve.MainFields,
		browser:           options.Platform() == config.PlatformBrowser,
		symlinks:          options.Resolve.Symlinks,
		conditionsImport:  toSet(options.Conditions(false)),
		conditionsRequire: toSet(options.Conditions(true)),
		memo:              memo,
		dirs:              make(map[string]*dirInfo),
	}
	if len(r.extensions) == 0 {
		r.extensions = config.DefaultExtensions
	}
	if len(r.mainFields) == 0 {
		r.mainFields = config.DefaultMainFields
	}

	for key, value := range options.Resolve.Alias {
		exact := strings.HasSuffix(key, "$")
		r.aliases = append(r.aliases, alias{key: strings.TrimSuffix(key, "$"), exact: exact, value: value})
	}
	sort.Slice(r.aliases, func(i, j int) bool {
		a, b := r.aliases[i], r.aliases[j]
		if len(a.key) != len(b.key) {
			return len(a.key) > len(b.key)
		}
		return a.key < b.key
	})

	for _, pattern := range options.External {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid external pattern %q: %w", pattern, err)
		}
		r.externals = append(r.externals, re)
	}
	for _, pattern := range options.PartialBundling.ImmutableModules {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid immutable module pattern %q: %w", pattern, err)
		}
		r.immutables = append(r.immutables, re)
	}
	return r, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Resolve maps an import specifier to a module. Relative specifiers are
// relative to importerDir, which must be absolute.
func (r *Resolver) Resolve(specifier string, importerDir string, kind graph.ResolveKind) (*Result, error) {
	key := memoKey{specifier: specifier, dir: importerDir, kind: kind}
	if cached, ok := r.memo.Get(key); ok {
		return &cached, nil
	}

	r.mutex.Lock()
	result, walked := r.resolve(specifier, importerDir, kind)
	r.mutex.Unlock()

	if result == nil {
		return nil, &NotFoundError{Specifier: specifier, Importer: importerDir}
	}
	r.memo.Add(key, *result)
	for _, dir := range walked {
		r.memo.Add(memoKey{specifier: specifier, dir: dir, kind: kind}, *result)
	}
	return result, nil
}

// Invalidate drops what the resolver knows about a changed path. Resolved
// results only depend on directory listings and package.json files, so the
// memo is only cleared for the latter.
func (r *Resolver) Invalidate(path string) {
	r.mutex.Lock()
	delete(r.dirs, path)
	delete(r.dirs, r.fs.Dir(path))
	r.mutex.Unlock()
	if r.fs.Base(path) == "package.json" {
		r.memo.Purge()
	}
}

// The returned directories are the ones walked while searching for a
// package. The same result applies to every one of them.
func (r *Resolver) resolve(specifier string, importerDir string, kind graph.ResolveKind) (*Result, []string) {
	path, query := specifier, ""
	if i := strings.IndexByte(specifier, '?'); i != -1 {
		path, query = specifier[:i], specifier[i:]
	}

	if r.isExternal(specifier) {
		return &Result{Id: graph.ModuleId(specifier), External: true}, nil
	}

	if rewritten, ok := r.applyAlias(path); ok {
		path = rewritten
		if isRelative(path) {
			path = r.fs.Join(r.root, path)
		}
		if r.isExternal(path) {
			return &Result{Id: graph.ModuleId(path + query), External: true}, nil
		}
	}

	if IsBuiltInNodeModule(path) {
		return &Result{Id: graph.ModuleId(path), External: true}, nil
	}

	conditions := r.conditionsImport
	if kind.IsRequire() {
		conditions = r.conditionsRequire
	}

	var absPath string
	var walked []string
	var ok bool
	switch {
	case r.fs.IsAbs(path):
		absPath, ok = r.loadAsFileOrDirectory(path)

	case isRelative(path):
		absPath, ok = r.loadAsFileOrDirectory(r.fs.Join(importerDir, path))

	case strings.HasPrefix(path, "#"):
		absPath, ok = r.loadPackageImports(path, importerDir, conditions)

	default:
		if remapped, disabled, found := r.browserRemapBare(path, importerDir); found {
			if disabled {
				return &Result{Id: graph.ModuleId(path), External: true}, nil
			}
			return r.resolve(remapped, importerDir, kind)
		}
		absPath, walked, ok = r.loadNodeModules(path, importerDir, conditions)
	}
	if !ok {
		return nil, nil
	}

	if remapped, disabled, found := r.browserRemapFile(absPath); found {
		if disabled {
			return &Result{Id: graph.ModuleId(specifier), External: true}, walked
		}
		absPath = remapped
	}
	return r.finalize(absPath, query), walked
}

func isRelative(path string) bool {
	return path == "." || path == ".." || strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../")
}

// IsPackagePath is true for bare specifiers such as "react" or "@scope/pkg"
func IsPackagePath(path string) bool {
	return !strings.HasPrefix(path, "/") && !isRelative(path) && !strings.HasPrefix(path, "#")
}

func (r *Resolver) isExternal(specifier string) bool {
	lower := strings.ToLower(specifier)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") || strings.HasPrefix(lower, "data:") {
		return true
	}
	for _, re := range r.externals {
		if re.MatchString(specifier) {
			return true
		}
	}
	return false
}

func (r *Resolver) applyAlias(path string) (string, bool) {
	for _, a := range r.aliases {
		if a.exact {
			if path == a.key {
				return a.value, true
			}
			continue
		}
		if path == a.key {
			return a.value, true
		}
		if strings.HasPrefix(path, a.key+"/") {
			return a.value + path[len(a.key):], true
		}
	}
	return "", false
}

func (r *Resolver) finalize(absPath string, query string) *Result {
	if r.symlinks {
		if real, ok := r.fs.EvalSymlinks(absPath); ok {
			absPath = real
		}
	}

	id := graph.ModuleId(r.ModuleIdForPath(absPath) + query)
	result := &Result{Id: id, Path: absPath, SideEffects: true}
	if pkg := r.enclosingPackageJSON(r.fs.Dir(absPath)); pkg != nil {
		if rel, ok := r.fs.Rel(pkg.dir, absPath); ok {
			result.SideEffects = pkg.sideEffects.has(toSlash(rel))
		}
	}
	for _, re := range r.immutables {
		if re.MatchString(string(id)) {
			result.Immutable = true
			break
		}
	}
	return result
}

// ModuleIdForPath makes an absolute path relative to the project root
func (r *Resolver) ModuleIdForPath(absPath string) string {
	if rel, ok := r.fs.Rel(r.root, absPath); ok {
		return toSlash(rel)
	}
	return toSlash(absPath)
}

// PathForModuleId is the inverse of ModuleIdForPath, ignoring the query
func (r *Resolver) PathForModuleId(id graph.ModuleId) string {
	return r.fs.Join(r.root, id.Path())
}

func toSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

func (r *Resolver) dirInfoCached(path string) *dirInfo {
	if info, ok := r.dirs[path]; ok {
		return info
	}
	info := r.dirInfoUncached(path)
	r.dirs[path] = info
	return info
}

func (r *Resolver) dirInfoUncached(path string) *dirInfo {
	entries, err := r.fs.ReadDirectory(path)
	if err != nil {
		return nil
	}
	info := &dirInfo{absPath: path, entries: entries}
	if entry := entries.Get("package.json"); entry != nil && entry.Kind() == fs.FileEntry {
		jsonPath := r.fs.Join(path, "package.json")
		contents, err := r.fs.ReadFile(jsonPath)
		if err == nil {
			info.packageJSON, err = parsePackageJSON(path, []byte(contents))
		}
		if err != nil {
			r.log.AddID(logger.MsgID_Resolve_InvalidPackageJSON, logger.Warning, &logger.MsgLocation{File: jsonPath},
				fmt.Sprintf("Ignoring invalid package.json: %s", err.Error()))
		}
	}
	return info
}

func (r *Resolver) enclosingPackageJSON(dir string) *packageJSON {
	for {
		if info := r.dirInfoCached(dir); info != nil && info.packageJSON != nil {
			return info.packageJSON
		}
		parent := r.fs.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func (r *Resolver) loadAsFile(path string) (string, bool) {
	info := r.dirInfoCached(r.fs.Dir(path))
	if info == nil {
		return "", false
	}
	base := r.fs.Base(path)
	if entry := info.entries.Get(base); entry != nil && entry.Kind() == fs.FileEntry {
		return path, true
	}
	for _, ext := range r.extensions {
		if entry := info.entries.Get(base + ext); entry != nil && entry.Kind() == fs.FileEntry {
			return path + ext, true
		}
	}
	return "", false
}

func (r *Resolver) loadAsIndex(info *dirInfo) (string, bool) {
	for _, ext := range r.extensions {
		base := "index" + ext
		if entry := info.entries.Get(base); entry != nil && entry.Kind() == fs.FileEntry {
			return r.fs.Join(info.absPath, base), true
		}
	}
	return "", false
}

func (r *Resolver) loadAsFileOrDirectory(path string) (string, bool) {
	if absPath, ok := r.loadAsFile(path); ok {
		return absPath, true
	}
	info := r.dirInfoCached(path)
	if info == nil {
		return "", false
	}
	if info.packageJSON != nil {
		if absPath, ok := r.loadAsMainField(info); ok {
			return absPath, true
		}
	}
	return r.loadAsIndex(info)
}

func (r *Resolver) loadAsMainField(info *dirInfo) (string, bool) {
	for _, field := range r.mainFields {
		if field == "browser" && !r.browser {
			continue
		}
		value, ok := info.packageJSON.mainFields[field]
		if !ok {
			continue
		}
		path := r.fs.Join(info.absPath, value)
		if absPath, ok := r.loadAsFile(path); ok {
			return absPath, true
		}
		if dir := r.dirInfoCached(path); dir != nil {
			if absPath, ok := r.loadAsIndex(dir); ok {
				return absPath, true
			}
		}
	}
	return "", false
}

// Splits "@scope/pkg/sub" into "@scope/pkg" and "./sub"
func parsePackageName(path string) (name string, subpath string, ok bool) {
	if path == "" {
		return "", "", false
	}
	slash := strings.IndexByte(path, '/')
	if strings.HasPrefix(path, "@") {
		if slash == -1 {
			return "", "", false
		}
		if next := strings.IndexByte(path[slash+1:], '/'); next != -1 {
			slash += next + 1
		} else {
			slash = -1
		}
	}
	if slash == -1 {
		return path, ".", true
	}
	return path[:slash], "." + path[slash:], true
}

func (r *Resolver) loadNodeModules(path string, startDir string, conditions map[string]bool) (string, []string, bool) {
	name, subpath, ok := parsePackageName(path)
	if !ok {
		return "", nil, false
	}

	var walked []string
	dir := startDir
	for {
		walked = append(walked, dir)
		if r.fs.Base(dir) != "node_modules" {
			pkgDir := r.fs.Join(dir, "node_modules", name)
			if info := r.dirInfoCached(pkgDir); info != nil {
				absPath, ok := r.loadFromPackage(info, subpath, conditions)
				return absPath, walked, ok
			}
		}
		parent := r.fs.Dir(dir)
		if parent == dir {
			return "", nil, false
		}
		dir = parent
	}
}

func (r *Resolver) loadFromPackage(info *dirInfo, subpath string, conditions map[string]bool) (string, bool) {
	if pkg := info.packageJSON; pkg != nil && pkg.exports != nil {
		target, status := resolveExports(*pkg.exports, subpath, conditions)
		if status != subpathFound || !strings.HasPrefix(target, "./") {
			return "", false
		}
		return r.loadAsFile(r.fs.Join(info.absPath, target))
	}
	if subpath == "." {
		return r.loadAsFileOrDirectory(info.absPath)
	}
	return r.loadAsFileOrDirectory(r.fs.Join(info.absPath, subpath))
}

func (r *Resolver) loadPackageImports(path string, importerDir string, conditions map[string]bool) (string, bool) {
	pkg := r.enclosingPackageJSON(importerDir)
	if pkg == nil || pkg.imports == nil {
		return "", false
	}
	target, status := resolveSubpathMap(*pkg.imports, path, conditions)
	if status != subpathFound {
		return "", false
	}
	if strings.HasPrefix(target, "./") {
		return r.loadAsFile(r.fs.Join(pkg.dir, target))
	}
	absPath, _, ok := r.loadNodeModules(target, pkg.dir, conditions)
	return absPath, ok
}

// The "browser" object of the importer's package can replace or disable
// bare imports such as "fs"
func (r *Resolver) browserRemapBare(path string, importerDir string) (string, bool, bool) {
	if !r.browser {
		return "", false, false
	}
	pkg := r.enclosingPackageJSON(importerDir)
	if pkg == nil || pkg.browserMap == nil {
		return "", false, false
	}
	target, ok := pkg.browserMap[path]
	if !ok {
		return "", false, false
	}
	if target == nil {
		return "", true, true
	}
	if isRelative(*target) {
		return r.fs.Join(pkg.dir, *target), false, true
	}
	if *target == path {
		return "", false, false
	}
	return *target, false, true
}

// Files are remapped by their path relative to the package, with or
// without the extension
func (r *Resolver) browserRemapFile(absPath string) (string, bool, bool) {
	if !r.browser {
		return "", false, false
	}
	pkg := r.enclosingPackageJSON(r.fs.Dir(absPath))
	if pkg == nil || pkg.browserMap == nil {
		return "", false, false
	}
	rel, ok := r.fs.Rel(pkg.dir, absPath)
	if !ok {
		return "", false, false
	}
	rel = "./" + toSlash(rel)
	candidates := []string{rel}
	if ext := r.fs.Ext(rel); ext != "" {
		candidates = append(candidates, strings.TrimSuffix(rel, ext))
	}
	for _, key := range candidates {
		target, ok := pkg.browserMap[key]
		if !ok {
			continue
		}
		if target == nil {
			return "", true, true
		}
		if remapped, ok := r.loadAsFile(r.fs.Join(pkg.dir, *target)); ok {
			return remapped, false, true
		}
	}
	return "", false, false
}
