// Package cachefs keeps an in-memory view of the size and modification
// time of every file under one configured asset directory, so repeated
// existence and stat queries never touch the disk. The view is kept
// coherent with external writers through a filesystem change notifier:
// notifier events only mark entries dirty, and the next read that needs
// a dirty entry re-stats it from disk.
package cachefs

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrNotInDirectory means the key does not belong to the directory
	// namespace this cache is scoped to.
	ErrNotInDirectory = errors.New("path not in this cache's directory")

	// ErrInvalidPath means an absolute path string could not be
	// unambiguously translated into this cache's namespace.
	ErrInvalidPath = errors.New("invalid path")

	// ErrWrongPlatform means a platform-qualified call named a platform
	// other than the one this cache was configured with.
	ErrWrongPlatform = errors.New("wrong platform")

	// ErrUnsupported is returned by operations a file system variant
	// does not serve (see SourceCachingFileSystem).
	ErrUnsupported = errors.New("operation not supported")
)

// ListingOptions controls GetDirectoryListing.
type ListingOptions struct {
	IncludeDirectories bool
	Recursive          bool
	ExtensionFilter    string // e.g. "json"; empty means all types
}

// FileSystem is the operation surface shared by CachingFileSystem and
// its source variant, keyed by FilePath.
type FileSystem interface {
	Exists(fp FilePath) bool
	GetFileSize(fp FilePath) (uint64, bool)
	GetModifiedTime(fp FilePath) (uint64, bool)
	IsDirectory(fp FilePath) bool
	Open(fp FilePath, mode FileMode) (afero.File, error)
	ReadAll(fp FilePath) ([]byte, error)
	WriteAll(fp FilePath, data []byte, mtime uint64) error
	Delete(fp FilePath) error
	DeleteDirectory(fp FilePath, recursive bool) error
	CreateDir(fp FilePath) error
	Copy(from, to FilePath, allowOverwrite bool) error
	Rename(from, to FilePath) error
	SetModifiedTime(fp FilePath, mtime uint64) error
	SetReadOnlyBit(fp FilePath, readOnly bool) error
	GetDirectoryListing(fp FilePath, opts ListingOptions) ([]string, error)
	ExistsInSource(fp FilePath) bool
	GetModifiedTimeInSource(fp FilePath) (uint64, bool)
}

// Options configures New.
type Options struct {
	// Disk is the raw file operation capability. Nil means the OS
	// filesystem.
	Disk Disk

	// DisableWatch skips starting the change notifier. Intended for
	// tests running over an in-memory Disk that the OS cannot watch.
	DisableWatch bool
}

// CachingFileSystem serves file metadata for one (directory, platform)
// pair from memory. Construction performs one bulk enumeration of the
// directory root; from then on every mutating call writes through to
// Disk and updates the cached view, and external changes arrive through
// the notifier as dirty marks that the next relevant read reconciles.
//
// Construction cost is the full enumeration, so it only pays off when a
// large fraction of the directory is queried repeatedly.
type CachingFileSystem struct {
	platform  Platform
	directory Directory
	source    bool
	paths     *Paths
	disk      Disk

	notifier     *ChangeNotifier
	dirty        *dirtySet
	changeEvents atomic.Uint64

	// mu guards sizes and modTimes jointly, including the
	// dirty-reconciliation reads of Disk. Presence in sizes is the
	// existence signal for a file; modTimes alone proves nothing,
	// because a disk mtime query succeeds for directories too.
	mu       sync.Mutex
	sizes    map[FilePath]uint64
	modTimes map[FilePath]uint64
}

var _ FileSystem = (*CachingFileSystem)(nil)

// New builds a cache scoped to one directory namespace and platform,
// populates it from disk, and starts watching the root for external
// changes. Close releases the watcher.
func New(platform Platform, directory Directory, paths *Paths, opts Options) (*CachingFileSystem, error) {
	return newCachingFileSystem(platform, directory, paths, false, opts)
}

func newCachingFileSystem(platform Platform, directory Directory, paths *Paths, source bool, opts Options) (*CachingFileSystem, error) {
	if directory == DirUnknown {
		return nil, fmt.Errorf("new cache: unknown directory")
	}
	disk := opts.Disk
	if disk == nil {
		disk = NewOSDisk()
	}

	c := &CachingFileSystem{
		platform:  platform,
		directory: directory,
		source:    source,
		paths:     paths,
		disk:      disk,
		dirty:     newDirtySet(),
		sizes:     make(map[FilePath]uint64),
		modTimes:  make(map[FilePath]uint64),
	}

	start := time.Now()
	c.mu.Lock()
	c.populateCachesLocked()
	entries := len(c.sizes)
	c.mu.Unlock()

	sub("cachefs").Info("cache populated",
		"root", c.rootDir(), "entries", entries, "elapsed", time.Since(start))

	if !opts.DisableWatch {
		n, err := NewChangeNotifier(c.rootDir(), c.onFileChange)
		if err != nil {
			return nil, fmt.Errorf("start notifier: %w", err)
		}
		c.notifier = n
	}
	return c, nil
}

// Close stops the change notifier, joining its goroutine, before any
// other state is released. Write handles issued by Open must already be
// closed.
func (c *CachingFileSystem) Close() error {
	if c.notifier != nil {
		return c.notifier.Close()
	}
	return nil
}

// ChangeEventCount returns the total number of notifier callbacks
// received, in or out of this cache's namespace. Monotonic.
func (c *CachingFileSystem) ChangeEventCount() uint64 {
	return c.changeEvents.Load()
}

// EntryCount returns the number of files currently known to the cache.
func (c *CachingFileSystem) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sizes)
}

// DirtyCount returns the number of unreconciled dirty entries.
func (c *CachingFileSystem) DirtyCount() int {
	return c.dirty.Len()
}

// rootDir returns the absolute root this cache is scoped to.
func (c *CachingFileSystem) rootDir() string {
	return c.paths.RootDir(c.directory, c.platform, c.source)
}

// filename resolves a key to its absolute on-disk filename.
func (c *CachingFileSystem) filename(fp FilePath) string {
	return c.paths.Filename(fp, c.platform, c.source)
}

// inDirectory is the scope check every operation applies first.
func (c *CachingFileSystem) inDirectory(fp FilePath) bool {
	return fp.IsValid() && fp.Dir() == c.directory
}

// ToFilePath translates an absolute or relative filename into a key
// scoped to this cache's directory. For a Content cache the translation
// is strict: an unrecognized extension or an absolute path outside the
// configured root yields an invalid key rather than a guess, because a
// silently coerced foreign path (a Source path, say) would corrupt the
// cache. An empty input names the directory root.
func (c *CachingFileSystem) ToFilePath(abs string) FilePath {
	if abs == "" {
		return RootFilePath(c.directory)
	}

	if c.directory != DirContent {
		if rel, ok := relativize(c.rootDir(), abs); ok {
			return NewFilePath(c.directory, rel)
		}
		return NewFilePath(c.directory, abs)
	}

	// Normalize separators before anything else; filepath.ToSlash only
	// handles the host separator and would pass backslashes through on
	// unix hosts.
	s := strings.TrimSuffix(strings.ReplaceAll(abs, "\\", "/"), "/")

	ext := path.Ext(s)
	typ := ExtensionToFileType(ext)
	if typ == TypeUnknown && ext != "" {
		// Fail closed: an extension we cannot classify is not coerced
		// into a guess.
		return FilePath{}
	}
	if typ != TypeUnknown {
		s = strings.TrimSuffix(s, ext)
	}

	if filepath.IsAbs(abs) {
		root := filepath.ToSlash(c.rootDir())
		if rel, ok := relativize(root, s); ok {
			s = rel
		} else if typ == TypeUnknown && strings.EqualFold(s, root) {
			// The root directory itself.
			return RootFilePath(c.directory)
		} else {
			return FilePath{}
		}
	}

	rel, ok := normalizeRel(s)
	if !ok {
		return FilePath{}
	}
	return FilePath{dir: c.directory, typ: typ, rel: rel}
}

// populateCachesLocked clears and rebuilds both maps from one bulk
// enumeration of the root. Size and mtime come from the walk itself,
// never from per-file re-stats. Caller holds mu.
func (c *CachingFileSystem) populateCachesLocked() {
	clear(c.sizes)
	clear(c.modTimes)

	err := c.disk.Walk(c.rootDir(), func(e DirEntry) error {
		if e.IsDir {
			return nil
		}
		fp := c.ToFilePath(e.Path)
		if !fp.IsValid() {
			return nil
		}
		c.sizes[fp] = e.Size
		c.modTimes[fp] = e.ModTime
		return nil
	})
	if err != nil {
		sub("cachefs").Warn("populate walk failed", "root", c.rootDir(), "err", err)
	}
}

// onFileChange runs on the notifier goroutine. It only marks keys dirty;
// the disk re-stat is deferred to the next read that needs the key, so
// the notifier thread stays cheap and never takes the metadata lock.
func (c *CachingFileSystem) onFileChange(oldPath, newPath string, event FileEvent) {
	var oldFP, newFP FilePath
	if oldPath != "" {
		oldFP = c.ToFilePath(oldPath)
	}
	if newPath != "" {
		newFP = c.ToFilePath(newPath)
	}

	if oldFP.IsValid() {
		c.dirty.Mark(oldFP)
		if newFP != oldFP && newFP.IsValid() {
			c.dirty.Mark(newFP)
		}
	} else if newFP.IsValid() {
		c.dirty.Mark(newFP)
	}

	c.changeEvents.Add(1)

	if logEnabled(slog.LevelDebug) {
		sub("cachefs").Debug("file change", "old", oldPath, "new", newPath, "event", event)
	}
}

// checkDirtyLocked reconciles fp if a notifier marked it dirty. The
// dirty flag is consumed atomically before the refresh, so concurrent
// readers of the same key do the re-stat exactly once. Caller holds mu.
func (c *CachingFileSystem) checkDirtyLocked(fp FilePath) {
	if !c.dirty.Take(fp) {
		return
	}
	c.refreshLocked(fp)
}

// checkDirtyDirLocked reconciles every dirty entry under relPrefix
// (which is "" for the whole namespace, or ends in "/"). Caller holds mu.
func (c *CachingFileSystem) checkDirtyDirLocked(relPrefix string) {
	for _, fp := range c.dirty.TakeDir(relPrefix) {
		c.refreshLocked(fp)
	}
}

// refreshLocked re-stats fp and overwrites or erases both maps. The size
// query doubles as the existence probe: a mtime query can succeed for a
// directory, and a directory must never enter the size map.
func (c *CachingFileSystem) refreshLocked(fp FilePath) {
	name := c.filename(fp)
	size, err := c.disk.GetFileSize(name)
	if err != nil {
		delete(c.sizes, fp)
		delete(c.modTimes, fp)
		return
	}
	mt, _ := c.disk.GetModifiedTime(name)
	c.sizes[fp] = size
	c.modTimes[fp] = mt
}

// Exists reports whether fp names a file in this cache's directory.
func (c *CachingFileSystem) Exists(fp FilePath) bool {
	if !c.inDirectory(fp) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkDirtyLocked(fp)
	_, ok := c.sizes[fp]
	return ok
}

// GetFileSize returns the cached size of fp.
func (c *CachingFileSystem) GetFileSize(fp FilePath) (uint64, bool) {
	if !c.inDirectory(fp) {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkDirtyLocked(fp)
	size, ok := c.sizes[fp]
	return size, ok
}

// GetModifiedTime returns the cached modification time of fp in unix
// seconds.
func (c *CachingFileSystem) GetModifiedTime(fp FilePath) (uint64, bool) {
	if !c.inDirectory(fp) {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkDirtyLocked(fp)
	mt, ok := c.modTimes[fp]
	return mt, ok
}

// IsDirectory reports whether fp names a directory. Directories are not
// cached entities; this always asks Disk.
func (c *CachingFileSystem) IsDirectory(fp FilePath) bool {
	if !c.inDirectory(fp) {
		return false
	}
	return c.disk.IsDirectory(c.filename(fp))
}

// Open opens fp. Read mode passes the Disk handle through untouched; any
// write mode returns a handle that re-stats the file and commits fresh
// size and mtime into the cache on Sync and Close. The cache must
// outlive every handle it issues.
func (c *CachingFileSystem) Open(fp FilePath, mode FileMode) (afero.File, error) {
	if !c.inDirectory(fp) {
		return nil, ErrNotInDirectory
	}
	f, err := c.disk.Open(c.filename(fp), mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeRead {
		return f, nil
	}
	return &cachingWriteFile{File: f, fp: fp, owner: c}, nil
}

// ReadAll reads the whole file. Contents are never cached, only
// metadata, so this always goes to Disk.
func (c *CachingFileSystem) ReadAll(fp FilePath) ([]byte, error) {
	if !c.inDirectory(fp) {
		return nil, ErrNotInDirectory
	}
	return c.disk.ReadAll(c.filename(fp), DefaultMaxReadSize)
}

// WriteAll writes data to fp, disk first, then records the new metadata.
// A zero mtime means "whatever the disk says the write produced".
func (c *CachingFileSystem) WriteAll(fp FilePath, data []byte, mtime uint64) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	name := c.filename(fp)
	if err := c.disk.WriteAll(name, data, mtime); err != nil {
		return err
	}
	if mtime == 0 {
		mtime, _ = c.disk.GetModifiedTime(name)
	}
	c.mu.Lock()
	c.sizes[fp] = uint64(len(data))
	c.modTimes[fp] = mtime
	c.mu.Unlock()
	return nil
}

// Delete removes the file, disk first, then the cached metadata.
func (c *CachingFileSystem) Delete(fp FilePath) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	if err := c.disk.Delete(c.filename(fp)); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.sizes, fp)
	delete(c.modTimes, fp)
	c.mu.Unlock()
	return nil
}

// Copy copies from to to. At least one endpoint must be in this cache's
// directory. When the source's metadata is already cached it is carried
// to the destination without a disk re-stat.
func (c *CachingFileSystem) Copy(from, to FilePath, allowOverwrite bool) error {
	if !c.inDirectory(from) && !c.inDirectory(to) {
		return ErrNotInDirectory
	}
	if err := c.disk.Copy(c.filename(from), c.filename(to), allowOverwrite); err != nil {
		return err
	}
	c.mu.Lock()
	c.checkDirtyLocked(from)
	c.transferMetaLocked(from, to)
	c.mu.Unlock()
	return nil
}

// Rename moves from to to. Metadata moves with it; the source entry is
// erased.
func (c *CachingFileSystem) Rename(from, to FilePath) error {
	if !c.inDirectory(from) && !c.inDirectory(to) {
		return ErrNotInDirectory
	}
	if err := c.disk.Rename(c.filename(from), c.filename(to)); err != nil {
		return err
	}
	c.mu.Lock()
	c.checkDirtyLocked(from)
	c.transferMetaLocked(from, to)
	delete(c.sizes, from)
	delete(c.modTimes, from)
	c.mu.Unlock()
	return nil
}

// transferMetaLocked moves from's cached metadata onto to, or re-stats
// the destination when the source was not cached. Caller holds mu.
func (c *CachingFileSystem) transferMetaLocked(from, to FilePath) {
	if !c.inDirectory(to) {
		return
	}
	if c.inDirectory(from) {
		mt, okM := c.modTimes[from]
		size, okS := c.sizes[from]
		if okM && okS {
			c.modTimes[to] = mt
			c.sizes[to] = size
			return
		}
	}
	c.refreshLocked(to)
}

// CreateDir creates the directory path. Directories are not cached, so
// there is no metadata to update.
func (c *CachingFileSystem) CreateDir(fp FilePath) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	return c.disk.CreateDirPath(c.filename(fp))
}

// DeleteDirectory removes a directory. A recursive delete prunes every
// cached file under the directory prefix; a non-recursive delete can
// only remove an empty directory, and empty directories are never
// tracked, so the cache is untouched.
func (c *CachingFileSystem) DeleteDirectory(fp FilePath, recursive bool) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	if !recursive {
		return c.disk.DeleteDirectory(c.filename(fp), false)
	}
	if err := c.disk.DeleteDirectory(c.filename(fp), true); err != nil {
		return err
	}

	prefix := dirPrefix(fp)
	c.mu.Lock()
	// Scan sizes, the existence oracle, never modTimes.
	var toDelete []FilePath
	for cached := range c.sizes {
		if prefix == "" || strings.HasPrefix(cached.RelativePath(), prefix) {
			toDelete = append(toDelete, cached)
		}
	}
	for _, cached := range toDelete {
		delete(c.sizes, cached)
		delete(c.modTimes, cached)
	}
	c.mu.Unlock()
	return nil
}

// dirPrefix returns fp's relative path as a match prefix: "" for the
// namespace root, otherwise with a trailing separator so "dir" can never
// match a sibling "dir2".
func dirPrefix(fp FilePath) string {
	if fp.RelativePath() == "" {
		return ""
	}
	return fp.RelativePath() + "/"
}

// GetDirectoryListing lists the files under fp. Listings that want
// directories included, non-recursive listings, and unrecognized
// extension filters cannot be answered from the cache and delegate to
// Disk; everything else is a scan of the size map.
func (c *CachingFileSystem) GetDirectoryListing(fp FilePath, opts ListingOptions) ([]string, error) {
	if !c.inDirectory(fp) {
		return nil, ErrNotInDirectory
	}

	typ := ExtensionToFileType(opts.ExtensionFilter)
	if opts.IncludeDirectories || !opts.Recursive || (typ == TypeUnknown && opts.ExtensionFilter != "") {
		return c.disk.GetDirectoryListing(
			c.filename(fp), opts.IncludeDirectories, opts.Recursive, opts.ExtensionFilter)
	}

	prefix := dirPrefix(fp)
	var results []string

	c.mu.Lock()
	c.checkDirtyDirLocked(prefix)
	for cached := range c.sizes {
		if typ != TypeUnknown && cached.Type() != typ {
			continue
		}
		if prefix == "" || strings.HasPrefix(cached.RelativePath(), prefix) {
			results = append(results, c.filename(cached))
		}
	}
	c.mu.Unlock()

	sort.Strings(results)

	// An empty result is only a successful listing if the directory
	// actually exists, mirroring what a live disk listing reports.
	if len(results) == 0 && !c.disk.IsDirectory(c.filename(fp)) {
		return nil, fmt.Errorf("list %s: %w", fp, ErrInvalidPath)
	}
	return results, nil
}

// SetModifiedTime stamps fp on disk and in the mtime map. The size map
// is untouched.
func (c *CachingFileSystem) SetModifiedTime(fp FilePath, mtime uint64) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	if err := c.disk.SetModifiedTime(c.filename(fp), mtime); err != nil {
		return err
	}
	c.mu.Lock()
	c.modTimes[fp] = mtime
	c.mu.Unlock()
	return nil
}

// SetReadOnlyBit toggles the read-only attribute. The attribute is not
// cached.
func (c *CachingFileSystem) SetReadOnlyBit(fp FilePath, readOnly bool) error {
	if !c.inDirectory(fp) {
		return ErrNotInDirectory
	}
	return c.disk.SetReadOnlyBit(c.filename(fp), readOnly)
}

// ExistsInSource is served only by the source variant.
func (c *CachingFileSystem) ExistsInSource(FilePath) bool { return false }

// GetModifiedTimeInSource is served only by the source variant.
func (c *CachingFileSystem) GetModifiedTimeInSource(FilePath) (uint64, bool) { return 0, false }
