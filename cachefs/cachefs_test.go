package cachefs

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDisk wraps a Disk and counts calls to the stat-shaped methods,
// so tests can assert which operations were (and were not) answered from
// the cache.
type countingDisk struct {
	Disk

	mu    sync.Mutex
	calls map[string]int
}

func newCountingDisk(inner Disk) *countingDisk {
	return &countingDisk{Disk: inner, calls: make(map[string]int)}
}

func (d *countingDisk) bump(method string) {
	d.mu.Lock()
	d.calls[method]++
	d.mu.Unlock()
}

func (d *countingDisk) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

func (d *countingDisk) Reset() {
	d.mu.Lock()
	d.calls = make(map[string]int)
	d.mu.Unlock()
}

func (d *countingDisk) GetFileSize(path string) (uint64, error) {
	d.bump("GetFileSize")
	return d.Disk.GetFileSize(path)
}

func (d *countingDisk) GetModifiedTime(path string) (uint64, error) {
	d.bump("GetModifiedTime")
	return d.Disk.GetModifiedTime(path)
}

func (d *countingDisk) IsDirectory(path string) bool {
	d.bump("IsDirectory")
	return d.Disk.IsDirectory(path)
}

func (d *countingDisk) GetDirectoryListing(dir string, includeDirs, recursive bool, extFilter string) ([]string, error) {
	d.bump("GetDirectoryListing")
	return d.Disk.GetDirectoryListing(dir, includeDirs, recursive, extFilter)
}

// setupTestFS builds a Content cache over an in-memory disk with the
// notifier disabled. External changes are simulated by calling
// onFileChange directly, the same entry point the notifier uses.
func setupTestFS(t *testing.T) (*CachingFileSystem, *countingDisk, afero.Fs) {
	t.Helper()

	mem := afero.NewMemMapFs()
	disk := newCountingDisk(NewDisk(mem))

	paths, err := NewPaths("/game")
	require.NoError(t, err)
	require.NoError(t, mem.MkdirAll(paths.RootDir(DirContent, PlatformPC, false), 0755))

	c, err := New(PlatformPC, DirContent, paths, Options{Disk: disk, DisableWatch: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	disk.Reset()
	return c, disk, mem
}

func TestPopulateFromExistingTree(t *testing.T) {
	mem := afero.NewMemMapFs()
	paths, err := NewPaths("/game")
	require.NoError(t, err)
	root := paths.RootDir(DirContent, PlatformPC, false)

	require.NoError(t, afero.WriteFile(mem, root+"/a.json", []byte("{}"), 0644))
	require.NoError(t, afero.WriteFile(mem, root+"/sub/b.lua", []byte("return 1"), 0644))
	// Unrecognized extensions are not cacheable entities.
	require.NoError(t, afero.WriteFile(mem, root+"/readme.md", []byte("hi"), 0644))

	disk := newCountingDisk(NewDisk(mem))
	c, err := New(PlatformPC, DirContent, paths, Options{Disk: disk, DisableWatch: true})
	require.NoError(t, err)
	defer c.Close()
	disk.Reset()

	assert.Equal(t, 2, c.EntryCount())
	assert.True(t, c.Exists(NewFilePath(DirContent, "a.json")))
	assert.True(t, c.Exists(NewFilePath(DirContent, "sub/b.lua")))
	assert.False(t, c.Exists(NewFilePath(DirContent, "readme.md")))

	size, ok := c.GetFileSize(NewFilePath(DirContent, "sub/b.lua"))
	assert.True(t, ok)
	assert.Equal(t, uint64(8), size)

	// All of the above came from the population walk, not per-file stats.
	assert.Equal(t, 0, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, disk.Calls("GetModifiedTime"))
}

func TestScopeMismatch(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	save := NewFilePath(DirSave, "slot0.json")
	assert.False(t, c.Exists(save))
	_, ok := c.GetFileSize(save)
	assert.False(t, ok)
	_, ok = c.GetModifiedTime(save)
	assert.False(t, ok)

	assert.ErrorIs(t, c.WriteAll(save, []byte("x"), 0), ErrNotInDirectory)
	assert.ErrorIs(t, c.Delete(save), ErrNotInDirectory)
	_, err := c.ReadAll(save)
	assert.ErrorIs(t, err, ErrNotInDirectory)
	_, err = c.GetDirectoryListing(save, ListingOptions{})
	assert.ErrorIs(t, err, ErrNotInDirectory)

	invalid := FilePath{}
	assert.False(t, c.Exists(invalid))
	assert.ErrorIs(t, c.WriteAll(invalid, nil, 0), ErrNotInDirectory)

	// None of the rejected calls may reach the disk.
	assert.Equal(t, 0, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, disk.Calls("GetModifiedTime"))
}

func TestWriteThenReadIsCached(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "data/items.json")
	require.NoError(t, c.WriteAll(fp, []byte(`{"gold":10}`), 1234))
	disk.Reset()

	assert.True(t, c.Exists(fp))
	size, ok := c.GetFileSize(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(11), size)
	mt, ok := c.GetModifiedTime(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), mt)

	assert.Equal(t, 0, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, disk.Calls("GetModifiedTime"))
}

func TestWriteAllZeroMtimeReadsBack(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	fp := NewFilePath(DirContent, "notes.txt")
	require.NoError(t, c.WriteAll(fp, []byte("hello"), 0))

	// The one mtime stat happened at write time; reads are cached.
	assert.Equal(t, 1, disk.Calls("GetModifiedTime"))
	disk.Reset()

	info, err := mem.Stat(c.filename(fp))
	require.NoError(t, err)

	mt, ok := c.GetModifiedTime(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(info.ModTime().Unix()), mt)
	assert.Equal(t, 0, disk.Calls("GetModifiedTime"))
}

func TestDeleteErasesMetadata(t *testing.T) {
	c, _, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "tmp.json")
	require.NoError(t, c.WriteAll(fp, []byte("{}"), 0))
	require.True(t, c.Exists(fp))

	require.NoError(t, c.Delete(fp))
	assert.False(t, c.Exists(fp))
	_, ok := c.GetFileSize(fp)
	assert.False(t, ok)
	_, ok = c.GetModifiedTime(fp)
	assert.False(t, ok)

	// Deleting again fails on disk and leaves the cache alone.
	assert.Error(t, c.Delete(fp))
}

func TestDirtyReconciliation(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	name := c.filename(NewFilePath(DirContent, "ext.json"))
	require.NoError(t, afero.WriteFile(mem, name, []byte(`{"a":1}`), 0644))

	// The cache was populated before the file appeared.
	fp := NewFilePath(DirContent, "ext.json")
	assert.False(t, c.Exists(fp))

	c.onFileChange(name, name, EventAdded)
	assert.Equal(t, uint64(1), c.ChangeEventCount())
	assert.Equal(t, 1, c.DirtyCount())

	disk.Reset()
	assert.True(t, c.Exists(fp))
	size, ok := c.GetFileSize(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), size)

	// One refresh stat served both reads.
	assert.Equal(t, 1, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, c.DirtyCount())
}

func TestDirtyRemoval(t *testing.T) {
	c, _, mem := setupTestFS(t)

	fp := NewFilePath(DirContent, "gone.json")
	require.NoError(t, c.WriteAll(fp, []byte("{}"), 0))
	require.True(t, c.Exists(fp))

	name := c.filename(fp)
	require.NoError(t, mem.Remove(name))
	c.onFileChange(name, name, EventRemoved)

	assert.False(t, c.Exists(fp))
	_, ok := c.GetModifiedTime(fp)
	assert.False(t, ok)
}

func TestDirtyRefreshHappensOnce(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	fp := NewFilePath(DirContent, "hot.json")
	require.NoError(t, c.WriteAll(fp, []byte("{}"), 0))

	name := c.filename(fp)
	require.NoError(t, afero.WriteFile(mem, name, []byte(`{"v":2}`), 0644))
	c.onFileChange(name, name, EventModified)
	c.onFileChange(name, name, EventModified)
	disk.Reset()

	var wg sync.WaitGroup
	sizes := make([]uint64, 8)
	for i := range sizes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sizes[i], _ = c.GetFileSize(fp)
		}(i)
	}
	wg.Wait()

	for _, s := range sizes {
		assert.Equal(t, uint64(7), s)
	}
	// Both marks collapsed into one pending entry, refreshed exactly once.
	assert.Equal(t, 1, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, c.DirtyCount())
}

func TestEventsOutsideNamespaceStillCount(t *testing.T) {
	c, _, _ := setupTestFS(t)

	c.onFileChange("/elsewhere/thing.json", "/elsewhere/thing.json", EventAdded)
	c.onFileChange("/game/ContentPC/mystery.xyz", "/game/ContentPC/mystery.xyz", EventAdded)

	assert.Equal(t, uint64(2), c.ChangeEventCount())
	assert.Equal(t, 0, c.DirtyCount())
}

func TestRenameTransfersMetadata(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	from := NewFilePath(DirContent, "old.json")
	to := NewFilePath(DirContent, "new.json")
	require.NoError(t, c.WriteAll(from, []byte(`{"k":1}`), 777))
	disk.Reset()

	require.NoError(t, c.Rename(from, to))

	assert.False(t, c.Exists(from))
	size, ok := c.GetFileSize(to)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), size)
	mt, ok := c.GetModifiedTime(to)
	assert.True(t, ok)
	assert.Equal(t, uint64(777), mt)

	// The cached entry moved without a disk re-stat.
	assert.Equal(t, 0, disk.Calls("GetFileSize"))
	assert.Equal(t, 0, disk.Calls("GetModifiedTime"))
}

func TestCopyTransfersMetadata(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	from := NewFilePath(DirContent, "a.json")
	to := NewFilePath(DirContent, "b.json")
	require.NoError(t, c.WriteAll(from, []byte(`{"k":1}`), 777))
	disk.Reset()

	require.NoError(t, c.Copy(from, to, false))

	assert.True(t, c.Exists(from))
	assert.True(t, c.Exists(to))
	mt, ok := c.GetModifiedTime(to)
	assert.True(t, ok)
	assert.Equal(t, uint64(777), mt)
	assert.Equal(t, 0, disk.Calls("GetFileSize"))

	// Overwrite refused unless allowed.
	assert.Error(t, c.Copy(from, to, false))
	assert.NoError(t, c.Copy(from, to, true))
}

func TestCopyUncachedSourceRefreshesDestination(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	// A file the cache never saw: written behind its back, no event.
	src := c.filename(NewFilePath(DirContent, "stealth.json"))
	require.NoError(t, afero.WriteFile(mem, src, []byte("{}"), 0644))
	disk.Reset()

	from := NewFilePath(DirContent, "stealth.json")
	to := NewFilePath(DirContent, "copy.json")
	require.NoError(t, c.Copy(from, to, false))

	assert.True(t, c.Exists(to))
	// The destination had to be stat'd since the source was not cached.
	assert.Equal(t, 1, disk.Calls("GetFileSize"))
}

func TestDeleteDirectoryPrunesRecursively(t *testing.T) {
	c, _, _ := setupTestFS(t)

	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "dir/a.json"), []byte("{}"), 0))
	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "dir/sub/b.json"), []byte("{}"), 0))
	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "dir2/c.json"), []byte("{}"), 0))

	require.NoError(t, c.DeleteDirectory(NewFilePath(DirContent, "dir"), true))

	assert.False(t, c.Exists(NewFilePath(DirContent, "dir/a.json")))
	assert.False(t, c.Exists(NewFilePath(DirContent, "dir/sub/b.json")))
	// The sibling whose name shares the prefix string survives.
	assert.True(t, c.Exists(NewFilePath(DirContent, "dir2/c.json")))
	assert.Equal(t, 1, c.EntryCount())
}

func TestDirectoryListingFromCache(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "lvl/a.json"), []byte("{}"), 0))
	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "lvl/deep/b.json"), []byte("{}"), 0))
	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "lvl/c.lua"), []byte("x"), 0))
	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "other.json"), []byte("{}"), 0))
	disk.Reset()

	dir := NewFilePath(DirContent, "lvl")
	opts := ListingOptions{Recursive: true}

	names, err := c.GetDirectoryListing(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		c.filename(NewFilePath(DirContent, "lvl/a.json")),
		c.filename(NewFilePath(DirContent, "lvl/c.lua")),
		c.filename(NewFilePath(DirContent, "lvl/deep/b.json")),
	}, names)
	assert.Equal(t, 0, disk.Calls("GetDirectoryListing"))

	// Known extension filter still runs off the cache.
	opts.ExtensionFilter = "json"
	names, err = c.GetDirectoryListing(dir, opts)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, 0, disk.Calls("GetDirectoryListing"))
}

func TestDirectoryListingDelegatesToDisk(t *testing.T) {
	c, disk, _ := setupTestFS(t)

	require.NoError(t, c.WriteAll(NewFilePath(DirContent, "lvl/a.json"), []byte("{}"), 0))
	dir := NewFilePath(DirContent, "lvl")
	disk.Reset()

	// Non-recursive listings need directory structure the cache flattens.
	_, err := c.GetDirectoryListing(dir, ListingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, disk.Calls("GetDirectoryListing"))

	// So do listings that include directories.
	_, err = c.GetDirectoryListing(dir, ListingOptions{IncludeDirectories: true, Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 2, disk.Calls("GetDirectoryListing"))

	// And filters on extensions the cache does not classify.
	_, err = c.GetDirectoryListing(dir, ListingOptions{Recursive: true, ExtensionFilter: "md"})
	require.NoError(t, err)
	assert.Equal(t, 3, disk.Calls("GetDirectoryListing"))
}

func TestDirectoryListingEmptyDir(t *testing.T) {
	c, _, mem := setupTestFS(t)

	empty := NewFilePath(DirContent, "empty")
	require.NoError(t, mem.MkdirAll(c.filename(empty), 0755))

	names, err := c.GetDirectoryListing(empty, ListingOptions{Recursive: true})
	require.NoError(t, err)
	assert.Empty(t, names)

	// A directory that does not exist is an error, not an empty listing.
	_, err = c.GetDirectoryListing(NewFilePath(DirContent, "missing"), ListingOptions{Recursive: true})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestExistenceRequiresSizeEntry(t *testing.T) {
	c, _, _ := setupTestFS(t)

	// An mtime entry alone must not imply existence; only the size map
	// is the oracle.
	fp := NewFilePath(DirContent, "phantom.json")
	c.mu.Lock()
	c.modTimes[fp] = 42
	c.mu.Unlock()

	assert.False(t, c.Exists(fp))
	_, ok := c.GetFileSize(fp)
	assert.False(t, ok)
	mt, ok := c.GetModifiedTime(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), mt)
}

func TestIsDirectoryNeverCached(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	dir := NewFilePath(DirContent, "somedir")
	require.NoError(t, mem.MkdirAll(c.filename(dir), 0755))

	assert.True(t, c.IsDirectory(dir))
	assert.True(t, c.IsDirectory(dir))
	assert.Equal(t, 2, disk.Calls("IsDirectory"))
	assert.False(t, c.Exists(dir))
}

func TestSetModifiedTime(t *testing.T) {
	c, _, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "t.json")
	require.NoError(t, c.WriteAll(fp, []byte("{}"), 100))
	require.NoError(t, c.SetModifiedTime(fp, 555))

	mt, ok := c.GetModifiedTime(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(555), mt)

	size, ok := c.GetFileSize(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), size)
}

func TestReadAllRoundTrip(t *testing.T) {
	c, _, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "blob.txt")
	want := []byte("payload")
	require.NoError(t, c.WriteAll(fp, want, 0))

	got, err := c.ReadAll(fp)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = c.ReadAll(NewFilePath(DirContent, "nope.txt"))
	assert.Error(t, err)
}

func TestRawPathOperations(t *testing.T) {
	c, _, _ := setupTestFS(t)

	abs := "/game/ContentPC/raw/file.json"
	require.NoError(t, c.WriteAllPath(abs, []byte(`{"raw":true}`), 900))

	assert.True(t, c.ExistsPath(abs))
	size, ok := c.GetFileSizePath(abs)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), size)
	mt, ok := c.GetModifiedTimePath(abs)
	assert.True(t, ok)
	assert.Equal(t, uint64(900), mt)

	// The raw path and the key form name the same entry.
	assert.True(t, c.Exists(NewFilePath(DirContent, "raw/file.json")))

	// Paths outside the configured root are rejected.
	assert.False(t, c.ExistsPath("/elsewhere/file.json"))
	assert.ErrorIs(t, c.WriteAllPath("/elsewhere/file.json", nil, 0), ErrInvalidPath)

	require.NoError(t, c.DeletePath(abs))
	assert.False(t, c.ExistsPath(abs))
}

func TestCopyPathFromOutsideNamespace(t *testing.T) {
	c, disk, mem := setupTestFS(t)

	// A file in the Source tree, which this cache does not cover.
	require.NoError(t, afero.WriteFile(mem, "/game/Source/import.json", []byte(`{"s":1}`), 0644))
	disk.Reset()

	require.NoError(t, c.CopyPath("/game/Source/import.json", "/game/ContentPC/import.json", false))

	fp := NewFilePath(DirContent, "import.json")
	assert.True(t, c.Exists(fp))
	size, ok := c.GetFileSize(fp)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), size)

	// The foreign source has no cached metadata to carry over, so the
	// destination is re-stat'd exactly once. The source stays uncached.
	assert.Equal(t, 1, disk.Calls("GetFileSize"))
	assert.False(t, c.ExistsPath("/game/Source/import.json"))
}

func TestRenamePathToOutsideNamespace(t *testing.T) {
	c, _, mem := setupTestFS(t)

	fp := NewFilePath(DirContent, "export.json")
	require.NoError(t, c.WriteAll(fp, []byte("{}"), 0))

	require.NoError(t, c.RenamePath("/game/ContentPC/export.json", "/game/Source/export.json"))

	// The source entry is erased and nothing is cached for the foreign
	// destination.
	assert.False(t, c.Exists(fp))
	assert.Equal(t, 0, c.EntryCount())

	moved, err := afero.Exists(mem, "/game/Source/export.json")
	require.NoError(t, err)
	assert.True(t, moved)
}

func TestCopyPathBothOutsideNamespace(t *testing.T) {
	c, _, mem := setupTestFS(t)

	require.NoError(t, afero.WriteFile(mem, "/a/x.json", []byte("{}"), 0644))
	assert.ErrorIs(t, c.CopyPath("/a/x.json", "/b/y.json", false), ErrNotInDirectory)
	assert.ErrorIs(t, c.RenamePath("/a/x.json", "/b/y.json"), ErrNotInDirectory)
}

func TestForPlatformOperations(t *testing.T) {
	c, _, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "p.json")
	require.NoError(t, c.WriteAllForPlatform(PlatformPC, fp, []byte("{}"), 0))
	assert.True(t, c.ExistsForPlatform(PlatformPC, fp))

	// Platform-qualified calls for a different platform are refused.
	assert.False(t, c.ExistsForPlatform(PlatformAndroid, fp))
	assert.ErrorIs(t, c.WriteAllForPlatform(PlatformAndroid, fp, []byte("{}"), 0), ErrWrongPlatform)
}

func TestSourceQueriesOnBaseCache(t *testing.T) {
	c, _, _ := setupTestFS(t)

	fp := NewFilePath(DirContent, "img.tex2")
	require.NoError(t, c.WriteAll(fp, []byte("data"), 0))

	// The cooked cache never answers source queries.
	assert.False(t, c.ExistsInSource(fp))
	_, ok := c.GetModifiedTimeInSource(fp)
	assert.False(t, ok)
}
