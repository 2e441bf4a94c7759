package cachefs

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDisk(t *testing.T) (*DiskFS, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	return NewDisk(mem), mem
}

func TestDiskSizeIsExistenceProbe(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/data/f.txt", []byte("abc"), 0644))
	require.NoError(t, mem.MkdirAll("/data/sub", 0755))

	size, err := d.GetFileSize("/data/f.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)

	// A directory has no file size, but it has a modification time.
	_, err = d.GetFileSize("/data/sub")
	assert.Error(t, err)
	_, err = d.GetModifiedTime("/data/sub")
	assert.NoError(t, err)

	_, err = d.GetFileSize("/data/missing")
	assert.Error(t, err)
}

func TestDiskCopy(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/src/a.txt", []byte("payload"), 0644))
	require.NoError(t, d.Copy("/src/a.txt", "/dst/deep/b.txt", false))

	data, err := afero.ReadFile(mem, "/dst/deep/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// No temp file left behind.
	assert.False(t, d.Exists("/dst/deep/b.txt.cachefs-tmp"))

	// Source mtime carried to the destination.
	srcMT, err := d.GetModifiedTime("/src/a.txt")
	require.NoError(t, err)
	dstMT, err := d.GetModifiedTime("/dst/deep/b.txt")
	require.NoError(t, err)
	assert.Equal(t, srcMT, dstMT)

	assert.Error(t, d.Copy("/src/a.txt", "/dst/deep/b.txt", false))
	assert.NoError(t, d.Copy("/src/a.txt", "/dst/deep/b.txt", true))
}

func TestDiskWriteAll(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, d.WriteAll("/out/f.json", []byte("{}"), 4242))

	mt, err := d.GetModifiedTime("/out/f.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), mt)
	assert.False(t, d.Exists("/out/f.json.cachefs-tmp"))

	// Replacing an existing file works too.
	require.NoError(t, d.WriteAll("/out/f.json", []byte("{\"v\":2}"), 0))
	data, err := afero.ReadFile(mem, "/out/f.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{\"v\":2}"), data)
}

func TestDiskDelete(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/x/f.txt", nil, 0644))
	require.NoError(t, d.Delete("/x/f.txt"))
	assert.False(t, d.Exists("/x/f.txt"))

	// Delete refuses directories; DeleteDirectory refuses files.
	require.NoError(t, mem.MkdirAll("/x/dir", 0755))
	assert.Error(t, d.Delete("/x/dir"))
	require.NoError(t, afero.WriteFile(mem, "/x/g.txt", nil, 0644))
	assert.Error(t, d.DeleteDirectory("/x/g.txt", false))

	require.NoError(t, afero.WriteFile(mem, "/x/dir/in.txt", nil, 0644))
	require.NoError(t, d.DeleteDirectory("/x/dir", true))
	assert.False(t, d.Exists("/x/dir"))
}

func TestDiskDirectoryListing(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/r/a.json", nil, 0644))
	require.NoError(t, afero.WriteFile(mem, "/r/b.txt", nil, 0644))
	require.NoError(t, afero.WriteFile(mem, "/r/sub/c.json", nil, 0644))

	names, err := d.GetDirectoryListing("/r", false, false, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.json", "/r/b.txt"}, names)

	names, err = d.GetDirectoryListing("/r", true, false, "")
	require.NoError(t, err)
	assert.Contains(t, names, "/r/sub")

	names, err = d.GetDirectoryListing("/r", false, true, "json")
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.json", "/r/sub/c.json"}, names)

	_, err = d.GetDirectoryListing("/missing", false, false, "")
	assert.Error(t, err)
}

func TestDiskReadAllCapped(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/big.bin", make([]byte, 64), 0644))

	_, err := d.ReadAll("/big.bin", 16)
	assert.Error(t, err)

	data, err := d.ReadAll("/big.bin", 64)
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

func TestDiskWalk(t *testing.T) {
	d, mem := setupTestDisk(t)

	require.NoError(t, afero.WriteFile(mem, "/w/a.txt", []byte("12345"), 0644))
	require.NoError(t, afero.WriteFile(mem, "/w/sub/b.txt", nil, 0644))

	var files, dirs int
	err := d.Walk("/w", func(e DirEntry) error {
		if e.IsDir {
			dirs++
			return nil
		}
		files++
		if e.Path == "/w/a.txt" {
			assert.Equal(t, uint64(5), e.Size)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, 1, dirs)
}
