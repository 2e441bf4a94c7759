package cachefs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// DefaultMaxReadSize caps ReadAll so a corrupt size query can not ask for
// an unbounded allocation.
const DefaultMaxReadSize = 1 << 30

const copyChunkSize = 256 * 1024 // 256KB per chunk

// FileMode selects how Disk.Open opens a file.
type FileMode int

const (
	ModeRead FileMode = iota
	ModeWrite
	ModeWriteAppend
	ModeReadWrite
)

// DirEntry is one entry yielded by a bulk enumeration: the absolute path
// plus the stat data that came with it, so callers never re-stat.
type DirEntry struct {
	Path    string
	Size    uint64
	ModTime uint64 // unix seconds
	IsDir   bool
}

// Disk performs the raw byte-level file operations for a resolved
// absolute filename. Implementations never cache anything.
type Disk interface {
	Copy(from, to string, allowOverwrite bool) error
	CreateDirPath(dir string) error
	Delete(path string) error
	DeleteDirectory(dir string, recursive bool) error
	Exists(path string) bool
	IsDirectory(path string) bool
	GetDirectoryListing(dir string, includeDirs, recursive bool, extFilter string) ([]string, error)
	GetFileSize(path string) (uint64, error)
	GetModifiedTime(path string) (uint64, error)
	Open(path string, mode FileMode) (afero.File, error)
	ReadAll(path string, maxSize uint64) ([]byte, error)
	Rename(from, to string) error
	SetModifiedTime(path string, mtime uint64) error
	SetReadOnlyBit(path string, readOnly bool) error
	WriteAll(path string, data []byte, mtime uint64) error
	Walk(root string, fn func(e DirEntry) error) error
}

// DiskFS is the afero-backed Disk. Production callers use NewOSDisk;
// tests swap in afero.NewMemMapFs().
type DiskFS struct {
	fs afero.Fs
}

// NewDisk wraps an afero filesystem in a Disk.
func NewDisk(afs afero.Fs) *DiskFS {
	return &DiskFS{fs: afs}
}

// NewOSDisk returns a Disk over the real OS filesystem.
func NewOSDisk() *DiskFS {
	return NewDisk(afero.NewOsFs())
}

// Copy copies from to to through a temp file and an atomic rename, so a
// crash mid-copy never leaves a half-written destination.
func (d *DiskFS) Copy(from, to string, allowOverwrite bool) error {
	if !allowOverwrite && d.Exists(to) {
		return fmt.Errorf("copy %s: destination exists", to)
	}

	srcInfo, err := d.fs.Stat(from)
	if err != nil {
		return fmt.Errorf("stat src: %w", err)
	}

	if err := d.fs.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}

	src, err := d.fs.Open(from)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	tmpPath := to + ".cachefs-tmp"
	tmp, err := d.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(tmp, src, buf); err != nil {
		tmp.Close()
		d.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		d.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close tmp: %w", err)
	}

	// Preserve source mtime on the destination.
	if err := d.fs.Chtimes(tmpPath, time.Now(), srcInfo.ModTime()); err != nil {
		d.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("chtimes tmp: %w", err)
	}

	if err := d.renameReplace(tmpPath, to); err != nil {
		d.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename tmp to dst: %w", err)
	}
	return nil
}

// renameReplace renames tmp onto dst, tolerating filesystems whose
// rename refuses to replace an existing destination (Windows, the
// in-memory test fs).
func (d *DiskFS) renameReplace(tmp, dst string) error {
	err := d.fs.Rename(tmp, dst)
	if err == nil {
		return nil
	}
	if rmErr := d.fs.Remove(dst); rmErr != nil {
		return err
	}
	return d.fs.Rename(tmp, dst)
}

func (d *DiskFS) CreateDirPath(dir string) error {
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return nil
}

func (d *DiskFS) Delete(path string) error {
	info, err := d.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: is a directory", path)
	}
	if err := d.fs.Remove(path); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (d *DiskFS) DeleteDirectory(dir string, recursive bool) error {
	info, err := d.fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("delete directory %s: not a directory", dir)
	}
	if recursive {
		if err := d.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("delete directory: %w", err)
		}
		return nil
	}
	if err := d.fs.Remove(dir); err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}
	return nil
}

func (d *DiskFS) Exists(path string) bool {
	_, err := d.fs.Stat(path)
	return err == nil
}

func (d *DiskFS) IsDirectory(path string) bool {
	info, err := d.fs.Stat(path)
	return err == nil && info.IsDir()
}

// GetDirectoryListing returns the absolute filenames under dir, sorted.
// extFilter, when non-empty, keeps only entries with that extension
// (matched case-insensitively, leading dot optional); it never filters
// directories.
func (d *DiskFS) GetDirectoryListing(dir string, includeDirs, recursive bool, extFilter string) ([]string, error) {
	wantExt := strings.ToLower(strings.TrimPrefix(extFilter, "."))
	match := func(name string, isDir bool) bool {
		if isDir {
			return includeDirs
		}
		if wantExt == "" {
			return true
		}
		return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) == wantExt
	}

	var results []string
	if recursive {
		err := afero.Walk(d.fs, dir, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == dir {
				return nil
			}
			if match(info.Name(), info.IsDir()) {
				results = append(results, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	} else {
		infos, err := afero.ReadDir(d.fs, dir)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, info := range infos {
			if match(info.Name(), info.IsDir()) {
				results = append(results, filepath.Join(dir, info.Name()))
			}
		}
	}

	sort.Strings(results)
	return results, nil
}

// GetFileSize returns the size of a regular file. It fails for
// directories, which makes it the existence probe for files.
func (d *DiskFS) GetFileSize(path string) (uint64, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("size of %s: is a directory", path)
	}
	return uint64(info.Size()), nil
}

// GetModifiedTime returns the modification time in unix seconds. Unlike
// GetFileSize it succeeds for directories too.
func (d *DiskFS) GetModifiedTime(path string) (uint64, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	return uint64(info.ModTime().Unix()), nil
}

func (d *DiskFS) Open(path string, mode FileMode) (afero.File, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeWriteAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("open %s: unknown mode %d", path, mode)
	}

	if mode != ModeRead {
		if err := d.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("mkdir parent: %w", err)
		}
	}

	f, err := d.fs.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return f, nil
}

func (d *DiskFS) ReadAll(path string, maxSize uint64) ([]byte, error) {
	size, err := d.GetFileSize(path)
	if err != nil {
		return nil, err
	}
	if size > maxSize {
		return nil, fmt.Errorf("read %s: %d bytes exceeds max %d", path, size, maxSize)
	}
	data, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

func (d *DiskFS) Rename(from, to string) error {
	if err := d.fs.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}
	if err := d.fs.Rename(from, to); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (d *DiskFS) SetModifiedTime(path string, mtime uint64) error {
	t := time.Unix(int64(mtime), 0)
	if err := d.fs.Chtimes(path, t, t); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}

func (d *DiskFS) SetReadOnlyBit(path string, readOnly bool) error {
	mode := os.FileMode(0644)
	if readOnly {
		mode = 0444
	}
	if err := d.fs.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// WriteAll writes data through a temp file and an atomic rename, then
// applies mtime when non-zero.
func (d *DiskFS) WriteAll(path string, data []byte, mtime uint64) error {
	if err := d.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}

	tmpPath := path + ".cachefs-tmp"
	if err := afero.WriteFile(d.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := d.renameReplace(tmpPath, path); err != nil {
		d.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename tmp: %w", err)
	}

	if mtime != 0 {
		if err := d.SetModifiedTime(path, mtime); err != nil {
			return err
		}
	}
	return nil
}

// Walk enumerates every entry under root (root itself excluded), passing
// along the stat data from the walk so callers never re-query it.
func (d *DiskFS) Walk(root string, fn func(e DirEntry) error) error {
	return afero.Walk(d.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			// Skip entries that vanished mid-walk.
			return nil //nolint:nilerr
		}
		if path == root {
			return nil
		}
		return fn(DirEntry{
			Path:    path,
			Size:    uint64(info.Size()),
			ModTime: uint64(info.ModTime().Unix()),
			IsDir:   info.IsDir(),
		})
	})
}
