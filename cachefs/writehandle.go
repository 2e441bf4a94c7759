package cachefs

import (
	"fmt"

	"github.com/spf13/afero"
)

// cachingWriteFile wraps a write-mode Disk handle and pushes fresh size
// and mtime into the owning cache when the data actually reaches disk:
// on Sync and on Close, not after every write. The owner reference is
// non-owning; the cache must outlive the handle.
type cachingWriteFile struct {
	afero.File
	fp    FilePath
	owner *CachingFileSystem

	needsCommit bool
}

// Write marks the handle as needing a metadata commit once any bytes
// have been written.
func (f *cachingWriteFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if n > 0 {
		f.needsCommit = true
	}
	return n, err
}

func (f *cachingWriteFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(p, off)
	if n > 0 {
		f.needsCommit = true
	}
	return n, err
}

func (f *cachingWriteFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Sync flushes the underlying handle and commits metadata.
func (f *cachingWriteFile) Sync() error {
	if err := f.File.Sync(); err != nil {
		return err
	}
	return f.commit()
}

// Close closes the underlying handle, then makes a final best-effort
// commit. The close error wins; a failed commit at close time is not
// otherwise surfaced.
func (f *cachingWriteFile) Close() error {
	err := f.File.Close()
	f.commit() //nolint:errcheck
	return err
}

// commit re-stats the file and overwrites the cache's metadata for it.
// Each map is updated independently when its query succeeds; on any
// failure needsCommit stays set so the next Sync or Close retries.
func (f *cachingWriteFile) commit() error {
	if !f.needsCommit {
		return nil
	}

	c := f.owner
	name := c.filename(f.fp)
	var firstErr error

	if mt, err := c.disk.GetModifiedTime(name); err == nil {
		c.mu.Lock()
		c.modTimes[f.fp] = mt
		c.mu.Unlock()
	} else {
		firstErr = fmt.Errorf("commit mtime: %w", err)
	}

	if size, err := c.disk.GetFileSize(name); err == nil {
		c.mu.Lock()
		c.sizes[f.fp] = size
		c.mu.Unlock()
	} else if firstErr == nil {
		firstErr = fmt.Errorf("commit size: %w", err)
	}

	f.needsCommit = firstErr != nil
	return firstErr
}
