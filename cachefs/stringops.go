package cachefs

import "github.com/spf13/afero"

// Raw-path variants of the public surface. Each translates the string
// through ToFilePath and delegates to the key-typed form; a failed
// translation fails the call before any disk work. Copy and Rename take
// the raw strings straight to Disk because one endpoint may legitimately
// live outside this namespace.

// ExistsPath is Exists for a raw absolute path.
func (c *CachingFileSystem) ExistsPath(abs string) bool {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return false
	}
	return c.Exists(fp)
}

// GetFileSizePath is GetFileSize for a raw absolute path.
func (c *CachingFileSystem) GetFileSizePath(abs string) (uint64, bool) {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return 0, false
	}
	return c.GetFileSize(fp)
}

// GetModifiedTimePath is GetModifiedTime for a raw absolute path.
func (c *CachingFileSystem) GetModifiedTimePath(abs string) (uint64, bool) {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return 0, false
	}
	return c.GetModifiedTime(fp)
}

// IsDirectoryPath is IsDirectory for a raw absolute path.
func (c *CachingFileSystem) IsDirectoryPath(abs string) bool {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return false
	}
	return c.IsDirectory(fp)
}

// OpenPath is Open for a raw absolute path.
func (c *CachingFileSystem) OpenPath(abs string, mode FileMode) (afero.File, error) {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return nil, ErrInvalidPath
	}
	return c.Open(fp, mode)
}

// ReadAllPath is ReadAll for a raw absolute path.
func (c *CachingFileSystem) ReadAllPath(abs string) ([]byte, error) {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return nil, ErrInvalidPath
	}
	return c.ReadAll(fp)
}

// WriteAllPath is WriteAll for a raw absolute path.
func (c *CachingFileSystem) WriteAllPath(abs string, data []byte, mtime uint64) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.WriteAll(fp, data, mtime)
}

// DeletePath is Delete for a raw absolute path.
func (c *CachingFileSystem) DeletePath(abs string) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.Delete(fp)
}

// DeleteDirectoryPath is DeleteDirectory for a raw absolute path.
func (c *CachingFileSystem) DeleteDirectoryPath(abs string, recursive bool) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.DeleteDirectory(fp, recursive)
}

// CreateDirPath is CreateDir for a raw absolute path.
func (c *CachingFileSystem) CreateDirPath(abs string) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.CreateDir(fp)
}

// SetModifiedTimePath is SetModifiedTime for a raw absolute path.
func (c *CachingFileSystem) SetModifiedTimePath(abs string, mtime uint64) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.SetModifiedTime(fp, mtime)
}

// SetReadOnlyBitPath is SetReadOnlyBit for a raw absolute path.
func (c *CachingFileSystem) SetReadOnlyBitPath(abs string, readOnly bool) error {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return ErrInvalidPath
	}
	return c.SetReadOnlyBit(fp, readOnly)
}

// GetDirectoryListingPath is GetDirectoryListing for a raw absolute path.
func (c *CachingFileSystem) GetDirectoryListingPath(abs string, opts ListingOptions) ([]string, error) {
	fp := c.ToFilePath(abs)
	if !fp.IsValid() {
		return nil, ErrInvalidPath
	}
	return c.GetDirectoryListing(fp, opts)
}

// CopyPath copies between raw absolute paths. At least one endpoint must
// translate into this cache's namespace; the disk copy itself uses the
// raw strings, so the other endpoint may be anywhere.
func (c *CachingFileSystem) CopyPath(absFrom, absTo string, allowOverwrite bool) error {
	from := c.ToFilePath(absFrom)
	to := c.ToFilePath(absTo)
	if !c.inDirectory(from) && !c.inDirectory(to) {
		return ErrNotInDirectory
	}
	if err := c.disk.Copy(absFrom, absTo, allowOverwrite); err != nil {
		return err
	}
	c.mu.Lock()
	c.checkDirtyLocked(from)
	c.transferMetaLocked(from, to)
	c.mu.Unlock()
	return nil
}

// RenamePath renames between raw absolute paths, with the same endpoint
// rule as CopyPath.
func (c *CachingFileSystem) RenamePath(absFrom, absTo string) error {
	from := c.ToFilePath(absFrom)
	to := c.ToFilePath(absTo)
	if !c.inDirectory(from) && !c.inDirectory(to) {
		return ErrNotInDirectory
	}
	if err := c.disk.Rename(absFrom, absTo); err != nil {
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

// Platform-qualified variants: each checks the request's platform
// against this cache's configured platform and fails the call on a
// mismatch, before any other work.

// ExistsForPlatform is Exists with a platform check.
func (c *CachingFileSystem) ExistsForPlatform(p Platform, fp FilePath) bool {
	if p != c.platform {
		return false
	}
	return c.Exists(fp)
}

// GetFileSizeForPlatform is GetFileSize with a platform check.
func (c *CachingFileSystem) GetFileSizeForPlatform(p Platform, fp FilePath) (uint64, bool) {
	if p != c.platform {
		return 0, false
	}
	return c.GetFileSize(fp)
}

// GetModifiedTimeForPlatform is GetModifiedTime with a platform check.
func (c *CachingFileSystem) GetModifiedTimeForPlatform(p Platform, fp FilePath) (uint64, bool) {
	if p != c.platform {
		return 0, false
	}
	return c.GetModifiedTime(fp)
}

// OpenForPlatform is Open with a platform check.
func (c *CachingFileSystem) OpenForPlatform(p Platform, fp FilePath, mode FileMode) (afero.File, error) {
	if p != c.platform {
		return nil, ErrWrongPlatform
	}
	return c.Open(fp, mode)
}

// ReadAllForPlatform is ReadAll with a platform check.
func (c *CachingFileSystem) ReadAllForPlatform(p Platform, fp FilePath) ([]byte, error) {
	if p != c.platform {
		return nil, ErrWrongPlatform
	}
	return c.ReadAll(fp)
}

// WriteAllForPlatform is WriteAll with a platform check.
func (c *CachingFileSystem) WriteAllForPlatform(p Platform, fp FilePath, data []byte, mtime uint64) error {
	if p != c.platform {
		return ErrWrongPlatform
	}
	return c.WriteAll(fp, data, mtime)
}

// SetModifiedTimeForPlatform is SetModifiedTime with a platform check.
func (c *CachingFileSystem) SetModifiedTimeForPlatform(p Platform, fp FilePath, mtime uint64) error {
	if p != c.platform {
		return ErrWrongPlatform
	}
	return c.SetModifiedTime(fp, mtime)
}
