package cachefs

import "github.com/spf13/afero"

// SourceCachingFileSystem caches metadata for the uncooked Source tree.
// It answers only the two source queries; the general key-typed surface
// is unsupported, because Content keys resolved against the source root
// would be ambiguous next to a Content cache in the same stack. Raw
// source paths (the string forms) still work through the embedded cache.
//
// Several cooked texture variants come from one source image, so texture
// keys are normalized to the first variant before lookup; otherwise
// every variant but one would miss.
type SourceCachingFileSystem struct {
	inner *CachingFileSystem
}

var _ FileSystem = (*SourceCachingFileSystem)(nil)

// NewSource builds a cache over the Source tree for the Content
// namespace.
func NewSource(platform Platform, paths *Paths, opts Options) (*SourceCachingFileSystem, error) {
	inner, err := newCachingFileSystem(platform, DirContent, paths, true, opts)
	if err != nil {
		return nil, err
	}
	return &SourceCachingFileSystem{inner: inner}, nil
}

// Close releases the embedded cache's notifier.
func (s *SourceCachingFileSystem) Close() error { return s.inner.Close() }

// ChangeEventCount returns the embedded cache's notifier event count.
func (s *SourceCachingFileSystem) ChangeEventCount() uint64 { return s.inner.ChangeEventCount() }

// ToFilePath translates a raw source path into a Content-namespace key.
func (s *SourceCachingFileSystem) ToFilePath(abs string) FilePath { return s.inner.ToFilePath(abs) }

// normalizeSource collapses any texture variant to the canonical one.
func normalizeSource(fp FilePath) FilePath {
	if IsTextureType(fp.Type()) {
		return fp.WithType(TypeTexture0)
	}
	return fp
}

// ExistsInSource reports whether fp's source file exists.
func (s *SourceCachingFileSystem) ExistsInSource(fp FilePath) bool {
	return s.inner.Exists(normalizeSource(fp))
}

// GetModifiedTimeInSource returns the source file's modification time.
func (s *SourceCachingFileSystem) GetModifiedTimeInSource(fp FilePath) (uint64, bool) {
	return s.inner.GetModifiedTime(normalizeSource(fp))
}

// ExistsPath serves a raw source path query through the cache.
func (s *SourceCachingFileSystem) ExistsPath(abs string) bool { return s.inner.ExistsPath(abs) }

// GetModifiedTimePath serves a raw source path query through the cache.
func (s *SourceCachingFileSystem) GetModifiedTimePath(abs string) (uint64, bool) {
	return s.inner.GetModifiedTimePath(abs)
}

// GetFileSizePath serves a raw source path query through the cache.
func (s *SourceCachingFileSystem) GetFileSizePath(abs string) (uint64, bool) {
	return s.inner.GetFileSizePath(abs)
}

// The key-typed general surface is unsupported on the source variant.

func (s *SourceCachingFileSystem) Exists(FilePath) bool { return false }
func (s *SourceCachingFileSystem) GetFileSize(FilePath) (uint64, bool) { return 0, false }
func (s *SourceCachingFileSystem) GetModifiedTime(FilePath) (uint64, bool) { return 0, false }
func (s *SourceCachingFileSystem) IsDirectory(FilePath) bool { return false }
func (s *SourceCachingFileSystem) ReadAll(FilePath) ([]byte, error) { return nil, ErrUnsupported }
func (s *SourceCachingFileSystem) Delete(FilePath) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) CreateDir(FilePath) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) Rename(_, _ FilePath) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) SetReadOnlyBit(FilePath, bool) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) SetModifiedTime(FilePath, uint64) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) DeleteDirectory(FilePath, bool) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) Copy(_, _ FilePath, _ bool) error { return ErrUnsupported }
func (s *SourceCachingFileSystem) WriteAll(FilePath, []byte, uint64) error { return ErrUnsupported }

func (s *SourceCachingFileSystem) Open(FilePath, FileMode) (afero.File, error) {
	return nil, ErrUnsupported
}

func (s *SourceCachingFileSystem) GetDirectoryListing(FilePath, ListingOptions) ([]string, error) {
	return nil, ErrUnsupported
}
