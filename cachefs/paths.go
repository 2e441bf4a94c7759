package cachefs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Paths resolves directory namespaces to absolute on-disk roots under a
// single base directory:
//
//	<base>/Config
//	<base>/Content<Platform>   (cooked content, one tree per platform)
//	<base>/Source              (uncooked source assets)
//	<base>/Log
//	<base>/Save
type Paths struct {
	base string
}

// NewPaths creates a Paths rooted at base. base is made absolute.
func NewPaths(base string) (*Paths, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	return &Paths{base: abs}, nil
}

// Base returns the absolute base directory.
func (p *Paths) Base() string { return p.base }

// SourceDir returns the root of the uncooked source asset tree.
func (p *Paths) SourceDir() string {
	return filepath.Join(p.base, "Source")
}

// RootDir returns the absolute root for a directory namespace. For
// DirContent the root is platform-qualified; when source is true the
// content root is the Source tree instead of the cooked tree.
func (p *Paths) RootDir(dir Directory, platform Platform, source bool) string {
	if source && dir == DirContent {
		return p.SourceDir()
	}
	switch dir {
	case DirContent:
		return filepath.Join(p.base, "Content"+platform.String())
	case DirConfig:
		return filepath.Join(p.base, "Config")
	case DirLog:
		return filepath.Join(p.base, "Log")
	case DirSave:
		return filepath.Join(p.base, "Save")
	default:
		return p.base
	}
}

// Filename resolves a FilePath to the absolute on-disk filename it
// denotes. The relative portion uses the platform's separator; texture
// types resolve to the single source image when source is true.
func (p *Paths) Filename(fp FilePath, platform Platform, source bool) string {
	root := p.RootDir(fp.Dir(), platform, source)
	if fp.RelativePath() == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(fp.RelativePath())) +
		FileTypeToExtension(fp.Type(), source)
}

// relativize strips root from abs when abs is inside root, comparing
// case-insensitively. Separators in abs are normalized regardless of
// host OS. ok is false when abs is not under root.
func relativize(root, abs string) (_ string, ok bool) {
	root = filepath.ToSlash(root)
	abs = strings.ReplaceAll(abs, "\\", "/")
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	if len(abs) < len(root) || !strings.EqualFold(abs[:len(root)], root) {
		return "", false
	}
	return abs[len(root):], true
}
