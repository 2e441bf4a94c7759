package cachefs

import (
	"path"
	"runtime"
	"strings"
)

// Directory identifies one of the well-known asset directory namespaces.
// A CachingFileSystem instance is scoped to exactly one Directory.
type Directory int

const (
	DirUnknown Directory = iota
	DirConfig
	DirContent
	DirLog
	DirSave
)

func (d Directory) String() string {
	switch d {
	case DirConfig:
		return "Config"
	case DirContent:
		return "Content"
	case DirLog:
		return "Log"
	case DirSave:
		return "Save"
	default:
		return "Unknown"
	}
}

// Platform identifies the target platform whose cooked content tree
// a Content-scoped cache serves.
type Platform int

const (
	PlatformPC Platform = iota
	PlatformLinux
	PlatformAndroid
	PlatformIOS
)

func (p Platform) String() string {
	switch p {
	case PlatformLinux:
		return "Linux"
	case PlatformAndroid:
		return "Android"
	case PlatformIOS:
		return "IOS"
	default:
		return "PC"
	}
}

// CurrentPlatform returns the Platform matching the running OS.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "android":
		return PlatformAndroid
	case "ios", "darwin":
		return PlatformIOS
	default:
		return PlatformPC
	}
}

// FileType classifies a file by its extension. Texture0 through Texture4
// are the cooked mip-chain variants of a single source image.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeJSON
	TypeScript
	TypeFont
	TypeSoundBank
	TypeText
	TypeTexture0
	TypeTexture1
	TypeTexture2
	TypeTexture3
	TypeTexture4
)

// ExtensionToFileType maps a file extension (with or without the leading
// dot, any case) to its FileType. Unrecognized extensions map to TypeUnknown.
func ExtensionToFileType(ext string) FileType {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "json":
		return TypeJSON
	case "lua":
		return TypeScript
	case "fnt":
		return TypeFont
	case "bank":
		return TypeSoundBank
	case "txt":
		return TypeText
	case "tex0", "png":
		return TypeTexture0
	case "tex1":
		return TypeTexture1
	case "tex2":
		return TypeTexture2
	case "tex3":
		return TypeTexture3
	case "tex4":
		return TypeTexture4
	default:
		return TypeUnknown
	}
}

// FileTypeToExtension returns the cooked on-disk extension for a type,
// including the leading dot, or "" for TypeUnknown. When source is true,
// texture variants collapse to the single source image extension.
func FileTypeToExtension(t FileType, source bool) string {
	if source && IsTextureType(t) {
		return ".png"
	}
	switch t {
	case TypeJSON:
		return ".json"
	case TypeScript:
		return ".lua"
	case TypeFont:
		return ".fnt"
	case TypeSoundBank:
		return ".bank"
	case TypeText:
		return ".txt"
	case TypeTexture0:
		return ".tex0"
	case TypeTexture1:
		return ".tex1"
	case TypeTexture2:
		return ".tex2"
	case TypeTexture3:
		return ".tex3"
	case TypeTexture4:
		return ".tex4"
	default:
		return ""
	}
}

// IsTextureType reports whether t is one of the texture variant types.
func IsTextureType(t FileType) bool {
	return t >= TypeTexture0 && t <= TypeTexture4
}

// FilePath identifies a logical file inside one directory namespace:
// (directory, relative path without extension, file type). The relative
// path is stored lowercased with forward slashes, so two FilePaths that
// differ only in case compare equal. The zero value is invalid.
type FilePath struct {
	dir Directory
	typ FileType
	rel string
}

// NewFilePath builds a FilePath from a directory and a relative (or
// already-relativized) path string. The extension, when recognized,
// becomes the type and is stripped from the relative path; an
// unrecognized extension stays embedded in the relative path with
// TypeUnknown. A path that escapes its root yields an invalid FilePath.
// This is the lenient constructor; CachingFileSystem's translation of
// absolute paths is stricter (see ToFilePath).
func NewFilePath(dir Directory, rel string) FilePath {
	rel, ok := normalizeRel(rel)
	if !ok {
		return FilePath{}
	}
	typ := ExtensionToFileType(path.Ext(rel))
	if typ != TypeUnknown {
		rel = strings.TrimSuffix(rel, path.Ext(rel))
	}
	return FilePath{dir: dir, typ: typ, rel: rel}
}

// RootFilePath returns the key that represents the root of a directory
// namespace (empty relative path, unknown type).
func RootFilePath(dir Directory) FilePath {
	return FilePath{dir: dir}
}

// IsValid reports whether the path belongs to a known directory namespace.
func (fp FilePath) IsValid() bool { return fp.dir != DirUnknown }

// Dir returns the directory namespace.
func (fp FilePath) Dir() Directory { return fp.dir }

// Type returns the file type.
func (fp FilePath) Type() FileType { return fp.typ }

// RelativePath returns the lowercase relative path without extension.
func (fp FilePath) RelativePath() string { return fp.rel }

// WithType returns a copy of fp with the type replaced.
func (fp FilePath) WithType(t FileType) FilePath {
	fp.typ = t
	return fp
}

func (fp FilePath) String() string {
	return fp.dir.String() + "://" + fp.rel + FileTypeToExtension(fp.typ, false)
}

// normalizeRel lowercases rel, converts separators to forward slashes,
// collapses . and .. segments, and strips leading and trailing slashes.
// Backslashes are replaced regardless of host OS, so a Windows-style
// path names the same key on every platform. ok is false when the path
// escapes its root ("../x").
func normalizeRel(rel string) (_ string, ok bool) {
	rel = strings.ToLower(strings.ReplaceAll(rel, "\\", "/"))
	rel = strings.TrimSuffix(rel, "/")
	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return strings.TrimPrefix(rel, "/"), true
}
