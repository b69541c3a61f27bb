package fs

import (
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is the size threshold above which files are not indexed.
const DefaultMaxFileSize int64 = 2 << 20

// binaryExtensions are never read, whatever the allow-list says.
var binaryExtensions = map[string]bool{
	// Images
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".bmp": true,

	// Documents
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,

	// Archives
	".zip": true, ".gz": true, ".tar": true, ".tgz": true, ".7z": true, ".rar": true,

	// Compiled
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true,
	".a": true, ".class": true, ".jar": true, ".pyc": true,

	// Media and fonts
	".mp3": true, ".mp4": true, ".mov": true, ".wav": true, ".avi": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,

	// Databases
	".db": true, ".sqlite": true, ".sqlite3": true,
}

// Filter decides whether a file is eligible for chunking.
type Filter struct {
	maxSize int64
	extSet  map[string]bool
}

// NewFilter creates a filter. An empty extension list allows every extension
// that is not on the binary deny list.
func NewFilter(maxFileSize int64, extensions []string) *Filter {
	f := &Filter{maxSize: maxFileSize}
	if len(extensions) > 0 {
		f.extSet = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.extSet[strings.ToLower(ext)] = true
		}
	}
	return f
}

// Eligible reports whether a file with the given path and size should be read.
func (f *Filter) Eligible(path string, size int64) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if binaryExtensions[ext] {
		return false
	}
	if f == nil {
		return true
	}
	if f.maxSize > 0 && size > f.maxSize {
		return false
	}
	if f.extSet != nil && !f.extSet[ext] {
		// Well-known extensionless files such as Makefile pass by name.
		_, known := filenameToLang[filepath.Base(path)]
		return known
	}
	return true
}

// IsBinaryExtension reports whether the path has a denied binary extension.
func IsBinaryExtension(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}
