package assets

import (
	"net/url"
	"path"
	"strings"
)

const urlPrefix = "/assets/"

var allowedExtensions = map[string]bool{
	// Images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
	// Videos
	".mp4": true, ".webm": true, ".ogv": true, ".mov": true,
	// Web resources
	".css": true, ".js": true, ".json": true, ".txt": true, ".html": true, ".htm": true,
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mov":  "video/quicktime",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
}

// DefaultContentType is served for extensions missing from the content type table
const DefaultContentType = "application/octet-stream"

// SanitizeName reduces a client supplied name to a bare file name.
// Both slash and backslash count as separators and everything up to the
// last one is dropped, so a trailing separator leaves nothing. Names that
// reduce to nothing, ".", ".." or contain a NUL byte sanitize to the
// empty string.
func SanitizeName(name string) string {
	if strings.ContainsRune(name, 0) {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// Extension returns the lower-cased extension of name, including the dot
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// Allowed reports whether the extension of name is on the upload allow-list
func Allowed(name string) bool {
	return allowedExtensions[Extension(name)]
}

// ContentType maps the extension of name to a content type
func ContentType(name string) string {
	if ct, ok := contentTypes[Extension(name)]; ok {
		return ct
	}
	return DefaultContentType
}

// URL returns the store-relative reference used to fetch an asset
func URL(name string) string {
	return urlPrefix + url.PathEscape(name)
}
