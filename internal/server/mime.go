package server

import (
	"mime"
	"path"
	"strings"
)

// contentTypes covers the artifact extensions an update mirror typically
// serves, so responses stay deterministic across host mime databases.
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
	".xml":  "application/xml",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".tgz":  "application/gzip",
	".xz":   "application/x-xz",
	".bz2":  "application/x-bzip2",
	".deb":  "application/vnd.debian.binary-package",
	".rpm":  "application/x-rpm",
	".apk":  "application/vnd.android.package-archive",
	".exe":  "application/vnd.microsoft.portable-executable",
	".msi":  "application/x-msi",
	".dmg":  "application/x-apple-diskimage",
	".iso":  "application/x-iso9660-image",
	".img":  "application/octet-stream",
	".bin":  "application/octet-stream",
	".sig":  "application/pgp-signature",
	".asc":  "application/pgp-signature",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

// contentTypeFor maps a key to its response Content-Type. Unknown extensions
// fall back to the host mime table and finally to octet-stream.
func contentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
