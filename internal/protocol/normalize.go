package protocol

import (
	gopath "path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePath canonicalizes a remote path before it hits the wire:
// forward slashes, a single leading slash, no trailing slash (except root),
// and NFC Unicode normalization. macOS clients hand over NFD-decomposed
// names, and most NAS servers store NFC; without this the same file can
// appear under two names.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = norm.NFC.String(p)

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return gopath.Clean(p)
}

// JoinPath joins a remote root and a relative path, normalizing the result.
func JoinPath(root, rel string) string {
	return NormalizePath(gopath.Join("/", root, rel))
}
