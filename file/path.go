package file

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
)

// normalizePath cleans and absolutizes a file path the same way for every
// caller, so two spellings of the same file resolve to the same key; the
// key itself is base64(normalizePath(filePath)).
func normalizePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// deriveKey computes the record key for a file path.
func deriveKey(p string) string {
	return base64.StdEncoding.EncodeToString([]byte(normalizePath(p)))
}

// computeETag renders the "size-mtimeMs" eTag.
func computeETag(size, mtimeMs int64) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d-%d", size, mtimeMs)))
}
