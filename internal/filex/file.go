// Package filex holds helpers for the local media files handed to uploads.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when detection fails.
const DefaultContentType = "application/octet-stream"

// ErrNotRegular is returned for sources that exist but are not plain files.
var ErrNotRegular = errors.New("not a regular file")

// Resolve joins a relative path onto root. Absolute paths and an empty
// root leave p unchanged.
func Resolve(root, p string) string {
	if root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// SourceSize returns the size of the regular file at path.
func SourceSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("stat %s: %w", path, ErrNotRegular)
	}
	return fi.Size(), nil
}

// ContentType sniffs the MIME type of the file at path.
func ContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil {
		return DefaultContentType
	}
	return mt.String()
}
