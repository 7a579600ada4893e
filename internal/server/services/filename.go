package services

import (
	"path/filepath"
	"strings"
)

var titleSeparators = strings.NewReplacer("/", "_", `\`, "_")

// ResolveUploadName picks the remote file name. An explicit name wins;
// otherwise the title plus the source extension; otherwise the source's
// base name.
func ResolveUploadName(explicit, title, sourcePath string) string {
	if explicit != "" {
		return explicit
	}
	base := filepath.Base(sourcePath)
	title = strings.TrimSpace(title)
	if title == "" {
		return base
	}
	return titleSeparators.Replace(title) + filepath.Ext(base)
}
