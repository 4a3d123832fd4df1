package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindAvailablePath returns basePath unchanged if nothing exists there yet,
// otherwise appends " (1)", " (2)", ... before the extension until a free
// path is found.
func FindAvailablePath(basePath string) string {
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return basePath
	}

	ext := filepath.Ext(basePath)
	dir := filepath.Dir(basePath)
	nameOnly := strings.TrimSuffix(filepath.Base(basePath), ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameOnly, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameOnly, 9999, ext))
}
