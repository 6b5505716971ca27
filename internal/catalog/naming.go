package catalog

import (
	"path/filepath"
	"strings"

	"github.com/hyperjump/miwake/pkg/utils"
)

// DeriveName turns an image's base filename into a display name:
// "red_summer-dress.jpg" becomes "Red Summer Dress".
func DeriveName(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if name := utils.TitleWords(base); name != "" {
		return name
	}
	return base
}

// DeriveCategory returns the first directory segment of a source-relative
// path, or fallback for files sitting at the source root. The catalog layout
// convention is one directory per category: "shoes/red_sneaker.jpg" is a
// "shoes" item.
func DeriveCategory(relPath, fallback string) string {
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	if i := strings.IndexByte(relPath, '/'); i > 0 {
		return relPath[:i]
	}
	return fallback
}
