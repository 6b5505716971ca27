// Package source enumerates catalog images for the index builder.
package source

import (
	"context"
	"strings"
)

// File is one catalog image candidate.
type File struct {
	// Path is the source-relative path, always slash-separated
	// ("shoes/red_sneaker.jpg"). Item name and category derive from it.
	Path string
	// Location is where the image actually lives: an absolute filesystem
	// path or an s3://bucket/key locator. Stored on the catalog item.
	Location string
	Size     int64
}

// Source enumerates and opens catalog images. List is deterministic: the
// same tree yields the same files in the same order on every call.
type Source interface {
	List(ctx context.Context) ([]File, error)
	Open(ctx context.Context, file File) ([]byte, error)
	// Locator identifies the source, e.g. "/srv/catalog" or "s3://bucket/prefix".
	Locator() string
}

// New returns a Source for locator: an s3://bucket/prefix locator selects S3,
// anything else is treated as a local directory. Only files with one of the
// given extensions are listed.
func New(ctx context.Context, locator string, extensions []string, s3Region string) (Source, error) {
	if strings.HasPrefix(locator, "s3://") {
		return NewS3Source(ctx, locator, extensions, s3Region)
	}
	return NewLocalSource(locator, extensions)
}

// extSet lowercases extensions into a lookup set. Entries may come with or
// without the leading dot.
func extSet(extensions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}
