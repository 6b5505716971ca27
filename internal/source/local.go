package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalSource enumerates images under a directory tree. The first directory
// level is the category convention, so the walk keeps relative paths intact.
type LocalSource struct {
	root string
	exts map[string]struct{}
}

// NewLocalSource creates a source over the directory at root.
func NewLocalSource(root string, extensions []string) (*LocalSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}
	return &LocalSource{root: abs, exts: extSet(extensions)}, nil
}

// List walks the tree and returns allowed files sorted by relative path.
// Hidden files and directories are skipped.
func (s *LocalSource) List(ctx context.Context) ([]File, error) {
	var files []File
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if _, ok := s.exts[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			Path:     filepath.ToSlash(rel),
			Location: path,
			Size:     info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Open reads the file contents from disk.
func (s *LocalSource) Open(ctx context.Context, file File) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(file.Location)
}

// Locator returns the root directory.
func (s *LocalSource) Locator() string {
	return s.root
}
