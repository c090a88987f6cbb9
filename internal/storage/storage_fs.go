package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotExist = os.ErrNotExist
	ErrExist    = os.ErrExist
)

// Entry is one item of a folder listing.
type Entry struct {
	Title    string
	Path     string
	IsFolder bool
}

// Repository is the hierarchical file store that holds versions and live
// resources. Paths are slash separated and relative to the store root.
type Repository interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, content []byte) error
	Delete(ctx context.Context, name string) error
	Mkdir(ctx context.Context, dir string) error
	Rename(ctx context.Context, from, to string) error
}

type FSStorage struct {
	Root string
}

func NewFSStorage(root string) *FSStorage {
	return &FSStorage{Root: root}
}

func (s *FSStorage) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.fullPath(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if isStaged(item.Name()) {
			continue
		}
		entries = append(entries, Entry{
			Title:    item.Name(),
			Path:     Join(dir, item.Name()),
			IsFolder: item.IsDir(),
		})
	}
	return entries, nil
}

func (s *FSStorage) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.fullPath(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *FSStorage) Write(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeFileAbsolute(s.fullPath(name), content)
}

// Delete removes a file or a folder with everything below it. Deleting a
// missing path is not an error.
func (s *FSStorage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := s.fullPath(name)
	if full == filepath.Clean(s.Root) {
		return errors.New("delete: refusing to remove repository root")
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Mkdir creates dir and its parents. A directory created concurrently by
// someone else is fine as long as it exists afterwards.
func (s *FSStorage) Mkdir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := s.fullPath(dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func (s *FSStorage) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := s.fullPath(to)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.Rename(s.fullPath(from), dest); err != nil {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	return nil
}

func (s *FSStorage) fullPath(name string) string {
	clean := path.Clean("/" + filepath.ToSlash(name))
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

func (s *FSStorage) writeFileAbsolute(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	// Remove any existing file or symlink so os.WriteFile does not
	// follow a stale symlink copied in with a resource.
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Join builds a repository path from slash separated parts.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// Exists reports whether name can be listed or read.
func Exists(ctx context.Context, repo Repository, name string) (bool, error) {
	dir, base := path.Split(strings.TrimSuffix(name, "/"))
	entries, err := repo.List(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.Title == base {
			return true, nil
		}
	}
	return false, nil
}

// Files lists every non-folder entry below dir, recursively, with paths
// relative to dir. skip is consulted for each sub folder name.
func Files(ctx context.Context, repo Repository, dir string, skip func(folder string) bool) ([]string, error) {
	var out []string
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := repo.List(ctx, Join(dir, rel))
		if err != nil {
			return err
		}
		for _, e := range entries {
			child := Join(rel, e.Title)
			if e.IsFolder {
				if skip != nil && skip(child) {
					continue
				}
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			out = append(out, child)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyTree copies every file below src to the same relative path below dst.
func CopyTree(ctx context.Context, repo Repository, src, dst string, skip func(folder string) bool) error {
	files, err := Files(ctx, repo, src, skip)
	if err != nil {
		return fmt.Errorf("copy tree: %w", err)
	}
	if err := repo.Mkdir(ctx, dst); err != nil {
		return err
	}
	for _, rel := range files {
		data, err := repo.Read(ctx, Join(src, rel))
		if err != nil {
			return fmt.Errorf("copy tree: %w", err)
		}
		if err := repo.Write(ctx, Join(dst, rel), data); err != nil {
			return fmt.Errorf("copy tree %s: %w", rel, err)
		}
	}
	return nil
}
