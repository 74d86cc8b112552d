// Package mediacache stores fetched media bytes on disk, one file per
// resource id.
package mediacache

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/adamavenir/histkeep/internal/types"
)

// partialSuffix marks files still being written.
const partialSuffix = ".part"

// ErrInvalidResourceID is returned for ids that cannot name a cache file.
var ErrInvalidResourceID = errors.New("invalid resource id")

// Cache is a directory of resource files on an afero filesystem.
type Cache struct {
	fs  afero.Fs
	dir string
}

// New opens a cache rooted at dir on fs, creating the directory.
func New(fs afero.Fs, dir string) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Cache{fs: fs, dir: dir}, nil
}

// NewOS opens a cache on the host filesystem.
func NewOS(dir string) (*Cache, error) {
	return New(afero.NewOsFs(), dir)
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file that holds resourceID.
func (c *Cache) Path(resourceID string) (string, error) {
	name, err := fileName(resourceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

func fileName(resourceID string) (string, error) {
	if resourceID == "" || strings.HasPrefix(resourceID, ".") || strings.HasSuffix(resourceID, partialSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceID, resourceID)
	}
	return url.PathEscape(resourceID), nil
}

// ResourceID maps a cache file name back to its resource id.
func ResourceID(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasSuffix(base, partialSuffix) || strings.HasPrefix(base, ".") {
		return "", false
	}
	id, err := url.PathUnescape(base)
	if err != nil {
		return "", false
	}
	return id, true
}

// Writer receives the bytes of one resource. Nothing is visible under the
// resource id until Commit.
type Writer struct {
	cache      *Cache
	resourceID string
	path       string
	file       afero.File
	written    int64
}

// Create starts writing resourceID.
func (c *Cache) Create(resourceID string) (*Writer, error) {
	path, err := c.Path(resourceID)
	if err != nil {
		return nil, err
	}
	file, err := c.fs.OpenFile(path+partialSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{cache: c, resourceID: resourceID, path: path, file: file}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Commit publishes the written bytes under the resource id.
func (w *Writer) Commit() (types.LocalHandle, error) {
	if err := w.file.Close(); err != nil {
		_ = w.cache.fs.Remove(w.path + partialSuffix)
		return types.LocalHandle{}, err
	}
	if err := w.cache.fs.Rename(w.path+partialSuffix, w.path); err != nil {
		_ = w.cache.fs.Remove(w.path + partialSuffix)
		return types.LocalHandle{}, err
	}
	return types.LocalHandle{ResourceID: w.resourceID, Path: w.path, Size: w.written}, nil
}

// Abort discards the written bytes.
func (w *Writer) Abort() {
	_ = w.file.Close()
	_ = w.cache.fs.Remove(w.path + partialSuffix)
}

// Put stores everything read from r under resourceID.
func (c *Cache) Put(resourceID string, r io.Reader) (types.LocalHandle, error) {
	w, err := c.Create(resourceID)
	if err != nil {
		return types.LocalHandle{}, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Abort()
		return types.LocalHandle{}, err
	}
	return w.Commit()
}

// Open opens the stored bytes of resourceID.
func (c *Cache) Open(resourceID string) (afero.File, error) {
	path, err := c.Path(resourceID)
	if err != nil {
		return nil, err
	}
	return c.fs.Open(path)
}

// Has reports whether resourceID is stored.
func (c *Cache) Has(resourceID string) bool {
	_, ok, err := c.Handle(resourceID)
	return err == nil && ok
}

// Handle describes the stored file of resourceID.
func (c *Cache) Handle(resourceID string) (types.LocalHandle, bool, error) {
	path, err := c.Path(resourceID)
	if err != nil {
		return types.LocalHandle{}, false, err
	}
	info, err := c.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.LocalHandle{}, false, nil
		}
		return types.LocalHandle{}, false, err
	}
	return types.LocalHandle{ResourceID: resourceID, Path: path, Size: info.Size()}, true, nil
}

// Remove deletes resourceID and reports whether it was stored.
func (c *Cache) Remove(resourceID string) (bool, error) {
	path, err := c.Path(resourceID)
	if err != nil {
		return false, err
	}
	if err := c.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every stored resource ordered by id. Partial writes are
// skipped.
func (c *Cache) List() ([]types.LocalHandle, error) {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, err
	}
	var handles []types.LocalHandle
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		id, ok := ResourceID(info.Name())
		if !ok {
			continue
		}
		handles = append(handles, types.LocalHandle{
			ResourceID: id,
			Path:       filepath.Join(c.dir, info.Name()),
			Size:       info.Size(),
		})
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ResourceID < handles[j].ResourceID
	})
	return handles, nil
}
