package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"golang.org/x/sync/singleflight"

	"github.com/seantiz/xxfunc/internal/model"
)

// executableMode is applied to every materialized module binary.
const executableMode os.FileMode = 0o755

// BinaryLoader fetches module binaries by id.
type BinaryLoader interface {
	GetModuleBinary(ctx context.Context, id int64) ([]byte, error)
}

// ModuleCache writes module binaries from the store into a local directory
// so they can be executed. A binary is written once and reused until evicted.
type ModuleCache struct {
	dir    string
	fs     afs.Service
	loader BinaryLoader
	group  singleflight.Group
}

// NewModuleCache creates dir if needed and returns a cache rooted there.
func NewModuleCache(dir string, loader BinaryLoader) (*ModuleCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("module directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve module directory: %w", err)
	}

	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, abs)
	if !exists {
		if err := fs.Create(ctx, abs, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("create module directory: %w", err)
		}
	}

	return &ModuleCache{dir: abs, fs: fs, loader: loader}, nil
}

// Dir returns the absolute cache directory.
func (c *ModuleCache) Dir() string {
	return c.dir
}

// Path returns where the binary of m lives once materialized. Module ids are
// never reused, so a redeployed module under a reused name never hits a
// stale file.
func (c *ModuleCache) Path(m *model.Module) string {
	return filepath.Join(c.dir, strconv.FormatInt(m.ID, 10)+"-"+sanitize(m.Name))
}

// Materialize makes sure the binary of m is present and executable and
// returns its path. Concurrent calls for the same module share one write.
func (c *ModuleCache) Materialize(ctx context.Context, m *model.Module) (string, error) {
	path := c.Path(m)

	_, err, _ := c.group.Do(path, func() (any, error) {
		exists, err := c.fs.Exists(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("check module file: %w", err)
		}
		if exists {
			return nil, nil
		}

		cacheMisses.Inc()
		binary, err := c.loader.GetModuleBinary(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", m.Name, err)
		}

		// Write under a temporary name so no worker can exec a partial file.
		tmp := path + ".part"
		if err := c.fs.Upload(ctx, tmp, executableMode, bytes.NewReader(binary)); err != nil {
			return nil, fmt.Errorf("write module file: %w", err)
		}
		if err := os.Chmod(tmp, executableMode); err != nil {
			_ = c.fs.Delete(ctx, tmp)
			return nil, fmt.Errorf("chmod module file: %w", err)
		}
		// afs.Move treats the destination as a directory, so install with a
		// plain rename, which is atomic within the cache directory.
		if err := os.Rename(tmp, path); err != nil {
			_ = c.fs.Delete(ctx, tmp)
			return nil, fmt.Errorf("install module file: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Evict removes the materialized binary of m, if present.
func (c *ModuleCache) Evict(ctx context.Context, m *model.Module) error {
	path := c.Path(m)
	exists, err := c.fs.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("check module file: %w", err)
	}
	if !exists {
		return nil
	}
	if err := c.fs.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete module file: %w", err)
	}
	return nil
}

// sanitize maps a module name onto a single safe path element.
func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
