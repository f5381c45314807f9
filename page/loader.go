package page

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sync"
)

// Asset is a loaded bundle file.
type Asset struct {
	Name string
	Data []byte
}

// FSLoader loads assets from a file system. Each asset is read at most once,
// keyed by its cleaned path; later Require calls for it return immediately.
type FSLoader struct {
	fsys fs.FS
	log  *slog.Logger

	mu     sync.RWMutex
	loaded map[string]*Asset
}

var _ BundleLoader = (*FSLoader)(nil)

// NewFSLoader returns a loader reading from fsys.
func NewFSLoader(fsys fs.FS, log *slog.Logger) *FSLoader {
	if log == nil {
		log = slog.Default()
	}
	return &FSLoader{fsys: fsys, log: log, loaded: make(map[string]*Asset)}
}

// Require reads each asset not yet loaded. It stops at the first failure;
// assets loaded before it stay loaded.
func (l *FSLoader) Require(ctx context.Context, assets ...string) error {
	for _, name := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		clean := path.Clean(name)
		if l.isLoaded(clean) {
			continue
		}
		if !fs.ValidPath(clean) {
			return fmt.Errorf("asset %q: %w", name, fs.ErrInvalid)
		}
		data, err := fs.ReadFile(l.fsys, clean)
		if err != nil {
			return fmt.Errorf("asset %q: %w", name, err)
		}

		l.mu.Lock()
		if _, ok := l.loaded[clean]; !ok {
			l.loaded[clean] = &Asset{Name: clean, Data: data}
		}
		l.mu.Unlock()
		l.log.DebugContext(ctx, "page.asset.loaded", slog.String("asset", clean), slog.Int("bytes", len(data)))
	}
	return nil
}

// Asset returns a loaded asset. Names are compared after path.Clean.
func (l *FSLoader) Asset(name string) (*Asset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.loaded[path.Clean(name)]
	return a, ok
}

func (l *FSLoader) isLoaded(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.loaded[name]
	return ok
}
