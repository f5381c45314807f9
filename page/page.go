// Package page hosts application pages: a registry of page-load hooks, the
// asset bundle loader they wait on, and the compliance account page.
//
// A page-load hook runs once per load. The account page hook waits for its
// asset bundle and only then constructs the page object bound to the
// wrapper it was given:
//
//	reg := page.NewRegistry()
//	reg.Register(page.AccountPageName, page.AccountPageHook(loader, svc))
//	p, err := reg.Load(ctx, page.AccountPageName, page.Wrapper{Name: page.AccountPageName})
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Wrapper is the container a page renders into.
type Wrapper struct {
	// Name is the registered page name.
	Name string
	// Title is shown in the page head.
	Title string
	// Route is the path the page is served from.
	Route string
}

// Page is a constructed page object.
type Page interface {
	Wrapper() Wrapper
}

// Hook builds a page on load.
type Hook func(ctx context.Context, wrapper Wrapper) (Page, error)

// BundleLoader makes asset bundles available before a page is built.
type BundleLoader interface {
	// Require returns once every named asset is loaded.
	Require(ctx context.Context, assets ...string) error
}

var (
	// ErrUnknownPage is returned by Load for an unregistered name.
	ErrUnknownPage = errors.New("page: unknown page")
	// ErrDuplicatePage is returned by Register when a name is taken.
	ErrDuplicatePage = errors.New("page: page already registered")
)

// Registry maps page names to their on-load hooks.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Hook)}
}

// Register installs hook for name.
func (r *Registry) Register(name string, hook Hook) error {
	if name == "" || hook == nil {
		return errors.New("page: name and hook are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePage, name)
	}
	r.hooks[name] = hook
	return nil
}

// Load runs the on-load hook registered for name.
func (r *Registry) Load(ctx context.Context, name string, wrapper Wrapper) (Page, error) {
	r.mu.RLock()
	hook, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, name)
	}
	return hook(ctx, wrapper)
}

// BundleHook returns a Hook that requires assets and then calls build. build
// is never called before Require returns, and is not called if it fails.
func BundleHook(loader BundleLoader, assets []string, build func(Wrapper) Page) Hook {
	return func(ctx context.Context, wrapper Wrapper) (Page, error) {
		if err := loader.Require(ctx, assets...); err != nil {
			return nil, fmt.Errorf("page %s: load bundle: %w", wrapper.Name, err)
		}
		return build(wrapper), nil
	}
}
