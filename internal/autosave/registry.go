package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guias/api/internal/guide"
)

// Loader reads the stored content of a version.
type Loader func(ctx context.Context, versionID string) (guide.SessionGuide, error)

// Registry keeps one controller per version so every editor of a version
// goes through the same owner.
type Registry struct {
	load  Loader
	saver Saver
	opts  []Option

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewRegistry(load Loader, saver Saver, opts ...Option) *Registry {
	return &Registry{
		load:        load,
		saver:       saver,
		opts:        opts,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the controller for versionID, loading it on first use.
func (r *Registry) Get(ctx context.Context, versionID string) (*Controller, error) {
	if c, ok := r.Peek(versionID); ok {
		return c, nil
	}

	doc, err := r.load(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("load guide version: %w", err)
	}
	c, err := New(versionID, doc, r.saver, r.opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.controllers[versionID]; ok {
		c.Close()
		return existing, nil
	}
	r.controllers[versionID] = c
	return c, nil
}

func (r *Registry) Peek(versionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[versionID]
	return c, ok
}

// Drop closes and forgets the controller for versionID.
func (r *Registry) Drop(versionID string) {
	r.mu.Lock()
	c, ok := r.controllers[versionID]
	delete(r.controllers, versionID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// FlushAll flushes every controller, used on shutdown.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range controllers {
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Close() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()
	for _, c := range controllers {
		c.Close()
	}
}
