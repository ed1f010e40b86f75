// Package section tracks the console's navigable tabs and their load lifecycle.
//
// Every section starts Unloaded. Activating an Unloaded section runs its loader once; a Loaded section is only
// reloaded by Refresh. A failed load returns the section to Unloaded and keeps the error for display, so the
// next activation (or the Retry control) fetches again.
package section

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	}
	return "unknown"
}

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrDuplicate      = errors.New("section already registered")
)

// Loader fetches a section's data. The returned commit is applied only while the load is still current.
type Loader func(ctx context.Context) (commit func(), err error)

type Descriptor struct {
	Name   string
	Title  string
	loader Loader

	state      State
	err        error
	generation uint64
}

type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	sections map[string]*Descriptor
	order    []string
	active   string
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, sections: make(map[string]*Descriptor)}
}

func (r *Registry) Register(name, title string, loader Loader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sections[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.sections[name] = &Descriptor{Name: name, Title: title, loader: loader}
	r.order = append(r.order, name)
	return nil
}

// Activate shows name and hides the previously active section. Activating the active section is a no-op;
// loading happens only when switching to an Unloaded section.
func (r *Registry) Activate(ctx context.Context, name string) error {
	r.mu.Lock()
	d, ok := r.sections[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSection, name)
	}
	// A failed active section stays failed until Refresh.
	if r.active == name {
		r.mu.Unlock()
		return nil
	}
	r.logger.DebugContext(ctx, "section activated", "from", r.active, "to", name)
	r.active = name
	if d.state != Unloaded {
		r.mu.Unlock()
		return nil
	}
	gen := r.begin(d)
	r.mu.Unlock()

	return r.load(ctx, d, gen)
}

// Refresh reloads a section on user request, whatever its state.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	r.mu.Lock()
	d, ok := r.sections[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSection, name)
	}
	gen := r.begin(d)
	r.mu.Unlock()

	return r.load(ctx, d, gen)
}

// Reset returns every section to Unloaded and invalidates in-flight loads.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.sections {
		d.generation++
		d.state = Unloaded
		d.err = nil
	}
	r.active = ""
}

func (r *Registry) begin(d *Descriptor) uint64 {
	d.generation++
	d.state = Loading
	d.err = nil
	return d.generation
}

func (r *Registry) load(ctx context.Context, d *Descriptor, gen uint64) error {
	commit, err := d.loader(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d.generation != gen {
		r.logger.DebugContext(ctx, "discarding stale section response", "section", d.Name)
		return nil
	}
	if err != nil {
		d.state = Unloaded
		d.err = err
		r.logger.InfoContext(ctx, "section load failed", "section", d.Name, "error", err)
		return err
	}
	if commit != nil {
		commit()
	}
	d.state = Loaded
	return nil
}

func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) State(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.sections[name]; ok {
		return d.state
	}
	return Unloaded
}

// Err is the last load failure of name, cleared by the next load attempt.
func (r *Registry) Err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.sections[name]; ok {
		return d.err
	}
	return nil
}

type Tab struct {
	Name   string
	Title  string
	Active bool
	State  State
}

func (r *Registry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	tabs := make([]Tab, 0, len(r.order))
	for _, name := range r.order {
		d := r.sections[name]
		tabs = append(tabs, Tab{Name: name, Title: d.Title, Active: name == r.active, State: d.state})
	}
	return tabs
}

func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sections[name]
	return ok
}
