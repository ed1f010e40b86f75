// Package ui holds the small event plumbing the console views share: action bindings, the keyboard bus and
// the focus cursor.
package ui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownAction = errors.New("unknown action")

// Args are the escaped values an element submits with its action.
type Args map[string]string

func (a Args) Get(key string) string { return strings.TrimSpace(a[key]) }

// ArgsFromForm flattens submitted form values, keeping the first value per key.
func ArgsFromForm(values url.Values) Args {
	args := make(Args, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			args[key] = vals[0]
		}
	}
	return args
}

type Handler func(ctx context.Context, args Args) error

// Bindings maps element action ids (e.g. "users.block") to handler closures.
type Bindings struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewBindings() *Bindings {
	return &Bindings{handlers: make(map[string]Handler)}
}

func (b *Bindings) Bind(action string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[action] = h
}

func (b *Bindings) Dispatch(ctx context.Context, action string, args Args) error {
	b.mu.RLock()
	h, ok := b.handlers[action]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return h(ctx, args)
}

func (b *Bindings) Actions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
