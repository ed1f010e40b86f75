// Package modal implements the console's single overlay slot.
//
// At most one modal is open. Opening another closes the current one first, which detaches its key listener
// and restores the focus it captured, so replaced modals leave nothing behind.
package modal

import (
	"html/template"
	"sync"

	"github.com/google/uuid"

	"github.com/phillip-england/marketadmin/internal/ui"
)

type Content struct {
	Title string
	Body  template.HTML
	// Focusables lists the element ids inside the modal in tab order.
	Focusables []string
}

type Options struct {
	// InitialFocus must be one of Content.Focusables; defaults to the first.
	InitialFocus string
	OnClose      func()
	Size         string
}

// Target is what a click landed on.
type Target int

const (
	TargetOverlay Target = iota
	TargetContent
)

type Modal struct {
	ID      string
	Content Content
	Options Options

	restoreFocus string
	detach       func()
}

type Manager struct {
	keys  *ui.KeyBus
	focus *ui.Focus

	mu     sync.Mutex
	active *Modal
}

func NewManager(keys *ui.KeyBus, focus *ui.Focus) *Manager {
	return &Manager{keys: keys, focus: focus}
}

func (m *Manager) Open(content Content, opts Options) *Modal {
	m.Close()

	md := &Modal{
		ID:           uuid.NewString(),
		Content:      content,
		Options:      opts,
		restoreFocus: m.focus.Current(),
	}

	m.mu.Lock()
	m.active = md
	m.mu.Unlock()

	md.detach = m.keys.Listen(func(k ui.Key) bool { return m.handleKey(md, k) })

	initial := opts.InitialFocus
	if !contains(content.Focusables, initial) {
		initial = ""
		if len(content.Focusables) > 0 {
			initial = content.Focusables[0]
		}
	}
	m.focus.Set(initial)
	return md
}

// Close removes the open modal. It returns false when nothing was open.
func (m *Manager) Close() bool {
	m.mu.Lock()
	md := m.active
	m.active = nil
	m.mu.Unlock()

	if md == nil {
		return false
	}
	if md.detach != nil {
		md.detach()
	}
	m.focus.Set(md.restoreFocus)
	if md.Options.OnClose != nil {
		md.Options.OnClose()
	}
	return true
}

// Active returns the open modal, if any.
func (m *Manager) Active() (*Modal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// ClickOverlay closes on background clicks; clicks inside the content are ignored.
func (m *Manager) ClickOverlay(target Target) bool {
	if target != TargetOverlay {
		return false
	}
	return m.Close()
}

func (m *Manager) handleKey(md *Modal, k ui.Key) bool {
	m.mu.Lock()
	current := m.active
	m.mu.Unlock()
	if current != md {
		return false
	}

	switch k {
	case ui.KeyEscape:
		m.Close()
		return true
	case ui.KeyTab, ui.KeyShiftTab:
		ids := md.Content.Focusables
		if len(ids) == 0 {
			return true
		}
		idx := indexOf(ids, m.focus.Current())
		switch {
		case idx < 0 && k == ui.KeyTab:
			idx = 0
		case idx < 0:
			idx = len(ids) - 1
		case k == ui.KeyTab:
			idx = (idx + 1) % len(ids)
		default:
			idx = (idx - 1 + len(ids)) % len(ids)
		}
		m.focus.Set(ids[idx])
		return true
	}
	return false
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func contains(ids []string, id string) bool {
	return id != "" && indexOf(ids, id) >= 0
}
