package ui

import "sync"

type Key string

const (
	KeyEscape   Key = "Escape"
	KeyTab      Key = "Tab"
	KeyShiftTab Key = "Shift+Tab"
	KeyEnter    Key = "Enter"
)

// ParseKey maps a submitted key name (and shift flag) onto a Key.
func ParseKey(name string, shift bool) Key {
	switch name {
	case "Escape", "Esc":
		return KeyEscape
	case "Tab":
		if shift {
			return KeyShiftTab
		}
		return KeyTab
	case "Shift+Tab":
		return KeyShiftTab
	case "Enter":
		return KeyEnter
	}
	return Key(name)
}

// KeyListener returns true when it consumed the key.
type KeyListener func(Key) bool

// KeyBus is the workspace keyboard: listeners are called newest first.
type KeyBus struct {
	mu        sync.Mutex
	next      int
	listeners map[int]KeyListener
	order     []int
}

func NewKeyBus() *KeyBus {
	return &KeyBus{listeners: make(map[int]KeyListener)}
}

// Listen attaches l and returns the function that detaches it. Detaching twice is harmless.
func (b *KeyBus) Listen(l KeyListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.listeners[id] = l
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *KeyBus) Dispatch(k Key) bool {
	b.mu.Lock()
	ls := make([]KeyListener, 0, len(b.order))
	for i := len(b.order) - 1; i >= 0; i-- {
		ls = append(ls, b.listeners[b.order[i]])
	}
	b.mu.Unlock()

	for _, l := range ls {
		if l(k) {
			return true
		}
	}
	return false
}

func (b *KeyBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Focus tracks which element id currently holds keyboard focus.
type Focus struct {
	mu      sync.Mutex
	current string
}

func (f *Focus) Set(id string) {
	f.mu.Lock()
	f.current = id
	f.mu.Unlock()
}

func (f *Focus) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
