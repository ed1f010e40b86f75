// Package notify keeps the transient messages shown to the admin.
package notify

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const DefaultDuration = 5 * time.Second

type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

var ErrUnknownAction = errors.New("notification action not found")

type Action struct {
	Label    string
	Callback func()
}

type Record struct {
	ID        string
	Message   string
	Kind      Kind
	CreatedAt time.Time
	Duration  time.Duration
	Actions   []Action
}

// Sticky reports whether the record waits for an explicit dismissal.
func (r Record) Sticky() bool { return r.Duration == 0 }

// Handle identifies a notification for early dismissal.
type Handle string

type Option func(*Record)

// WithDuration overrides the default lifetime. Zero keeps the notification until dismissed.
func WithDuration(d time.Duration) Option {
	return func(r *Record) {
		if d < 0 {
			d = 0
		}
		r.Duration = d
	}
}

func WithActions(actions ...Action) Option {
	return func(r *Record) {
		r.Actions = append(r.Actions, actions...)
	}
}

type entry struct {
	record Record
	timer  clockwork.Timer
	seq    uint64
}

type Service struct {
	clock  clockwork.Clock
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	entries map[Handle]*entry
	seq     uint64
}

type ServiceOption func(*Service)

func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithLimit caps how many records Active returns. It never drops records.
func WithLimit(limit int) ServiceOption {
	return func(s *Service) { s.limit = limit }
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		entries: make(map[Handle]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Notify(message string, kind Kind, opts ...Option) Handle {
	record := Record{
		ID:        uuid.NewString(),
		Message:   message,
		Kind:      kind,
		CreatedAt: s.clock.Now(),
		Duration:  DefaultDuration,
	}
	for _, opt := range opts {
		opt(&record)
	}
	h := Handle(record.ID)

	s.mu.Lock()
	s.seq++
	e := &entry{record: record, seq: s.seq}
	s.entries[h] = e
	if record.Duration > 0 {
		e.timer = s.clock.AfterFunc(record.Duration, func() { s.Dismiss(h) })
	}
	s.mu.Unlock()

	s.logger.Debug("notification shown", "id", record.ID, "kind", string(kind), "message", message)
	return h
}

func (s *Service) Info(message string, opts ...Option) Handle {
	return s.Notify(message, KindInfo, opts...)
}

func (s *Service) Success(message string, opts ...Option) Handle {
	return s.Notify(message, KindSuccess, opts...)
}

func (s *Service) Warning(message string, opts ...Option) Handle {
	return s.Notify(message, KindWarning, opts...)
}

func (s *Service) Error(message string, opts ...Option) Handle {
	return s.Notify(message, KindError, opts...)
}

// Dismiss removes the notification. It reports whether anything was removed.
func (s *Service) Dismiss(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, h)
	return true
}

// Invoke runs the action at index and dismisses the notification.
func (s *Service) Invoke(h Handle, index int) error {
	s.mu.Lock()
	e, ok := s.entries[h]
	if !ok || index < 0 || index >= len(e.record.Actions) {
		s.mu.Unlock()
		return ErrUnknownAction
	}
	action := e.record.Actions[index]
	s.mu.Unlock()

	if action.Callback != nil {
		action.Callback()
	}
	s.Dismiss(h)
	return nil
}

// Active lists visible notifications oldest first, trimmed to the display limit.
func (s *Service) Active() []Record {
	s.mu.Lock()
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	if s.limit > 0 && len(list) > s.limit {
		list = list[len(list)-s.limit:]
	}

	records := make([]Record, len(list))
	for i, e := range list {
		records[i] = e.record
	}
	return records
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear dismisses everything, stopping pending timers.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, h)
	}
}
