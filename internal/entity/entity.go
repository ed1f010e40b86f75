// Package entity holds one renderer per marketplace entity.
//
// A renderer loads its collection through the gateway into a Collection cache, renders markup as a pure
// function of that cache and the current View, and exposes its mutations as ui.Bindings actions. Every
// action makes one gateway call, patches the cache on success and surfaces exactly one notification.
package entity

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/modal"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

var (
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrNotFound             = errors.New("record not found")
)

// API is the gateway surface renderers use.
type API interface {
	Call(ctx context.Context, method, endpoint string, body any) gateway.Result
	Upload(ctx context.Context, method, endpoint string, up *gateway.Upload) gateway.Result
}

type Notifier interface {
	Notify(message string, kind notify.Kind, opts ...notify.Option) notify.Handle
}

// Deps is shared by every renderer of one workspace.
type Deps struct {
	API            API
	Notifier       Notifier
	Modals         *modal.Manager
	Confirm        *Confirmations
	Templates      *Renderer
	Stagger        *bulk.Stagger
	Clock          clockwork.Clock
	Logger         *slog.Logger
	SearchDebounce time.Duration
	// OnChange runs after background work (debounced search) changed a cache.
	OnChange func(section string)
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Stagger == nil {
		out.Stagger = bulk.NewStagger(out.Clock, bulk.DefaultDelay)
	}
	if out.Templates == nil {
		out.Templates = NewRenderer("")
	}
	if out.Confirm == nil {
		out.Confirm = NewConfirmations(out.Modals, out.Notifier, out.Templates)
	}
	return &out
}

// View carries the client-side filters of a render.
type View struct {
	Query  string
	Status string
}

func ViewFromQuery(q url.Values) View {
	return View{Query: strings.TrimSpace(q.Get("q")), Status: strings.TrimSpace(q.Get("status"))}
}

// Section is what the console registers per tab.
type Section interface {
	Name() string
	Title() string
	Load(ctx context.Context) (commit func(), err error)
	Render(w io.Writer, view View) error
	Bind(b *ui.Bindings)
}

// Exporter is implemented by tabular sections.
type Exporter interface {
	Export(view View) sheets.Table
}

func (d *Deps) succeed(message string) {
	d.Notifier.Notify(message, notify.KindSuccess)
}

// invalid reports a precondition failure caught before any network call.
func (d *Deps) invalid(message string) error {
	d.Notifier.Notify(message, notify.KindWarning)
	return gateway.Validation(message)
}

// call performs one gateway call; on success apply patches the cache and a single success notice follows.
func (d *Deps) call(ctx context.Context, method, endpoint string, body any, success string, apply func(gateway.Result)) error {
	res := d.API.Call(ctx, method, endpoint, body)
	if !res.OK() {
		return res.Failure()
	}
	if apply != nil {
		apply(res)
	}
	d.succeed(success)
	return nil
}

// idAction adapts fn to a binding that takes the record id from args.
func idAction(d *Deps, fn func(context.Context, string) error) ui.Handler {
	return func(ctx context.Context, args ui.Args) error {
		id := args.Get("id")
		if id == "" {
			return d.invalid("Missing record id")
		}
		return fn(ctx, id)
	}
}

func path(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// matches is the shared text predicate: a case-insensitive substring of any field.
func matches(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func statusMatches(want, got string) bool {
	return want == "" || want == "all" || strings.EqualFold(want, got)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func modalContent(title string, body template.HTML, focusables ...string) modal.Content {
	return modal.Content{Title: title, Body: body, Focusables: focusables}
}

func modalOptions() modal.Options {
	return modal.Options{Size: "medium"}
}
