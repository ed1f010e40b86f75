package entity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

var SubscriptionStatuses = []string{"active", "cancelled", "suspended"}

type Subscription struct {
	ID        string    `json:"_id"`
	UserEmail string    `json:"userEmail"`
	Plan      string    `json:"plan"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	RenewsAt  time.Time `json:"renewsAt"`
}

type Subscriptions struct {
	deps  *Deps
	cache *Collection[Subscription]
}

func NewSubscriptions(deps *Deps) *Subscriptions {
	return &Subscriptions{deps: deps.withDefaults(), cache: NewCollection(func(s Subscription) string { return s.ID })}
}

func (s *Subscriptions) Name() string { return "subscriptions" }
func (s *Subscriptions) Title() string { return "Subscriptions" }
func (s *Subscriptions) Cache() *Collection[Subscription] { return s.cache }

func (s *Subscriptions) Load(ctx context.Context) (func(), error) {
	subs, err := gateway.Decode[[]Subscription](s.deps.API.Call(ctx, http.MethodGet, "/subscriptions", nil), "subscriptions")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(subs) }, nil
}

func (s *Subscriptions) Visible(view View) []Subscription {
	return s.cache.Filter(func(sub Subscription) bool {
		return statusMatches(view.Status, sub.Status) && matches(view.Query, sub.UserEmail, sub.Plan)
	})
}

func (s *Subscriptions) Render(w io.Writer, view View) error {
	return s.deps.Templates.execute(w, "subscriptions", tableView[Subscription]{
		Section:  s.Name(),
		View:     view,
		Statuses: SubscriptionStatuses,
		Items:    s.Visible(view),
		Total:    s.cache.Len(),
	})
}

func (s *Subscriptions) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Subscriptions", Headers: []string{"ID", "User", "Plan", "Amount", "Status", "Renews"}}
	for _, sub := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{sub.ID, sub.UserEmail, sub.Plan,
			strconv.FormatFloat(sub.Amount, 'f', 2, 64), sub.Status, formatTime(sub.RenewsAt)})
	}
	return t
}

func (s *Subscriptions) SetStatus(ctx context.Context, id, status string) error {
	if !oneOf(status, SubscriptionStatuses) {
		return s.deps.invalid(fmt.Sprintf("Unknown subscription status %q", status))
	}
	return s.deps.call(ctx, http.MethodPatch, path("subscriptions", id, "status"), map[string]string{"status": status}, "Subscription "+status,
		func(gateway.Result) { s.cache.Update(id, func(sub *Subscription) { sub.Status = status }) })
}

func (s *Subscriptions) Bind(b *ui.Bindings) {
	for _, status := range []struct{ action, status string }{
		{"subscriptions.activate", "active"},
		{"subscriptions.cancel", "cancelled"},
		{"subscriptions.suspend", "suspended"},
	} {
		status := status
		b.Bind(status.action, idAction(s.deps, func(ctx context.Context, id string) error { return s.SetStatus(ctx, id, status.status) }))
	}
}
