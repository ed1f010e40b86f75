package entity

import (
	"context"
	"io"
	"net/http"

	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/ui"
)

type Stats struct {
	TotalUsers          int     `json:"totalUsers"`
	ActiveUsers         int     `json:"activeUsers"`
	BlockedUsers        int     `json:"blockedUsers"`
	TotalJobs           int     `json:"totalJobs"`
	OpenJobs            int     `json:"openJobs"`
	PendingQuotes       int     `json:"pendingQuotes"`
	PendingEstimations  int     `json:"pendingEstimations"`
	UnreadMessages      int     `json:"unreadMessages"`
	ActiveSubscriptions int     `json:"activeSubscriptions"`
	Revenue             float64 `json:"revenue"`
}

// Analytics is the read-only dashboard.
type Analytics struct {
	deps  *Deps
	cache *Collection[Stats]
}

func NewAnalytics(deps *Deps) *Analytics {
	return &Analytics{deps: deps.withDefaults(), cache: NewCollection(func(Stats) string { return "stats" })}
}

func (s *Analytics) Name() string { return "analytics" }
func (s *Analytics) Title() string { return "Dashboard" }

func (s *Analytics) Load(ctx context.Context) (func(), error) {
	stats, err := gateway.Decode[Stats](s.deps.API.Call(ctx, http.MethodGet, "/stats", nil), "stats")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace([]Stats{stats}) }, nil
}

func (s *Analytics) Stats() (Stats, bool) {
	return s.cache.Get("stats")
}

func (s *Analytics) Render(w io.Writer, _ View) error {
	stats, ok := s.Stats()
	return s.deps.Templates.execute(w, "analytics", struct {
		Loaded bool
		Stats  Stats
	}{ok, stats})
}

func (s *Analytics) Bind(*ui.Bindings) {}
