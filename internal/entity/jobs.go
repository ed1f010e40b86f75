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

var JobStatuses = []string{"open", "in_progress", "completed", "cancelled"}

type Job struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Customer  string    `json:"customer"`
	Category  string    `json:"category"`
	Location  string    `json:"location"`
	Budget    float64   `json:"budget"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Jobs struct {
	deps  *Deps
	cache *Collection[Job]
}

func NewJobs(deps *Deps) *Jobs {
	return &Jobs{deps: deps.withDefaults(), cache: NewCollection(func(j Job) string { return j.ID })}
}

func (s *Jobs) Name() string { return "jobs" }
func (s *Jobs) Title() string { return "Jobs" }
func (s *Jobs) Cache() *Collection[Job] { return s.cache }

func (s *Jobs) Load(ctx context.Context) (func(), error) {
	jobs, err := gateway.Decode[[]Job](s.deps.API.Call(ctx, http.MethodGet, "/jobs", nil), "jobs")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(jobs) }, nil
}

func (s *Jobs) Visible(view View) []Job {
	return s.cache.Filter(func(j Job) bool {
		return statusMatches(view.Status, j.Status) && matches(view.Query, j.Title, j.Customer, j.Category, j.Location)
	})
}

func (s *Jobs) Render(w io.Writer, view View) error {
	return s.deps.Templates.execute(w, "jobs", tableView[Job]{
		Section:  s.Name(),
		View:     view,
		Statuses: JobStatuses,
		Items:    s.Visible(view),
		Total:    s.cache.Len(),
	})
}

func (s *Jobs) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Jobs", Headers: []string{"ID", "Title", "Customer", "Category", "Location", "Budget", "Status", "Created"}}
	for _, j := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{j.ID, j.Title, j.Customer, j.Category, j.Location,
			strconv.FormatFloat(j.Budget, 'f', 2, 64), j.Status, formatTime(j.CreatedAt)})
	}
	return t
}

func (s *Jobs) SetStatus(ctx context.Context, id, status string) error {
	if !oneOf(status, JobStatuses) {
		return s.deps.invalid(fmt.Sprintf("Unknown job status %q", status))
	}
	return s.deps.call(ctx, http.MethodPatch, path("jobs", id, "status"), map[string]string{"status": status}, "Job status updated",
		func(gateway.Result) { s.cache.Update(id, func(j *Job) { j.Status = status }) })
}

func (s *Jobs) RequestDelete(id string) (string, error) {
	j, ok := s.cache.Get(id)
	if !ok {
		return "", s.deps.invalid("Job not found")
	}
	return s.deps.Confirm.Request(fmt.Sprintf("Delete job %q?", j.Title), func(ctx context.Context) error {
		return s.deps.call(ctx, http.MethodDelete, path("jobs", id), nil, "Job deleted",
			func(gateway.Result) { s.cache.Remove(id) })
	})
}

func (s *Jobs) Bind(b *ui.Bindings) {
	b.Bind("jobs.status", func(ctx context.Context, args ui.Args) error {
		return idAction(s.deps, func(ctx context.Context, id string) error {
			return s.SetStatus(ctx, id, args.Get("status"))
		})(ctx, args)
	})
	b.Bind("jobs.delete", idAction(s.deps, func(_ context.Context, id string) error {
		_, err := s.RequestDelete(id)
		return err
	}))
}
