package entity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

type User struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Status() string {
	switch {
	case u.IsBlocked:
		return "blocked"
	case u.IsActive:
		return "active"
	default:
		return "inactive"
	}
}

type Users struct {
	deps  *Deps
	cache *Collection[User]
}

func NewUsers(deps *Deps) *Users {
	return &Users{deps: deps.withDefaults(), cache: NewCollection(func(u User) string { return u.ID })}
}

func (s *Users) Name() string { return "users" }
func (s *Users) Title() string { return "Users" }
func (s *Users) Cache() *Collection[User] { return s.cache }

func (s *Users) Load(ctx context.Context) (func(), error) {
	res := s.deps.API.Call(ctx, http.MethodGet, "/users", nil)
	users, err := gateway.Decode[[]User](res, "users")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(users) }, nil
}

func (s *Users) Visible(view View) []User {
	return s.cache.Filter(func(u User) bool {
		return statusMatches(view.Status, u.Status()) && matches(view.Query, u.Name, u.Email, u.Role)
	})
}

func (s *Users) Render(w io.Writer, view View) error {
	items := s.Visible(view)
	return s.deps.Templates.execute(w, "users", tableView[User]{
		Section:  s.Name(),
		View:     view,
		Statuses: []string{"active", "inactive", "blocked"},
		Items:    items,
		Total:    s.cache.Len(),
	})
}

func (s *Users) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Users", Headers: []string{"ID", "Name", "Email", "Role", "Status", "Created"}}
	for _, u := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{u.ID, u.Name, u.Email, u.Role, u.Status(), formatTime(u.CreatedAt)})
	}
	return t
}

// SetActive toggles the account status.
func (s *Users) SetActive(ctx context.Context, id string, active bool) error {
	msg := "User deactivated"
	if active {
		msg = "User activated"
	}
	return s.deps.call(ctx, http.MethodPatch, path("users", id, "status"), map[string]bool{"isActive": active}, msg,
		func(gateway.Result) { s.cache.Update(id, func(u *User) { u.IsActive = active }) })
}

func (s *Users) SetBlocked(ctx context.Context, id string, blocked bool) error {
	verb, msg := "unblock", "User unblocked"
	if blocked {
		verb, msg = "block", "User blocked"
	}
	return s.deps.call(ctx, http.MethodPost, path("users", id, verb), nil, msg,
		func(gateway.Result) { s.cache.Update(id, func(u *User) { u.IsBlocked = blocked }) })
}

// RequestDelete opens the confirmation dialog and returns its token.
func (s *Users) RequestDelete(id string) (string, error) {
	u, ok := s.cache.Get(id)
	if !ok {
		return "", s.deps.invalid("User not found")
	}
	return s.deps.Confirm.Request(fmt.Sprintf("Delete user %s? This cannot be undone.", u.Email), func(ctx context.Context) error {
		return s.deps.call(ctx, http.MethodDelete, path("users", id), nil, "User deleted",
			func(gateway.Result) { s.cache.Remove(id) })
	})
}

// BulkBlock blocks every cached user whose email appears in the sheet's "email" column, one call at a time.
func (s *Users) BulkBlock(ctx context.Context, filename string, data []byte) error {
	if len(data) == 0 {
		return s.deps.invalid("Choose a spreadsheet to import")
	}
	rows, err := sheets.ReadRows(bytes.NewReader(data), filename)
	if err != nil {
		return s.deps.invalid("Unable to read spreadsheet: " + err.Error())
	}
	emails, err := sheets.Column(rows, "email")
	if err != nil {
		return s.deps.invalid("Spreadsheet needs an email column")
	}

	var ids []string
	missing := 0
	for _, email := range emails {
		email := email
		matched := s.cache.Filter(func(u User) bool { return strings.EqualFold(u.Email, email) && !u.IsBlocked })
		if len(matched) == 0 {
			missing++
			continue
		}
		ids = append(ids, matched[0].ID)
	}
	if len(ids) == 0 {
		return s.deps.invalid("No matching unblocked users found in the spreadsheet")
	}

	outcomes, runErr := bulk.Run(ctx, s.deps.Stagger, ids, func(ctx context.Context, id string) error {
		res := s.deps.API.Call(ctx, http.MethodPost, path("users", id, "block"), nil)
		if !res.OK() {
			return res.Failure()
		}
		s.cache.Update(id, func(u *User) { u.IsBlocked = true })
		return nil
	})
	done := len(outcomes) - bulk.Failed(outcomes)
	if done > 0 {
		msg := fmt.Sprintf("Blocked %d of %d users", done, len(ids))
		if missing > 0 {
			msg += fmt.Sprintf(" (%d not found)", missing)
		}
		s.deps.succeed(msg)
	}
	return runErr
}

func (s *Users) Bind(b *ui.Bindings) {
	b.Bind("users.activate", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetActive(ctx, id, true) }))
	b.Bind("users.deactivate", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetActive(ctx, id, false) }))
	b.Bind("users.block", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetBlocked(ctx, id, true) }))
	b.Bind("users.unblock", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetBlocked(ctx, id, false) }))
	b.Bind("users.delete", idAction(s.deps, func(_ context.Context, id string) error {
		_, err := s.RequestDelete(id)
		return err
	}))
}
