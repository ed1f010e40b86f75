package entity

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("entity").Funcs(template.FuncMap{
	"action": func(name string) string { return "/actions/" + name },
	"when":   func(t time.Time) string { return formatTime(t) },
	"money":  func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"lower":  strings.ToLower,
	"csrf":   func() template.HTML { return "" },
	"join":   strings.Join,
	"btn": func(action, id, label, class string) button {
		return button{Action: action, ID: id, Label: label, Class: class}
	},
	"sel": func(want, got string) template.HTMLAttr {
		if strings.EqualFold(want, got) {
			return "selected"
		}
		return ""
	},
}).ParseFS(templatesFS, "templates/*.html"))

// FormTokenField is the form field carrying the workspace's form token on every mutating form.
const FormTokenField = "csrf_token"

// Renderer executes the section templates for one workspace, stamping its form token into every post form.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer clones the parsed templates; the shared set itself is never executed.
func NewRenderer(formToken string) *Renderer {
	field := template.HTML(`<input type="hidden" name="` + FormTokenField + `" value="` +
		template.HTMLEscapeString(formToken) + `">`)
	tmpl := template.Must(templates.Clone())
	tmpl.Funcs(template.FuncMap{"csrf": func() template.HTML { return field }})
	return &Renderer{tmpl: tmpl}
}

func (r *Renderer) execute(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) fragment(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.execute(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// button is one action form: the action id plus the record id it applies to.
type button struct {
	Action string
	ID     string
	Label  string
	Class  string
}

// tableView is the data every table template receives.
type tableView[T any] struct {
	Section  string
	View     View
	Statuses []string
	Items    []T
	Total    int
}
