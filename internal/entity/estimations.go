package entity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/marketadmin/internal/archive"
	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/media"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

var EstimationStatuses = []string{"pending", "approved", "rejected"}

const maxUploadBytes = 10 << 20

type EstimationFile struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Estimation struct {
	ID              string           `json:"_id"`
	Title           string           `json:"title"`
	Customer        string           `json:"customer"`
	Amount          float64          `json:"amount"`
	Status          string           `json:"status"`
	Notes           string           `json:"notes"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	Files           []EstimationFile `json:"files"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type Estimations struct {
	deps  *Deps
	cache *Collection[Estimation]
}

func NewEstimations(deps *Deps) *Estimations {
	return &Estimations{deps: deps.withDefaults(), cache: NewCollection(func(e Estimation) string { return e.ID })}
}

func (s *Estimations) Name() string { return "estimations" }
func (s *Estimations) Title() string { return "Estimations" }
func (s *Estimations) Cache() *Collection[Estimation] { return s.cache }

func (s *Estimations) Load(ctx context.Context) (func(), error) {
	items, err := gateway.Decode[[]Estimation](s.deps.API.Call(ctx, http.MethodGet, "/estimations", nil), "estimations")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(items) }, nil
}

func (s *Estimations) Visible(view View) []Estimation {
	return s.cache.Filter(func(e Estimation) bool {
		return statusMatches(view.Status, e.Status) && matches(view.Query, e.Title, e.Customer, e.Notes)
	})
}

func (s *Estimations) Render(w io.Writer, view View) error {
	return s.deps.Templates.execute(w, "estimations", tableView[Estimation]{
		Section:  s.Name(),
		View:     view,
		Statuses: EstimationStatuses,
		Items:    s.Visible(view),
		Total:    s.cache.Len(),
	})
}

func (s *Estimations) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Estimations", Headers: []string{"ID", "Title", "Customer", "Amount", "Status", "Files", "Created"}}
	for _, e := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{e.ID, e.Title, e.Customer, strconv.FormatFloat(e.Amount, 'f', 2, 64),
			e.Status, strconv.Itoa(len(e.Files)), formatTime(e.CreatedAt)})
	}
	return t
}

func (s *Estimations) Approve(ctx context.Context, id string) error {
	return s.deps.call(ctx, http.MethodPost, path("estimations", id, "approve"), nil, "Estimation approved",
		func(gateway.Result) {
			s.cache.Update(id, func(e *Estimation) {
				e.Status = "approved"
				e.RejectionReason = ""
			})
		})
}

// Reject requires a reason; an empty one fails before any network call.
func (s *Estimations) Reject(ctx context.Context, id, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return s.deps.invalid("Please provide a reason for rejection")
	}
	return s.deps.call(ctx, http.MethodPost, path("estimations", id, "reject"), map[string]string{"reason": reason}, "Estimation rejected",
		func(gateway.Result) {
			s.cache.Update(id, func(e *Estimation) {
				e.Status = "rejected"
				e.RejectionReason = reason
			})
		})
}

// UploadFile attaches a file to an estimation. Images are normalised to PNG first; other files pass through.
func (s *Estimations) UploadFile(ctx context.Context, id, filename string, data []byte) error {
	if len(data) == 0 {
		return s.deps.invalid("Choose a file to upload")
	}
	if len(data) > maxUploadBytes {
		return s.deps.invalid("File is larger than 10 MB")
	}
	if media.IsImage(data) {
		normalized, _, err := media.Normalize(data, media.MaxEdge)
		if err != nil {
			return s.deps.invalid("Unable to process image: " + err.Error())
		}
		data = normalized
		filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".png"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	res := s.deps.API.Upload(ctx, http.MethodPost, path("estimations", id, "files"), &gateway.Upload{
		Body:        &body,
		ContentType: mw.FormDataContentType(),
	})
	if !res.OK() {
		return res.Failure()
	}
	if updated, err := gateway.Decode[Estimation](res, "estimation"); err == nil && updated.ID != "" {
		s.cache.Put(updated)
	}
	s.deps.succeed("File uploaded")
	return nil
}

// DownloadFile returns the server's blob untouched.
func (s *Estimations) DownloadFile(ctx context.Context, id, fileID string) (*gateway.Blob, error) {
	res := s.deps.API.Call(ctx, http.MethodGet, path("estimations", id, "files", fileID), nil)
	if !res.OK() {
		return nil, res.Failure()
	}
	if res.Blob == nil {
		return nil, s.deps.invalid("The server returned no file")
	}
	if res.Blob.Filename == "" {
		if e, ok := s.cache.Get(id); ok {
			for _, f := range e.Files {
				if f.ID == fileID {
					res.Blob.Filename = f.Name
				}
			}
		}
	}
	return res.Blob, nil
}

// DownloadAll fetches every file of an estimation one by one and bundles them as a .tar.xz.
func (s *Estimations) DownloadAll(ctx context.Context, id string) (*gateway.Blob, error) {
	e, ok := s.cache.Get(id)
	if !ok {
		return nil, s.deps.invalid("Estimation not found")
	}
	if len(e.Files) == 0 {
		return nil, s.deps.invalid("This estimation has no files")
	}

	var files []archive.File
	outcomes, err := bulk.Run(ctx, s.deps.Stagger, e.Files, func(ctx context.Context, f EstimationFile) error {
		res := s.deps.API.Call(ctx, http.MethodGet, path("estimations", id, "files", f.ID), nil)
		if !res.OK() {
			return res.Failure()
		}
		name := f.Name
		if res.Blob == nil {
			return s.deps.invalid(fmt.Sprintf("The server returned no file for %s", name))
		}
		if res.Blob.Filename != "" {
			name = res.Blob.Filename
		}
		files = append(files, archive.File{Name: name, Data: res.Blob.Data, ModTime: s.deps.Clock.Now()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		// each failed file was already reported
		return nil, fmt.Errorf("download all: %d files failed", bulk.Failed(outcomes))
	}

	var buf bytes.Buffer
	if err := archive.WriteTarXZ(&buf, files); err != nil {
		return nil, err
	}
	s.deps.succeed(fmt.Sprintf("Downloaded %d of %d files", len(files), len(e.Files)))
	return &gateway.Blob{
		ContentType: archive.ContentType,
		Filename:    fmt.Sprintf("estimation-%s-files.tar.xz", id),
		Data:        buf.Bytes(),
	}, nil
}

func (s *Estimations) RequestDelete(id string) (string, error) {
	e, ok := s.cache.Get(id)
	if !ok {
		return "", s.deps.invalid("Estimation not found")
	}
	return s.deps.Confirm.Request(fmt.Sprintf("Delete estimation %q and its files?", e.Title), func(ctx context.Context) error {
		return s.deps.call(ctx, http.MethodDelete, path("estimations", id), nil, "Estimation deleted",
			func(gateway.Result) { s.cache.Remove(id) })
	})
}

// OpenReject shows the reason form.
func (s *Estimations) OpenReject(id string) error {
	e, ok := s.cache.Get(id)
	if !ok {
		return s.deps.invalid("Estimation not found")
	}
	body, err := s.deps.Templates.fragment("reject_form", e)
	if err != nil {
		return err
	}
	s.deps.Modals.Open(modalContent("Reject estimation", body, "reject-reason", "reject-cancel", "reject-submit"), modalOptions())
	return nil
}

func (s *Estimations) Bind(b *ui.Bindings) {
	b.Bind("estimations.approve", idAction(s.deps, s.Approve))
	b.Bind("estimations.reject-form", idAction(s.deps, func(_ context.Context, id string) error { return s.OpenReject(id) }))
	b.Bind("estimations.reject", func(ctx context.Context, args ui.Args) error {
		return idAction(s.deps, func(ctx context.Context, id string) error {
			if err := s.Reject(ctx, id, args.Get("reason")); err != nil {
				return err
			}
			s.deps.Modals.Close()
			return nil
		})(ctx, args)
	})
	b.Bind("estimations.delete", idAction(s.deps, func(_ context.Context, id string) error {
		_, err := s.RequestDelete(id)
		return err
	}))
}
