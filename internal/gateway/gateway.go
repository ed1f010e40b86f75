// Package gateway is the single chokepoint for authenticated calls to the marketplace API.
//
// Every call attaches the session's bearer token, classifies the outcome into a Result and reports each
// failure exactly once through the notifier. Callers above the gateway never see raw transport errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/phillip-england/marketadmin/internal/notify"
)

// TokenSource is the part of the session store the gateway needs.
type TokenSource interface {
	Token() string
	Teardown() error
}

// Notifier receives one message per failed call.
type Notifier interface {
	Notify(message string, kind notify.Kind, opts ...notify.Option) notify.Handle
}

// Config wires a Gateway.
type Config struct {
	BaseURL   string
	Namespace string
	Client    *http.Client
	Session   TokenSource
	Notifier  Notifier
	Logger    *slog.Logger
	// OnSessionEnd runs after teardown for AuthRequired and SessionExpired failures.
	OnSessionEnd func(kind Kind)
	// Timeout bounds a single call; zero leaves it to the client.
	Timeout time.Duration
}

type Gateway struct {
	baseURL      string
	client       *http.Client
	session      TokenSource
	notifier     Notifier
	logger       *slog.Logger
	onSessionEnd func(Kind)
	timeout      time.Duration
}

// Upload is a pass-through request body; the caller owns its encoding.
type Upload struct {
	Body        io.Reader
	ContentType string
}

const maxErrorBody = 64 << 10

func New(cfg Config) *Gateway {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if ns := strings.Trim(cfg.Namespace, "/"); ns != "" {
		base += "/" + ns
	}
	return &Gateway{
		baseURL:      base,
		client:       client,
		session:      cfg.Session,
		notifier:     cfg.Notifier,
		logger:       logger,
		onSessionEnd: cfg.OnSessionEnd,
		timeout:      cfg.Timeout,
	}
}

// Call issues a JSON request. body may be nil.
func (g *Gateway) Call(ctx context.Context, method, endpoint string, body any) Result {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return g.fail(ctx, method, endpoint, &Error{Kind: KindValidation, Message: "Unable to encode request", Err: err})
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return g.do(ctx, method, endpoint, reader, contentType)
}

// Upload issues a request whose body is passed through unmodified (multipart, binary).
func (g *Gateway) Upload(ctx context.Context, method, endpoint string, up *Upload) Result {
	if up == nil || up.Body == nil {
		return g.fail(ctx, method, endpoint, Validation("Nothing to upload"))
	}
	return g.do(ctx, method, endpoint, up.Body, up.ContentType)
}

func (g *Gateway) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) Result {
	token := g.session.Token()
	if token == "" {
		return g.fail(ctx, method, endpoint, &Error{Kind: KindAuthRequired, Message: ErrAuthRequired.Message})
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url(endpoint), body)
	if err != nil {
		return g.fail(ctx, method, endpoint, &Error{Kind: KindValidation, Message: "Invalid request", Err: err})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return g.fail(ctx, method, endpoint, &Error{Kind: KindNetwork, Message: "Network error. Check your connection and try again.", Err: err})
	}
	defer resp.Body.Close()

	g.logger.DebugContext(ctx, "api call",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return g.fail(ctx, method, endpoint, &Error{Kind: KindSessionExpired, Message: ErrSessionExpired.Message, Status: resp.StatusCode})
	}

	isJSON := isJSONContent(resp.Header.Get("Content-Type"))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := ""
		if readErr == nil {
			if isJSON {
				message = messageFromJSON(raw)
			} else {
				message = strings.TrimSpace(string(raw))
			}
		}
		if message == "" {
			message = fmt.Sprintf("Request failed with status %d", resp.StatusCode)
		}
		return g.fail(ctx, method, endpoint, &Error{Kind: KindAPI, Message: message, Status: resp.StatusCode})
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return g.fail(ctx, method, endpoint, &Error{Kind: KindNetwork, Message: "Network error while reading the response.", Status: resp.StatusCode, Err: err})
	}

	if !isJSON && len(raw) > 0 {
		return Result{
			Status: resp.StatusCode,
			Blob: &Blob{
				ContentType: resp.Header.Get("Content-Type"),
				Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
				Data:        raw,
			},
		}
	}
	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		return g.fail(ctx, method, endpoint, &Error{Kind: KindAPI, Message: "Received an unreadable response from the server", Status: resp.StatusCode})
	}
	return Result{Status: resp.StatusCode, Body: raw}
}

// fail is the only place a failure leaves the gateway: log, notify once, end the session if fatal.
func (g *Gateway) fail(ctx context.Context, method, endpoint string, e *Error) Result {
	attrs := []any{
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.String("kind", e.Kind.String()),
		slog.Int("status", e.Status),
		slog.String("message", e.Message),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	if e.Kind == KindNetwork {
		g.logger.WarnContext(ctx, "api transport failure", attrs...)
	} else {
		g.logger.InfoContext(ctx, "api call failed", attrs...)
	}

	if g.notifier != nil {
		g.notifier.Notify(e.Message, notify.KindError)
	}

	if e.Kind.Fatal() {
		if err := g.session.Teardown(); err != nil {
			g.logger.ErrorContext(ctx, "session teardown failed", slog.String("error", err.Error()))
		}
		if g.onSessionEnd != nil {
			g.onSessionEnd(e.Kind)
		}
	}
	return failure(e)
}

func (g *Gateway) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return g.baseURL + endpoint
}

func isJSONContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func messageFromJSON(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, key := range []string{"message", "error", "detail"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// IsFatal reports whether err ended the session.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind.Fatal()
}
