package entity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/phillip-england/marketadmin/internal/modal"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/ui"
)

const (
	ActionConfirm       = "confirm.accept"
	ActionConfirmCancel = "confirm.cancel"
)

type pendingAction struct {
	prompt string
	run    func(context.Context) error
}

// Confirmations guards destructive actions. Request opens a dialog and issues a one-time token; only Confirm
// with that token runs the action.
type Confirmations struct {
	modals   *modal.Manager
	notifier Notifier
	render   *Renderer

	mu      sync.Mutex
	pending map[string]pendingAction
}

func NewConfirmations(modals *modal.Manager, notifier Notifier, render *Renderer) *Confirmations {
	if render == nil {
		render = NewRenderer("")
	}
	return &Confirmations{modals: modals, notifier: notifier, render: render, pending: make(map[string]pendingAction)}
}

func (c *Confirmations) Request(prompt string, run func(context.Context) error) (string, error) {
	token := uuid.NewString()

	c.mu.Lock()
	c.pending[token] = pendingAction{prompt: prompt, run: run}
	c.mu.Unlock()

	body, err := c.render.fragment("confirm", struct {
		Prompt string
		Token  string
	}{prompt, token})
	if err != nil {
		c.drop(token)
		return "", err
	}
	c.modals.Open(modal.Content{
		Title:      "Please confirm",
		Body:       body,
		Focusables: []string{"confirm-cancel", "confirm-accept"},
	}, modal.Options{
		InitialFocus: "confirm-cancel",
		OnClose:      func() { c.drop(token) },
		Size:         "small",
	})
	return token, nil
}

// Confirm runs the action behind token. Unknown or used tokens fail with ErrConfirmationRequired.
func (c *Confirmations) Confirm(ctx context.Context, token string) error {
	c.mu.Lock()
	p, ok := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()

	if !ok || token == "" {
		c.notifier.Notify("Please confirm this action before it runs.", notify.KindWarning)
		return ErrConfirmationRequired
	}
	c.modals.Close()
	return p.run(ctx)
}

func (c *Confirmations) Cancel(token string) {
	c.drop(token)
	c.modals.Close()
}

func (c *Confirmations) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Confirmations) drop(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

func (c *Confirmations) Bind(b *ui.Bindings) {
	b.Bind(ActionConfirm, func(ctx context.Context, args ui.Args) error {
		return c.Confirm(ctx, args.Get("token"))
	})
	b.Bind(ActionConfirmCancel, func(ctx context.Context, args ui.Args) error {
		c.Cancel(args.Get("token"))
		return nil
	})
}
