// Package notification delivers "orders synced" notifications and
// "order not saved" alerts, to the connected pages and to external
// services through shoutrrr.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/mare-catalogo/backend/internal/logging"
)

// Control channel event names.
const (
	EventOrdersSynced = "orders.synced"
	EventOrdersAlert  = "orders.alert"
)

// Notifier raises a notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Broadcaster pushes an event to every connected page.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Payload is the body of a notification or alert event.
type Payload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// =====================================================
// Shoutrrr
// =====================================================

// ShoutrrrNotifier sends to the configured service URLs (ntfy://, slack://,
// telegram://, ...).
type ShoutrrrNotifier struct {
	sender *router.ServiceRouter
	count  int
	log    *logging.Logger
}

// NewShoutrrr creates a notifier for the given service URLs.
func NewShoutrrr(urls ...string) (*ShoutrrrNotifier, error) {
	var clean []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return nil, errors.New("no notification URLs configured")
	}

	sender, err := shoutrrr.CreateSender(clean...)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification sender: %w", err)
	}
	return &ShoutrrrNotifier{sender: sender, count: len(clean), log: logging.Named("notification")}, nil
}

// Notify sends to every service and joins their errors.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{"title": title}
	errs := n.sender.Send(message, &params)

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		n.log.Warn("Notification delivery failed", logging.Fields{
			"failed":   len(failed),
			"services": n.count,
		})
		return errors.Join(failed...)
	}
	return nil
}

// =====================================================
// Control channel
// =====================================================

// HubNotifier pushes notifications and alerts to connected pages.
type HubNotifier struct {
	hub Broadcaster
}

// NewHubNotifier creates a notifier over the control channel hub.
func NewHubNotifier(hub Broadcaster) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// Notify broadcasts an orders.synced event.
func (h *HubNotifier) Notify(ctx context.Context, title, message string) error {
	h.hub.Broadcast(EventOrdersSynced, Payload{Title: title, Message: message})
	return nil
}

// Alert broadcasts an orders.alert event, shown by the page as a blocking
// dialog.
func (h *HubNotifier) Alert(ctx context.Context, message string) {
	h.hub.Broadcast(EventOrdersAlert, Payload{Message: message})
}

// =====================================================
// Composition
// =====================================================

// Multi notifies every member, continuing past failures.
type Multi []Notifier

// Notify calls every member and joins their errors.
func (m Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, string, string) error { return nil }
