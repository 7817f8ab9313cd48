// Package notify holds the fallback delivery path used when a user has no
// live session to push to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/resend/resend-go/v2"

	"fleettrace/hub/internal/events"
)

// Notifier delivers a notification out of band (email/SMS).
type Notifier interface {
	Deliver(ctx context.Context, userID string, n events.Notification) error
}

// AddressLookup resolves a user id to a deliverable email address.
type AddressLookup func(userID string) (string, bool)

// EmailNotifier sends fallback notifications through Resend.
type EmailNotifier struct {
	client  *resend.Client
	from    string
	resolve AddressLookup
}

// NewEmailNotifier reads RESEND_API_KEY and HUB_FALLBACK_FROM from the
// environment. It returns nil when no API key is configured, leaving the
// hub without a fallback path rather than failing startup.
func NewEmailNotifier(resolve AddressLookup) *EmailNotifier {
	apiKey := strings.TrimSpace(os.Getenv("RESEND_API_KEY"))
	if apiKey == "" {
		return nil
	}
	from := strings.TrimSpace(os.Getenv("HUB_FALLBACK_FROM"))
	if from == "" {
		from = "alerts@fleettrace.local"
	}
	return &EmailNotifier{
		client:  resend.NewClient(apiKey),
		from:    from,
		resolve: resolve,
	}
}

// Deliver emails the notification to the user's registered address.
func (e *EmailNotifier) Deliver(_ context.Context, userID string, n events.Notification) error {
	if e == nil || e.client == nil {
		return errors.New("email notifier not configured")
	}
	if e.resolve == nil {
		return errors.New("no address lookup configured")
	}
	address, ok := e.resolve(userID)
	if !ok {
		return fmt.Errorf("no deliverable address for user %q", userID)
	}
	subject := n.Title
	if subject == "" {
		subject = fmt.Sprintf("[%s] fleet notification", n.Severity)
	}
	body := n.Message
	if n.Action != "" {
		body = fmt.Sprintf("%s\n\nRecommended action: %s", body, n.Action)
	}
	params := &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{address},
		Subject: subject,
		Text:    body,
	}
	_, err := e.client.Emails.Send(params)
	return err
}

// Recorder captures deliveries for tests.
type Recorder struct {
	Deliveries []RecordedDelivery
	Err        error
}

// RecordedDelivery is one captured fallback call.
type RecordedDelivery struct {
	UserID       string
	Notification events.Notification
}

// Deliver appends the call and returns the configured error.
func (r *Recorder) Deliver(_ context.Context, userID string, n events.Notification) error {
	r.Deliveries = append(r.Deliveries, RecordedDelivery{UserID: userID, Notification: n})
	return r.Err
}
