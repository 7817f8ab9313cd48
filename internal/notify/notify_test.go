package notify

import (
	"context"
	"testing"

	"fleettrace/hub/internal/events"
)

func TestNewEmailNotifierRequiresAPIKey(t *testing.T) {
	t.Setenv("RESEND_API_KEY", "")
	if notifier := NewEmailNotifier(nil); notifier != nil {
		t.Fatal("expected nil notifier without an API key")
	}
}

func TestEmailNotifierDeliverValidation(t *testing.T) {
	t.Setenv("RESEND_API_KEY", "re_test_key")
	notification := events.Notification{Title: "Service due", Severity: "info"}

	//1.- No lookup configured.
	notifier := NewEmailNotifier(nil)
	if err := notifier.Deliver(context.Background(), "veh1", notification); err == nil {
		t.Fatal("expected error without an address lookup")
	}

	//2.- Lookup cannot resolve the user.
	notifier = NewEmailNotifier(func(string) (string, bool) { return "", false })
	if err := notifier.Deliver(context.Background(), "veh1", notification); err == nil {
		t.Fatal("expected error for unresolvable user")
	}

	//3.- A nil notifier refuses rather than panics.
	var unset *EmailNotifier
	if err := unset.Deliver(context.Background(), "veh1", notification); err == nil {
		t.Fatal("expected error from nil notifier")
	}
}

func TestRecorderCapturesDeliveries(t *testing.T) {
	recorder := &Recorder{}
	if err := recorder.Deliver(context.Background(), "veh1", events.Notification{ID: "n1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(recorder.Deliveries) != 1 || recorder.Deliveries[0].UserID != "veh1" {
		t.Fatalf("unexpected deliveries %+v", recorder.Deliveries)
	}
}
