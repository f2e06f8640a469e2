package alerting

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

func sampleNotification() airdata.Notification {
	return airdata.Notification{
		EntityID:  "sensor-001",
		Kind:      KindAnomaly,
		Severity:  airdata.SeverityHigh,
		Message:   "pm2.5 spike",
		Observed:  120,
		Timestamp: time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	var received webhookPayload
	var headers http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL})

	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.EventType != KindAnomaly {
		t.Errorf("event_type = %q, want %q", received.EventType, KindAnomaly)
	}
	if received.Notification.EntityID != "sensor-001" {
		t.Errorf("entity_id = %q, want %q", received.Notification.EntityID, "sensor-001")
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want %q", headers.Get("Content-Type"), "application/json")
	}
	if headers.Get("User-Agent") != "AirGuard-Webhook/0.1" {
		t.Errorf("User-Agent = %q, want %q", headers.Get("User-Agent"), "AirGuard-Webhook/0.1")
	}
}

func TestWebhookNotifier_Notify_HMACSignature(t *testing.T) {
	secret := "test-secret-key"
	var receivedSig string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Signature")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Secret: secret})

	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(receivedBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if receivedSig != want {
		t.Errorf("X-Signature = %q, want %q", receivedSig, want)
	}
}

func TestWebhookNotifier_Notify_NoSignatureWithoutSecret(t *testing.T) {
	var receivedSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedSig != "" {
		t.Errorf("X-Signature set without a secret: %q", receivedSig)
	}
}

func TestWebhookNotifier_Notify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWebhookNotifier_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// One token per minute: the first call drains the burst, the second
	// blocks until the context expires.
	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL, RatePerMin: 1})
	ctx := context.Background()
	if err := notifier.Notify(ctx, sampleNotification()); err != nil {
		t.Fatalf("first notify: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := notifier.Notify(short, sampleNotification()); err == nil {
		t.Fatal("expected rate limit error under short context")
	}
}
