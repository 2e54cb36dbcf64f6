package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_PublishPostsJSON(t *testing.T) {
	var got payload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.Publish(context.Background(), "sess-9", "Speaker 0: hello")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("content type = %q, want application/json", contentType)
	}
	if got.SessionID != "sess-9" {
		t.Errorf("session_id = %q, want sess-9", got.SessionID)
	}
	if got.Text != "Speaker 0: hello" {
		t.Errorf("text = %q, want the flushed block", got.Text)
	}
}

func TestClient_PublishNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.Publish(context.Background(), "s", "t"); err == nil {
		t.Fatal("expected an error for a non-2xx status")
	}
}

func TestClient_PublishConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // port now refuses connections

	c := NewClient(srv.URL, time.Second)
	if err := c.Publish(context.Background(), "s", "t"); err == nil {
		t.Fatal("expected an error when the endpoint is unreachable")
	}
}

func TestLogOnly_PublishSucceeds(t *testing.T) {
	if err := (LogOnly{}).Publish(context.Background(), "s", "anything"); err != nil {
		t.Fatalf("LogOnly.Publish: %v", err)
	}
}

// failing is a Publisher that always errors.
type failing struct{}

func (failing) Publish(context.Context, string, string) error {
	return errors.New("downstream is down")
}

func TestHandoff_SwallowsDeliveryErrors(t *testing.T) {
	// The accumulator has already forgotten the block; delivery failures
	// must not propagate back into the session.
	Handoff(context.Background(), failing{}, "sess-1", "lost words")
}
