package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendSignsAndDelivers(t *testing.T) {
	var gotEvent, gotSignature, gotTimestamp string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(HeaderEvent)
		gotSignature = r.Header.Get(HeaderSignature)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{SigningSecret: "hook-secret"})
	err := c.Send(context.Background(), srv.URL, EventJobCompleted, map[string]string{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotEvent != EventJobCompleted {
		t.Fatalf("expected event %s, got %s", EventJobCompleted, gotEvent)
	}

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(gotTimestamp))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature mismatch: want %s, got %s", want, gotSignature)
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{
		SigningSecret:  "hook-secret",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err := c.Send(context.Background(), srv.URL, EventJobFailed, map[string]string{"job_id": "job-1"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{
		SigningSecret:  "hook-secret",
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	if err := c.Send(context.Background(), srv.URL, EventJobFailed, nil); err == nil {
		t.Fatal("expected delivery failure after exhausting attempts")
	}
}

func TestSendEmptyEndpointIsNoop(t *testing.T) {
	c := NewClient(Config{SigningSecret: "hook-secret"})
	if err := c.Send(context.Background(), "", EventJobCompleted, nil); err != nil {
		t.Fatalf("empty endpoint must be a no-op, got %v", err)
	}
}
