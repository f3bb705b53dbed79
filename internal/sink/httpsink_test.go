package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shortontech/crawlwatch/internal/event"
)

func TestHTTPSink(t *testing.T) {
	t.Run("posts event JSON", func(t *testing.T) {
		var (
			mu       sync.Mutex
			received []event.Event
			auth     string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s", ct)
			}
			var e event.Event
			if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
				t.Errorf("body is not an event: %v", err)
			}
			mu.Lock()
			received = append(received, e)
			auth = r.Header.Get("Authorization")
			mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		s := NewHTTPSink(srv.URL)
		s.token = "secret"
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		defer s.Close()

		if err := s.Enqueue(testEvent("evt-1", "ChatGPT")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(received) != 1 || received[0].EventID != "evt-1" || received[0].BotType != "ChatGPT" {
			t.Errorf("received = %+v", received)
		}
		if auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		s := NewHTTPSink(srv.URL)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		if err := s.Enqueue(testEvent("evt-1", "")); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("times out slow endpoints", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		s := NewHTTPSink(srv.URL)
		s.timeout = 50 * time.Millisecond
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		start := time.Now()
		if err := s.Enqueue(testEvent("evt-1", "")); err == nil {
			t.Error("expected timeout error")
		}
		if time.Since(start) > 2*time.Second {
			t.Error("request was not bounded by the timeout")
		}
	})

	t.Run("requires endpoint", func(t *testing.T) {
		if err := NewHTTPSink("").Start(context.Background()); err == nil {
			t.Error("Start() should fail without endpoint")
		}
	})

	t.Run("env configuration", func(t *testing.T) {
		setEnv(t, "TRACKING_ENDPOINT", "https://collector.example.com/ai-bot")
		setEnv(t, "TRACKING_TOKEN", "tok")
		setEnv(t, "TRACKING_TIMEOUT_MS", "1500")

		s := NewHTTPSinkFromEnv()
		if s.endpoint != "https://collector.example.com/ai-bot" || s.token != "tok" || s.timeout != 1500*time.Millisecond {
			t.Errorf("unexpected sink: %+v", s)
		}
		if s.Name() != "http" {
			t.Errorf("Name() = %q", s.Name())
		}
	})
}
