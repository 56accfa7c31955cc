package vaultsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestHTTPClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"retry"}`))
			return
		}
		if r.URL.Path != "/v1/buffer" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"key":"k1","id":"n1","exp":"2024-01-08T00:00:00Z","data":{"platform":"audiopen","id":"n1","title":"t","content":"c","tags":[],"date_created":"01/01/2024"}}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	entries, err := client.FetchBuffer(context.Background())
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "k1" || entries[0].Data.ID != "n1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized","message":"bad token"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	err := client.Consume(context.Background(), "n1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized || httpErr.Code != "unauthorized" {
		t.Fatalf("unexpected http error: %+v", httpErr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientConsumeSendsNoteID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/buffer/consume" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["id"] != "n42" {
			t.Errorf("expected id n42, got %q", body["id"])
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	if err := client.Consume(context.Background(), "n42"); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
}

func TestHTTPClientSubscribeReadsSnapshots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/buffer/feed" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, BufferResponse{Entries: []RemoteEntry{}})
		_ = wsjson.Write(ctx, conn, BufferResponse{Entries: []RemoteEntry{{Key: "k1", ID: "n1"}}})
		<-ctx.Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewHTTPClient(server.URL, "token", server.Client())
	events := client.Subscribe(ctx)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("unexpected feed error: %v", ev.Err)
			}
			if len(ev.Entries) == 1 && ev.Entries[0].Key == "k1" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for feed snapshot")
		}
	}
}
