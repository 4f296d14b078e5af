package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mare-catalogo/backend/internal/conf"
	"github.com/mare-catalogo/backend/internal/netstate"
)

// fakeSupabase is a PostgREST stand-in that can be taken down.
type fakeSupabase struct {
	up       atomic.Bool
	mu       sync.Mutex
	received []string
}

func (f *fakeSupabase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.up.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		fmt.Fprint(w, `[{"count":0}]`)
		return
	}
	var rows []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.received = append(f.received, rows[0]["numero"].(string))
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rows)
}

func (f *fakeSupabase) numbers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestOfflineOrderFlow verifies an order taken while offline survives a
// restart and is delivered once connectivity returns.
func TestOfflineOrderFlow(t *testing.T) {
	origin := newOrigin(t)
	supabase := &fakeSupabase{}
	remoteSrv := httptest.NewServer(supabase)
	defer remoteSrv.Close()

	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := fmt.Sprintf(`server:
  origin: %q
data:
  dir: %q
remote:
  url: %q
  anon_key: test-anon-key
worker:
  generation: mare-offline
  manifest: ["/", "/index.html", "/productos.json"]
monitor:
  initial_online: false
  interval: 1h
`, origin.URL, dataDir, remoteSrv.URL)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	settings, err := conf.Load(cfgPath, filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	ctx := context.Background()

	t.Run("SubmitWhileOffline", func(t *testing.T) {
		a, err := newApp(settings)
		if err != nil {
			t.Fatalf("newApp() error = %v", err)
		}
		defer a.Close()
		if _, err := a.installWorker(ctx); err != nil {
			t.Fatalf("installWorker() error = %v", err)
		}
		srv := httptest.NewServer(newServer(a))
		defer srv.Close()

		order := `{"numero":"CAT-700001","cliente_nombre":"Almacén Norte",
			"productos":[{"codigo":"TR-9","surtido":24}],"total":48000}`
		resp, err := http.Post(srv.URL+"/api/orders", "application/json", strings.NewReader(order))
		if err != nil {
			t.Fatalf("POST /api/orders error = %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202 (%s)", resp.StatusCode, body)
		}
		if len(supabase.numbers()) != 0 {
			t.Error("Offline submit must not reach the remote service")
		}
	})

	t.Run("QueueSurvivesRestart", func(t *testing.T) {
		a, err := newApp(settings)
		if err != nil {
			t.Fatalf("newApp() error = %v", err)
		}
		defer a.Close()

		pending, err := a.queue.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending() error = %v", err)
		}
		if len(pending) != 1 || pending[0].Order.Number != "CAT-700001" {
			t.Fatalf("pending = %+v, want CAT-700001", pending)
		}
		if pending[0].Order.Origin != "catalogo_web" {
			t.Errorf("Origin = %q, want catalogo_web", pending[0].Order.Origin)
		}
	})

	t.Run("DrainOnReconnect", func(t *testing.T) {
		a, err := newApp(settings)
		if err != nil {
			t.Fatalf("newApp() error = %v", err)
		}
		defer a.Close()
		if _, err := a.installWorker(ctx); err != nil {
			t.Fatalf("installWorker() error = %v", err)
		}
		srv := httptest.NewServer(newServer(a))
		defer srv.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		defer conn.Close()
		waitFor(t, "client registration", func() bool { return a.hub.Clients() == 1 })

		stop := a.monitor.Start(ctx)
		defer stop()
		waitFor(t, "failed start probe", func() bool { return a.monitor.GetStatus().ProbeFailed })
		if n, _ := a.queue.PendingCount(ctx); n != 1 {
			t.Fatalf("PendingCount() = %d before reconnect, want 1", n)
		}

		supabase.up.Store(true)
		resp, err := http.Post(srv.URL+"/api/connectivity", "application/json", strings.NewReader(`{"online":true}`))
		if err != nil {
			t.Fatalf("POST /api/connectivity error = %v", err)
		}
		resp.Body.Close()

		waitFor(t, "delivery", func() bool { return len(supabase.numbers()) == 1 })
		if got := supabase.numbers()[0]; got != "CAT-700001" {
			t.Errorf("delivered %q, want CAT-700001", got)
		}

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event Envelope
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if event.Type != "orders.synced" {
			t.Errorf("event = %q, want orders.synced", event.Type)
		}
		waitFor(t, "empty queue", func() bool {
			n, _ := a.queue.PendingCount(ctx)
			return n == 0
		})
	})

	t.Run("CatalogServedWhenOriginDown", func(t *testing.T) {
		a, err := newApp(settings)
		if err != nil {
			t.Fatalf("newApp() error = %v", err)
		}
		defer a.Close()
		if _, err := a.installWorker(ctx); err != nil {
			t.Fatalf("installWorker() error = %v", err)
		}
		a.tracker.Report(netstate.EventOnline)
		srv := httptest.NewServer(newServer(a))
		defer srv.Close()

		get := func() string {
			resp, err := http.Get(srv.URL + "/productos.json")
			if err != nil {
				t.Fatalf("GET /productos.json error = %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return string(body)
		}
		fresh := get()
		a.registry.Active().WaitIdle()

		origin.Close()
		if got := get(); got != fresh {
			t.Errorf("offline catalog = %q, want cached %q", got, fresh)
		}
	})
}
