package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/airdrums/internal/engine"
	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/store"
)

type fakeRenderer struct {
	mu   sync.Mutex
	snap engine.Snapshot
	seq  uint64
}

func (f *fakeRenderer) publish(snap engine.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	f.seq++
}

func (f *fakeRenderer) Snapshot() (engine.Snapshot, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.seq
}

func (f *fakeRenderer) JPEG() ([]byte, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte("\xff\xd8fake\xff\xd9"), f.seq, nil
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})

	t.Run("reports engine phase once rendering", func(t *testing.T) {
		r := &fakeRenderer{}
		r.publish(engine.Snapshot{Session: "abc", Phase: engine.PhaseCalibrating})
		s := New(Config{Snapshots: r})

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["phase"] != "calibrating" || response["session"] != "abc" {
			t.Errorf("unexpected health response: %v", response)
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	// Create a temporary directory with a static file
	tmpDir, err := os.MkdirTemp("", "airdrums-server-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// Create a test HTML file
	testContent := "<html><body>Hello, World!</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	// Create a CSS file for testing direct file access
	cssContent := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != cssContent {
			t.Errorf("expected body %q, got %q", cssContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_StoreRoutes(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()
	if err := st.Sessions().Start("s1", time.Now()); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(New(Config{
		Store: st,
		Zones: []engine.ZoneView{{Name: "snare", Instrument: "snare", Shape: "circle"}},
	}))
	defer ts.Close()

	for _, path := range []string{"/api/zones", "/api/models", "/api/sessions", "/api/sessions/s1", "/api/sessions/s1/hits"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestServer_NoStoreRoutes(t *testing.T) {
	s := New(Config{})
	for _, path := range []string{"/api/models", "/api/sessions", "/api/stream", "/api/state"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestStreamHandler(t *testing.T) {
	r := &fakeRenderer{}
	r.publish(engine.Snapshot{})

	ts := httptest.NewServer(NewStreamHandler(r, 10*time.Millisecond))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("unexpected Content-Type %q", ct)
	}

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read boundary: %v", err)
	}
	if line != "--frame\r\n" {
		t.Errorf("expected boundary, got %q", line)
	}
	header, _ := br.ReadString('\n')
	if header != "Content-Type: image/jpeg\r\n" {
		t.Errorf("expected part header, got %q", header)
	}
	length, _ := br.ReadString('\n')
	if length != "Content-Length: 8\r\n" {
		t.Errorf("expected content length, got %q", length)
	}
	br.ReadString('\n')
	body := make([]byte, 8)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(body) != "\xff\xd8fake\xff\xd9" {
		t.Errorf("unexpected frame bytes %q", body)
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(&fakeRenderer{}, time.Millisecond).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestStateHandler_BroadcastAndKeys(t *testing.T) {
	r := &fakeRenderer{}
	q := input.NewQueue()
	s := New(Config{Snapshots: r, Input: q, Interval: 10 * time.Millisecond})
	ts := httptest.NewServer(s)
	defer ts.Close()
	defer s.state.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/state"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	r.publish(engine.Snapshot{Session: "abc", Phase: engine.PhaseTracking, Frame: 7})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap engine.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Session != "abc" || snap.Frame != 7 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	for _, msg := range []string{`{"key":"n"}`, `{"action":"quit"}`, `{"key":"x"}`, `not json`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for q.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := q.Drain()
	if len(got) != 2 || got[0] != input.Advance || got[1] != input.Quit {
		t.Errorf("expected [advance quit], got %v", got)
	}
}

func TestKeyMessage_Action(t *testing.T) {
	tests := []struct {
		msg  keyMessage
		want input.Action
		ok   bool
	}{
		{keyMessage{Key: "n"}, input.Advance, true},
		{keyMessage{Key: "R"}, input.Reset, true},
		{keyMessage{Key: "+"}, input.Grow, true},
		{keyMessage{Action: "Shrink"}, input.Shrink, true},
		{keyMessage{Key: "nn"}, input.None, false},
		{keyMessage{Action: "dance"}, input.None, false},
		{keyMessage{}, input.None, false},
	}
	for _, tt := range tests {
		got, ok := tt.msg.action()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%+v: got (%v, %v), want (%v, %v)", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		if s == nil {
			t.Fatal("expected non-nil server")
		}

		if s.config.StaticDir != cfg.StaticDir {
			t.Errorf("expected StaticDir %s, got %s", cfg.StaticDir, s.config.StaticDir)
		}
		if s.config.Interval <= 0 {
			t.Error("expected default interval")
		}
	})

	t.Run("server implements http.Handler", func(t *testing.T) {
		s := New(Config{})
		var _ http.Handler = s
	})
}

func TestServer_RunShutsDown(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
