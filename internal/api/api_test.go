package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/micro-nova/tabyctl/internal/api"
	"github.com/micro-nova/tabyctl/internal/config"
	"github.com/micro-nova/tabyctl/internal/console"
	"github.com/micro-nova/tabyctl/internal/controller"
	"github.com/micro-nova/tabyctl/internal/events"
	"github.com/micro-nova/tabyctl/internal/identity"
	"github.com/micro-nova/tabyctl/internal/metrics"
	"github.com/micro-nova/tabyctl/internal/models"
	"github.com/micro-nova/tabyctl/internal/naming"
	"github.com/micro-nova/tabyctl/internal/supervisor"
)

// memWorkers keeps every spawned worker alive until it is stopped.
type memWorkers struct {
	pid   int
	alive map[int]bool
}

func (m *memWorkers) Spawn(context.Context, supervisor.Spec) (int, error) {
	m.pid++
	m.alive[m.pid] = true
	return m.pid, nil
}
func (m *memWorkers) IsAlive(pid int) bool { return m.alive[pid] }
func (m *memWorkers) Stop(_ context.Context, pid int) error {
	m.alive[pid] = false
	return nil
}
func (m *memWorkers) StopAll(ctx context.Context, pids []int) map[int]error {
	for _, pid := range pids {
		_ = m.Stop(ctx, pid)
	}
	return nil
}
func (m *memWorkers) LogPath(id int) string { return fmt.Sprintf("/logs/taby_%d.log", id) }

type testServer struct {
	*httptest.Server
	quit chan struct{}
}

// newTestServer spins up a full router over a running controller loop.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.MaxConcurrent = 1
	cfg.ProbePorts = false
	bus := events.NewBus()
	m := metrics.New()
	ctrl := controller.New(cfg, &memWorkers{alive: map[int]bool{}}, naming.NewResolver(nil),
		controller.WithBus(bus), controller.WithMetrics(m))
	interp := console.New(ctrl, "192.0.2.1", m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()

	ts := &testServer{quit: make(chan struct{}, 1)}
	ts.Server = httptest.NewServer(api.NewRouter(api.Deps{
		Ctrl:     ctrl,
		Commands: interp,
		Events:   bus,
		Metrics:  m,
		Info:     identity.Info{Hostname: "pi", Host: "192.0.2.1", Version: "test"},
		Quit:     func() { ts.quit <- struct{}{} },
	}))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return ts
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *testServer, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

// ─── Status / listing ────────────────────────────────────────────────────────

func TestGetStatus(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/api/status", "")
	requireStatus(t, resp, http.StatusOK)

	var got map[string]any
	decodeJSON(t, resp, &got)
	if got["max_concurrent"] != float64(1) || got["active"] != float64(0) || got["version"] != "test" {
		t.Errorf("status = %v", got)
	}
}

func TestAddListAndQueue(t *testing.T) {
	srv := newTestServer(t)

	for _, u := range []string{"https://a.example/1", "https://a.example/2"} {
		resp := do(t, srv, http.MethodPost, "/api/queue", `{"url":"`+u+`"}`)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := do(t, srv, http.MethodGet, "/api/instances", "")
	requireStatus(t, resp, http.StatusOK)
	var insts []map[string]any
	decodeJSON(t, resp, &insts)
	if len(insts) != 1 {
		t.Fatalf("got %d instances, want 1", len(insts))
	}
	if insts[0]["state"] != "Starting" || insts[0]["rtsp_url"] != "rtsp://192.0.2.1:8554/audio" {
		t.Errorf("instance = %v", insts[0])
	}

	resp = do(t, srv, http.MethodGet, "/api/queue", "")
	requireStatus(t, resp, http.StatusOK)
	var queue []models.WorkItem
	decodeJSON(t, resp, &queue)
	if len(queue) != 1 || queue[0].URL != "https://a.example/2" {
		t.Errorf("queue = %v", queue)
	}

	resp = do(t, srv, http.MethodGet, "/api/instances/1", "")
	requireStatus(t, resp, http.StatusOK)
	var one map[string]any
	decodeJSON(t, resp, &one)
	if one["http_url"] != "http://192.0.2.1:8080/stream.ogg" || one["log_path"] != "/logs/taby_1.log" {
		t.Errorf("instance 1 = %v", one)
	}
}

func TestEmptyQueueIsArray(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/api/queue", "")
	requireStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

func TestExecCommand(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/commands", `{"cmd":"add https://a.example/1"}`)
	requireStatus(t, resp, http.StatusOK)
	var out struct{ Command, Output string }
	decodeJSON(t, resp, &out)
	if out.Command != "add" || !strings.Contains(out.Output, "Started instance 1") {
		t.Errorf("response = %+v", out)
	}

	resp = do(t, srv, http.MethodPost, "/api/instances/1/stop", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, srv, http.MethodPost, "/api/commands", `{"cmd":"status"}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &out)
	if out.Output != "Active: 0/1 | Queue: 0" {
		t.Errorf("status output = %q", out.Output)
	}
}

func TestCommandErrors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"unknown", http.MethodPost, "/api/commands", `{"cmd":"dance"}`, http.StatusBadRequest, "UNKNOWN_COMMAND"},
		{"bad body", http.MethodPost, "/api/commands", `not json`, http.StatusBadRequest, "USAGE"},
		{"stop missing", http.MethodPost, "/api/instances/9/stop", "", http.StatusNotFound, "NOT_FOUND"},
		{"bad id", http.MethodGet, "/api/instances/abc", "", http.StatusBadRequest, "USAGE"},
		{"invalid url", http.MethodPost, "/api/queue", `{"url":"file:///etc/passwd"}`, http.StatusBadRequest, "INVALID_URL"},
		{"get missing", http.MethodGet, "/api/instances/5", "", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, tt.method, tt.path, tt.body)
			requireStatus(t, resp, tt.status)
			var e models.CmdError
			decodeJSON(t, resp, &e)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func TestExitCallsQuit(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodPost, "/api/commands", `{"cmd":"exit"}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	select {
	case <-srv.quit:
	default:
		t.Fatal("exit did not call Quit")
	}
}

// ─── Metrics / SSE ───────────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodPost, "/api/commands", `{"cmd":"list"}`)
	resp.Body.Close()

	resp = do(t, srv, http.MethodGet, "/metrics", "")
	requireStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `taby_commands_total{command="list",result="ok"} 1`) {
		t.Errorf("metrics missing list command:\n%s", body)
	}
}

func TestSSESubscribe(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := make(chan models.Snapshot, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var snap models.Snapshot
			if json.Unmarshal([]byte(line), &snap) == nil {
				events <- snap
			}
		}
	}()

	if first := <-events; first.MaxConcurrent != 1 || first.Active != 0 {
		t.Fatalf("initial snapshot = %+v", first)
	}

	r := do(t, srv, http.MethodPost, "/api/queue", `{"url":"https://a.example/1"}`)
	r.Body.Close()
	if next := <-events; next.Active != 1 || len(next.Instances) != 1 {
		t.Errorf("snapshot after add = %+v", next)
	}
}
