package main

import (
	"bytes"
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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"API_KEY", "METRIC_URL", "SERVER_NAME", "CONTROL_PLANE_HOST",
	"WEBHOOK_URL", "REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		for _, name := range []string{k, "TUNNELWATCH_" + k} {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
}

// gateway serves a fixed client list and records webhook pushes.
type gateway struct {
	mu      sync.Mutex
	status  int
	clients int
	apiKeys []string
	pushes  []int
}

func (g *gateway) setClients(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients = n
}

func (g *gateway) setStatus(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = code
}

func (g *gateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/clients", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.apiKeys = append(g.apiKeys, r.Header.Get("X-API-KEY"))
		if g.status != 0 {
			w.WriteHeader(g.status)
			return
		}
		fmt.Fprintf(w, `{"totalCount": %d}`, g.clients)
	})
	mux.HandleFunc("/v1/webhooks/udm/clients", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ClientCount int `json:"clientCount"`
		}
		if r.Method != http.MethodPut || json.NewDecoder(r.Body).Decode(&body) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.pushes = append(g.pushes, body.ClientCount)
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (g *gateway) recordedPushes() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.pushes...)
}

func (g *gateway) recordedKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.apiKeys...)
}

type fixture struct {
	dir     string
	config  string
	gateway *gateway
	server  *httptest.Server
}

// newFixture writes scripts that append "<state> $SERVER_NAME $API_HOST" to actions.log.
func newFixture(t *testing.T, clients int) *fixture {
	t.Helper()
	clearEnv(t)

	f := &fixture{dir: t.TempDir(), gateway: &gateway{clients: clients}}
	f.server = httptest.NewServer(f.gateway.handler())
	t.Cleanup(f.server.Close)

	for _, name := range []string{"up", "down"} {
		script := fmt.Sprintf("#!/bin/sh\necho \"%s $SERVER_NAME $API_HOST\" >> actions.log\n", strings.ToUpper(name))
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, name+".sh"), []byte(script), 0o755))
	}

	cfg := fmt.Sprintf(`
threshold: 30
server_name: edge-1
metric:
  url: %[1]s/clients
  api_key: secret
  timeout: 2s
webhook:
  url: %[1]s/v1/webhooks/udm/clients
  timeout: 2s
control_plane:
  host: %[1]s
actions:
  timeout: 5s
  up: [/bin/sh, up.sh]
  down: [/bin/sh, down.sh]
  dir: %[2]s
files:
  task_record: %[2]s/last_task.json
  status: %[2]s/udm_status.json
log:
  level: debug
`, f.server.URL, f.dir)
	f.config = filepath.Join(f.dir, "tunnelwatch.yaml")
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func (f *fixture) runOnce(t *testing.T) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-once", f.config}, &stdout, &stderr)
	return code, stderr.String()
}

func (f *fixture) actions(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, "actions.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (f *fixture) readJSON(t *testing.T, name string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestOnceStartsTunnelAboveThreshold(t *testing.T) {
	f := newFixture(t, 45)

	code, logs := f.runOnce(t)
	require.Equal(t, 0, code, logs)

	assert.Equal(t, []string{"UP edge-1 " + f.server.URL}, f.actions(t))
	assert.Equal(t, []int{45}, f.gateway.recordedPushes())
	assert.Equal(t, []string{"secret"}, f.gateway.recordedKeys())

	task := f.readJSON(t, "last_task.json")
	assert.Equal(t, "UP", task["state"])
	assert.Equal(t, float64(45), task["client_count"])

	st := f.readJSON(t, "udm_status.json")
	assert.Equal(t, float64(45), st["client_count"])
	assert.Equal(t, float64(30), st["threshold"])
	assert.Equal(t, "UP", st["last_state"])

	assert.Contains(t, logs, `"message":"config loaded"`)
	assert.Contains(t, logs, `"message":"state changed"`)
}

func TestOnceRestartInsideWindowIsDebounced(t *testing.T) {
	f := newFixture(t, 45)

	code, logs := f.runOnce(t)
	require.Equal(t, 0, code, logs)
	code, logs = f.runOnce(t)
	require.Equal(t, 0, code, logs)

	assert.Len(t, f.actions(t), 1)
	assert.Contains(t, logs, "trigger suppressed by debounce window")
	assert.Equal(t, "UP", f.readJSON(t, "udm_status.json")["last_state"])
	assert.Contains(t, logs, `"message":"previous task record found"`)
}

func TestOnceOppositeStateIsNotDebounced(t *testing.T) {
	f := newFixture(t, 45)

	code, logs := f.runOnce(t)
	require.Equal(t, 0, code, logs)
	f.gateway.setClients(3)
	code, logs = f.runOnce(t)
	require.Equal(t, 0, code, logs)

	assert.Equal(t, []string{
		"UP edge-1 " + f.server.URL,
		"DOWN edge-1 " + f.server.URL,
	}, f.actions(t))
	assert.Equal(t, "DOWN", f.readJSON(t, "last_task.json")["state"])
}

func TestOnceFetchFailureCountsAsZero(t *testing.T) {
	f := newFixture(t, 45)
	f.gateway.setStatus(http.StatusServiceUnavailable)

	code, logs := f.runOnce(t)
	require.Equal(t, 0, code, logs)

	assert.Equal(t, []string{"DOWN edge-1 " + f.server.URL}, f.actions(t))
	assert.Equal(t, []int{0}, f.gateway.recordedPushes())
	assert.Equal(t, float64(0), f.readJSON(t, "udm_status.json")["client_count"])
	assert.Contains(t, logs, "metric fetch failed")
}

func TestOnceFailingActionLeavesNoTaskRecord(t *testing.T) {
	f := newFixture(t, 45)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "up.sh"), []byte("#!/bin/sh\nexit 3\n"), 0o755))

	code, logs := f.runOnce(t)
	require.Equal(t, 0, code, logs)

	_, err := os.Stat(filepath.Join(f.dir, "last_task.json"))
	assert.True(t, os.IsNotExist(err), "task record must not be written for a failed action")
	st := f.readJSON(t, "udm_status.json")
	v, present := st["last_state"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Contains(t, logs, "action failed")
}

func TestOnceStatusWriteFailureExitsNonZero(t *testing.T) {
	f := newFixture(t, 10)
	cfg, err := os.ReadFile(f.config)
	require.NoError(t, err)
	broken := strings.Replace(string(cfg), f.dir+"/udm_status.json", f.dir+"/missing/udm_status.json", 1)
	require.NoError(t, os.WriteFile(f.config, []byte(broken), 0o644))

	code, logs := f.runOnce(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, logs, "publish status")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 45)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stderr bytes.Buffer
	var mu sync.Mutex
	done := make(chan int, 1)
	go func() {
		code := run(ctx, []string{"-interval", "1h", f.config}, io.Discard, &lockedWriter{mu: &mu, w: &stderr})
		done <- code
	}()

	statusPath := filepath.Join(f.dir, "udm_status.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(statusPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, stderr.String(), "control loop stopped")
	assert.Len(t, f.actions(t), 1)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
