package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

// SnapshotSource is the read side of state.Store.
type SnapshotSource interface {
	GetSnapshot() state.Snapshot
}

// Server exposes Prometheus-style metrics and a JSON status view of the loop.
type Server struct {
	store SnapshotSource
}

// NewServer constructs a metrics server.
func NewServer(store SnapshotSource) *Server {
	return &Server{store: store}
}

// Handler returns the router serving /metrics, /status and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/metrics", s.serveMetrics)
	r.Get("/status", s.serveStatus)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	writeMetrics(bw, s.store.GetSnapshot())
}

var states = []state.DesiredState{state.StateUnknown, state.StateUp, state.StateDown}

func writeMetrics(w *bufio.Writer, snap state.Snapshot) {
	fmt.Fprintf(w, "tunnelwatch_info{server=\"%s\"} 1\n", escapeLabel(snap.ServerName))
	fmt.Fprintf(w, "tunnelwatch_client_count %d\n", snap.ClientCount)
	fmt.Fprintf(w, "tunnelwatch_threshold %d\n", snap.Threshold)

	for _, st := range states {
		fmt.Fprintf(w, "tunnelwatch_state{state=%q} %d\n", st.String(), boolGauge(snap.LastState == st))
	}
	for _, st := range states {
		fmt.Fprintf(w, "tunnelwatch_desired_state{state=%q} %d\n", st.String(), boolGauge(snap.Desired == st))
	}
	fmt.Fprintf(w, "tunnelwatch_suppressed %d\n", boolGauge(snap.Suppressed))

	fmt.Fprintf(w, "tunnelwatch_iterations_total %d\n", snap.Iterations)
	fmt.Fprintf(w, "tunnelwatch_fetch_failures_total %d\n", snap.FetchFailures)
	fmt.Fprintf(w, "tunnelwatch_mirror_failures_total %d\n", snap.MirrorFailures)
	fmt.Fprintf(w, "tunnelwatch_suppressions_total %d\n", snap.Suppressions)
	fmt.Fprintf(w, "tunnelwatch_loop_errors_total %d\n", snap.LoopErrors)

	writeActionCounters(w, snap.Actions)

	if !snap.IterationAt.IsZero() {
		fmt.Fprintf(w, "tunnelwatch_last_iteration_timestamp_seconds %d\n", snap.IterationAt.Unix())
	}
	if !snap.NextCheckAt.IsZero() {
		fmt.Fprintf(w, "tunnelwatch_next_check_timestamp_seconds %d\n", snap.NextCheckAt.Unix())
	}
	if snap.LastAction != nil {
		fmt.Fprintf(w, "tunnelwatch_last_action_duration_seconds %.3f\n", snap.LastAction.Duration.Seconds())
	}
}

// writeActionCounters emits every state/result pair so the series exist from startup.
func writeActionCounters(w *bufio.Writer, actions map[state.ActionKey]uint64) {
	for _, st := range []state.DesiredState{state.StateUp, state.StateDown} {
		for _, success := range []bool{true, false} {
			result := "failure"
			if success {
				result = "success"
			}
			fmt.Fprintf(w, "tunnelwatch_actions_total{state=%q,result=%q} %d\n",
				st.String(), result, actions[state.ActionKey{State: st, Success: success}])
		}
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

type actionView struct {
	State    string  `json:"state"`
	RunID    string  `json:"run_id"`
	Success  bool    `json:"success"`
	ExitCode int     `json:"exit_code"`
	Error    string  `json:"error,omitempty"`
	At       string  `json:"at"`
	Duration float64 `json:"duration_seconds"`
}

type statusView struct {
	ServerName    string      `json:"server_name"`
	Threshold     int         `json:"threshold"`
	ClientCount   int         `json:"client_count"`
	FetchError    string      `json:"fetch_error,omitempty"`
	Desired       *string     `json:"desired_state"`
	LastState     *string     `json:"last_state"`
	Suppressed    bool        `json:"suppressed"`
	LastAction    *actionView `json:"last_action,omitempty"`
	LastLoopError string      `json:"last_loop_error,omitempty"`
	IterationAt   string      `json:"iteration_at,omitempty"`
	NextCheckAt   string      `json:"next_check_at,omitempty"`
	Iterations    uint64      `json:"iterations"`
}

func nullableState(s state.DesiredState) *string {
	if !s.Valid() {
		return nil
	}
	v := s.String()
	return &v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func newStatusView(snap state.Snapshot) statusView {
	v := statusView{
		ServerName:    snap.ServerName,
		Threshold:     snap.Threshold,
		ClientCount:   snap.ClientCount,
		FetchError:    snap.FetchError,
		Desired:       nullableState(snap.Desired),
		LastState:     nullableState(snap.LastState),
		Suppressed:    snap.Suppressed,
		LastLoopError: snap.LastLoopError,
		IterationAt:   formatTime(snap.IterationAt),
		NextCheckAt:   formatTime(snap.NextCheckAt),
		Iterations:    snap.Iterations,
	}
	if a := snap.LastAction; a != nil {
		v.LastAction = &actionView{
			State:    a.State.String(),
			RunID:    a.RunID,
			Success:  a.Success,
			ExitCode: a.ExitCode,
			Error:    a.Error,
			At:       formatTime(a.At),
			Duration: a.Duration.Seconds(),
		}
	}
	return v
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(newStatusView(s.store.GetSnapshot()))
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, store SnapshotSource, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           NewServer(store).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
