package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"hostbridge/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Host     HostStatus    `json:"host"`
	Peers    PeerStatus    `json:"peers"`
	Requests RequestStatus `json:"requests"`
}

// HostStatus holds host overview info.
type HostStatus struct {
	Name          string `json:"name"`
	FrameContext  string `json:"frame_context"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// PeerStatus holds peer counts.
type PeerStatus struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// RequestStatus holds request counters.
type RequestStatus struct {
	Handled int64 `json:"handled"`
	Failed  int64 `json:"failed"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	RequestsHandled atomic.Int64
	RequestsFailed  atomic.Int64
	PeersConnected  atomic.Int64
	EventsSent      atomic.Int64
}

// Observe keeps m current from bus events. Returns an unsubscribe function.
func (m *Metrics) Observe(bus domain.EventBus) func() {
	return bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventRequestHandled:
			m.RequestsHandled.Add(1)
		case domain.EventRequestFailed:
			m.RequestsFailed.Add(1)
		case domain.EventPeerConnected:
			m.PeersConnected.Add(1)
		case domain.EventHostEvent:
			m.EventsSent.Add(1)
		}
	})
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(shell *Shell, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cfg := shell.Config()
		resp := StatusResponse{
			Host: HostStatus{
				Name:          cfg.HostName,
				FrameContext:  string(cfg.FrameContext),
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Peers: PeerStatus{
				Active: len(shell.Peers()),
				Total:  shell.PeersTotal(),
			},
			Requests: RequestStatus{
				Handled: metrics.RequestsHandled.Load(),
				Failed:  metrics.RequestsFailed.Load(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(shell *Shell, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP hostbridge_peers_active Number of connected peers.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_peers_active gauge\n")
		fmt.Fprintf(w, "hostbridge_peers_active %d\n", len(shell.Peers()))

		fmt.Fprintf(w, "# HELP hostbridge_peers_connected_total Total peer connections.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_peers_connected_total counter\n")
		fmt.Fprintf(w, "hostbridge_peers_connected_total %d\n", metrics.PeersConnected.Load())

		fmt.Fprintf(w, "# HELP hostbridge_requests_handled_total Requests answered successfully.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_requests_handled_total counter\n")
		fmt.Fprintf(w, "hostbridge_requests_handled_total %d\n", metrics.RequestsHandled.Load())

		fmt.Fprintf(w, "# HELP hostbridge_requests_failed_total Requests answered with an error.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_requests_failed_total counter\n")
		fmt.Fprintf(w, "hostbridge_requests_failed_total %d\n", metrics.RequestsFailed.Load())

		fmt.Fprintf(w, "# HELP hostbridge_events_sent_total Host event broadcasts.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_events_sent_total counter\n")
		fmt.Fprintf(w, "hostbridge_events_sent_total %d\n", metrics.EventsSent.Load())

		fmt.Fprintf(w, "# HELP hostbridge_uptime_seconds Seconds since the host started.\n")
		fmt.Fprintf(w, "# TYPE hostbridge_uptime_seconds gauge\n")
		fmt.Fprintf(w, "hostbridge_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())
	}
}

// JournalReader lists recorded requests.
type JournalReader interface {
	Recent(ctx context.Context, fn string, limit int) ([]JournalEntry, error)
}

// JournalHandler serves GET /api/v1/journal?func=&limit= from r.
func JournalHandler(r JournalReader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				http.Error(w, "limit must be within 1..1000", http.StatusBadRequest)
				return
			}
			limit = n
		}
		entries, err := r.Recent(req.Context(), req.URL.Query().Get("func"), limit)
		if err != nil {
			http.Error(w, "journal unavailable", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []JournalEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

// BroadcastRequest is the body of POST /api/v1/broadcast.
type BroadcastRequest struct {
	Func string            `json:"func"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// BroadcastHandler pushes a host event to every connected peer and reports
// how many accepted it. Callers authenticate with "Authorization: Bearer".
func BroadcastHandler(shell *Shell, auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := auth.Authenticate(token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body BroadcastRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes)).Decode(&body); err != nil || body.Func == "" {
			http.Error(w, "body must be {\"func\": ..., \"args\": [...]}", http.StatusBadRequest)
			return
		}
		sent := shell.Broadcast(r.Context(), domain.HostEvent{Func: body.Func, Args: body.Args})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"delivered": sent})
	}
}
