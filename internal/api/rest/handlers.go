package rest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/cot"
	"github.com/takrelay/aggregator/internal/distributor"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/frame"
	"github.com/takrelay/aggregator/internal/health"
	"github.com/takrelay/aggregator/internal/plugin"
)

type handlers struct {
	pool     connpool.Pool
	runtime  *plugin.Runtime
	snapshot *filter.Snapshot
	monitor  *health.Monitor
	logger   *slog.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.Stats()
	if stats.Total > 0 && stats.Connected == 0 {
		http.Error(w, "no connections ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Pool    connpool.PoolStats `json:"pool"`
	Plugins []plugin.Stats     `json:"plugins"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Pool: h.pool.Stats()}
	if h.runtime != nil {
		resp.Plugins = h.runtime.AllStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

type connectionView struct {
	connpool.Stats
	CircuitState string `json:"circuit_state,omitempty"`
}

func (h *handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.pool.All()
	out := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		out = append(out, h.toView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, ok := h.pool.Connection(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.toView(conn))
}

func (h *handlers) toView(c *connpool.Connection) connectionView {
	v := connectionView{Stats: c.Stats()}
	if h.monitor != nil {
		v.CircuitState = h.monitor.State(c.ID()).String()
	}
	return v
}

func (h *handlers) addConnection(w http.ResponseWriter, r *http.Request) {
	var cfg config.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := h.pool.AddConnection(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) removeConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.pool.RemoveConnection(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendCoT accepts a raw CoT XML body and relays it to every connected or
// reconnecting server. Parsing is forgiving: only a structurally unparsable body is
// rejected, matching internal/cot's "prefer to show data" stance — a
// missing type/time/stale still gets relayed, with warnings logged.
func (h *handlers) sendCoT(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := cot.ParseXML(buf)
	if err != nil {
		http.Error(w, "unparsable CoT event: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, warning := range ev.Warnings {
		h.logger.Warn("cot/send accepted event with warning", "uid", ev.UID, "warning", warning)
	}

	f := frame.Frame{SourceID: "api", Bytes: buf, ReceivedAt: time.Now(), Protocol: frame.ProtocolTCP}
	sent := h.pool.Broadcast(f, distributor.DropOnFull, 0)
	writeJSON(w, http.StatusAccepted, map[string]any{"uid": ev.UID, "relayed_to": sent})
}

func (h *handlers) listPlugins(w http.ResponseWriter, r *http.Request) {
	if h.runtime == nil {
		writeJSON(w, http.StatusOK, []plugin.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.runtime.AllStats())
}

func (h *handlers) pluginHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, ok := h.runtime.Stats(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": stats.Healthy, "enabled": stats.Enabled})
}

func (h *handlers) pluginMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, ok := h.runtime.Stats(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) togglePlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.runtime.Toggle(id, body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) configurePlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.runtime.UpdateConfig(id, cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reloadPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runtime.Reload(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reloadAllPlugins(w http.ResponseWriter, r *http.Request) {
	for _, stats := range h.runtime.AllStats() {
		if err := h.runtime.Reload(r.Context(), stats.ID); err != nil {
			h.logger.Warn("reload-all: plugin reload failed", "plugin_id", stats.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the aggregator's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := takerrors.KindOf(err); ok {
		switch kind {
		case takerrors.KindNotFound:
			status = http.StatusNotFound
		case takerrors.KindAtCapacity:
			status = http.StatusServiceUnavailable
		case takerrors.KindConfig:
			status = http.StatusConflict
		case takerrors.KindTimeout, takerrors.KindCircuitOpen:
			status = http.StatusGatewayTimeout
		}
	}
	http.Error(w, err.Error(), status)
}
