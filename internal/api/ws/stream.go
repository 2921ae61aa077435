package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/api/auth"
)

// subscribeMessage is the single client->server message the stream
// accepts: {"type": "subscribe", "event_types": [...], "geo_bounds": {...}}.
type subscribeMessage struct {
	Type       string     `json:"type"`
	EventTypes []string   `json:"event_types,omitempty"`
	GeoBounds  *GeoBounds `json:"geo_bounds,omitempty"`
}

// StreamHandler upgrades GET /api/v1/stream to a WebSocket and pumps
// hub-matched events to the client until it disconnects.
type StreamHandler struct {
	hub    *Hub
	auth   *auth.Authenticator
	logger *slog.Logger

	upgrader websocket.Upgrader
}

func NewStreamHandler(hub *Hub, authn *auth.Authenticator, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		auth:   authn,
		logger: logger.With("component", "ws.stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.auth.Inspect(r.URL.Query().Get("token"))
	if !ok || !identity.Has(auth.RoleRead) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var sub subscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}

	c := h.hub.subscribe(Subscription{EventTypes: sub.EventTypes, GeoBounds: sub.GeoBounds})
	defer h.hub.unsubscribe(c)

	for {
		select {
		case <-r.Context().Done():
			return
		case result, ok := <-c.out:
			if !ok {
				return
			}
			data, err := marshalResult(result)
			if err != nil {
				h.logger.Error("failed to marshal ws event", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws send failed", "error", err)
				return
			}
		}
	}
}

type wireEvent struct {
	UID      string  `json:"uid"`
	Type     string  `json:"type"`
	Callsign string  `json:"callsign,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Decision string  `json:"decision"`
}

func marshalResult(r aggregator.Result) ([]byte, error) {
	return json.Marshal(wireEvent{
		UID:      r.Event.UID,
		Type:     r.Event.Type,
		Callsign: r.Event.Callsign,
		Lat:      r.Event.Lat,
		Lon:      r.Event.Lon,
		Decision: r.Decision.String(),
	})
}
