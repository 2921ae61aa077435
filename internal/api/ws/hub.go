// Package ws implements the live CoT event stream endpoint: a WebSocket
// upgrade followed by an upgrade-then-pump loop, the same shape as the
// teacher's ws/delivery.go, generalized from one user's mailbox to a
// broadcast hub with per-client subscription filters.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/takrelay/aggregator/internal/aggregator"
)

// Subscription narrows which results a client receives: empty EventTypes
// matches any type, and a nil GeoBounds matches any location.
type Subscription struct {
	EventTypes []string
	GeoBounds  *GeoBounds
}

type GeoBounds struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

func (s Subscription) matches(r aggregator.Result) bool {
	if len(s.EventTypes) > 0 {
		ok := false
		for _, t := range s.EventTypes {
			if t == r.Event.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if s.GeoBounds != nil {
		if !r.Event.HasLatLon {
			return false
		}
		b := s.GeoBounds
		if r.Event.Lat < b.MinLat || r.Event.Lat > b.MaxLat || r.Event.Lon < b.MinLon || r.Event.Lon > b.MaxLon {
			return false
		}
	}
	return true
}

type client struct {
	sub Subscription
	out chan aggregator.Result
}

// Hub fans the aggregator's broadcast tee out to every subscribed client,
// applying each client's own subscription filter.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With("component", "ws.hub"),
	}
}

// Run drains the aggregator's broadcast channel until ctx is cancelled,
// fanning each result out to every client whose subscription matches.
func (h *Hub) Run(ctx context.Context, in <-chan aggregator.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			h.fanOut(r)
		}
	}
}

func (h *Hub) fanOut(r aggregator.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.sub.matches(r) {
			continue
		}
		select {
		case c.out <- r:
		default:
			h.logger.Debug("dropping event for slow ws client")
		}
	}
}

func (h *Hub) subscribe(sub Subscription) *client {
	c := &client{sub: sub, out: make(chan aggregator.Result, 128)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.out)
}
