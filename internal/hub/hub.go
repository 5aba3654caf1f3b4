// Package hub fans events out to the live connections of a scope.
package hub

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/registry"
)

func RoomScope(roomID string) string    { return "room:" + roomID }
func DocumentScope(docID string) string { return "doc:" + docID }

type Hub struct {
	reg *registry.Registry
	log *zap.SugaredLogger

	mu sync.RWMutex
	// scope -> set of connection ids
	scopes map[string]map[string]struct{}
}

func New(reg *registry.Registry, log *zap.SugaredLogger) *Hub {
	return &Hub{
		reg:    reg,
		log:    log,
		scopes: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(scope, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.scopes[scope]; !ok {
		h.scopes[scope] = make(map[string]struct{})
	}
	h.scopes[scope][connID] = struct{}{}
}

func (h *Hub) Unsubscribe(scope, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.scopes[scope]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.scopes, scope)
		}
	}
}

// Members returns the connection ids subscribed to scope, sorted.
func (h *Hub) Members(scope string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.scopes[scope]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type options struct {
	except string
}

type Option func(*options)

// Except skips connID when fanning out.
func Except(connID string) Option {
	return func(o *options) { o.except = connID }
}

// ToRoom delivers to every connection live in roomID and returns how many were reached.
func (h *Hub) ToRoom(roomID, event string, data any, opts ...Option) int {
	return h.toScope(RoomScope(roomID), event, data, opts...)
}

func (h *Hub) ToDocument(docID, event string, data any, opts ...Option) int {
	return h.toScope(DocumentScope(docID), event, data, opts...)
}

// ToUser delivers to every connection bound to userID.
func (h *Hub) ToUser(userID, event string, data any) int {
	return h.deliver(h.reg.FindByUser(userID), event, data, options{})
}

func (h *Hub) ToConnection(connID, event string, data any) bool {
	return h.deliver([]string{connID}, event, data, options{}) == 1
}

func (h *Hub) toScope(scope, event string, data any, opts ...Option) int {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	// the target set is fixed here, at call time
	return h.deliver(h.Members(scope), event, data, o)
}

func (h *Hub) deliver(connIDs []string, event string, data any, o options) int {
	if len(connIDs) == 0 {
		return 0
	}
	frame, err := protocol.Encode(event, data)
	if err != nil {
		h.log.Errorw("encode frame", "event", event, "error", err)
		return 0
	}
	sent := 0
	for _, id := range connIDs {
		if id == o.except {
			continue
		}
		s, err := h.reg.Get(id)
		if err != nil {
			continue
		}
		if err := s.Sink().Send(frame); err != nil {
			// a slow consumer must not stay live while missing frames
			metrics.SlowConsumers.Inc()
			h.log.Warnw("closing slow consumer", "connection_id", id, "user_id", s.UserID(), "event", event, "error", err)
			go s.Sink().Close()
			continue
		}
		metrics.FramesSent.WithLabelValues(event).Inc()
		sent++
	}
	return sent
}
