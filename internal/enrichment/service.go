// Package enrichment scores and translates chat messages after they have
// been broadcast. Results patch the stored message and are announced with a
// supplementary event; they never delay or reorder the original broadcast.
package enrichment

import (
	"context"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/domain"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/jobs"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/repository"
)

type Enricher interface {
	Enrich(ctx context.Context, m *domain.ChatMessage) (domain.Enrichment, error)
}

type Service struct {
	enricher Enricher
	store    repository.RoomStore
	hub      *hub.Hub
	emitter  *events.Emitter
	queue    *jobs.Queue
	log      *zap.SugaredLogger
}

func NewService(e Enricher, store repository.RoomStore, h *hub.Hub, em *events.Emitter, q *jobs.Queue, log *zap.SugaredLogger) *Service {
	return &Service{enricher: e, store: store, hub: h, emitter: em, queue: q, log: log}
}

func enrichable(m *domain.ChatMessage) bool {
	switch m.Type {
	case domain.MessageText, domain.MessageHTML:
		return m.Content != ""
	}
	return false
}

// Enqueue schedules enrichment of m. It never blocks.
func (s *Service) Enqueue(m *domain.ChatMessage) {
	if !enrichable(m) {
		return
	}
	msg := *m
	s.queue.Submit("enrich", func(ctx context.Context) error {
		return s.run(ctx, &msg)
	})
}

func (s *Service) run(ctx context.Context, m *domain.ChatMessage) error {
	result, err := s.enricher.Enrich(ctx, m)
	if result.Empty() {
		return err
	}
	if perr := s.store.ApplyEnrichment(ctx, m.ID, result); perr != nil {
		s.log.Warnw("apply enrichment", "message_id", m.ID, "room_id", m.RoomID, "error", perr)
		return perr
	}
	payload := protocol.MessageEnriched{
		MessageID:    m.ID,
		RoomID:       m.RoomID,
		Sentiment:    result.Sentiment,
		Translations: result.Translations,
	}
	s.hub.ToRoom(m.RoomID, protocol.EventMessageEnriched, payload)
	s.emitter.Emit(events.MessageEnriched, m.RoomID, payload)
	// partial results were applied; remaining failures are only logged
	return err
}
