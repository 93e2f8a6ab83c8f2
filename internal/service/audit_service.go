package service

import (
	"context"
	"sync"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"

	"github.com/rs/zerolog"
)

const (
	auditWriteTimeout = 5 * time.Second
	auditQueueSize    = 256
)

// AuditService writes audit entries off the request path through a bounded
// queue drained by one goroutine. Entries are logged even when the queue is
// full or no repository is configured, so nothing is lost silently.
type AuditService struct {
	repo  ports.AuditRepository
	log   zerolog.Logger
	queue chan *domain.AuditLog

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ ports.AuditService = (*AuditService)(nil)

// NewAuditService starts the writer. repo may be nil.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	s := &AuditService{
		repo:  repo,
		log:   log,
		queue: make(chan *domain.AuditLog, auditQueueSize),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

// Log enqueues entry. The request context is only used for its values; a
// cancelled request still gets audited.
func (s *AuditService) Log(_ context.Context, entry *domain.AuditLog) {
	ev := s.log.Info().
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("ip", entry.IPAddress)
	if entry.ActorID != nil {
		ev = ev.Stringer("actor_id", entry.ActorID)
	}
	ev.Msg("audit")

	if s.repo == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn().Str("action", string(entry.Action)).Msg("audit writer closed, entry not persisted")
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.log.Error().Str("action", string(entry.Action)).Msg("audit queue full, entry not persisted")
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (s *AuditService) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *AuditService) drain() {
	defer close(s.done)
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
		cancel()
	}
}
