package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const defaultSessionIdleTTL = 6 * time.Hour

type sessionSlot struct {
	// lock is a one-slot semaphore so Acquire can honor ctx cancellation.
	lock    chan struct{}
	session *domain.Session
	users   int
}

// MemorySessionStore keeps one session per chat and serializes turns of the
// same chat. Distinct chats never contend.
type MemorySessionStore struct {
	mu      sync.Mutex
	slots   map[int64]*sessionSlot
	idleTTL time.Duration
	now     func() time.Time
}

func NewMemorySessionStore(idleTTL time.Duration) *MemorySessionStore {
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}
	return &MemorySessionStore{
		slots:   make(map[int64]*sessionSlot),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func newSessionID() string {
	return uuid.NewString()[:8]
}

// Acquire returns the chat's session, creating it on first contact, and
// blocks while another turn of the same chat holds it.
func (s *MemorySessionStore) Acquire(ctx context.Context, chatID int64) (*domain.Session, func(), error) {
	s.mu.Lock()
	slot, ok := s.slots[chatID]
	if !ok {
		slot = &sessionSlot{
			lock:    make(chan struct{}, 1),
			session: domain.NewSession(chatID, newSessionID(), s.now()),
		}
		s.slots[chatID] = slot
	}
	slot.users++
	s.mu.Unlock()

	select {
	case slot.lock <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		slot.users--
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("acquire session %d: %w", chatID, ctx.Err())
	}

	// Reset may swap slot.session at any time; hand out and touch the
	// pointer read under s.mu once the slot is held.
	s.mu.Lock()
	session := slot.session
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			session.LastActive = s.now()
			slot.users--
			s.mu.Unlock()
			<-slot.lock
		})
	}
	return session, release, nil
}

// Reset discards the chat's session; the next Acquire starts a fresh one.
// A turn currently holding the old session keeps it until release.
func (s *MemorySessionStore) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[chatID]
	if !ok {
		return
	}
	if slot.users > 0 {
		slot.session = domain.NewSession(chatID, newSessionID(), s.now())
		return
	}
	delete(s.slots, chatID)
}

// EvictIdle drops sessions untouched for longer than the idle TTL and
// returns how many were removed.
func (s *MemorySessionStore) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for chatID, slot := range s.slots {
		if slot.users > 0 {
			continue
		}
		if slot.session.LastActive.Before(cutoff) {
			delete(s.slots, chatID)
			removed++
		}
	}
	return removed
}

// RunEviction evicts idle sessions periodically until ctx is done.
func (s *MemorySessionStore) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}

func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
