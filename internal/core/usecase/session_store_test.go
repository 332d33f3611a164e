package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func TestSessionStoreCreatesOnFirstContact(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)

	session, release, err := store.Acquire(context.Background(), 42)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if session.ChatID != 42 || len(session.ID) != 8 {
		t.Fatalf("unexpected session: chat=%d id=%q", session.ChatID, session.ID)
	}
	session.Append(userMessage("oi"))
	release()

	again, release2, err := store.Acquire(context.Background(), 42)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release2()
	if again != session || len(again.Messages) != 1 {
		t.Fatalf("expected the same session to be returned")
	}
}

func TestSessionStoreSerializesSameChat(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	_, release, err := store.Acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := store.Acquire(ctx, 7); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire() error = %v, want deadline exceeded", err)
	}

	other, releaseOther, err := store.Acquire(context.Background(), 8)
	if err != nil || other.ChatID != 8 {
		t.Fatalf("distinct chat must not block: %v", err)
	}
	releaseOther()

	release()
	release() // idempotent
	_, release3, err := store.Acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release3()
}

func TestSessionStoreResetStartsFresh(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	first, release, _ := store.Acquire(context.Background(), 1)
	first.RestaurantID = 9
	release()

	store.Reset(1)

	second, release2, _ := store.Acquire(context.Background(), 1)
	defer release2()
	if second == first || second.RestaurantID != 0 {
		t.Fatalf("Reset() must discard the previous session")
	}
}

func TestSessionStoreEvictsIdle(t *testing.T) {
	store := NewMemorySessionStore(time.Minute)
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	_, release, _ := store.Acquire(context.Background(), 1)
	release()
	_, holding, _ := store.Acquire(context.Background(), 2)

	current = current.Add(2 * time.Minute)
	if removed := store.EvictIdle(); removed != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", removed)
	}
	holding()
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestSessionStoreResetWhileHeld(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	held, release, err := store.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	held.RestaurantID = 9

	waiting := make(chan *domain.Session, 1)
	go func() {
		session, releaseNext, err := store.Acquire(context.Background(), 1)
		if err != nil {
			waiting <- nil
			return
		}
		waiting <- session
		releaseNext()
	}()

	store.Reset(1)
	current = current.Add(time.Minute)
	release()

	next := <-waiting
	if next == nil || next == held || next.RestaurantID != 0 {
		t.Fatalf("waiter must get the fresh session, got %+v", next)
	}
	if !held.LastActive.Equal(current) {
		t.Fatalf("release must touch the session it handed out, LastActive = %v", held.LastActive)
	}
}

func TestSessionStoreResetRacesWithAcquire(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			session, release, err := store.Acquire(context.Background(), 1)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			session.Append(userMessage("oi"))
			release()
		}()
		go func() {
			defer wg.Done()
			store.Reset(1)
		}()
	}
	wg.Wait()
}
