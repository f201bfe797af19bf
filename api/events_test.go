package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/domain"
)

type eventStore struct {
	mockStore
	mu       sync.Mutex
	batches  [][]domain.BoardEvent
	received chan struct{}
}

func newEventStore() *eventStore {
	return &eventStore{received: make(chan struct{}, 16)}
}

func (s *eventStore) EnqueueBoardEvents(_ context.Context, _ string, events []domain.BoardEvent) error {
	s.mu.Lock()
	s.batches = append(s.batches, events)
	s.mu.Unlock()
	s.received <- struct{}{}
	return nil
}

func (s *eventStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestEventSenderDeliversAsync(t *testing.T) {
	t.Cleanup(shutdownEventSender)
	shutdownEventSender()

	logger, _ := test.NewNullLogger()
	store := newEventStore()
	initEventSender(store, logger)

	publishEvents("user1", domain.BoardEvent{
		ID:      "k1",
		BoardID: "board1",
		Type:    domain.EventCardMoved,
	})

	select {
	case <-store.received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected event delivery")
	}
	if store.batchCount() != 1 {
		t.Fatalf("expected 1 batch, got %d", store.batchCount())
	}
	store.mu.Lock()
	batch := store.batches[0]
	store.mu.Unlock()
	if len(batch) != 1 || batch[0].BoardID != "board1" || batch[0].Type != domain.EventCardMoved {
		t.Fatalf("unexpected batch: %#v", batch)
	}
}

func TestTryEnqueueEventJobWithoutWorkers(t *testing.T) {
	t.Cleanup(shutdownEventSender)
	shutdownEventSender()

	if tryEnqueueEventJob(eventJob{userID: "u"}) {
		t.Fatal("expected enqueue to fail without a running sender")
	}
}

func TestPublishEventsEmptyIsNoop(t *testing.T) {
	t.Cleanup(shutdownEventSender)
	shutdownEventSender()

	logger, _ := test.NewNullLogger()
	store := newEventStore()
	initEventSender(store, logger)

	publishEvents("user1")

	select {
	case <-store.received:
		t.Fatal("expected no delivery for empty event slice")
	case <-time.After(50 * time.Millisecond):
	}
}
