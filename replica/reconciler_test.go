package replica

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

type fakePersister struct {
	mu sync.Mutex

	listOrders []domain.OrderedIDs
	cardOrders []domain.OrderedIDs
	cardMoves  []domain.MovePlan
	fetches    int

	failMoves int
	fetchAgg  *domain.BoardAggregate
}

func (p *fakePersister) PersistListOrder(_ context.Context, _ string, order domain.OrderedIDs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listOrders = append(p.listOrders, order)
	return nil
}

func (p *fakePersister) PersistCardOrder(_ context.Context, _, _ string, order domain.OrderedIDs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cardOrders = append(p.cardOrders, order)
	return nil
}

func (p *fakePersister) PersistCardMove(_ context.Context, _ string, plan domain.MovePlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cardMoves = append(p.cardMoves, plan)
	if len(p.cardMoves) <= p.failMoves {
		return errors.New("persist unavailable")
	}
	return nil
}

func (p *fakePersister) FetchBoard(_ context.Context, _ string) (*domain.BoardAggregate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchAgg == nil {
		return nil, errors.New("board gone")
	}
	return p.fetchAgg, nil
}

func (p *fakePersister) counts() (listOrders, cardOrders, cardMoves, fetches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listOrders), len(p.cardOrders), len(p.cardMoves), p.fetches
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func testReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Timeout:     time.Second,
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestReconcilerPersistsInOrder(t *testing.T) {
	p := &fakePersister{}
	r := NewReconciler(newTestReplica(t), p, "B1", quietLogger(), testReconcilerConfig())
	defer r.Close()

	r.Enqueue(domain.MovePlan{ListOrderIDs: domain.OrderedIDs{"L2", "L1", "L3"}})
	r.Enqueue(domain.MovePlan{
		CardID:             "C1",
		SourceListID:       "L1",
		SourceCardOrderIDs: domain.OrderedIDs{"C2", "C1"},
		TargetListID:       "L1",
		TargetCardOrderIDs: domain.OrderedIDs{"C2", "C1"},
		NewListID:          "L1",
	})

	waitFor(t, func() bool {
		lists, cards, _, _ := p.counts()
		return lists == 1 && cards == 1
	})

	_, _, _, fetches := p.counts()
	if fetches != 0 {
		t.Fatalf("fetches = %d, successful persists must not resync", fetches)
	}
}

func TestReconcilerSkipsNoOpPlans(t *testing.T) {
	p := &fakePersister{}
	r := NewReconciler(newTestReplica(t), p, "B1", quietLogger(), testReconcilerConfig())
	defer r.Close()

	if !r.Enqueue(domain.MovePlan{NoOp: true}) {
		t.Fatal("no-op enqueue should report accepted")
	}
	r.Close()

	lists, cards, moves, _ := p.counts()
	if lists+cards+moves != 0 {
		t.Fatalf("no-op plan reached the persister: %d/%d/%d", lists, cards, moves)
	}
}

func TestReconcilerRetriesThenSucceeds(t *testing.T) {
	p := &fakePersister{failMoves: 2}
	r := NewReconciler(newTestReplica(t), p, "B1", quietLogger(), testReconcilerConfig())
	defer r.Close()

	r.Enqueue(domain.MovePlan{CrossList: true, CardID: "C1"})

	waitFor(t, func() bool {
		_, _, moves, _ := p.counts()
		return moves == 3
	})
	_, _, _, fetches := p.counts()
	if fetches != 0 {
		t.Fatalf("fetches = %d, recovered persist must not resync", fetches)
	}
}

func TestReconcilerResyncsOnceOnTerminalFailure(t *testing.T) {
	fresh := testAggregate()
	fresh.Board.Title = "server truth"
	p := &fakePersister{failMoves: 10, fetchAgg: fresh}

	replica := newTestReplica(t)
	r := NewReconciler(replica, p, "B1", quietLogger(), testReconcilerConfig())
	defer r.Close()

	r.Enqueue(domain.MovePlan{CrossList: true, CardID: "C1"})

	waitFor(t, func() bool {
		_, _, _, fetches := p.counts()
		return fetches == 1
	})
	_, _, moves, fetches := p.counts()
	if moves != 3 {
		t.Fatalf("attempts = %d, want 3", moves)
	}
	if fetches != 1 {
		t.Fatalf("fetches = %d, want exactly one resync", fetches)
	}
	if got := replica.Snapshot().Board.Title; got != "server truth" {
		t.Fatalf("replica title = %q, resync did not replace state", got)
	}
}

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 400 * time.Millisecond

	prevCeiling := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := exponentialBackoff(attempt, initial, max)
		base := float64(initial) * float64(int(1)<<uint(attempt-1))
		if base > float64(max) {
			base = float64(max)
		}
		lo := time.Duration(base * 0.8)
		hi := time.Duration(base * 1.2)
		if d < lo || d > hi {
			t.Fatalf("attempt %d backoff %v outside [%v, %v]", attempt, d, lo, hi)
		}
		if hi < prevCeiling {
			t.Fatalf("backoff ceiling shrank at attempt %d", attempt)
		}
		prevCeiling = hi
	}
}
