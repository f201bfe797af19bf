package replica

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Persister is the server-facing half of the reconciler.
type Persister interface {
	PersistListOrder(ctx context.Context, boardID string, order domain.OrderedIDs) error
	PersistCardOrder(ctx context.Context, boardID, listID string, order domain.OrderedIDs) error
	PersistCardMove(ctx context.Context, boardID string, plan domain.MovePlan) error
	FetchBoard(ctx context.Context, boardID string) (*domain.BoardAggregate, error)
}

// Reconciler pushes committed plans to the server from a single worker so
// writes stay ordered. Each plan is retried with exponential backoff; when
// a plan is abandoned the replica is force-refetched once so the client
// never keeps diverged state.
type Reconciler struct {
	replica   *Replica
	persister Persister
	boardID   string
	logger    *log.Logger

	timeout     time.Duration
	maxAttempts int
	initialWait time.Duration
	maxWait     time.Duration

	jobs     chan domain.MovePlan
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ReconcilerConfig tunes retry behavior; zero values get defaults.
type ReconcilerConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Buffer      int
}

func NewReconciler(replica *Replica, persister Persister, boardID string, logger *log.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = 200 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	r := &Reconciler{
		replica:     replica,
		persister:   persister,
		boardID:     boardID,
		logger:      logger,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		initialWait: cfg.InitialWait,
		maxWait:     cfg.MaxWait,
		jobs:        make(chan domain.MovePlan, cfg.Buffer),
		stop:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Enqueue schedules a plan for persistence. No-op plans are discarded
// before they reach the worker.
func (r *Reconciler) Enqueue(plan domain.MovePlan) bool {
	if plan.NoOp {
		return true
	}
	select {
	case r.jobs <- plan:
		return true
	default:
		if r.logger != nil {
			r.logger.Warn("reconciler buffer full, dropping plan and resyncing")
		}
		r.resync()
		return false
	}
}

// Close stops the worker after draining queued plans. Safe to call twice.
func (r *Reconciler) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	for {
		select {
		case plan := <-r.jobs:
			r.process(plan)
		case <-r.stop:
			for {
				select {
				case plan := <-r.jobs:
					r.process(plan)
				default:
					return
				}
			}
		}
	}
}

func (r *Reconciler) process(plan domain.MovePlan) {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(exponentialBackoff(attempt, r.initialWait, r.maxWait))
		}
		err = r.persist(plan)
		if err == nil {
			return
		}
		if r.logger != nil {
			r.logger.WithError(err).WithField("attempt", attempt+1).Warn("persist failed")
		}
	}

	if r.logger != nil {
		r.logger.WithError(err).Error("persist abandoned, resyncing replica")
	}
	r.resync()
}

func (r *Reconciler) persist(plan domain.MovePlan) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch {
	case plan.ListOrderIDs != nil:
		return r.persister.PersistListOrder(ctx, r.boardID, plan.ListOrderIDs)
	case plan.CrossList:
		return r.persister.PersistCardMove(ctx, r.boardID, plan)
	default:
		return r.persister.PersistCardOrder(ctx, r.boardID, plan.SourceListID, plan.SourceCardOrderIDs)
	}
}

// resync replaces the replica state with the server's truth. A failed fetch
// only logs: the next successful operation or fetch heals the replica.
func (r *Reconciler) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	agg, err := r.persister.FetchBoard(ctx, r.boardID)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Error("resync fetch failed")
		}
		return
	}
	if _, err := r.replica.Apply(SetBoard{Aggregate: agg}); err != nil && r.logger != nil {
		r.logger.WithError(err).Error("resync apply failed")
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
