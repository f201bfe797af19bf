package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// The event sender fans board mutation events out to the queue off the
// request path. Events are refresh hints for other clients; a lost event is
// logged, never retried into the write path.

type eventJob struct {
	userID string
	events []domain.BoardEvent
}

var (
	once           sync.Once
	jobs           chan eventJob
	workerCount    int
	jobBuf         int
	sendTimeout    time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalStore    Storage
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// shutdownEventSender stops worker goroutines and clears shared state. It is intended for tests.
func shutdownEventSender() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalStore = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	sendTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func initEventSender(store Storage, log *log.Logger) {
	once.Do(func() {
		globalStore = store
		if log == nil {
			panic("Logger is not initialized")
		}
		globalLog = log

		workerCount = envInt("EVENTS_WORKERS", 16)
		jobBuf = envInt("EVENTS_BUFFER", 4096)
		sendTimeout = envDur("EVENTS_TIMEOUT", 60*time.Second)
		handoffTimeout = envDur("EVENTS_HANDOFF_TIMEOUT", 15*time.Millisecond)

		jobs = make(chan eventJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, sendTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan eventJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, sendTimeout)
		err := globalStore.EnqueueBoardEvents(ctx, j.userID, j.events)
		cancel()

		if err != nil {
			globalLog.Errorf("event send failed, err: %v, user: %s, count: %d, worker: %d", err, j.userID, len(j.events), id)
		}
	}
}

// publishEvents hands events to the worker pool, falling back to an inline
// send when the buffer is saturated.
func publishEvents(userID string, events ...domain.BoardEvent) {
	if len(events) == 0 {
		return
	}
	job := eventJob{userID: userID, events: events}

	if tryEnqueueEventJob(job) {
		return
	}

	if globalLog != nil {
		globalLog.Warn("event buffer saturated; sending inline")
	}
	if globalStore == nil {
		return
	}
	timeout := sendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(bg, timeout)
	defer cancel()
	if err := globalStore.EnqueueBoardEvents(ctx, userID, events); err != nil && globalLog != nil {
		globalLog.WithError(err).Error("inline event send failed")
	}
}

func tryEnqueueEventJob(job eventJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan eventJob, job eventJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan eventJob, job eventJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
