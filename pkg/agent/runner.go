package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadwin95/Text2SQLAgent/pkg/events"
)

// DefaultMaxConcurrentRuns bounds simultaneous runs per Runner.
const DefaultMaxConcurrentRuns = 8

// Runner tracks in-flight runs so the transport layer can bound
// concurrency, cancel a run by id, and drain everything on shutdown.
type Runner struct {
	mu   sync.Mutex
	runs map[string]*runHandle

	orchestrator  *Orchestrator
	maxConcurrent int
	logger        *slog.Logger
}

type runHandle struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner builds a runner. maxConcurrent <= 0 selects
// DefaultMaxConcurrentRuns.
func NewRunner(logger *slog.Logger, orchestrator *Orchestrator, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	return &Runner{
		runs:          make(map[string]*runHandle),
		orchestrator:  orchestrator,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Start launches a run and returns its id and event stream. The stream
// carries the same drain contract as Orchestrator.Run: read it to the
// end even after losing interest. The run is cancelled when ctx is
// cancelled, when Cancel is called with its id, or on CancelAll.
func (r *Runner) Start(ctx context.Context, utterance string) (string, <-chan events.StreamEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)

	// Register under one lock hold so the concurrency check and the map
	// insert are atomic with respect to concurrent Start calls.
	r.mu.Lock()
	if len(r.runs) >= r.maxConcurrent {
		r.mu.Unlock()
		cancel()
		return "", nil, fmt.Errorf("%w: limit is %d", ErrTooManyRuns, r.maxConcurrent)
	}
	h := &runHandle{
		id:      uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.runs[h.id] = h
	r.mu.Unlock()

	logger := r.logger.With("run_id", h.id)
	inner := r.orchestrator.Run(runCtx, utterance)

	out := make(chan events.StreamEvent)
	go func() {
		// Deregister before closing the stream so a consumer that saw the
		// close observes the slot as free.
		defer func() {
			cancel()
			r.remove(h.id)
			close(h.done)
			close(out)
			logger.Info("run removed", "duration_ms", time.Since(h.started).Milliseconds())
		}()
		for ev := range inner {
			out <- ev
		}
	}()

	return h.id, out, nil
}

// Cancel requests cancellation of one run. The run still emits its
// terminal events before its stream closes.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	h, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	h.cancel()
	return nil
}

// CancelAll cancels every in-flight run. Streams still deliver their
// terminal events, so consumers keep draining as usual.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	handles := make([]*runHandle, 0, len(r.runs))
	for _, h := range r.runs {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}

// Wait blocks until every run registered at call time has finished, or
// ctx expires.
func (r *Runner) Wait(ctx context.Context) {
	r.mu.Lock()
	dones := make([]chan struct{}, 0, len(r.runs))
	for _, h := range r.runs {
		dones = append(dones, h.done)
	}
	r.mu.Unlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// Active reports how many runs are in flight.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *Runner) remove(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}
