package jobs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/services"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

// Worker runs a fixed pool of claim loops over the corrections table. The
// pending rows are the durable queue; the pool size bounds how many provider
// calls are in flight, which is the backpressure against the provider.
type Worker struct {
	db          *gorm.DB
	log         *logger.Logger
	corrections repos.CorrectionRepo
	orch        *services.Orchestrator

	count        int
	pollInterval time.Duration
	staleAfter   time.Duration

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewWorker(
	db *gorm.DB,
	baseLog *logger.Logger,
	corrections repos.CorrectionRepo,
	orch *services.Orchestrator,
	count int,
	pollInterval time.Duration,
	staleAfter time.Duration,
) *Worker {
	if count <= 0 {
		count = 4
	}
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "CorrectionWorker"),
		corrections:  corrections,
		orch:         orch,
		count:        count,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
	}
}

func (w *Worker) Start(ctx context.Context) {
	if w == nil || w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	w.group = g
	for i := 0; i < w.count; i++ {
		id := i
		g.Go(func() error {
			w.runLoop(gctx, id)
			return nil
		})
	}
	w.log.Info("correction workers started", "count", w.count)
}

// Stop cancels the loops and waits for in-flight attempts to finish.
func (w *Worker) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	_ = w.group.Wait()
	w.log.Info("correction workers stopped")
}

func (w *Worker) runLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.corrections.ClaimNextPending(dbctx.New(ctx), w.staleAfter)
			if err != nil {
				w.log.Warn("claim failed", "worker", id, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.process(ctx, id, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, id int, job *types.Correction) {
	// A panicking attempt must still land in a terminal state.
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("attempt panicked", "worker", id, "correction_id", job.ID, "panic", r)
			w.orch.FailAttempt(ctx, job.ID, &panicError{})
		}
	}()
	w.orch.ProcessAttempt(ctx, job)
}

type panicError struct{}

func (e *panicError) Error() string { return "panic during correction attempt" }
