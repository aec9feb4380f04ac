package appointments

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
	"github.com/clinpulse/platform/services/analytics-platform/internal/observability"
)

var (
	// ErrQueueFull means the queue stayed at capacity for the whole offer
	// timeout. The command was not enqueued; the caller may retry.
	ErrQueueFull = errors.New("schedule queue full")

	// ErrSubmitInterrupted means the caller's context was cancelled while
	// waiting for queue capacity. The command was dropped, not queued.
	ErrSubmitInterrupted = errors.New("schedule submit interrupted")
)

// Scheduler executes a schedule command. Satisfied by *Service.
type Scheduler interface {
	Schedule(ctx context.Context, cmd ScheduleCommand) (model.Appointment, error)
}

// SubmitResult reports what happened to a submitted command. When Queued
// is true the command runs asynchronously and Appointment is zero.
type SubmitResult struct {
	Queued      bool
	Appointment model.Appointment
}

// Gateway admission-controls schedule commands through a fixed-capacity
// queue drained by a pool of workers. With the queue disabled it degrades
// to a synchronous passthrough.
type Gateway struct {
	svc          Scheduler
	logger       *slog.Logger
	queue        chan ScheduleCommand
	enabled      bool
	offerTimeout time.Duration
	workerCount  int
	overflows    atomic.Int64
	wg           sync.WaitGroup
}

type GatewayConfig struct {
	Enabled      bool
	Capacity     int
	OfferTimeout time.Duration
	WorkerCount  int
}

func NewGateway(svc Scheduler, logger *slog.Logger, cfg GatewayConfig) *Gateway {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5000
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 50 * time.Millisecond
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Gateway{
		svc:          svc,
		logger:       logger,
		queue:        make(chan ScheduleCommand, cfg.Capacity),
		enabled:      cfg.Enabled,
		offerTimeout: cfg.OfferTimeout,
		workerCount:  cfg.WorkerCount,
	}
}

// Submit offers the command to the queue, waiting up to the offer timeout
// for capacity. Acceptance is fire-and-forget: a later domain failure is
// logged by the worker, not surfaced here.
func (g *Gateway) Submit(ctx context.Context, cmd ScheduleCommand) (SubmitResult, error) {
	if !g.enabled {
		appt, err := g.svc.Schedule(ctx, cmd)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Appointment: appt}, nil
	}

	timer := time.NewTimer(g.offerTimeout)
	defer timer.Stop()

	select {
	case g.queue <- cmd:
		return SubmitResult{Queued: true}, nil
	case <-timer.C:
		g.overflows.Add(1)
		observability.RecordQueueOverflow()
		return SubmitResult{}, ErrQueueFull
	case <-ctx.Done():
		return SubmitResult{}, ErrSubmitInterrupted
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled;
// in-flight commands are not guaranteed to finish.
func (g *Gateway) Start(ctx context.Context) {
	if !g.enabled {
		g.logger.Info("schedule queue disabled; commands execute synchronously")
		return
	}
	for i := 0; i < g.workerCount; i++ {
		g.wg.Add(1)
		go g.workerLoop(ctx, i)
	}
	g.logger.Info("schedule queue workers started", "workers", g.workerCount, "capacity", cap(g.queue))
}

// Wait blocks until all workers have exited.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) workerLoop(ctx context.Context, worker int) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("schedule worker stopped", "worker", worker)
			return
		case cmd := <-g.queue:
			if _, err := g.svc.Schedule(ctx, cmd); err != nil {
				// One bad command never stops the worker and is not requeued.
				g.logger.Warn("schedule command failed",
					"worker", worker,
					"organization_id", cmd.OrganizationID,
					"clinic_id", cmd.ClinicID,
					"err", err,
				)
			}
		}
	}
}

// QueueDepth reports how many commands are waiting.
func (g *Gateway) QueueDepth() int {
	return len(g.queue)
}

// Overflows reports how many submissions were rejected with ErrQueueFull.
func (g *Gateway) Overflows() int64 {
	return g.overflows.Load()
}
