package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

// ErrDispatcherClosed is returned by Enqueue after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	deliveryAttempts   = 3
	deliveryBackoff    = 100 * time.Millisecond
	dispatchQueueDepth = 256
)

// Receiver applies webhook deliveries.
type Receiver interface {
	Receive(ctx context.Context, d Delivery) (Result, error)
}

// Dispatcher runs synthetic deliveries on a bounded worker pool.
type Dispatcher struct {
	receiver Receiver
	logger   infra.Logger
	queue    chan Delivery
	group    *errgroup.Group
	ctx      context.Context
	backoff  time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(ctx context.Context, receiver Receiver, workers int, logger infra.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	d := &Dispatcher{
		receiver: receiver,
		logger:   logger,
		queue:    make(chan Delivery, dispatchQueueDepth),
		group:    group,
		ctx:      gctx,
		backoff:  deliveryBackoff,
	}
	for i := 0; i < workers; i++ {
		group.Go(d.work)
	}
	return d
}

// Enqueue blocks until the delivery is queued or ctx ends.
func (d *Dispatcher) Enqueue(ctx context.Context, delivery Delivery) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

// Close stops accepting deliveries, drains the queue and waits for the workers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	return d.group.Wait()
}

func (d *Dispatcher) work() error {
	for delivery := range d.queue {
		d.deliver(delivery)
	}
	return nil
}

func (d *Dispatcher) deliver(delivery Delivery) {
	delay := d.backoff
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		// Deliveries still run after shutdown starts so the queue drains.
		ctx := context.WithoutCancel(d.ctx)
		_, err := d.receiver.Receive(ctx, delivery)
		if err == nil {
			return
		}
		permanent := errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrValidation)
		if permanent || attempt == deliveryAttempts {
			d.logger.Error().Err(err).
				Str("job_id", delivery.JobID).
				Int("attempt", attempt).
				Msg("jobs: synthetic delivery failed")
			return
		}
		d.logger.Warn().Err(err).Str("job_id", delivery.JobID).Int("attempt", attempt).Msg("jobs: synthetic delivery retry")
		time.Sleep(delay)
		delay *= 2
	}
}
