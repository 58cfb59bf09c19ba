package pool

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/pgpool/pkg/errors"
)

// errSlotsClosed is the cancellation cause of acquisitions aborted by close.
var errSlotsClosed = stderrors.New("slots closed")

// slots is a closable counting semaphore. Every successful acquire must be
// paired with exactly one release.
type slots struct {
	sem    *semaphore.Weighted
	size   int64
	inUse  atomic.Int64
	closed context.Context
	close  context.CancelFunc
}

func newSlots(size int) *slots {
	ctx, cancel := context.WithCancel(context.Background())
	return &slots{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		closed: ctx,
		close:  cancel,
	}
}

// acquire takes one slot. A nil wait blocks until a slot is free, a zero wait
// never blocks, and any other wait bounds the blocking time.
func (s *slots) acquire(ctx context.Context, wait *time.Duration) error {
	if s.isClosed() {
		return closedError()
	}
	if wait != nil && *wait == 0 {
		return s.tryAcquire()
	}

	if wait != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *wait)
		defer cancel()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.closed, func() { cancel(errSlotsClosed) })
	defer stop()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		switch cause := context.Cause(ctx); {
		case cause == errSlotsClosed:
			return closedError()
		case stderrors.Is(err, context.DeadlineExceeded):
			return errors.Wrap(err, errors.ErrorTypeTimeout, "timed out waiting for a free slot")
		default:
			return errors.Wrap(err, errors.ErrorTypeCanceled, "slot acquisition cancelled")
		}
	}
	return s.admitted()
}

func (s *slots) tryAcquire() error {
	if !s.sem.TryAcquire(1) {
		return errors.New(errors.ErrorTypeTimeout, "no free slot")
	}
	return s.admitted()
}

// admitted finishes a successful acquisition, giving the slot back if the
// semaphore was closed in the meantime.
func (s *slots) admitted() error {
	if s.isClosed() {
		s.sem.Release(1)
		return closedError()
	}
	s.inUse.Add(1)
	return nil
}

func (s *slots) release() {
	s.inUse.Add(-1)
	s.sem.Release(1)
}

func (s *slots) isClosed() bool {
	return s.closed.Err() != nil
}

// held returns the number of slots currently acquired.
func (s *slots) held() int64 {
	return s.inUse.Load()
}

func closedError() error {
	return errors.New(errors.ErrorTypeClosed, "pool is closed")
}
