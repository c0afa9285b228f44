// Package reconcile drives repeated order fetches against the backend
// system of record until a locally-tracked order reaches a terminal
// status, and guarantees the polling stops.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/types"
)

// DefaultInterval is the fixed polling cadence. No backoff: the interval
// is long relative to expected outage durations, so a fixed cadence is
// sufficient.
const DefaultInterval = 15 * time.Second

// Fetcher is the slice of the order client the poller needs.
type Fetcher interface {
	Fetch(ctx context.Context, orderID string) (*types.PaymentOrder, error)
}

// Callbacks receive the poller's observations. OnUpdate fires for every
// fresh record, terminal or not. OnDone fires exactly once, with the
// terminal record. OnError fires at most once, only for errors fatal to
// the order (unknown order id); transient network errors never reach it.
type Callbacks struct {
	OnUpdate func(*types.PaymentOrder)
	OnDone   func(*types.PaymentOrder)
	OnError  func(error)
}

// Poller polls one order. At most one fetch is in flight at any time:
// the loop goroutine awaits each fetch before scheduling the next, so
// responses can never interleave into out-of-order updates.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	cb       Callbacks
	log      logger.Logger
	rec      metrics.Recorder

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	finish    sync.Once
}

// New creates a poller for the given fetcher. interval <= 0 selects
// DefaultInterval.
func New(fetcher Fetcher, interval time.Duration, cb Callbacks, log logger.Logger, rec metrics.Recorder) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		cb:       cb,
		log:      log,
		rec:      rec,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling the order. The first fetch happens one interval
// after Start, matching the cadence after order creation. Start is a
// no-op after the first call.
func (p *Poller) Start(ctx context.Context, orderID string) {
	p.startOnce.Do(func() {
		go p.run(ctx, orderID)
	})
}

// Stop cancels polling. Safe to call at any time, including when no
// fetch is in flight, before Start, or more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once the polling loop has fully exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context, orderID string) {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-timer.C:
		}

		order, err := p.fetcher.Fetch(ctx, orderID)

		// A fetch that was in flight when Stop landed must not deliver.
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		if err != nil {
			if types.IsCode(err, types.ErrNotFound) {
				p.log.Error("order unknown to backend, polling abandoned", map[string]any{
					"orderId": orderID,
				})
				p.finish.Do(func() {
					if p.cb.OnError != nil {
						p.cb.OnError(err)
					}
				})
				return
			}
			// Transient failure: absorbed, retried on the next tick.
			p.rec.IncCounter(metrics.CounterOrderPoll, map[string]string{"status": "error"})
			p.log.Warn("order poll failed, retrying on next tick", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
			timer.Reset(p.interval)
			continue
		}

		p.rec.IncCounter(metrics.CounterOrderPoll, map[string]string{
			"network": order.Network.String(),
			"status":  order.Status.String(),
		})
		if p.cb.OnUpdate != nil {
			p.cb.OnUpdate(order)
		}

		if order.Status.IsTerminal() {
			p.rec.IncCounter(metrics.CounterOrderSettled, map[string]string{
				"network": order.Network.String(),
				"status":  order.Status.String(),
			})
			p.log.Info("order reached terminal status", map[string]any{
				"orderId": order.ID,
				"status":  order.Status.String(),
			})
			p.finish.Do(func() {
				if p.cb.OnDone != nil {
					p.cb.OnDone(order)
				}
			})
			return
		}

		timer.Reset(p.interval)
	}
}
