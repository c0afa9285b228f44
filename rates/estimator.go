// Package rates converts fiat amounts into crypto-denominated quotes
// using a periodically refreshed exchange-rate table.
package rates

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/types"
)

// DefaultRefreshInterval is how often the rate table is replaced.
// Stablecoin quotes only need 2-decimal precision, so periodic rather
// than streaming refresh is sufficient.
const DefaultRefreshInterval = 60 * time.Second

// Table is one epoch of exchange rates. A refresh replaces the whole
// table; readers never see rates from two epochs mixed.
type Table struct {
	Rates      map[types.Currency]decimal.Decimal
	ObservedAt time.Time
}

// Estimator quotes fiat amounts in crypto and keeps its table fresh.
type Estimator struct {
	source   Source
	interval time.Duration
	log      logger.Logger
	rec      metrics.Recorder

	mu    sync.RWMutex
	table *Table

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewEstimator creates an estimator over the given source. Start must be
// called before quotes reflect live rates; until then floating-rate
// currencies quote at face value.
func NewEstimator(source Source, interval time.Duration, log logger.Logger, rec metrics.Recorder) *Estimator {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Estimator{
		source:   source,
		interval: interval,
		log:      log,
		rec:      rec,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start refreshes once eagerly, then on the fixed interval until the
// context is cancelled or Stop is called.
func (e *Estimator) Start(ctx context.Context) {
	e.Refresh(ctx)

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.Refresh(ctx)
			}
		}
	}()
}

// Stop ends the refresh loop. Safe to call more than once.
func (e *Estimator) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Refresh replaces the entire rate table. On failure the previous table
// is retained and the failure is logged, never surfaced: quoting is
// best-effort and must not block the payment flow.
func (e *Estimator) Refresh(ctx context.Context) {
	start := time.Now()
	fetched, err := e.source.FetchRates(ctx)
	e.rec.ObserveLatency(metrics.LatencyRateRefresh, time.Since(start), nil)
	if err != nil {
		e.rec.IncCounter(metrics.CounterRateRefresh, map[string]string{"status": "error"})
		e.log.Warn("rate refresh failed, keeping previous table", map[string]any{
			"error": err.Error(),
		})
		return
	}

	table := &Table{Rates: fetched, ObservedAt: time.Now()}
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()

	e.rec.IncCounter(metrics.CounterRateRefresh, map[string]string{"status": "ok"})
	e.log.Debug("rate table refreshed", map[string]any{
		"currencies": len(fetched),
	})
}

// Quote converts a fiat amount into the given currency, rounded to two
// decimal places with half-up rounding. Pegged currencies return the
// fiat amount at face value; floating-rate currencies divide by the
// current rate. Never errors: validation of the fiat amount is the
// caller's responsibility, and a missing rate falls back to face value.
func (e *Estimator) Quote(fiatAmount decimal.Decimal, currency types.Currency) decimal.Decimal {
	if currency.Pegged() {
		return fiatAmount.Round(2)
	}

	rate, ok := e.rate(currency)
	if !ok || !rate.IsPositive() {
		e.log.Warn("no usable rate for currency, quoting at face value", map[string]any{
			"currency": currency.String(),
		})
		return fiatAmount.Round(2)
	}
	return fiatAmount.Div(rate).Round(2)
}

// CurrentTable returns the table in use, or nil before the first
// successful refresh.
func (e *Estimator) CurrentTable() *Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

func (e *Estimator) rate(currency types.Currency) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return decimal.Zero, false
	}
	r, ok := e.table.Rates[currency]
	return r, ok
}
