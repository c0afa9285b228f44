package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickvest/cryptopay/types"
)

// scriptedFetcher returns canned results in order, then repeats the
// last one. It records call counts and the maximum number of fetches
// observed in flight at once.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []fetchResult
	calls   int
	latency func() time.Duration

	inFlight    int32
	maxInFlight int32
}

type fetchResult struct {
	order *types.PaymentOrder
	err   error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, orderID string) (*types.PaymentOrder, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	if f.latency != nil {
		select {
		case <-time.After(f.latency()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	res := f.script[idx]
	f.mu.Unlock()

	if res.err != nil {
		return nil, res.err
	}
	return res.order.Clone(), nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func order(status types.OrderStatus) *types.PaymentOrder {
	return &types.PaymentOrder{
		ID:           "ord-123",
		AmountFiat:   decimal.RequireFromString("250.00"),
		AmountCrypto: decimal.RequireFromString("250.00"),
		Currency:     types.CurrencyUSDT,
		Network:      types.NetworkPolygon,
		Status:       status,
		ExpiresAt:    time.Now().Add(15 * time.Minute),
	}
}

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{order: order(types.StatusPending)},
		{order: order(types.StatusProcessing)},
		{order: order(types.StatusFailed)},
	}}

	var updates []types.OrderStatus
	var updatesMu sync.Mutex
	done := make(chan *types.PaymentOrder, 1)

	p := New(f, 5*time.Millisecond, Callbacks{
		OnUpdate: func(o *types.PaymentOrder) {
			updatesMu.Lock()
			updates = append(updates, o.Status)
			updatesMu.Unlock()
		},
		OnDone: func(o *types.PaymentOrder) { done <- o },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")

	select {
	case final := <-done:
		assert.Equal(t, types.StatusFailed, final.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never reported completion")
	}

	<-p.Done()
	settledCalls := f.callCount()

	// Once terminal, no further polling request is issued.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settledCalls, f.callCount())

	updatesMu.Lock()
	assert.Equal(t, []types.OrderStatus{types.StatusPending, types.StatusProcessing, types.StatusFailed}, updates)
	updatesMu.Unlock()
}

func TestPollerCompletionCallbackExactlyOnce(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{order: order(types.StatusCompleted)},
	}}

	var doneCalls int32
	p := New(f, time.Millisecond, Callbacks{
		OnDone: func(*types.PaymentOrder) { atomic.AddInt32(&doneCalls, 1) },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")
	<-p.Done()

	assert.Equal(t, int32(1), atomic.LoadInt32(&doneCalls))
}

func TestPollerRetriesThroughNetworkErrors(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{err: &types.Error{Code: types.ErrNetwork, Message: "connection reset"}},
		{err: &types.Error{Code: types.ErrNetwork, Message: "connection reset"}},
		{order: order(types.StatusCompleted)},
	}}

	done := make(chan *types.PaymentOrder, 1)
	p := New(f, 2*time.Millisecond, Callbacks{
		OnDone: func(o *types.PaymentOrder) { done <- o },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")

	select {
	case final := <-done:
		assert.Equal(t, types.StatusCompleted, final.Status)
		assert.GreaterOrEqual(t, f.callCount(), 3)
	case <-time.After(2 * time.Second):
		t.Fatal("poller gave up on transient errors")
	}
}

func TestPollerAbandonsOnNotFound(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{err: &types.Error{Code: types.ErrNotFound, Message: "order ord-123 not found"}},
	}}

	errCh := make(chan error, 1)
	p := New(f, time.Millisecond, Callbacks{
		OnDone:  func(*types.PaymentOrder) { t.Error("OnDone must not fire for a lost order") },
		OnError: func(err error) { errCh <- err },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")

	select {
	case err := <-errCh:
		assert.Equal(t, types.ErrNotFound, types.ErrorCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("poller never reported the fatal error")
	}

	<-p.Done()
	after := f.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, f.callCount(), "no retry after a fatal error")
}

// Property: at most one fetch in flight per order id, for any timing of
// responses.
func TestPollerSingleFetchInFlight(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	var rngMu sync.Mutex

	script := make([]fetchResult, 0, 30)
	for i := 0; i < 29; i++ {
		if i%5 == 4 {
			script = append(script, fetchResult{err: &types.Error{Code: types.ErrNetwork, Message: "flaky"}})
		} else {
			script = append(script, fetchResult{order: order(types.StatusProcessing)})
		}
	}
	script = append(script, fetchResult{order: order(types.StatusCompleted)})

	f := &scriptedFetcher{
		script: script,
		latency: func() time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			// Latencies regularly exceed the polling interval.
			return time.Duration(rng.Intn(6)) * time.Millisecond
		},
	}

	done := make(chan struct{})
	p := New(f, 2*time.Millisecond, Callbacks{
		OnDone: func(*types.PaymentOrder) { close(done) },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.maxInFlight),
		"two fetches were in flight simultaneously")
}

func TestPollerStopIsSafeAnytime(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{order: order(types.StatusPending)},
	}}

	p := New(f, 10*time.Millisecond, Callbacks{}, nil, nil)

	// Stop before Start, with no fetch in flight.
	assert.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})

	p.Start(context.Background(), "ord-123")
	<-p.Done()
	assert.Zero(t, f.callCount(), "stopped poller must not fetch")
}

func TestPollerStopCancelsScheduledFetch(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{order: order(types.StatusPending)},
	}}

	p := New(f, 5*time.Millisecond, Callbacks{}, nil, nil)
	p.Start(context.Background(), "ord-123")

	// Let at least one poll land, then stop.
	require.Eventually(t, func() bool { return f.callCount() >= 1 },
		time.Second, time.Millisecond)
	p.Stop()
	<-p.Done()

	after := f.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, f.callCount())
}

func TestPollerContextCancellation(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{order: order(types.StatusPending)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	p := New(f, 5*time.Millisecond, Callbacks{}, nil, nil)
	p.Start(ctx, "ord-123")

	cancel()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller ignored context cancellation")
	}
}

func TestPollerErrorsOtherThanNotFoundDoNotEndFlow(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{
		{err: errors.New("opaque transport failure")},
		{order: order(types.StatusCompleted)},
	}}

	done := make(chan struct{})
	p := New(f, 2*time.Millisecond, Callbacks{
		OnError: func(error) { t.Error("transient errors must not reach OnError") },
		OnDone:  func(*types.PaymentOrder) { close(done) },
	}, nil, nil)

	p.Start(context.Background(), "ord-123")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not recover")
	}
}
