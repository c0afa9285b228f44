package rates

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickvest/cryptopay/types"
)

type stubSource struct {
	mu    sync.Mutex
	rates map[types.Currency]decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) FetchRates(ctx context.Context) (map[types.Currency]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[types.Currency]decimal.Decimal, len(s.rates))
	for k, v := range s.rates {
		out[k] = v
	}
	return out, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestEstimator(src Source) *Estimator {
	return NewEstimator(src, time.Hour, nil, nil)
}

func TestQuotePeggedCurrency(t *testing.T) {
	e := newTestEstimator(&stubSource{})

	// Pegged currencies quote at face value without any rate table.
	got := e.Quote(decimal.RequireFromString("250.00"), types.CurrencyUSDT)
	assert.Equal(t, "250.00", got.StringFixed(2))

	got = e.Quote(decimal.RequireFromString("99.999"), types.CurrencyUSDC)
	assert.Equal(t, "100.00", got.StringFixed(2))
}

func TestQuoteFloatingCurrency(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.01"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())

	// 250 / 1.01 = 247.5247... rounds half-up to 247.52
	got := e.Quote(decimal.RequireFromString("250.00"), types.CurrencyDAI)
	assert.Equal(t, "247.52", got.StringFixed(2))
}

func TestQuoteHalfUpRounding(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("2"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())

	// 0.25 / 2 = 0.125 rounds half-up to 0.13
	got := e.Quote(decimal.RequireFromString("0.25"), types.CurrencyDAI)
	assert.Equal(t, "0.13", got.StringFixed(2))
}

func TestQuoteMissingRateFallsBackToFaceValue(t *testing.T) {
	e := newTestEstimator(&stubSource{rates: map[types.Currency]decimal.Decimal{}})
	e.Refresh(context.Background())

	got := e.Quote(decimal.RequireFromString("42.00"), types.CurrencyETH)
	assert.Equal(t, "42.00", got.StringFixed(2))
}

func TestQuoteNeverPanicsOnNonPositiveInput(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.01"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())

	assert.NotPanics(t, func() {
		e.Quote(decimal.Zero, types.CurrencyDAI)
		e.Quote(decimal.RequireFromString("-5"), types.CurrencyDAI)
		e.Quote(decimal.Zero, types.CurrencyUSDT)
	})
}

func TestQuoteMonotonicInFiatAmount(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.0137"),
		types.CurrencyETH: decimal.RequireFromString("3124.55"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())

	rng := rand.New(rand.NewSource(7))
	for _, currency := range []types.Currency{types.CurrencyDAI, types.CurrencyETH, types.CurrencyUSDT} {
		amounts := make([]decimal.Decimal, 200)
		for i := range amounts {
			amounts[i] = decimal.NewFromFloat(rng.Float64() * 100000).Round(4)
		}
		sort.Slice(amounts, func(i, j int) bool { return amounts[i].LessThan(amounts[j]) })

		prev := e.Quote(amounts[0], currency)
		for _, a := range amounts[1:] {
			q := e.Quote(a, currency)
			assert.True(t, q.GreaterThanOrEqual(prev),
				"quote(%s, %s)=%s < previous %s", a, currency, q, prev)
			prev = q
		}
	}
}

func TestRefreshFailureRetainsPreviousTable(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.01"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())

	before := e.CurrentTable()
	require.NotNil(t, before)

	src.err = errors.New("rate endpoint down")
	e.Refresh(context.Background())

	after := e.CurrentTable()
	require.NotNil(t, after)
	assert.Equal(t, before, after, "failed refresh must not touch the table")

	// Quoting still works off the retained table.
	got := e.Quote(decimal.RequireFromString("250.00"), types.CurrencyDAI)
	assert.Equal(t, "247.52", got.StringFixed(2))
}

func TestRefreshReplacesTableAtomically(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.01"),
		types.CurrencyETH: decimal.RequireFromString("3000"),
	}}
	e := newTestEstimator(src)
	e.Refresh(context.Background())
	first := e.CurrentTable()

	src.rates = map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.02"),
	}
	e.Refresh(context.Background())
	second := e.CurrentTable()

	// The new epoch replaces the old wholesale: no leftover ETH rate.
	require.NotSame(t, first, second)
	_, hasETH := second.Rates[types.CurrencyETH]
	assert.False(t, hasETH)
	assert.Equal(t, "1.02", second.Rates[types.CurrencyDAI].String())
}

func TestStartRefreshesEagerlyAndPeriodically(t *testing.T) {
	src := &stubSource{rates: map[types.Currency]decimal.Decimal{
		types.CurrencyDAI: decimal.RequireFromString("1.01"),
	}}
	e := NewEstimator(src, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.NotNil(t, e.CurrentTable(), "Start must refresh eagerly")

	assert.Eventually(t, func() bool { return src.callCount() >= 3 },
		time.Second, 5*time.Millisecond, "periodic refresh did not run")
}
