package cryptopay

import (
	"net/http"
	"time"

	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/types"
)

type Option func(*Controller)

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Controller) {
		c.rec = r
	}
}

// WithPollInterval overrides the reconciliation cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval = d
	}
}

// WithRateRefreshInterval overrides how often the exchange-rate table
// is replaced.
func WithRateRefreshInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.rateInterval = d
	}
}

// WithHTTPClient supplies the HTTP client used for backend calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = h
	}
}

// WithChainSwitchHandler installs the hook invoked after the provider
// reports a chain change. Hosts are expected to rebuild their view in
// it, the way a browser client would reload the page.
func WithChainSwitchHandler(fn func(chainID uint64, network *types.Network)) Option {
	return func(c *Controller) {
		c.onChainSwitch = fn
	}
}

// WithOrderUpdateHandler is called with a snapshot after every
// successful poll, terminal or not.
func WithOrderUpdateHandler(fn func(*types.PaymentOrder)) Option {
	return func(c *Controller) {
		c.onOrderUpdate = fn
	}
}

// WithSettledHandler is called exactly once when the flow settles,
// either on a terminal backend status or on local expiry.
func WithSettledHandler(fn func(*types.PaymentOrder)) Option {
	return func(c *Controller) {
		c.onSettled = fn
	}
}
