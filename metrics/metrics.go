package metrics

import "time"

// Recorder receives operational counters and latencies from the payment
// flow: wallet connects, order polls, rate refreshes.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and latency names emitted by the library.
const (
	CounterWalletConnect = "wallet_connect"
	CounterWalletEvent   = "wallet_event"
	CounterOrderCreated  = "order_created"
	CounterOrderPoll     = "order_poll"
	CounterOrderSettled  = "order_settled"
	CounterRateRefresh   = "rate_refresh"
	LatencyOrderCreate   = "order_create"
	LatencyOrderFetch    = "order_fetch"
	LatencyRateRefresh   = "rate_refresh"
	LatencyWalletConnect = "wallet_connect"
)
