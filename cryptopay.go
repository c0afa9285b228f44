// Package cryptopay manages the wallet connection and crypto payment
// lifecycle for the investment platform: it negotiates a session with an
// injected wallet provider, creates a time-boxed payment order against
// the payment backend, and reconciles the order's remote status through
// polling until it reaches a terminal state.
package cryptopay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brickvest/cryptopay/expiry"
	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/orders"
	"github.com/brickvest/cryptopay/rates"
	"github.com/brickvest/cryptopay/reconcile"
	"github.com/brickvest/cryptopay/types"
	"github.com/brickvest/cryptopay/wallet"
)

// Phase is the controller's externally visible state.
type Phase string

const (
	// PhaseAwaitingCreation: no order exists yet.
	PhaseAwaitingCreation Phase = "AWAITING_CREATION"
	// PhaseInProgress: an order exists and is being reconciled.
	PhaseInProgress Phase = "IN_PROGRESS"
	// PhaseSettled: a terminal status was observed, or the order
	// expired locally. Payment affordances must no longer be shown.
	PhaseSettled Phase = "SETTLED"
)

// Config carries the external collaborators of a payment flow.
type Config struct {
	// BackendURL is the base URL of the payment backend.
	BackendURL string

	// Provider is the injected wallet provider, or nil when none is
	// present. Address-based flows work without one.
	Provider wallet.Provider

	// RateSource supplies the exchange-rate table. Nil disables live
	// rates; floating-rate currencies then quote at face value.
	RateSource rates.Source
}

// CreateParams configures order creation. Currency is required. Network
// may be left empty when a wallet session is connected, in which case
// the session's network and address fund the order.
type CreateParams struct {
	PropertyID string
	AmountFiat decimal.Decimal
	Currency   types.Currency
	Network    types.Network
}

// Controller composes the session manager, estimator, order client and
// poller into one payment flow. One controller owns at most one order
// at a time.
type Controller struct {
	log logger.Logger
	rec metrics.Recorder

	pollInterval  time.Duration
	rateInterval  time.Duration
	httpClient    *http.Client
	onChainSwitch func(uint64, *types.Network)
	onOrderUpdate func(*types.PaymentOrder)
	onSettled     func(*types.PaymentOrder)

	wallet    *wallet.SessionManager
	estimator *rates.Estimator
	orders    *orders.Client

	mu          sync.Mutex
	phase       Phase
	order       *types.PaymentOrder
	poller      *reconcile.Poller
	expiryTimer *time.Timer
	walletUnsub func()
	settleOnce  sync.Once
	closeOnce   sync.Once
}

// New assembles a controller from its collaborators.
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{
		log:          logger.NoopLogger{},
		rec:          metrics.NoopRecorder{},
		pollInterval: reconcile.DefaultInterval,
		rateInterval: rates.DefaultRefreshInterval,
		phase:        PhaseAwaitingCreation,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wallet = wallet.NewSessionManager(cfg.Provider, c.onChainSwitch, c.log, c.rec)
	c.orders = orders.NewClient(cfg.BackendURL, c.httpClient, c.log, c.rec)
	if cfg.RateSource != nil {
		c.estimator = rates.NewEstimator(cfg.RateSource, c.rateInterval, c.log, c.rec)
	}
	return c
}

// Start brings up the background collaborators: the rate refresh loop
// and the wallet event subscriptions. It also restores an existing
// wallet session silently when the provider has one authorized.
func (c *Controller) Start(ctx context.Context) error {
	if c.estimator != nil {
		c.estimator.Start(ctx)
	}

	if !c.wallet.DetectProvider() {
		return nil
	}

	unsub, err := c.wallet.Subscribe()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.walletUnsub = unsub
	c.mu.Unlock()

	if _, err := c.wallet.QueryExistingSession(ctx); err != nil {
		// Silent restore is best-effort; a fresh Connect still works.
		c.log.Warn("restoring wallet session failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// Wallet exposes the session manager for connect and disconnect actions.
func (c *Controller) Wallet() *wallet.SessionManager {
	return c.wallet
}

// Quote converts a fiat amount into the given currency using the
// current rate table. Best-effort: without live rates it quotes at
// face value.
func (c *Controller) Quote(fiatAmount decimal.Decimal, currency types.Currency) decimal.Decimal {
	if c.estimator == nil {
		return fiatAmount.Round(2)
	}
	return c.estimator.Quote(fiatAmount, currency)
}

// CreateOrder validates the parameters, creates the order, and starts
// reconciliation and the expiry watch. The controller moves to
// PhaseInProgress immediately after a successful create.
//
// When params.Network is empty the connected wallet session supplies the
// network and funding address; a session on an unrecognized chain is
// rejected rather than silently defaulted.
func (c *Controller) CreateOrder(ctx context.Context, params CreateParams) (*types.PaymentOrder, error) {
	c.mu.Lock()
	if c.phase != PhaseAwaitingCreation {
		c.mu.Unlock()
		return nil, &types.Error{Code: types.ErrValidation, Message: "a payment order is already active"}
	}
	c.mu.Unlock()

	req := &types.CreateOrderRequest{
		PropertyID: params.PropertyID,
		AmountFiat: params.AmountFiat,
		Currency:   params.Currency,
		Network:    params.Network,
	}

	if params.Network == "" {
		session := c.wallet.Session()
		if !session.Connected() {
			return nil, &types.Error{Code: types.ErrValidation, Message: "no network selected and no wallet connected"}
		}
		if session.Network == nil {
			return nil, &types.Error{Code: types.ErrValidation, Message: "connected wallet is on an unrecognized chain"}
		}
		req.Network = *session.Network
		req.WalletAddress = session.Address
	}

	order, err := c.orders.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	poller := reconcile.New(c.orders, c.pollInterval, reconcile.Callbacks{
		OnUpdate: c.applyOrder,
		OnDone:   c.settle,
		OnError:  c.abandon,
	}, c.log, c.rec)

	c.mu.Lock()
	c.phase = PhaseInProgress
	c.order = order
	c.poller = poller
	c.settleOnce = sync.Once{}
	if wait := time.Until(order.ExpiresAt); wait > 0 {
		c.expiryTimer = time.AfterFunc(wait, c.expire)
	} else {
		// Backend handed us an already-expired order; treat it as
		// locally expired right away.
		defer c.expire()
	}
	c.mu.Unlock()

	poller.Start(ctx, order.ID)
	return order.Clone(), nil
}

// Cancel cancels the active order. Only permitted while the order is
// still in CREATED or PENDING; later invocations are a no-op that
// reports the error to the caller. A successful cancel discards the
// order and returns the controller to PhaseAwaitingCreation.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	order := c.order
	c.mu.Unlock()

	if order == nil {
		return &types.Error{Code: types.ErrNotCancellable, Message: "no active payment order"}
	}
	if !order.Status.Cancellable() {
		return &types.Error{Code: types.ErrNotCancellable, Message: "order is past its cancellable states"}
	}

	if err := c.orders.Cancel(ctx, order.ID); err != nil {
		return err
	}

	c.teardownOrder()
	c.mu.Lock()
	c.phase = PhaseAwaitingCreation
	c.order = nil
	c.mu.Unlock()
	return nil
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Order returns a snapshot of the active order, or nil.
func (c *Controller) Order() *types.PaymentOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Clone()
}

// Remaining reports the payment window left on the active order.
func (c *Controller) Remaining(now time.Time) expiry.Remaining {
	c.mu.Lock()
	order := c.order
	c.mu.Unlock()
	if order == nil {
		return expiry.Remaining{Expired: true, Label: "Expired"}
	}
	return expiry.Compute(now, order.ExpiresAt)
}

// Close tears the flow down: polling stops, the expiry watch stops, the
// rate loop stops and the wallet subscriptions are removed so no event
// can touch a discarded session.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.teardownOrder()
		if c.estimator != nil {
			c.estimator.Stop()
		}
		c.mu.Lock()
		unsub := c.walletUnsub
		c.walletUnsub = nil
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

// applyOrder replaces the cached order wholesale with a fresh record.
func (c *Controller) applyOrder(order *types.PaymentOrder) {
	c.mu.Lock()
	c.order = order
	c.mu.Unlock()
	if c.onOrderUpdate != nil {
		c.onOrderUpdate(order.Clone())
	}
}

// settle moves to PhaseSettled on an authoritative terminal record.
func (c *Controller) settle(order *types.PaymentOrder) {
	c.mu.Lock()
	c.order = order
	c.mu.Unlock()
	c.markSettled(order)
	c.teardownOrder()
}

// expire fires when the payment window lapses while the order is still
// non-terminal. Client-side expiry is advisory: the flow settles so no
// payment affordance is shown again, but polling continues until the
// backend reports the authoritative terminal status.
func (c *Controller) expire() {
	c.mu.Lock()
	order := c.order
	c.mu.Unlock()
	if order == nil || order.Status.IsTerminal() {
		return
	}
	c.log.Info("payment window expired locally", map[string]any{"orderId": order.ID})
	c.markSettled(order)
}

// abandon handles errors fatal to the order, such as the backend no
// longer knowing the order id.
func (c *Controller) abandon(err error) {
	c.mu.Lock()
	order := c.order
	c.mu.Unlock()
	c.log.Error("payment flow abandoned", map[string]any{"error": err.Error()})
	c.markSettled(order)
	c.teardownOrder()
}

func (c *Controller) markSettled(order *types.PaymentOrder) {
	c.settleOnce.Do(func() {
		c.mu.Lock()
		c.phase = PhaseSettled
		c.mu.Unlock()
		if c.onSettled != nil {
			c.onSettled(order.Clone())
		}
	})
}

func (c *Controller) teardownOrder() {
	c.mu.Lock()
	poller := c.poller
	timer := c.expiryTimer
	c.poller = nil
	c.expiryTimer = nil
	c.mu.Unlock()
	if poller != nil {
		poller.Stop()
	}
	if timer != nil {
		timer.Stop()
	}
}
