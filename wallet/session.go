// Package wallet owns the browser-injected wallet provider session:
// detection, connection, balance and network tracking, and the
// provider-pushed account and chain change events.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/types"
)

// balanceTimeout bounds the balance refetch triggered by an
// accountsChanged event, which has no caller-supplied context.
const balanceTimeout = 10 * time.Second

type providerEvent struct {
	kind    string
	payload json.RawMessage
}

// SessionManager is the single source of truth for the wallet session.
// All mutation happens on the manager's own goroutines or under its
// mutex; callers only ever see snapshots.
type SessionManager struct {
	provider Provider
	log      logger.Logger
	rec      metrics.Recorder

	// onChainSwitch is invoked after a chainChanged event has been
	// applied. Hosts use it to reload their view, matching wallet
	// provider guidance to avoid stale-chain transaction errors.
	onChainSwitch func(chainID uint64, network *types.Network)

	mu      sync.Mutex
	session types.WalletSession

	events    chan providerEvent
	loopOnce  sync.Once
	loopStop  chan struct{}
	loopDone  chan struct{}
	unsubs    []func()
	closeOnce sync.Once
}

// NewSessionManager creates a manager over the given provider. A nil
// provider is valid and means no wallet is injected. onChainSwitch may
// be nil.
func NewSessionManager(provider Provider, onChainSwitch func(uint64, *types.Network), log logger.Logger, rec metrics.Recorder) *SessionManager {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &SessionManager{
		provider:      provider,
		log:           log,
		rec:           rec,
		onChainSwitch: onChainSwitch,
		session: types.WalletSession{
			ProviderKind: types.ProviderInjected,
			Status:       types.SessionDisconnected,
		},
		events:   make(chan providerEvent, 16),
		loopStop: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// DetectProvider reports whether a wallet provider is injected.
// No side effects.
func (m *SessionManager) DetectProvider() bool {
	return m.provider != nil
}

// Connect requests account access, then resolves chain id and balance in
// the same logical operation, so callers never observe a connected
// session with an unresolved network.
//
// The provider may show a user-facing approval prompt; the call suspends
// until the user answers or ctx expires. Rejection and provider errors
// are reported, not retried: the caller re-invokes Connect.
func (m *SessionManager) Connect(ctx context.Context) (*types.WalletSession, error) {
	if m.provider == nil {
		return nil, &types.Error{Code: types.ErrProviderUnavailable, Message: "no wallet provider is injected"}
	}

	// Address stays empty until the session is fully resolved.
	m.replaceSession(types.WalletSession{
		ProviderKind: types.ProviderInjected,
		Status:       types.SessionConnecting,
	})

	start := time.Now()
	accounts, err := m.requestAccounts(ctx, MethodRequestAccounts)
	m.rec.ObserveLatency(metrics.LatencyWalletConnect, time.Since(start), nil)
	if err != nil {
		m.failConnect(err)
		return nil, mapProviderError(err)
	}
	if len(accounts) == 0 {
		err := &types.Error{Code: types.ErrProvider, Message: "provider returned no accounts"}
		m.failConnect(err)
		return nil, err
	}

	session, err := m.resolveSession(ctx, accounts[0])
	if err != nil {
		m.failConnect(err)
		return nil, mapProviderError(err)
	}

	m.replaceSession(*session)
	m.rec.IncCounter(metrics.CounterWalletConnect, map[string]string{"status": "ok"})
	m.log.Info("wallet connected", map[string]any{
		"address": session.Address,
		"chainId": session.ChainID,
	})
	return session.Clone(), nil
}

// QueryExistingSession asks the provider for already-authorized accounts
// without prompting. Used at startup to restore a session silently: the
// authorization lives in the provider, not in this client, so there is
// nothing to persist locally. An unauthorized provider yields a
// disconnected session and no error.
func (m *SessionManager) QueryExistingSession(ctx context.Context) (*types.WalletSession, error) {
	if m.provider == nil {
		return nil, &types.Error{Code: types.ErrProviderUnavailable, Message: "no wallet provider is injected"}
	}

	accounts, err := m.requestAccounts(ctx, MethodAccounts)
	if err != nil {
		return nil, mapProviderError(err)
	}
	if len(accounts) == 0 {
		return m.Session(), nil
	}

	session, err := m.resolveSession(ctx, accounts[0])
	if err != nil {
		return nil, mapProviderError(err)
	}

	m.replaceSession(*session)
	return session.Clone(), nil
}

// Disconnect clears local session state only. Wallet providers do not
// support programmatic revocation, so the provider's own authorization
// survives until the user revokes it in the wallet UI.
func (m *SessionManager) Disconnect() {
	m.replaceSession(types.WalletSession{
		ProviderKind: types.ProviderInjected,
		Status:       types.SessionDisconnected,
	})
	m.log.Info("wallet disconnected locally", nil)
}

// Session returns a snapshot of the current session.
func (m *SessionManager) Session() *types.WalletSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Subscribe registers for the provider's accountsChanged and
// chainChanged events and starts the sequential event loop. Events are
// applied one at a time in delivery order: a second event is never
// processed while the first is still being applied.
//
// The returned teardown unsubscribes both events and stops the loop; it
// is the single matching teardown for the whole subscription.
func (m *SessionManager) Subscribe() (func(), error) {
	if m.provider == nil {
		return nil, &types.Error{Code: types.ErrProviderUnavailable, Message: "no wallet provider is injected"}
	}

	enqueue := func(kind string) func(json.RawMessage) {
		return func(payload json.RawMessage) {
			select {
			case m.events <- providerEvent{kind: kind, payload: payload}:
			case <-m.loopStop:
			}
		}
	}

	unsubAccounts, err := m.provider.Subscribe(EventAccountsChanged, enqueue(EventAccountsChanged))
	if err != nil {
		return nil, mapProviderError(err)
	}
	unsubChain, err := m.provider.Subscribe(EventChainChanged, enqueue(EventChainChanged))
	if err != nil {
		unsubAccounts()
		return nil, mapProviderError(err)
	}

	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubAccounts, unsubChain)
	m.mu.Unlock()

	m.loopOnce.Do(func() {
		go m.eventLoop()
	})

	return func() { m.Close() }, nil
}

// Close tears down subscriptions and stops the event loop. Safe to call
// multiple times and safe without a prior Subscribe.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		unsubs := m.unsubs
		m.unsubs = nil
		m.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		close(m.loopStop)
	})
}

func (m *SessionManager) eventLoop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.loopStop:
			return
		case ev := <-m.events:
			m.applyEvent(ev)
		}
	}
}

func (m *SessionManager) applyEvent(ev providerEvent) {
	m.rec.IncCounter(metrics.CounterWalletEvent, map[string]string{"status": ev.kind})
	switch ev.kind {
	case EventAccountsChanged:
		var accounts []string
		if err := json.Unmarshal(ev.payload, &accounts); err != nil {
			m.log.Warn("malformed accountsChanged payload", map[string]any{"error": err.Error()})
			return
		}
		m.handleAccountsChanged(accounts)
	case EventChainChanged:
		var chainHex string
		if err := json.Unmarshal(ev.payload, &chainHex); err != nil {
			m.log.Warn("malformed chainChanged payload", map[string]any{"error": err.Error()})
			return
		}
		m.handleChainChanged(chainHex)
	}
}

// handleAccountsChanged applies an accountsChanged event: an empty list
// means the user revoked access, anything else switches the active
// address and refetches its balance.
func (m *SessionManager) handleAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		m.replaceSession(types.WalletSession{
			ProviderKind: types.ProviderInjected,
			Status:       types.SessionDisconnected,
		})
		m.log.Info("provider revoked accounts, session disconnected", nil)
		return
	}

	address := accounts[0]
	ctx, cancel := context.WithTimeout(context.Background(), balanceTimeout)
	defer cancel()

	balance, err := m.fetchBalance(ctx, address)
	if err != nil {
		m.log.Warn("balance refetch after account switch failed", map[string]any{
			"address": address,
			"error":   err.Error(),
		})
	}

	m.mu.Lock()
	next := m.session
	next.Status = types.SessionConnected
	next.Address = address
	next.Balance = balance
	next.LastError = ""
	m.session = next
	m.mu.Unlock()

	m.log.Info("active wallet account switched", map[string]any{"address": address})
}

// handleChainChanged applies a chainChanged event and then hands control
// to the host's reload hook. Continuing against a switched chain risks
// stale-chain transaction errors, so the session itself is updated first
// and the host is expected to rebuild its view.
func (m *SessionManager) handleChainChanged(chainHex string) {
	chainID, err := hexutil.DecodeUint64(chainHex)
	if err != nil {
		m.log.Warn("malformed chain id from provider", map[string]any{
			"chainId": chainHex,
			"error":   err.Error(),
		})
		return
	}

	var network *types.Network
	if n, ok := types.NetworkFromChainID(chainID); ok {
		network = &n
	}

	m.mu.Lock()
	next := m.session
	next.ChainID = chainID
	next.Network = network
	m.session = next
	m.mu.Unlock()

	m.log.Info("provider chain changed", map[string]any{"chainId": chainID})

	if m.onChainSwitch != nil {
		m.onChainSwitch(chainID, network)
	}
}

// resolveSession builds a full connected session for an address: chain
// id and balance are fetched before the session becomes visible.
func (m *SessionManager) resolveSession(ctx context.Context, address string) (*types.WalletSession, error) {
	if !common.IsHexAddress(address) {
		return nil, &types.Error{Code: types.ErrProvider, Message: "provider returned malformed address: " + address}
	}

	raw, err := m.provider.Request(ctx, MethodChainID)
	if err != nil {
		return nil, err
	}
	var chainHex string
	if err := json.Unmarshal(raw, &chainHex); err != nil {
		return nil, &types.Error{Code: types.ErrProvider, Message: "malformed chain id response"}
	}
	chainID, err := hexutil.DecodeUint64(chainHex)
	if err != nil {
		return nil, &types.Error{Code: types.ErrProvider, Message: "malformed chain id: " + chainHex}
	}

	var network *types.Network
	if n, ok := types.NetworkFromChainID(chainID); ok {
		network = &n
	}

	balance, err := m.fetchBalance(ctx, address)
	if err != nil {
		return nil, err
	}

	return &types.WalletSession{
		ProviderKind: types.ProviderInjected,
		Status:       types.SessionConnected,
		Address:      address,
		Network:      network,
		ChainID:      chainID,
		Balance:      balance,
	}, nil
}

// fetchBalance queries the latest balance and converts wei to a
// decimal ether amount.
func (m *SessionManager) fetchBalance(ctx context.Context, address string) (*decimal.Decimal, error) {
	raw, err := m.provider.Request(ctx, MethodGetBalance, address, "latest")
	if err != nil {
		return nil, err
	}
	var weiHex string
	if err := json.Unmarshal(raw, &weiHex); err != nil {
		return nil, &types.Error{Code: types.ErrProvider, Message: "malformed balance response"}
	}
	wei, err := hexutil.DecodeBig(weiHex)
	if err != nil {
		return nil, &types.Error{Code: types.ErrProvider, Message: "malformed balance: " + weiHex}
	}
	bal := decimal.NewFromBigInt(new(big.Int).Set(wei), -18)
	return &bal, nil
}

func (m *SessionManager) requestAccounts(ctx context.Context, method string) ([]string, error) {
	raw, err := m.provider.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, &types.Error{Code: types.ErrProvider, Message: "malformed accounts response"}
	}
	return accounts, nil
}

func (m *SessionManager) replaceSession(s types.WalletSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

func (m *SessionManager) failConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Status = types.SessionDisconnected
	m.session.Address = ""
	m.session.Balance = nil
	m.session.LastError = err.Error()
}

// mapProviderError classifies a provider failure into the library's
// error taxonomy. User rejection is distinguished so callers can show a
// retryable message; everything else is surfaced verbatim.
func mapProviderError(err error) error {
	var e *types.Error
	if errors.As(err, &e) {
		return err
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.IsUserRejection() {
			return &types.Error{Code: types.ErrUserRejected, Message: "user rejected the connection request"}
		}
		return &types.Error{Code: types.ErrProvider, Message: rpcErr.Message}
	}
	return &types.Error{Code: types.ErrProvider, Message: err.Error()}
}
