package types

import "github.com/shopspring/decimal"

// SessionStatus represents the wallet session's connection state.
type SessionStatus string

const (
	SessionDisconnected SessionStatus = "DISCONNECTED"
	SessionConnecting   SessionStatus = "CONNECTING"
	SessionConnected    SessionStatus = "CONNECTED"
)

// ProviderKind identifies the injected wallet provider a session is bound to.
type ProviderKind string

const (
	ProviderInjected ProviderKind = "injected"
)

// WalletSession is the single source of truth for "is a wallet connected,
// to what address, on what network, with what balance".
//
// Invariant: Address is non-empty iff Status == SessionConnected.
// Network is derived deterministically from ChainID via the fixed lookup
// in NetworkFromChainID; unknown chain ids leave Network nil, and payment
// flows that require a network must reject that case.
type WalletSession struct {
	ProviderKind ProviderKind     `json:"providerKind"`
	Status       SessionStatus    `json:"status"`
	Address      string           `json:"address,omitempty"`
	Network      *Network         `json:"networkId,omitempty"`
	ChainID      uint64           `json:"chainNumericId,omitempty"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	LastError    string           `json:"lastError,omitempty"`
}

// Connected reports whether the session currently holds an authorized address.
func (s *WalletSession) Connected() bool {
	return s != nil && s.Status == SessionConnected
}

// Clone returns a copy so callers never share the manager's live record.
func (s *WalletSession) Clone() *WalletSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Network != nil {
		n := *s.Network
		cp.Network = &n
	}
	if s.Balance != nil {
		b := *s.Balance
		cp.Balance = &b
	}
	return &cp
}
