package wallet

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider RPC methods and events (standard browser wallet injection contract).
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"

	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// EIP-1193 provider error codes.
const (
	codeUserRejected = 4001
)

// Provider abstracts the injected wallet object so the session manager
// never reaches for an ambient global and tests can substitute fakes.
//
// Request may suspend on a user-facing approval prompt outside this
// library's control; callers bound it with the context. Subscribe
// registers a handler for a provider-pushed event and returns the one
// matching teardown, so every subscription has exactly one unsubscribe.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	Subscribe(event string, handler func(json.RawMessage)) (func(), error)
}

// RPCError is the provider's structured error (EIP-1193 shape).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// IsUserRejection reports whether the provider error means the user
// declined the approval prompt.
func (e *RPCError) IsUserRejection() bool {
	return e.Code == codeUserRejected
}
