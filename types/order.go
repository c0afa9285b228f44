package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentOrder is the backend's record of a requested crypto payment.
//
// AmountCrypto and PaymentAddress are assigned exactly once, at creation,
// by the backend and are immutable on the client thereafter. ExpiresAt is
// fixed at creation. The client never mutates an order field-by-field: a
// successful fetch replaces the whole record.
type PaymentOrder struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	PropertyID     string          `json:"propertyId"`
	AmountFiat     decimal.Decimal `json:"amountFiat"`
	AmountCrypto   decimal.Decimal `json:"amountCrypto"`
	Currency       Currency        `json:"currency"`
	Network        Network         `json:"network"`
	WalletAddress  string          `json:"walletAddress,omitempty"`
	PaymentAddress string          `json:"paymentAddress"`
	Status         OrderStatus     `json:"status"`
	TxHash         string          `json:"txHash,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone returns a copy of the order so callers can hand out snapshots
// without exposing the record they poll into.
func (o *PaymentOrder) Clone() *PaymentOrder {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// CreateOrderRequest is the body of POST /payments.
type CreateOrderRequest struct {
	PropertyID    string          `json:"propertyId" validate:"required"`
	AmountFiat    decimal.Decimal `json:"amountFiat" validate:"required"`
	Currency      Currency        `json:"currency" validate:"required"`
	Network       Network         `json:"network" validate:"required"`
	WalletAddress string          `json:"walletAddress,omitempty"`
}

// Validate checks the request before any network call so obviously
// invalid requests never round-trip to the backend.
func (r *CreateOrderRequest) Validate() error {
	if r.PropertyID == "" {
		return &Error{Code: ErrValidation, Message: "propertyId is required"}
	}
	if !r.AmountFiat.IsPositive() {
		return &Error{Code: ErrValidation, Message: "amountFiat must be greater than 0"}
	}
	if !r.Currency.Valid() {
		return &Error{Code: ErrValidation, Message: "unsupported currency: " + r.Currency.String()}
	}
	if !r.Network.Valid() {
		return &Error{Code: ErrValidation, Message: "unsupported network: " + r.Network.String()}
	}
	return nil
}
