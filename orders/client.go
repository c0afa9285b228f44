// Package orders is the client proxy for the backend payment service:
// it creates payment orders and fetches their current state.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brickvest/cryptopay/logger"
	"github.com/brickvest/cryptopay/metrics"
	"github.com/brickvest/cryptopay/types"
)

// Client talks to the backend REST surface:
//
//	POST /payments                create an order
//	GET  /payments/{id}           fetch the full current record
//	POST /payments/{id}/cancel    cancel while still cancellable
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
	log        logger.Logger
	rec        metrics.Recorder
}

// NewClient creates an order client against baseURL. A nil httpClient
// gets a default with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, log logger.Logger, rec metrics.Recorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		validate:   validator.New(),
		log:        log,
		rec:        rec,
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// Create validates the request locally, then creates an order. The
// backend assigns amountCrypto, paymentAddress and expiresAt exactly
// once; the returned record is immutable on the client apart from
// whole-record replacement on fetch.
//
// Each call carries a fresh Idempotency-Key so a retried create cannot
// double-charge.
func (c *Client) Create(ctx context.Context, req *types.CreateOrderRequest) (*types.PaymentOrder, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, &types.Error{Code: types.ErrValidation, Message: err.Error()}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &types.Error{Code: types.ErrValidation, Message: "encoding request failed: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.rec.ObserveLatency(metrics.LatencyOrderCreate, time.Since(start), map[string]string{"network": req.Network.String()})
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		c.log.Warn("order creation rejected", map[string]any{
			"status":  resp.StatusCode,
			"message": msg,
		})
		return nil, &types.Error{Code: types.ErrPaymentCreationFailed, Message: msg}
	}

	var order types.PaymentOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: "decoding order failed: " + err.Error()}
	}

	c.rec.IncCounter(metrics.CounterOrderCreated, map[string]string{
		"network": order.Network.String(),
		"status":  order.Status.String(),
	})
	c.log.Info("payment order created", map[string]any{
		"orderId":  order.ID,
		"network":  order.Network.String(),
		"currency": order.Currency.String(),
	})
	return &order, nil
}

// Fetch returns the full current record for an order; callers replace
// their cached copy wholesale. Idempotent.
func (c *Client) Fetch(ctx context.Context, orderID string) (*types.PaymentOrder, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+orderID, nil)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.rec.ObserveLatency(metrics.LatencyOrderFetch, time.Since(start), nil)
	if err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &types.Error{Code: types.ErrNotFound, Message: fmt.Sprintf("order %s not found", orderID)}
	default:
		return nil, &types.Error{Code: types.ErrNetwork, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var order types.PaymentOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, &types.Error{Code: types.ErrNetwork, Message: "decoding order failed: " + err.Error()}
	}
	return &order, nil
}

// Cancel asks the backend to cancel an order. The backend answers 409
// once the order has left its cancellable states.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/"+orderID+"/cancel", nil)
	if err != nil {
		return &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &types.Error{Code: types.ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		c.log.Info("payment order cancelled", map[string]any{"orderId": orderID})
		return nil
	case http.StatusConflict:
		return &types.Error{Code: types.ErrNotCancellable, Message: fmt.Sprintf("order %s is no longer cancellable", orderID)}
	case http.StatusNotFound:
		return &types.Error{Code: types.ErrNotFound, Message: fmt.Sprintf("order %s not found", orderID)}
	default:
		return &types.Error{Code: types.ErrNetwork, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

func readErrorMessage(r io.Reader) string {
	var body errorBody
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Message == "" {
		return "payment creation failed"
	}
	return body.Message
}
