// AngelaMos | 2026
// gateway.go

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
)

const maxGatewayErrorBody = 4 << 10

type OrderRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Receipt  string      `json:"receipt"`
}

type Order struct {
	ID       string      `json:"id"`
	Entity   string      `json:"entity"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Receipt  string      `json:"receipt"`
	Status   string      `json:"status"`
}

// Gateway creates and looks up orders with the external payment processor.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}

// GatewayError is a non-2xx answer from the payment processor. It is
// logged server-side and never shown to callers.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway returned %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	return core.ErrUpstream
}

// RazorpayClient speaks the Razorpay Orders API.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewRazorpayClient(cfg config.PaymentConfig) *RazorpayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RazorpayClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *RazorpayClient) CreateOrder(
	ctx context.Context,
	req OrderRequest,
) (*Order, error) {
	ctx, span := core.StartSpan(ctx, "payment.gateway.create_order")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	order, err := c.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// FetchOrder reads back an order so its amount can be checked against the
// plan being credited.
func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := core.StartSpan(ctx, "payment.gateway.fetch_order")
	defer span.End()

	order, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	return order, nil
}

func (c *RazorpayClient) do(
	ctx context.Context,
	method, path string,
	body io.Reader,
) (*Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("%w: %w", core.ErrUpstream, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		//nolint:errcheck // best-effort error detail
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayErrorBody))
		gwErr := &GatewayError{StatusCode: resp.StatusCode, Body: string(detail)}
		core.SetSpanError(ctx, gwErr)
		return nil, gwErr
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("empty order id: %w", core.ErrUpstream)
	}

	return &order, nil
}
