// AngelaMos | 2026
// service.go

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/ledger"
	"github.com/carterperez-dev/modelforge/internal/metrics"
	"github.com/carterperez-dev/modelforge/internal/plan"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrAmountMismatch    = errors.New("amount does not match plan price")
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrEmailMismatch     = errors.New("user email does not match identity")
)

type Service struct {
	gateway  Gateway
	catalog  *plan.Catalog
	ledger   *ledger.Service
	secret   string
	currency string
	receipt  string
	metrics  *metrics.Collector
	logger   *slog.Logger
}

type ServiceConfig struct {
	Gateway Gateway
	Catalog *plan.Catalog
	Ledger  *ledger.Service
	Payment config.PaymentConfig
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := cfg.Payment.DefaultCurrency
	if currency == "" {
		currency = "INR"
	}
	receipt := cfg.Payment.Receipt
	if receipt == "" {
		receipt = "rcp1"
	}
	return &Service{
		gateway:  cfg.Gateway,
		catalog:  cfg.Catalog,
		ledger:   cfg.Ledger,
		secret:   cfg.Payment.KeySecret,
		currency: currency,
		receipt:  receipt,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// ParseAmount accepts a positive finite number given either as a JSON
// number or as a JSON string holding one.
func ParseAmount(raw json.RawMessage) (json.Number, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", ErrInvalidAmount
	}

	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return "", ErrInvalidAmount
		}
		s = strings.TrimSpace(unquoted)
	}

	// ParseFloat also accepts forms such as "+5", ".5" or "0x1p4" that
	// cannot be forwarded as a JSON number.
	if !json.Valid([]byte(s)) {
		return "", ErrInvalidAmount
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return "", ErrInvalidAmount
	}

	return json.Number(s), nil
}

// CreateOrder asks the gateway for an order. The amount is in minor units
// (paise). When a plan is named the amount must equal its price in those
// units.
func (s *Service) CreateOrder(
	ctx context.Context,
	userKey string,
	req CreateOrderRequest,
) (*Order, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	if req.Plan != "" {
		p, ok := s.catalog.Lookup(req.Plan)
		if !ok {
			return nil, ErrInvalidPlan
		}
		f, _ := amount.Float64() //nolint:errcheck // validated by ParseAmount
		if f != float64(p.AmountMinor()) {
			return nil, ErrAmountMismatch
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  s.receipt,
	})
	if err != nil {
		s.metrics.OrderCreated("error")
		return nil, err
	}

	s.metrics.OrderCreated("ok")
	s.logger.Info("payment order created",
		"user", userKey,
		"order_id", order.ID,
		"amount", amount.String(),
		"currency", currency,
	)

	return order, nil
}

// Verify checks the checkout signature and credits the plan's conversions
// exactly once per (order, payment) pair.
func (s *Service) Verify(
	ctx context.Context,
	callerKey string,
	req VerifyRequest,
) (*ledger.PurchaseResult, error) {
	ctx, span := core.StartSpan(ctx, "payment.verify",
		attribute.String("order_id", req.OrderCreationID),
		attribute.String("plan", req.Plan),
	)
	defer span.End()

	userKey := ledger.NormalizeKey(req.UserEmail)
	if callerKey != "" && callerKey != userKey {
		s.metrics.PaymentVerified("forbidden")
		return nil, ErrEmailMismatch
	}

	if !VerifySignature(s.secret, req.OrderCreationID, req.RazorpayPaymentID, req.RazorpaySignature) {
		s.metrics.PaymentVerified("signature_mismatch")
		s.logger.Warn("payment verification failed",
			"user", callerKey,
			"order_id", req.OrderCreationID,
		)
		return nil, ErrSignatureMismatch
	}

	p, ok := s.catalog.Lookup(req.Plan)
	if !ok {
		s.metrics.PaymentVerified("invalid_plan")
		return nil, ErrInvalidPlan
	}

	if err := s.checkOrderAmount(ctx, req.OrderCreationID, p); err != nil {
		return nil, err
	}

	result, err := s.ledger.ApplyPurchase(ctx, ledger.PurchaseRequest{
		OrderID:   req.OrderCreationID,
		PaymentID: req.RazorpayPaymentID,
		UserKey:   userKey,
		Plan:      p.Name,
		Credits:   p.Conversions,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			s.metrics.PaymentVerified("user_not_found")
			s.logger.Warn("user not found while processing payment",
				"user", userKey,
				"order_id", req.OrderCreationID,
			)
		case errors.Is(err, core.ErrAlreadyProcessed):
			s.metrics.PaymentVerified("already_processed")
		default:
			s.metrics.PaymentVerified("error")
		}
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	if result.Replayed {
		s.metrics.PaymentVerified("replayed")
	} else {
		s.metrics.PaymentVerified("ok")
	}

	return result, nil
}

// checkOrderAmount refuses to credit a plan whose price differs from the
// amount of the order that was paid.
func (s *Service) checkOrderAmount(ctx context.Context, orderID string, p plan.Plan) error {
	order, err := s.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		s.metrics.PaymentVerified("error")
		return fmt.Errorf("verify payment: %w", err)
	}

	amount, err := order.Amount.Int64()
	if err != nil || amount != p.AmountMinor() {
		s.metrics.PaymentVerified("amount_mismatch")
		s.logger.Warn("paid order does not match plan",
			"order_id", orderID,
			"plan", p.Name,
			"order_amount", order.Amount.String(),
		)
		return ErrAmountMismatch
	}

	return nil
}
