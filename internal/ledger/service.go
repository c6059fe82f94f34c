// AngelaMos | 2026
// service.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/metrics"
)

type Service struct {
	repo           Repository
	starterBalance int
	metrics        *metrics.Collector
	logger         *slog.Logger
}

func NewService(
	repo Repository,
	starterBalance int,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:           repo,
		starterBalance: starterBalance,
		metrics:        collector,
		logger:         logger,
	}
}

// EnsureAccount returns the user's record, creating it with the starter
// balance when this is the user's first ledger-touching action.
func (s *Service) EnsureAccount(
	ctx context.Context,
	key, name string,
) (*Record, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("ensure account: %w", core.ErrInvalidInput)
	}

	record, err := s.repo.Get(ctx, key)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	record = &Record{
		Email:           key,
		Name:            name,
		GenerationsLeft: s.starterBalance,
	}

	err = s.repo.Create(ctx, record)
	if errors.Is(err, core.ErrDuplicateKey) {
		return s.repo.Get(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.AccountProvisioned()
	s.logger.Info("ledger account provisioned",
		"user", key,
		"generations_left", record.GenerationsLeft,
	)

	return record, nil
}

func (s *Service) Balance(ctx context.Context, key string) (*Record, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("balance: %w", core.ErrInvalidInput)
	}
	return s.repo.Get(ctx, key)
}

// ApplyPurchase credits a verified payment exactly once. The user record
// must already exist. Recording the payment and crediting it commit
// together, so a failure leaves neither behind and a retry can credit. A
// replayed (OrderID, PaymentID) pair returns the original result without
// crediting again.
func (s *Service) ApplyPurchase(
	ctx context.Context,
	req PurchaseRequest,
) (*PurchaseResult, error) {
	ctx, span := core.StartSpan(ctx, "ledger.apply_purchase",
		attribute.String("order_id", req.OrderID),
		attribute.String("plan", req.Plan),
	)
	defer span.End()

	key := NormalizeKey(req.UserKey)
	if key == "" || req.OrderID == "" || req.PaymentID == "" || req.Credits <= 0 {
		return nil, fmt.Errorf("apply purchase: %w", core.ErrInvalidInput)
	}

	record, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("apply purchase: %w", err)
	}

	payment := &Payment{
		OrderID:      req.OrderID,
		PaymentID:    req.PaymentID,
		UserKey:      key,
		Plan:         req.Plan,
		CreditsAdded: req.Credits,
	}

	balance, err := s.repo.ApplyPayment(ctx, payment)
	if errors.Is(err, core.ErrAlreadyProcessed) {
		return s.replayed(ctx, req, key, record)
	}
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("apply purchase: %w", err)
	}

	s.metrics.CreditsGranted(req.Plan, req.Credits)
	s.logger.Info("credits added",
		"user", key,
		"plan", req.Plan,
		"credits", req.Credits,
		"order_id", req.OrderID,
		"generations_left", balance,
	)

	return &PurchaseResult{
		CreditsAdded: req.Credits,
		Balance:      balance,
	}, nil
}

func (s *Service) replayed(
	ctx context.Context,
	req PurchaseRequest,
	key string,
	record *Record,
) (*PurchaseResult, error) {
	prior, err := s.repo.GetPayment(ctx, req.OrderID, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("apply purchase: load prior result: %w", err)
	}

	if prior.UserKey != key {
		s.logger.Warn("payment replayed for a different user",
			"order_id", req.OrderID,
			"user", key,
			"original_user", prior.UserKey,
		)
		return nil, fmt.Errorf("apply purchase: %w", core.ErrAlreadyProcessed)
	}

	s.logger.Info("payment replay ignored",
		"user", key,
		"order_id", req.OrderID,
	)

	return &PurchaseResult{
		CreditsAdded: prior.CreditsAdded,
		Balance:      record.GenerationsLeft,
		Replayed:     true,
	}, nil
}

// Debit consumes one credit with a conditional atomic decrement.
func (s *Service) Debit(ctx context.Context, key string) (int, error) {
	balance, err := s.repo.DecrementIfPositive(ctx, NormalizeKey(key))
	if err != nil {
		return 0, err
	}
	s.metrics.CreditDebited()
	return balance, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
