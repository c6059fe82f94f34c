// AngelaMos | 2026
// postgres.go

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/modelforge/internal/core"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Get(ctx context.Context, key string) (*Record, error) {
	query := `
		SELECT email, name, generations_left, created_at, updated_at
		FROM users
		WHERE email = $1`

	var record Record
	err := r.db.GetContext(ctx, &record, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get ledger record: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}

	return &record, nil
}

func (r *postgresRepository) Create(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO users (email, name, generations_left)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, query,
		record.Email,
		record.Name,
		record.GenerationsLeft,
	)
	if err := row.Scan(&record.CreatedAt, &record.UpdatedAt); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create ledger record: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create ledger record: %w", err)
	}

	return nil
}

func (r *postgresRepository) Increment(
	ctx context.Context,
	key string,
	delta int,
) (int, error) {
	query := `
		UPDATE users
		SET generations_left = generations_left + $2, updated_at = NOW()
		WHERE email = $1
		RETURNING generations_left`

	var balance int
	err := r.db.GetContext(ctx, &balance, query, key, delta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment credits: %w", core.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment credits: %w", err)
	}

	return balance, nil
}

func (r *postgresRepository) DecrementIfPositive(
	ctx context.Context,
	key string,
) (int, error) {
	var balance int

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `
			UPDATE users
			SET generations_left = generations_left - 1, updated_at = NOW()
			WHERE email = $1 AND generations_left > 0
			RETURNING generations_left`

		err := tx.GetContext(ctx, &balance, query, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var exists bool
		existsQuery := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
		if err := tx.GetContext(ctx, &exists, existsQuery, key); err != nil {
			return err
		}
		if !exists {
			return core.ErrNotFound
		}
		return core.ErrInsufficientCredits
	})
	if err != nil {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}

	return balance, nil
}

func (r *postgresRepository) ApplyPayment(
	ctx context.Context,
	payment *Payment,
) (int, error) {
	var balance int

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		claimQuery := `
			INSERT INTO processed_payments
				(order_id, payment_id, user_key, plan, credits_added)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (order_id, payment_id) DO NOTHING`

		result, err := tx.ExecContext(ctx, claimQuery,
			payment.OrderID,
			payment.PaymentID,
			payment.UserKey,
			payment.Plan,
			payment.CreditsAdded,
		)
		if err != nil {
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return core.ErrAlreadyProcessed
		}

		creditQuery := `
			UPDATE users
			SET generations_left = generations_left + $2, updated_at = NOW()
			WHERE email = $1
			RETURNING generations_left`

		err = tx.GetContext(ctx, &balance, creditQuery, payment.UserKey, payment.CreditsAdded)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("apply payment: %w", err)
	}

	return balance, nil
}

func (r *postgresRepository) GetPayment(
	ctx context.Context,
	orderID, paymentID string,
) (*Payment, error) {
	query := `
		SELECT order_id, payment_id, user_key, plan, credits_added, created_at
		FROM processed_payments
		WHERE order_id = $1 AND payment_id = $2`

	var payment Payment
	err := r.db.GetContext(ctx, &payment, query, orderID, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get payment: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return &payment, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
