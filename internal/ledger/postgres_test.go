// AngelaMos | 2026
// postgres_test.go

package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/modelforge/internal/core"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return NewPostgresRepository(sqlx.NewDb(db, "pgx")), mock
}

func TestPostgresGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT email, name, generations_left`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(
			[]string{"email", "name", "generations_left", "created_at", "updated_at"},
		).AddRow("ada@example.com", "Ada", 3, now, now))

	rec, err := repo.Get(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.GenerationsLeft)
	assert.Equal(t, "Ada", rec.Name)
}

func TestPostgresGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT email, name, generations_left`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPostgresCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("ada@example.com", "Ada", 1).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &Record{
		Email:           "ada@example.com",
		Name:            "Ada",
		GenerationsLeft: 1,
	})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestPostgresIncrement(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SET generations_left = generations_left \+ \$2`).
		WithArgs("ada@example.com", 25).
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}).AddRow(26))

	balance, err := repo.Increment(context.Background(), "ada@example.com", 25)
	require.NoError(t, err)
	assert.Equal(t, 26, balance)
}

func TestPostgresDecrementIfPositive(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`generations_left > 0`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}).AddRow(0))
	mock.ExpectCommit()

	balance, err := repo.DecrementIfPositive(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestPostgresDecrementAtZero(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`generations_left > 0`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.DecrementIfPositive(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, core.ErrInsufficientCredits)
}

func TestPostgresDecrementMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`generations_left > 0`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.DecrementIfPositive(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testPayment() *Payment {
	return &Payment{
		OrderID:      "order_1",
		PaymentID:    "pay_1",
		UserKey:      "ada@example.com",
		Plan:         "Standard",
		CreditsAdded: 25,
	}
}

func TestPostgresApplyPayment(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_payments`).
		WithArgs("order_1", "pay_1", "ada@example.com", "Standard", 25).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`generations_left \+ \$2`).
		WithArgs("ada@example.com", 25).
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}).AddRow(26))
	mock.ExpectCommit()

	balance, err := repo.ApplyPayment(context.Background(), testPayment())
	require.NoError(t, err)
	assert.Equal(t, 26, balance)
}

func TestPostgresApplyPaymentReplay(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_payments`).
		WithArgs("order_1", "pay_1", "ada@example.com", "Standard", 25).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), testPayment())
	assert.ErrorIs(t, err, core.ErrAlreadyProcessed)
}

func TestPostgresApplyPaymentRollsBackClaimWhenCreditFails(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_payments`).
		WithArgs("order_1", "pay_1", "ada@example.com", "Standard", 25).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`generations_left \+ \$2`).
		WithArgs("ada@example.com", 25).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), testPayment())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestPostgresApplyPaymentMissingOwner(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_payments`).
		WithArgs("order_1", "pay_1", "ada@example.com", "Standard", 25).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`generations_left \+ \$2`).
		WithArgs("ada@example.com", 25).
		WillReturnRows(sqlmock.NewRows([]string{"generations_left"}))
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), testPayment())
	assert.ErrorIs(t, err, core.ErrNotFound)
}
