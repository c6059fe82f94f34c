// AngelaMos | 2026
// mongo_test.go

package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/carterperez-dev/modelforge/internal/core"
)

// newMongoTestRepo connects to MONGO_TEST_URI and isolates each test in a
// throwaway database.
func newMongoTestRepo(t *testing.T) Repository {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := client.Database("modelforge_test_" + uuid.NewString()[:8])
	require.NoError(t, EnsureIndexes(ctx, db))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	return NewMongoRepository(db)
}

func TestMongoRepositoryLifecycle(t *testing.T) {
	repo := newMongoTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Record{
		Email:           "ada@example.com",
		Name:            "Ada",
		GenerationsLeft: 1,
	}))
	assert.ErrorIs(t,
		repo.Create(ctx, &Record{Email: "ada@example.com"}),
		core.ErrDuplicateKey,
	)

	balance, err := repo.Increment(ctx, "ada@example.com", 25)
	require.NoError(t, err)
	assert.Equal(t, 26, balance)

	for want := 25; want >= 0; want-- {
		balance, err = repo.DecrementIfPositive(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, want, balance)
	}

	_, err = repo.DecrementIfPositive(ctx, "ada@example.com")
	assert.ErrorIs(t, err, core.ErrInsufficientCredits)

	_, err = repo.DecrementIfPositive(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMongoRepositoryApplyPayment(t *testing.T) {
	repo := newMongoTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Record{
		Email:           "ada@example.com",
		GenerationsLeft: 1,
	}))

	p := &Payment{
		OrderID:      "order_1",
		PaymentID:    "pay_1",
		UserKey:      "ada@example.com",
		Plan:         "Pro",
		CreditsAdded: 100,
	}

	balance, err := repo.ApplyPayment(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 101, balance)

	_, err = repo.ApplyPayment(ctx, p)
	assert.ErrorIs(t, err, core.ErrAlreadyProcessed)

	got, err := repo.GetPayment(ctx, "order_1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.CreditsAdded)

	rec, err := repo.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 101, rec.GenerationsLeft)
}

func TestMongoRepositoryApplyPaymentMissingOwnerLeavesNoClaim(t *testing.T) {
	repo := newMongoTestRepo(t)
	ctx := context.Background()

	_, err := repo.ApplyPayment(ctx, &Payment{
		OrderID:      "order_1",
		PaymentID:    "pay_1",
		UserKey:      "ghost@example.com",
		Plan:         "Basic",
		CreditsAdded: 5,
	})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = repo.GetPayment(ctx, "order_1", "pay_1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
