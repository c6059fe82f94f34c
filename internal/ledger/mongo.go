// AngelaMos | 2026
// mongo.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/carterperez-dev/modelforge/internal/core"
)

const (
	usersCollection    = "users"
	paymentsCollection = "processed_payments"
)

type userDocument struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	Email           string    `bson:"email"`
	GenerationsLeft int       `bson:"generations_left"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d *userDocument) toRecord() *Record {
	return &Record{
		Email:           d.Email,
		Name:            d.Name,
		GenerationsLeft: d.GenerationsLeft,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type paymentDocument struct {
	ID           string    `bson:"_id"`
	OrderID      string    `bson:"order_id"`
	PaymentID    string    `bson:"payment_id"`
	UserKey      string    `bson:"user_key"`
	Plan         string    `bson:"plan"`
	CreditsAdded int       `bson:"credits_added"`
	CreatedAt    time.Time `bson:"created_at"`
}

type mongoRepository struct {
	db       *mongo.Database
	users    *mongo.Collection
	payments *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		db:       db,
		users:    db.Collection(usersCollection),
		payments: db.Collection(paymentsCollection),
	}
}

// EnsureIndexes creates the secondary indexes used by operators to look up
// a user's payments. Document keys already enforce uniqueness.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(paymentsCollection).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "user_key", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	)
	if err != nil {
		return fmt.Errorf("create payments index: %w", err)
	}
	return nil
}

func (r *mongoRepository) Get(ctx context.Context, key string) (*Record, error) {
	var doc userDocument
	err := r.users.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get ledger record: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}

	return doc.toRecord(), nil
}

func (r *mongoRepository) Create(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	doc := userDocument{
		ID:              record.Email,
		Name:            record.Name,
		Email:           record.Email,
		GenerationsLeft: record.GenerationsLeft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create ledger record: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create ledger record: %w", err)
	}

	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

func (r *mongoRepository) Increment(
	ctx context.Context,
	key string,
	delta int,
) (int, error) {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "generations_left", Value: delta}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}

	var doc userDocument
	err := r.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: key}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("increment credits: %w", core.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment credits: %w", err)
	}

	return doc.GenerationsLeft, nil
}

func (r *mongoRepository) DecrementIfPositive(
	ctx context.Context,
	key string,
) (int, error) {
	filter := bson.D{
		{Key: "_id", Value: key},
		{Key: "generations_left", Value: bson.D{{Key: "$gt", Value: 0}}},
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "generations_left", Value: -1}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}

	var doc userDocument
	err := r.users.FindOneAndUpdate(ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.GenerationsLeft, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}

	count, err := r.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: key}})
	if err != nil {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("decrement credits: %w", core.ErrNotFound)
	}

	return 0, fmt.Errorf("decrement credits: %w", core.ErrInsufficientCredits)
}

// ApplyPayment runs the claim and the credit in one multi-document
// transaction, so the deployment must be a replica set or sharded cluster.
func (r *mongoRepository) ApplyPayment(
	ctx context.Context,
	payment *Payment,
) (int, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	doc := paymentDocument{
		ID:           payment.Key(),
		OrderID:      payment.OrderID,
		PaymentID:    payment.PaymentID,
		UserKey:      payment.UserKey,
		Plan:         payment.Plan,
		CreditsAdded: payment.CreditsAdded,
		CreatedAt:    payment.CreatedAt,
	}

	sess, err := r.db.Client().StartSession()
	if err != nil {
		return 0, fmt.Errorf("apply payment: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	result, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := r.payments.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, core.ErrAlreadyProcessed
			}
			return nil, err
		}

		update := bson.D{
			{Key: "$inc", Value: bson.D{{Key: "generations_left", Value: payment.CreditsAdded}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		}

		var user userDocument
		err := r.users.FindOneAndUpdate(ctx,
			bson.D{{Key: "_id", Value: payment.UserKey}},
			update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, core.ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		return user.GenerationsLeft, nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply payment: %w", err)
	}

	balance, _ := result.(int) //nolint:errcheck // set by the callback above
	return balance, nil
}

func (r *mongoRepository) GetPayment(
	ctx context.Context,
	orderID, paymentID string,
) (*Payment, error) {
	var doc paymentDocument
	err := r.payments.FindOne(ctx,
		bson.D{{Key: "_id", Value: PaymentKey(orderID, paymentID)}},
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get payment: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return &Payment{
		OrderID:      doc.OrderID,
		PaymentID:    doc.PaymentID,
		UserKey:      doc.UserKey,
		Plan:         doc.Plan,
		CreditsAdded: doc.CreditsAdded,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

func (r *mongoRepository) Ping(ctx context.Context) error {
	if err := r.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}
