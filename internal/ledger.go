package internal

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const paymentAttemptsCollection = "payment_attempts"

// PaymentLedger keeps a record of every STK push the relay started.
type PaymentLedger interface {
	Record(ctx context.Context, a PaymentAttempt) error
	Recent(ctx context.Context, limit int64) ([]PaymentAttempt, error)
}

func ConnectMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(15 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Println("Connected to MongoDB")
	return client, nil
}

type MongoLedger struct {
	coll *mongo.Collection
}

func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{coll: db.Collection(paymentAttemptsCollection)}
}

func (l *MongoLedger) Record(ctx context.Context, a PaymentAttempt) error {
	_, err := l.coll.InsertOne(ctx, a)
	return err
}

func (l *MongoLedger) Recent(ctx context.Context, limit int64) ([]PaymentAttempt, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := l.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []PaymentAttempt{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GET /api/admin/payments?limit=N
func AdminPayments(ledger PaymentLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ledger == nil {
			c.JSON(503, gin.H{"error": "payment ledger not configured"})
			return
		}
		limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
		if err != nil || limit <= 0 || limit > 500 {
			c.JSON(400, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		out, err := ledger.Recent(c.Request.Context(), limit)
		if err != nil {
			log.Printf("payment ledger: %v", err)
			c.JSON(500, gin.H{"error": "db"})
			return
		}
		c.JSON(200, out)
	}
}
