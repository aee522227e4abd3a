package mongo

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/promo-rules/internal/domain/customer"
)

var _ customer.Store = (*CustomerRepository)(nil)

// CustomerRepository reads customers from the users collection.
type CustomerRepository struct {
	collection *mongo.Collection
}

func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{collection: db.Database.Collection(usersCollection)}
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, customer.ErrNotFound
	}

	var doc userDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", id, err)
	}
	return &customer.Customer{ID: doc.ID.Hex(), TotalOrders: doc.TotalOrders, Groups: doc.Groups}, nil
}

func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	oid := primitive.NewObjectID()
	if c.ID != "" {
		var err error
		if oid, err = primitive.ObjectIDFromHex(c.ID); err != nil {
			return errors.Wrapf(err, "customer id %q", c.ID)
		}
	}
	groups := c.Groups
	if groups == nil {
		groups = []string{}
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"totalOrders": c.TotalOrders, "groups": groups}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert customer %s", oid.Hex())
	}
	c.ID = oid.Hex()
	return nil
}
