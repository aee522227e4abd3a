package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

var _ promotion.Store = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Store backed by MongoDB.
type PromotionRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewPromotionRepository returns a repository over the promotions collection.
func NewPromotionRepository(db *DB) *PromotionRepository {
	return &PromotionRepository{
		collection: db.Database.Collection(promotionsCollection),
		now:        time.Now,
	}
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

// FindByID treats ids that are not ObjectIDs as unknown.
func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, promotion.ErrPromotionNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *PromotionRepository) findOne(ctx context.Context, filter bson.M) (*promotion.Promotion, error) {
	var doc promotionDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, promotion.ErrPromotionNotFound
		}
		return nil, errors.Wrap(err, "find promotion")
	}
	return doc.toDomain()
}

// ListActive returns active promotions, newest first.
func (r *PromotionRepository) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	cur, err := r.collection.Find(ctx, bson.M{"isActive": true},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list active promotions")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []promotion.Promotion
	for cur.Next(ctx) {
		var doc promotionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode promotion")
		}
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "list active promotions")
	}
	return out, nil
}

func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}

	doc, err := toPromotionDoc(p)
	if err != nil {
		return errors.Wrap(err, "encode promotion")
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return promotion.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create promotion %q", p.Code)
	}
	return nil
}

// IncrementUsage matches the document only while usedCount < maxUses, so
// the filter and the $inc form one atomic compare-and-increment.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":   oid,
			"$expr": bson.M{"$lt": bson.A{"$usedCount", "$maxUses"}},
		},
		bson.M{
			"$inc": bson.M{"usedCount": 1},
			"$set": bson.M{"updatedAt": r.now().UTC()},
		},
	)
	if err != nil {
		return false, errors.Wrapf(err, "increment usage of promotion %q", id)
	}
	return res.ModifiedCount == 1, nil
}
