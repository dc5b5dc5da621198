package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// ProductRepository is the MongoDB store adapter. Identities are ObjectIDs
// rendered as hex; prices are stored as Decimal128.
type ProductRepository struct {
	collection *mongo.Collection
}

func NewProductRepository(db *mongo.Database, collection string) *ProductRepository {
	if collection == "" {
		collection = "products"
	}
	return &ProductRepository{collection: db.Collection(collection)}
}

type productDocument struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Stock     int                  `bson:"stock"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

// storedDocument reads price as a raw value so documents written with a
// double or string price still decode exactly.
type storedDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Price     bson.RawValue      `bson:"price"`
	Stock     int                `bson:"stock"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d storedDocument) toModel() (*models.Product, error) {
	price, err := priceFromBSON(d.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", d.ID.Hex(), err)
	}
	return &models.Product{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func priceFromBSON(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bsontype.Decimal128:
		return decimal.NewFromString(v.Decimal128().String())
	case bsontype.Double:
		return decimal.NewFromFloat(v.Double()), nil
	case bsontype.String:
		return decimal.NewFromString(v.StringValue())
	case bsontype.Int32:
		return decimal.NewFromInt32(v.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(v.Int64()), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %s", v.Type)
	}
}

func priceToBSON(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func storeError(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return apperrors.Unavailable("product store unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return apperrors.Persistence("product store "+op+" failed", err)
}

func notFound(id string) error {
	return apperrors.NotFound("product " + id + " not found")
}

func (r *ProductRepository) Create(ctx context.Context, in models.ProductInput) (*models.Product, error) {
	price, err := priceToBSON(in.Price)
	if err != nil {
		return nil, apperrors.Validation("invalid price", map[string]string{"price": err.Error()})
	}
	now := models.Now()
	doc := productDocument{
		ID:        primitive.NewObjectID(),
		Name:      in.Name,
		Price:     price,
		Stock:     in.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return nil, storeError("insert", err)
	}
	return &models.Product{
		ID:        doc.ID.Hex(),
		Name:      doc.Name,
		Price:     in.Price,
		Stock:     doc.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (*models.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFound(id)
	}
	var doc storedDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeError("find", err)
	}
	p, err := doc.toModel()
	if err != nil {
		return nil, apperrors.Persistence("corrupt product document", err)
	}
	return p, nil
}

func (r *ProductRepository) Find(ctx context.Context, skip, limit int) ([]*models.Product, error) {
	skip, limit = window(skip, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, storeError("find", err)
	}
	defer cursor.Close(ctx)

	products := make([]*models.Product, 0, limit)
	for cursor.Next(ctx) {
		var doc storedDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperrors.Persistence("corrupt product document", err)
		}
		p, err := doc.toModel()
		if err != nil {
			return nil, apperrors.Persistence("corrupt product document", err)
		}
		products = append(products, p)
	}
	if err := cursor.Err(); err != nil {
		return nil, storeError("find", err)
	}
	return products, nil
}

func (r *ProductRepository) Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFound(id)
	}
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}

	set := bson.M{"updated_at": models.Now()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Price != nil {
		price, err := priceToBSON(*patch.Price)
		if err != nil {
			return nil, apperrors.Validation("invalid price", map[string]string{"price": err.Error()})
		}
		set["price"] = price
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}

	var doc storedDocument
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeError("update", err)
	}
	p, err := doc.toModel()
	if err != nil {
		return nil, apperrors.Persistence("corrupt product document", err)
	}
	return p, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, storeError("delete", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, storeError("count", err)
	}
	return n, nil
}

// EnsureIndexes creates the secondary indexes used for listing by name.
func (r *ProductRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetName("name_1")},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}, Options: options.Index().SetName("updated_at_-1")},
	})
	if err != nil {
		return storeError("ensure indexes", err)
	}
	return nil
}
