package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	ddbpkg "github.com/kevin-soria/system-design-playground/pkg/dynamodb"
	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

const productKey = "product_id"

// DynamoAPI is the subset of the DynamoDB client the adapter uses.
type DynamoAPI interface {
	ddbpkg.TableAPI
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoAdapter is the DynamoDB store adapter. It stores products in a table
// keyed by `product_id` (UUID string). Listing scans the table and orders by
// created_at, so it is meant for small catalogues.
type DynamoAdapter struct {
	client DynamoAPI
	table  string
}

func NewDynamoAdapter(client DynamoAPI, table string) *DynamoAdapter {
	return &DynamoAdapter{client: client, table: table}
}

type ddbProduct struct {
	ProductID string                `dynamodbav:"product_id"`
	Name      string                `dynamodbav:"name"`
	Price     attributevalue.Number `dynamodbav:"price"`
	Stock     int                   `dynamodbav:"stock"`
	CreatedAt string                `dynamodbav:"created_at"`
	UpdatedAt string                `dynamodbav:"updated_at"`
}

func toDDB(p *models.Product) ddbProduct {
	return ddbProduct{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     attributevalue.Number(p.Price.String()),
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (dp ddbProduct) toModel() (*models.Product, error) {
	price, err := decimal.NewFromString(dp.Price.String())
	if err != nil {
		return nil, fmt.Errorf("product %s price: %w", dp.ProductID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, dp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("product %s created_at: %w", dp.ProductID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, dp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("product %s updated_at: %w", dp.ProductID, err)
	}
	return &models.Product{
		ID:        dp.ProductID,
		Name:      dp.Name,
		Price:     price,
		Stock:     dp.Stock,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
	}, nil
}

func decodeItem(item map[string]types.AttributeValue) (*models.Product, error) {
	var dp ddbProduct
	if err := attributevalue.UnmarshalMap(item, &dp); err != nil {
		return nil, apperrors.Persistence("corrupt product item", err)
	}
	p, err := dp.toModel()
	if err != nil {
		return nil, apperrors.Persistence("corrupt product item", err)
	}
	return p, nil
}

func ddbError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException", "ServiceUnavailable", "InternalServerError":
			return apperrors.Unavailable("product store unavailable", fmt.Errorf("%s: %w", op, err))
		}
		return apperrors.Persistence("product store "+op+" failed", err)
	}
	return apperrors.Unavailable("product store unavailable", fmt.Errorf("%s: %w", op, err))
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// validID accepts adapter-assigned UUIDs and ObjectID hex strings carried
// over by the Mongo migration tool.
func validID(id string) bool {
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	return primitive.IsValidObjectID(id)
}

func (d *DynamoAdapter) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{productKey: &types.AttributeValueMemberS{Value: id}}
}

func (d *DynamoAdapter) Create(ctx context.Context, in models.ProductInput) (*models.Product, error) {
	now := models.Now()
	p := &models.Product{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Price:     in.Price,
		Stock:     in.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item, err := attributevalue.MarshalMap(toDDB(p))
	if err != nil {
		return nil, apperrors.Persistence("marshal product", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(product_id)"),
	})
	if err != nil {
		return nil, ddbError("put", err)
	}
	return p, nil
}

func (d *DynamoAdapter) FindByID(ctx context.Context, id string) (*models.Product, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, ddbError("get", err)
	}
	if len(out.Item) == 0 {
		return nil, notFound(id)
	}
	return decodeItem(out.Item)
}

// Find scans every item, orders them by creation, then applies skip/limit.
func (d *DynamoAdapter) Find(ctx context.Context, skip, limit int) ([]*models.Product, error) {
	skip, limit = window(skip, limit)
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
	})
	var all []*models.Product
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ddbError("scan", err)
		}
		for _, it := range page.Items {
			p, err := decodeItem(it)
			if err != nil {
				return nil, err
			}
			all = append(all, p)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if skip >= len(all) {
		return []*models.Product{}, nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (d *DynamoAdapter) Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	if patch.IsEmpty() {
		return d.FindByID(ctx, id)
	}

	sets := []string{"updated_at = :updated_at"}
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: models.Now().Format(time.RFC3339Nano)},
	}
	if patch.Name != nil {
		sets = append(sets, "#name = :name")
		names["#name"] = "name"
		values[":name"] = &types.AttributeValueMemberS{Value: *patch.Name}
	}
	if patch.Price != nil {
		sets = append(sets, "price = :price")
		values[":price"] = &types.AttributeValueMemberN{Value: patch.Price.String()}
	}
	if patch.Stock != nil {
		sets = append(sets, "stock = :stock")
		values[":stock"] = &types.AttributeValueMemberN{Value: fmt.Sprint(*patch.Stock)}
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       d.key(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	out, err := d.client.UpdateItem(ctx, input)
	if isConditionFailed(err) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, ddbError("update", err)
	}
	return decodeItem(out.Attributes)
}

func (d *DynamoAdapter) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.table),
		Key:          d.key(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, ddbError("delete", err)
	}
	return len(out.Attributes) > 0, nil
}

func (d *DynamoAdapter) Count(ctx context.Context) (int64, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.table),
		Select:    types.SelectCount,
	})
	var total int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, ddbError("count", err)
		}
		total += int64(page.Count)
	}
	return total, nil
}

// EnsureIndexes creates the products table when it is missing.
func (d *DynamoAdapter) EnsureIndexes(ctx context.Context) error {
	if err := ddbpkg.EnsureTable(ctx, d.client, d.table, productKey); err != nil {
		return ddbError("ensure table", err)
	}
	return nil
}

// Put writes p as-is, keeping its identity and timestamps. Used when copying
// records from another store.
func (d *DynamoAdapter) Put(ctx context.Context, p *models.Product) error {
	item, err := attributevalue.MarshalMap(toDDB(p))
	if err != nil {
		return apperrors.Persistence("marshal product", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: item}); err != nil {
		return ddbError("put", err)
	}
	return nil
}
