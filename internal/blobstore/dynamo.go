package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

/*
Table layout:

	Partition key:  ns  (String)   namespace, e.g. campaign-stats
	Sort key:       key (String)   blob key
	Attributes:     data (Binary), version (Number), meta (Map), updated_at (String)

Reads are strongly consistent so a read-modify-write loop always sees the
version it is about to condition on.
*/

const (
	attrNamespace = "ns"
	attrKey       = "key"
	attrData      = "data"
	attrVersion   = "version"
	attrMeta      = "meta"
	attrUpdatedAt = "updated_at"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoBackend.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type dynamoItem struct {
	Namespace string            `dynamodbav:"ns"`
	Key       string            `dynamodbav:"key"`
	Data      []byte            `dynamodbav:"data"`
	Version   int64             `dynamodbav:"version"`
	Metadata  map[string]string `dynamodbav:"meta,omitempty"`
	UpdatedAt time.Time         `dynamodbav:"updated_at"`
}

// DynamoBackend stores blobs in a single DynamoDB table.
type DynamoBackend struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoBackend builds a client from the default AWS credential chain.
// endpoint overrides the service URL (LocalStack, dynamodb-local).
func NewDynamoBackend(ctx context.Context, region, endpoint, table string) (*DynamoBackend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for DynamoDB (region=%s): %w", region, err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoBackendWithClient(client, table), nil
}

func NewDynamoBackendWithClient(client DynamoAPI, table string) *DynamoBackend {
	return &DynamoBackend{client: client, table: table, now: time.Now}
}

func (b *DynamoBackend) Namespace(name string) Store {
	return &dynamoStore{backend: b, ns: name}
}

func (b *DynamoBackend) Ping(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)})
	return err
}

func (b *DynamoBackend) Close() {}

type dynamoStore struct {
	backend *DynamoBackend
	ns      string
}

func (s *dynamoStore) itemKey(key string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		attrNamespace: &ddbtypes.AttributeValueMemberS{Value: s.ns},
		attrKey:       &ddbtypes.AttributeValueMemberS{Value: key},
	}
}

func (s *dynamoStore) Get(ctx context.Context, key string) (*Blob, error) {
	out, err := s.backend.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.backend.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s/%s: %w", s.ns, key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamodb decode %s/%s: %w", s.ns, key, err)
	}
	return &Blob{
		Key:       item.Key,
		Data:      item.Data,
		Version:   item.Version,
		Metadata:  item.Metadata,
		UpdatedAt: item.UpdatedAt,
	}, nil
}

func (s *dynamoStore) Put(ctx context.Context, key string, data []byte, meta map[string]string) (int64, error) {
	update := expression.
		Set(expression.Name(attrData), expression.Value(data)).
		Set(expression.Name(attrUpdatedAt), expression.Value(s.backend.now().UTC())).
		Add(expression.Name(attrVersion), expression.Value(1))
	if len(meta) > 0 {
		update = update.Set(expression.Name(attrMeta), expression.Value(meta))
	} else {
		update = update.Remove(expression.Name(attrMeta))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("dynamodb build update: %w", err)
	}

	out, err := s.backend.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.backend.table),
		Key:                       s.itemKey(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              ddbtypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb put %s/%s: %w", s.ns, key, err)
	}

	var updated struct {
		Version int64 `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("dynamodb decode version %s/%s: %w", s.ns, key, err)
	}
	return updated.Version, nil
}

func (s *dynamoStore) PutIf(ctx context.Context, key string, data []byte, meta map[string]string, expected int64) (int64, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		Namespace: s.ns,
		Key:       key,
		Data:      data,
		Version:   expected + 1,
		Metadata:  copyMeta(meta),
		UpdatedAt: s.backend.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb encode %s/%s: %w", s.ns, key, err)
	}

	cond := expression.AttributeNotExists(expression.Name(attrKey))
	if expected > 0 {
		cond = expression.Name(attrVersion).Equal(expression.Value(expected))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return 0, fmt.Errorf("dynamodb build condition: %w", err)
	}

	_, err = s.backend.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.backend.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("dynamodb conditional put %s/%s: %w", s.ns, key, err)
	}
	return expected + 1, nil
}

func (s *dynamoStore) List(ctx context.Context, prefix string) ([]string, error) {
	keyCond := expression.Key(attrNamespace).Equal(expression.Value(s.ns))
	if prefix != "" {
		keyCond = keyCond.And(expression.Key(attrKey).BeginsWith(prefix))
	}

	expr, err := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithProjection(expression.NamesList(expression.Name(attrKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dynamodb build query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.backend.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.backend.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb list %s/%s*: %w", s.ns, prefix, err)
		}
		for _, raw := range page.Items {
			var row struct {
				Key string `dynamodbav:"key"`
			}
			if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
				return nil, fmt.Errorf("dynamodb decode key: %w", err)
			}
			keys = append(keys, row.Key)
		}
	}
	return keys, nil
}
