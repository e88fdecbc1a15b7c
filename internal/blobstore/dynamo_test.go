package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	putErr    error
	updateOut *dynamodb.UpdateItemOutput
	queryOuts []*dynamodb.QueryOutput

	lastPut    *dynamodb.PutItemInput
	lastUpdate *dynamodb.UpdateItemInput
	queries    int
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	return f.updateOut, nil
}

func (f *fakeDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	out := f.queryOuts[f.queries]
	f.queries++
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func TestDynamoStore_GetMissing(t *testing.T) {
	s := NewDynamoBackendWithClient(&fakeDynamo{}, "blobs").Namespace("campaign-stats")
	_, err := s.Get(context.Background(), "youtuber_rebuild_punjab")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_GetDecodesItem(t *testing.T) {
	updated := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	item, err := attributevalue.MarshalMap(dynamoItem{
		Namespace: "campaign-stats",
		Key:       "youtuber_rebuild_punjab",
		Data:      []byte(`{"donation_count":1}`),
		Version:   4,
		Metadata:  map[string]string{"campaign": "youtuber_rebuild_punjab"},
		UpdatedAt: updated,
	})
	require.NoError(t, err)

	s := NewDynamoBackendWithClient(&fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}, "blobs").Namespace("campaign-stats")
	got, err := s.Get(context.Background(), "youtuber_rebuild_punjab")
	require.NoError(t, err)

	assert.Equal(t, int64(4), got.Version)
	assert.JSONEq(t, `{"donation_count":1}`, string(got.Data))
	assert.Equal(t, "youtuber_rebuild_punjab", got.Metadata["campaign"])
	assert.True(t, updated.Equal(got.UpdatedAt))
}

func TestDynamoStore_PutIfConditions(t *testing.T) {
	t.Run("create uses attribute_not_exists", func(t *testing.T) {
		fake := &fakeDynamo{}
		s := NewDynamoBackendWithClient(fake, "blobs").Namespace("campaign-donations")

		v, err := s.PutIf(context.Background(), "payments/pay_1", []byte("{}"), nil, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		require.NotNil(t, fake.lastPut)
		assert.Contains(t, aws.ToString(fake.lastPut.ConditionExpression), "attribute_not_exists")
	})

	t.Run("update conditions on version", func(t *testing.T) {
		fake := &fakeDynamo{}
		s := NewDynamoBackendWithClient(fake, "blobs").Namespace("campaign-stats")

		v, err := s.PutIf(context.Background(), "camp", []byte("{}"), nil, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(8), v)

		var item dynamoItem
		require.NoError(t, attributevalue.UnmarshalMap(fake.lastPut.Item, &item))
		assert.Equal(t, int64(8), item.Version)
		assert.Equal(t, "campaign-stats", item.Namespace)
		assert.NotContains(t, aws.ToString(fake.lastPut.ConditionExpression), "attribute_not_exists")
	})

	t.Run("conditional failure maps to conflict", func(t *testing.T) {
		fake := &fakeDynamo{putErr: fmt.Errorf("operation error: %w", &ddbtypes.ConditionalCheckFailedException{Message: aws.String("failed")})}
		s := NewDynamoBackendWithClient(fake, "blobs").Namespace("campaign-stats")

		_, err := s.PutIf(context.Background(), "camp", []byte("{}"), nil, 3)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		boom := errors.New("throughput exceeded")
		s := NewDynamoBackendWithClient(&fakeDynamo{putErr: boom}, "blobs").Namespace("campaign-stats")

		_, err := s.PutIf(context.Background(), "camp", []byte("{}"), nil, 3)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrConflict)
	})
}

func TestDynamoStore_PutReturnsNewVersion(t *testing.T) {
	attrs, err := attributevalue.MarshalMap(map[string]any{"version": 5})
	require.NoError(t, err)

	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: attrs}}
	s := NewDynamoBackendWithClient(fake, "blobs").Namespace("campaign-donations")

	v, err := s.Put(context.Background(), "rec", []byte("{}"), map[string]string{"paymentId": "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
	assert.Contains(t, aws.ToString(fake.lastUpdate.UpdateExpression), "ADD")
}

func TestDynamoStore_ListPaginates(t *testing.T) {
	page := func(keys []string, more bool) *dynamodb.QueryOutput {
		out := &dynamodb.QueryOutput{}
		for _, k := range keys {
			out.Items = append(out.Items, map[string]ddbtypes.AttributeValue{
				"key": &ddbtypes.AttributeValueMemberS{Value: k},
			})
		}
		if more {
			out.LastEvaluatedKey = map[string]ddbtypes.AttributeValue{
				"ns":  &ddbtypes.AttributeValueMemberS{Value: "campaign-donations"},
				"key": &ddbtypes.AttributeValueMemberS{Value: keys[len(keys)-1]},
			}
		}
		return out
	}

	fake := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		page([]string{"payments/a", "payments/b"}, true),
		page([]string{"payments/c"}, false),
	}}
	s := NewDynamoBackendWithClient(fake, "blobs").Namespace("campaign-donations")

	keys, err := s.List(context.Background(), "payments/")
	require.NoError(t, err)
	assert.Equal(t, []string{"payments/a", "payments/b", "payments/c"}, keys)
	assert.Equal(t, 2, fake.queries)
}

// docker run -it --rm -p 8000:8000 amazon/dynamodb-local
// DYNAMODB_TEST_ENDPOINT=http://localhost:8000 go test ./internal/blobstore/
func TestDynamoBackend_Integration(t *testing.T) {
	endpoint := os.Getenv("DYNAMODB_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMODB_TEST_ENDPOINT not set")
	}

	runStoreTests(t, func(t *testing.T) Backend {
		ctx := context.Background()
		table := fmt.Sprintf("blobs_%d", time.Now().UnixNano())

		t.Setenv("AWS_ACCESS_KEY_ID", "local")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "local")
		b, err := NewDynamoBackend(ctx, "us-east-1", endpoint, table)
		require.NoError(t, err)

		client := b.client.(*dynamodb.Client)
		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []ddbtypes.AttributeDefinition{
				{AttributeName: aws.String(attrNamespace), AttributeType: ddbtypes.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrKey), AttributeType: ddbtypes.ScalarAttributeTypeS},
			},
			KeySchema: []ddbtypes.KeySchemaElement{
				{AttributeName: aws.String(attrNamespace), KeyType: ddbtypes.KeyTypeHash},
				{AttributeName: aws.String(attrKey), KeyType: ddbtypes.KeyTypeRange},
			},
			BillingMode: ddbtypes.BillingModePayPerRequest,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(table)})
		})
		return b
	})
}
