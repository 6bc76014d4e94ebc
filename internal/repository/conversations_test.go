package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"tgbot-pipeline/internal/domain"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue

	puts    []*dynamodb.PutItemInput
	getIn   *dynamodb.GetItemInput
	queryIn *dynamodb.QueryInput

	putErr     error
	getErr     error
	queryErr   error
	queryItems []map[string]types.AttributeValue

	conditionalFails int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["user_id"].(*types.AttributeValueMemberS).Value
	sk := item["timestamp"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.conditionalFails > 0 {
		f.conditionalFails--
		return nil, &types.ConditionalCheckFailedException{}
	}
	key := itemKey(in.Item)
	if in.ConditionExpression != nil {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &dynamodb.QueryOutput{Items: f.queryItems}, nil
}

func stubNow(t *testing.T) {
	t.Helper()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	orig := now
	now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
	t.Cleanup(func() { now = orig })
}

func newTestStore(t *testing.T, api dynamodbAPI) *Store {
	t.Helper()
	store, err := New(api, "message-logs", 90*24*time.Hour)
	require.NoError(t, err)
	return store
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "message-logs", time.Hour)
	require.Error(t, err)

	_, err = New(newFakeDynamo(), " ", time.Hour)
	require.Error(t, err)

	_, err = New(newFakeDynamo(), "message-logs", 0)
	require.Error(t, err)
}

func TestAppendEntry_AssignsTimestampAndTTL(t *testing.T) {
	stubNow(t)
	api := newFakeDynamo()
	store := newTestStore(t, api)

	entry, err := store.AppendEntry(context.Background(), domain.ConversationEntry{
		UserID:    "42",
		ChatID:    "42",
		Direction: domain.DirectionInbound,
		Status:    domain.StatusReceived,
		Message:   "hello",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.Timestamp)
	require.NotZero(t, entry.TTL)

	parsed, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	require.NoError(t, err)
	require.Equal(t, time.UTC, parsed.Location())

	require.Len(t, api.puts, 1)
	put := api.puts[0]
	require.Equal(t, "message-logs", *put.TableName)
	require.NotNil(t, put.ConditionExpression)
	require.Contains(t, *put.ConditionExpression, "attribute_not_exists")
	require.Equal(t, "timestamp", put.ExpressionAttributeNames["#ts"])
}

func TestAppendEntry_RequiresUserID(t *testing.T) {
	store := newTestStore(t, newFakeDynamo())
	_, err := store.AppendEntry(context.Background(), domain.ConversationEntry{Message: "no user"})
	require.Error(t, err)
}

func TestAppendEntry_RetriesTimestampCollision(t *testing.T) {
	stubNow(t)
	api := newFakeDynamo()
	api.conditionalFails = 1
	store := newTestStore(t, api)

	entry, err := store.AppendEntry(context.Background(), domain.ConversationEntry{UserID: "42", Message: "hello"})
	require.NoError(t, err)
	require.Len(t, api.puts, 2)

	first := api.puts[0].Item["timestamp"].(*types.AttributeValueMemberS).Value
	second := api.puts[1].Item["timestamp"].(*types.AttributeValueMemberS).Value
	require.NotEqual(t, first, second)
	require.Equal(t, second, entry.Timestamp)
}

func TestAppendEntry_PersistentCollisionFails(t *testing.T) {
	stubNow(t)
	api := newFakeDynamo()
	api.conditionalFails = 3
	store := newTestStore(t, api)

	_, err := store.AppendEntry(context.Background(), domain.ConversationEntry{UserID: "42", Message: "hello"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "collision")
}

func TestAppendEntry_PassesThroughOtherErrors(t *testing.T) {
	api := newFakeDynamo()
	api.putErr = errors.New("throughput exceeded")
	store := newTestStore(t, api)

	_, err := store.AppendEntry(context.Background(), domain.ConversationEntry{UserID: "42", Message: "hello"})
	require.Error(t, err)
	require.Len(t, api.puts, 1)
}

func TestMarkProcessed_DetectsDuplicates(t *testing.T) {
	stubNow(t)
	api := newFakeDynamo()
	store := newTestStore(t, api)

	require.NoError(t, store.MarkProcessed(context.Background(), "send:msg-1"))

	err := store.MarkProcessed(context.Background(), "send:msg-1")
	require.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestHasProcessed_ConsistentRead(t *testing.T) {
	stubNow(t)
	api := newFakeDynamo()
	store := newTestStore(t, api)

	seen, err := store.HasProcessed(context.Background(), "send:msg-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, store.MarkProcessed(context.Background(), "send:msg-1"))

	seen, err = store.HasProcessed(context.Background(), "send:msg-1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NotNil(t, api.getIn.ConsistentRead)
	require.True(t, *api.getIn.ConsistentRead)
}

func TestQueryMediaGroup(t *testing.T) {
	api := newFakeDynamo()
	api.queryItems = []map[string]types.AttributeValue{
		{
			"user_id":        &types.AttributeValueMemberS{Value: "42"},
			"timestamp":      &types.AttributeValueMemberS{Value: "2025-03-01T12:00:00.001Z"},
			"media_group_id": &types.AttributeValueMemberS{Value: "g1"},
			"blob_key":       &types.AttributeValueMemberS{Value: "k1"},
		},
		{
			"user_id":        &types.AttributeValueMemberS{Value: "42"},
			"timestamp":      &types.AttributeValueMemberS{Value: "2025-03-01T12:00:00.002Z"},
			"media_group_id": &types.AttributeValueMemberS{Value: "g1"},
			"blob_key":       &types.AttributeValueMemberS{Value: "k2"},
		},
	}
	store := newTestStore(t, api)

	entries, err := store.QueryMediaGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "k1", entries[0].BlobKey)
	require.Equal(t, "k2", entries[1].BlobKey)

	require.Equal(t, "MediaGroupIndex", *api.queryIn.IndexName)
	require.Contains(t, *api.queryIn.KeyConditionExpression, "media_group_id")
}

func TestQueryMediaGroup_RequiresID(t *testing.T) {
	store := newTestStore(t, newFakeDynamo())
	_, err := store.QueryMediaGroup(context.Background(), "")
	require.Error(t, err)
}

func TestHistory_ReturnsChronologicalOrder(t *testing.T) {
	api := newFakeDynamo()
	// The store queries newest first; History reverses to chronological.
	api.queryItems = []map[string]types.AttributeValue{
		{
			"user_id":   &types.AttributeValueMemberS{Value: "42"},
			"timestamp": &types.AttributeValueMemberS{Value: "2025-03-01T12:00:02Z"},
			"message":   &types.AttributeValueMemberS{Value: "second"},
		},
		{
			"user_id":   &types.AttributeValueMemberS{Value: "42"},
			"timestamp": &types.AttributeValueMemberS{Value: "2025-03-01T12:00:01Z"},
			"message":   &types.AttributeValueMemberS{Value: "first"},
		},
	}
	store := newTestStore(t, api)

	entries, err := store.History(context.Background(), "42", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Message)
	require.Equal(t, "second", entries[1].Message)

	require.NotNil(t, api.queryIn.ScanIndexForward)
	require.False(t, *api.queryIn.ScanIndexForward)
}

func TestEntryItemRoundTrip(t *testing.T) {
	in := domain.ConversationEntry{
		UserID:            "42",
		Timestamp:         "2025-03-01T12:00:00.001Z",
		ChatID:            "42",
		Direction:         domain.DirectionInbound,
		Status:            domain.StatusProcessing,
		Message:           "photo.jpg",
		PlatformMessageID: 8,
		SenderID:          "42",
		MediaGroupID:      "g1",
		BlobKey:           "42/g1/8/abc_photo.jpg",
		FileInfo:          &domain.FileInfo{Type: "photo", FileID: "f1", FileUniqueID: "u1", FileSize: 9000},
		TTL:               1750000000,
	}

	out, err := itemToEntry(entryItem(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestEntryItem_OmitsEmptyMediaGroup(t *testing.T) {
	item := entryItem(domain.ConversationEntry{UserID: "42", Timestamp: "ts", Message: "hi"})
	_, ok := item["media_group_id"]
	require.False(t, ok)
}
