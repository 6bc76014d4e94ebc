package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tgbot-pipeline/internal/domain"
)

const (
	mediaGroupIndex = "MediaGroupIndex"

	// Idempotency marks share the conversation table under a reserved
	// partition prefix so no extra table is needed.
	idempPKPrefix = "IDEMP#"
	idempSK       = "MARK"

	appendRetries = 3
)


// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store wraps the DynamoDB conversation log table: PK user_id, SK timestamp,
// GSI MediaGroupIndex on (media_group_id, timestamp), TTL attribute ttl.
type Store struct {
	api       dynamodbAPI
	tableName string
	entryTTL  time.Duration
}

// New creates a Store writing entries that expire after entryTTL.
func New(api dynamodbAPI, tableName string, entryTTL time.Duration) (*Store, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if entryTTL <= 0 {
		return nil, errors.New("repository: entry TTL must be positive")
	}
	return &Store{api: api, tableName: tableName, entryTTL: entryTTL}, nil
}

// now is overridable in tests.
var now = time.Now

// entryTimestamp returns the sort key for an entry written at ts.
func entryTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// AppendEntry writes a new conversation entry keyed by (user_id, timestamp).
// The timestamp is assigned here, at write time, and the put is conditional
// on the key not existing, so same-user history is append-only and strictly
// ordered. A collision (two writers landing on the same nanosecond) retries
// with a fresh timestamp. The stored entry is returned so callers can use its
// EntryID.
func (s *Store) AppendEntry(ctx context.Context, entry domain.ConversationEntry) (domain.ConversationEntry, error) {
	if entry.UserID == "" {
		return domain.ConversationEntry{}, errors.New("repository: AppendEntry: user id is required")
	}

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		entry.Timestamp = entryTimestamp(now())
		entry.TTL = now().Add(s.entryTTL).Unix()

		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                entryItem(entry),
			ConditionExpression: aws.String("attribute_not_exists(user_id) AND attribute_not_exists(#ts)"),
			ExpressionAttributeNames: map[string]string{
				"#ts": "timestamp",
			},
		})
		if err == nil {
			return entry, nil
		}
		if !isConditionalFailure(err) {
			return domain.ConversationEntry{}, fmt.Errorf("repository: AppendEntry: %w", err)
		}
		lastErr = err
	}
	return domain.ConversationEntry{}, fmt.Errorf("repository: AppendEntry: timestamp collision persisted: %w", lastErr)
}

// MarkProcessed records that the side effect keyed by key has happened.
// Returns ErrDuplicate if the mark already exists, which is how at-least-once
// redelivery of the same message id is detected and absorbed.
func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("repository: MarkProcessed: key is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"user_id":   &types.AttributeValueMemberS{Value: idempPKPrefix + key},
			"timestamp": &types.AttributeValueMemberS{Value: idempSK},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now().Add(s.entryTTL).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("repository: MarkProcessed %q: %w", key, domain.ErrDuplicate)
		}
		return fmt.Errorf("repository: MarkProcessed: %w", err)
	}
	return nil
}

// HasProcessed reports whether the mark for key exists. Reads are consistent
// so a mark written by a crashed worker is visible to its replacement.
func (s *Store) HasProcessed(ctx context.Context, key string) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id":   &types.AttributeValueMemberS{Value: idempPKPrefix + key},
			"timestamp": &types.AttributeValueMemberS{Value: idempSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: HasProcessed: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

// QueryMediaGroup returns all entries of one media burst via the secondary
// index, ordered by timestamp.
func (s *Store) QueryMediaGroup(ctx context.Context, mediaGroupID string) ([]domain.ConversationEntry, error) {
	if mediaGroupID == "" {
		return nil, errors.New("repository: QueryMediaGroup: media group id is required")
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(mediaGroupIndex),
		KeyConditionExpression: aws.String("media_group_id = :mgid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mgid": &types.AttributeValueMemberS{Value: mediaGroupID},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: QueryMediaGroup: %w", err)
	}
	entries := make([]domain.ConversationEntry, 0, len(out.Items))
	for _, item := range out.Items {
		entry, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryMediaGroup unmarshal: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// History returns the most recent entries for a user in chronological order.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]domain.ConversationEntry, error) {
	if userID == "" {
		return nil, errors.New("repository: History: user id is required")
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		// Read newest first so Limit keeps the most recent entries.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: History: %w", err)
	}
	entries := make([]domain.ConversationEntry, 0, len(out.Items))
	for _, item := range out.Items {
		entry, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("repository: History unmarshal: %w", err)
		}
		entries = append(entries, entry)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func entryItem(e domain.ConversationEntry) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"user_id":   &types.AttributeValueMemberS{Value: e.UserID},
		"timestamp": &types.AttributeValueMemberS{Value: e.Timestamp},
		"direction": &types.AttributeValueMemberS{Value: string(e.Direction)},
		"status":    &types.AttributeValueMemberS{Value: string(e.Status)},
		"message":   &types.AttributeValueMemberS{Value: e.Message},
		"is_bot":    &types.AttributeValueMemberBOOL{Value: e.IsBot},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(e.TTL, 10)},
	}
	if e.ChatID != "" {
		item["chat_id"] = &types.AttributeValueMemberS{Value: e.ChatID}
	}
	if e.SenderID != "" {
		item["sender_id"] = &types.AttributeValueMemberS{Value: e.SenderID}
	}
	if e.PlatformMessageID != 0 {
		item["telegram_message_id"] = &types.AttributeValueMemberN{Value: strconv.Itoa(e.PlatformMessageID)}
	}
	// media_group_id is omitted when empty to keep the GSI sparse.
	if e.MediaGroupID != "" {
		item["media_group_id"] = &types.AttributeValueMemberS{Value: e.MediaGroupID}
	}
	if e.BlobKey != "" {
		item["blob_key"] = &types.AttributeValueMemberS{Value: e.BlobKey}
	}
	if e.FileInfo != nil {
		raw, err := json.Marshal(e.FileInfo)
		if err == nil {
			item["file_info"] = &types.AttributeValueMemberS{Value: string(raw)}
		}
	}
	return item
}

func itemToEntry(item map[string]types.AttributeValue) (domain.ConversationEntry, error) {
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	ts, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	direction, _ := optStrAttr(item, "direction")
	status, _ := optStrAttr(item, "status")
	message, _ := optStrAttr(item, "message")
	chatID, _ := optStrAttr(item, "chat_id")
	senderID, _ := optStrAttr(item, "sender_id")
	mediaGroupID, _ := optStrAttr(item, "media_group_id")
	blobKey, _ := optStrAttr(item, "blob_key")

	entry := domain.ConversationEntry{
		UserID:       userID,
		Timestamp:    ts,
		ChatID:       chatID,
		Direction:    domain.Direction(direction),
		Status:       domain.Status(status),
		Message:      message,
		SenderID:     senderID,
		MediaGroupID: mediaGroupID,
		BlobKey:      blobKey,
	}
	if v, ok := item["is_bot"]; ok {
		if b, ok := v.(*types.AttributeValueMemberBOOL); ok {
			entry.IsBot = b.Value
		}
	}
	if v, ok := item["telegram_message_id"]; ok {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			entry.PlatformMessageID, _ = strconv.Atoi(n.Value)
		}
	}
	if v, ok := item["ttl"]; ok {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			entry.TTL, _ = strconv.ParseInt(n.Value, 10, 64)
		}
	}
	if raw, ok := optStrAttr(item, "file_info"); ok {
		var fi domain.FileInfo
		if err := json.Unmarshal([]byte(raw), &fi); err == nil {
			entry.FileInfo = &fi
		}
	}
	return entry, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) (string, bool) {
	v, ok := item[key]
	if !ok {
		return "", false
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}
