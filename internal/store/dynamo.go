package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix   = "USER#"
	skChat     = "CHAT#"
	skAnalysis = "ANALYSIS#"

	// tsWidth zero-pads timestamps so lexical SK order equals time order.
	tsWidth = 20
)

// DynamoAPI is the subset of *dynamodb.Client used by the stores.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Compile-time interface check.
var _ DynamoAPI = (*dynamodb.Client)(nil)

// --- Internal helpers ---

func userPK(userID string) string {
	return pkPrefix + userID
}

// sortKey builds {prefix}{zero-padded ts}#{id}.
func sortKey(prefix string, ts int64, id string) string {
	return fmt.Sprintf("%s%0*d#%s", prefix, tsWidth, ts, id)
}

// parseSortKey splits a sort key built by sortKey.
func parseSortKey(prefix, sk string) (int64, string, error) {
	rest, ok := strings.CutPrefix(sk, prefix)
	if !ok {
		return 0, "", fmt.Errorf("sort key %q lacks prefix %q", sk, prefix)
	}
	tsPart, id, ok := strings.Cut(rest, "#")
	if !ok {
		return 0, "", fmt.Errorf("sort key %q has no id", sk)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("sort key %q: %w", sk, err)
	}
	return ts, id, nil
}

func putItem(ctx context.Context, client DynamoAPI, table, pk, sk string, data any) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// queryBySKPrefix pages through every item of pk whose SK begins with
// skPrefix, stopping early once limit items were read (limit <= 0: all).
func queryBySKPrefix(ctx context.Context, client DynamoAPI, table, pk, skPrefix string, forward bool, limit int) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ScanIndexForward: aws.Bool(forward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		items = append(items, result.Items...)

		if result.LastEvaluatedKey == nil || (limit > 0 && len(items) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// --- Chat ---

// chatItem is the attribute set of one CHAT# record. ID and timestamp live
// in the sort key.
type chatItem struct {
	SK   string `dynamodbav:"SK"`
	Text string `dynamodbav:"text"`
	Role Role   `dynamodbav:"role"`
}

// DynamoChatStore implements ChatStore on DynamoDB. Writes are followed by a
// Notifier signal; subscribers re-query the conversation on every signal.
type DynamoChatStore struct {
	client   DynamoAPI
	table    string
	notifier Notifier
	clock    *clock
}

// Compile-time interface check.
var _ ChatStore = (*DynamoChatStore)(nil)

// NewDynamoChatStore creates a chat store on table. A nil notifier falls back
// to in-process delivery, which only reaches subscribers of this instance.
func NewDynamoChatStore(client DynamoAPI, table string, notifier Notifier) *DynamoChatStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &DynamoChatStore{
		client:   client,
		table:    table,
		notifier: notifier,
		clock:    newClock(nil),
	}
}

func (s *DynamoChatStore) Append(ctx context.Context, userID, text string, role Role) (*ChatMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("append: empty user id")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("append: invalid role %q", role)
	}

	at := s.clock.next()
	msg := &ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Role:      role,
		CreatedAt: ServerTimestamp(at),
	}

	sk := sortKey(skChat, at.UnixNano(), msg.ID)
	item := struct {
		Text      string `dynamodbav:"text"`
		Role      Role   `dynamodbav:"role"`
		CreatedAt int64  `dynamodbav:"createdAt"`
	}{text, role, at.UnixMilli()}

	if err := putItem(ctx, s.client, s.table, userPK(userID), sk, item); err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}

	if err := s.notifier.Notify(ctx, userID); err != nil {
		// The message is durable; subscribers catch up on the next signal.
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to notify chat subscribers")
	}
	return msg, nil
}

// History reads the full conversation of userID, oldest first.
func (s *DynamoChatStore) History(ctx context.Context, userID string) ([]ChatMessage, error) {
	items, err := queryBySKPrefix(ctx, s.client, s.table, userPK(userID), skChat, true, 0)
	if err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(items))
	for _, item := range items {
		var ci chatItem
		if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
			return nil, fmt.Errorf("unmarshal chat item: %w", err)
		}
		ts, id, err := parseSortKey(skChat, ci.SK)
		if err != nil {
			return nil, err
		}
		messages = append(messages, ChatMessage{
			ID:        id,
			Text:      ci.Text,
			Role:      ci.Role,
			CreatedAt: ServerTimestamp(time.Unix(0, ts).UTC()),
		})
	}
	return messages, nil
}

func (s *DynamoChatStore) Subscribe(ctx context.Context, userID string, fn HistoryFunc) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe: nil callback")
	}

	// Signals can arrive from several goroutines; deliveries are serialised
	// so a listener never sees an older list after a newer one.
	var mu sync.Mutex
	deliver := func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		messages, err := s.History(ctx, userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to reload chat history")
			return
		}
		fn(messages)
	}

	stop, err := s.notifier.Listen(ctx, userID, func() { deliver(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("subscribe chat %s: %w", userID, err)
	}
	deliver(ctx)
	return stop, nil
}

// --- Analyses ---

// DynamoAnalysisSink implements AnalysisSink: the image goes to the
// ImageStore (S3), the record to DynamoDB under ANALYSIS#.
type DynamoAnalysisSink struct {
	client DynamoAPI
	table  string
	images ImageStore
	now    func() time.Time
}

// Compile-time interface check.
var _ AnalysisSink = (*DynamoAnalysisSink)(nil)

// NewDynamoAnalysisSink creates a sink writing records to table and images
// to images (nil skips the upload and records the key only).
func NewDynamoAnalysisSink(client DynamoAPI, table string, images ImageStore) *DynamoAnalysisSink {
	return &DynamoAnalysisSink{client: client, table: table, images: images, now: time.Now}
}

func (s *DynamoAnalysisSink) SaveAnalysis(ctx context.Context, upload AnalysisUpload) (*AnalysisRecord, error) {
	rec, err := storeImage(ctx, s.images, upload, s.now())
	if err != nil {
		return nil, err
	}

	sk := sortKey(skAnalysis, rec.CreatedAt, rec.ID)
	if err := putItem(ctx, s.client, s.table, userPK(rec.UserID), sk, rec); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	log.Info().
		Str("user_id", rec.UserID).
		Str("analysis_id", rec.ID).
		Str("image_key", rec.ImageKey).
		Msg("Analysis record saved")
	return rec, nil
}

func (s *DynamoAnalysisSink) ListAnalyses(ctx context.Context, userID string, limit int) ([]AnalysisRecord, error) {
	items, err := queryBySKPrefix(ctx, s.client, s.table, userPK(userID), skAnalysis, false, limit)
	if err != nil {
		return nil, err
	}

	records := make([]AnalysisRecord, 0, len(items))
	for _, item := range items {
		var rec AnalysisRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal analysis item: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
