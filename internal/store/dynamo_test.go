package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/filehandler"
)

// fakeDynamo is an in-memory table supporting the PK/begins_with(SK) query
// the stores issue.
type fakeDynamo struct {
	mu    sync.Mutex
	items []map[string]types.AttributeValue
}

func attrS(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":skPrefix"].(*types.AttributeValueMemberS).Value

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if attrS(item, "PK") == pk && strings.HasPrefix(attrS(item, "SK"), prefix) {
			out = append(out, item)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(out, func(i, j int) bool {
		if forward {
			return attrS(out[i], "SK") < attrS(out[j], "SK")
		}
		return attrS(out[i], "SK") > attrS(out[j], "SK")
	})
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func TestSortKeyRoundTripAndOrder(t *testing.T) {
	early := sortKey(skChat, 9, "a")
	late := sortKey(skChat, 10, "b")
	if !(early < late) {
		t.Errorf("lexical order broken: %q >= %q", early, late)
	}

	ts, id, err := parseSortKey(skChat, late)
	if err != nil || ts != 10 || id != "b" {
		t.Errorf("parseSortKey = %d, %q, %v", ts, id, err)
	}
	if _, _, err := parseSortKey(skAnalysis, late); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestDynamoChatStoreAppendAndSubscribe(t *testing.T) {
	ctx := context.Background()
	db := &fakeDynamo{}
	s := NewDynamoChatStore(db, "insight", nil)

	var rec recorder
	unsubscribe, err := s.Subscribe(ctx, "alice", rec.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()
	if rec.count() != 1 || len(rec.last()) != 0 {
		t.Fatalf("initial delivery = %v", rec.lists)
	}

	first, err := s.Append(ctx, "alice", "Bonjour", RoleUser)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "alice", "Salut !", RoleModel); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "bob", "autre", RoleUser); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := rec.last()
	if len(got) != 2 {
		t.Fatalf("history = %+v", got)
	}
	if got[0].ID != first.ID || got[0].Role != RoleUser || got[1].Role != RoleModel {
		t.Errorf("history = %+v", got)
	}
	if !got[0].CreatedAt.Time.Before(got[1].CreatedAt.Time) {
		t.Error("history not in time order")
	}
	if rec.count() != 3 {
		t.Errorf("deliveries = %d, want 3 (bob's write must not notify alice)", rec.count())
	}
}

func TestDynamoAnalysisSink(t *testing.T) {
	ctx := context.Background()
	db := &fakeDynamo{}
	images := &fakeImages{}
	sink := NewDynamoAnalysisSink(db, "insight", images)
	tick := time.UnixMilli(1_700_000_000_000)
	sink.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	meta := &filehandler.ImageMetadata{Make: "Apple", GPS: &filehandler.GPS{Latitude: "48.856600", Longitude: "2.352200"}}
	result := &chat.AnalysisResult{
		Titles:   []string{"A"},
		Captions: []string{"B"},
		Excerpts: []chat.LiteraryExcerpt{{Excerpt: "e1", Author: "au1", Work: "o1"}},
		Location: &chat.LocationInfo{City: "Paris"},
	}

	for _, name := range []string{"old.jpg", "new.jpg"} {
		if _, err := sink.SaveAnalysis(ctx, AnalysisUpload{UserID: "alice", FileName: name, MIMEType: "image/jpeg", Metadata: meta, Result: result}); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
	}
	if len(images.keys) != 2 {
		t.Fatalf("images uploaded = %d", len(images.keys))
	}

	list, err := sink.ListAnalyses(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(list) != 2 || list[0].FileName != "new.jpg" {
		t.Fatalf("ListAnalyses = %+v, want newest first", list)
	}
	got := list[0]
	if got.Result == nil || got.Result.Location == nil || got.Result.Location.City != "Paris" {
		t.Errorf("result not round-tripped: %+v", got.Result)
	}
	if got.Metadata == nil || got.Metadata.GPS == nil || got.Metadata.GPS.Latitude != "48.856600" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}
	if got.ImageKey != images.keys[1] {
		t.Errorf("ImageKey = %q, want %q", got.ImageKey, images.keys[1])
	}

	limited, _ := sink.ListAnalyses(ctx, "alice", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d records", len(limited))
	}
}

func TestLocalNotifier(t *testing.T) {
	n := NewLocalNotifier()
	calls := 0
	stop, _ := n.Listen(context.Background(), "alice", func() { calls++ })

	_ = n.Notify(context.Background(), "alice")
	_ = n.Notify(context.Background(), "bob")
	stop()
	_ = n.Notify(context.Background(), "alice")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
