// Package store persists the two kinds of user data Image Insight keeps:
// the per-user chat conversation and the history of completed analyses.
//
// The chat store is append-only. Readers never poll; they Subscribe and
// receive the full, time-ordered conversation every time it changes. Two
// backends exist: an in-process memory store for the CLI and tests, and a
// DynamoDB single-table store where every record of a user shares the
// partition key USER#{userId} and sort keys are prefixed CHAT# or ANALYSIS#
// followed by a zero-padded timestamp, so a plain Query returns them in order.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/filehandler"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the roles a conversation may hold.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Timestamp is a message creation time together with whether the backend
// has confirmed it. A pending timestamp is a local estimate that a later
// delivery replaces with the confirmed value.
type Timestamp struct {
	Time      time.Time `json:"time"`
	Confirmed bool      `json:"confirmed"`
}

// PendingTimestamp returns an unconfirmed, locally estimated timestamp.
func PendingTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ServerTimestamp returns a backend-confirmed timestamp.
func ServerTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, Confirmed: true}
}

// IsPending reports whether the timestamp still awaits confirmation.
func (t Timestamp) IsPending() bool {
	return !t.Confirmed
}

// ChatMessage is one persisted conversation turn.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Role      Role      `json:"role"`
	CreatedAt Timestamp `json:"createdAt"`
}

// HistoryFunc receives the complete conversation, oldest first.
type HistoryFunc func(messages []ChatMessage)

// ChatStore is the persistence contract of the chat session manager.
// Implementations are safe for concurrent use.
type ChatStore interface {
	// Append persists one turn and returns it with its ID and timestamp.
	// Subscribers of userID are notified of the change, but not necessarily
	// before Append returns: a store backed by a remote notifier delivers
	// later. Callers that need the turn use the returned message.
	Append(ctx context.Context, userID, text string, role Role) (*ChatMessage, error)

	// Subscribe delivers the current conversation immediately and again on
	// every change, until the returned function is called. Deliveries to one
	// subscriber are serialised and never go back to an older list. The
	// function is idempotent.
	Subscribe(ctx context.Context, userID string, fn HistoryFunc) (unsubscribe func(), err error)
}

// AnalysisRecord is the write-once record of a completed analysis.
type AnalysisRecord struct {
	ID        string                     `json:"id" dynamodbav:"id"`
	UserID    string                     `json:"userId" dynamodbav:"userId"`
	FileName  string                     `json:"fileName" dynamodbav:"fileName"`
	MIMEType  string                     `json:"mimeType" dynamodbav:"mimeType"`
	ImageKey  string                     `json:"imageKey" dynamodbav:"imageKey"`
	Metadata  *filehandler.ImageMetadata `json:"metadata" dynamodbav:"metadata"`
	Result    *chat.AnalysisResult       `json:"result" dynamodbav:"result"`
	CreatedAt int64                      `json:"createdAt" dynamodbav:"createdAt"` // Unix milliseconds
}

// AnalysisUpload is what the orchestrator hands to an AnalysisSink.
type AnalysisUpload struct {
	UserID   string
	FileName string
	MIMEType string
	Image    []byte
	Metadata *filehandler.ImageMetadata
	Result   *chat.AnalysisResult
}

// AnalysisSink stores completed analyses: the image binary first, then the
// record pointing at it.
type AnalysisSink interface {
	SaveAnalysis(ctx context.Context, upload AnalysisUpload) (*AnalysisRecord, error)

	// ListAnalyses returns up to limit records of userID, newest first.
	// A limit <= 0 means no limit.
	ListAnalyses(ctx context.Context, userID string, limit int) ([]AnalysisRecord, error)
}

// ImageStore holds uploaded image binaries by key.
type ImageStore interface {
	PutImage(ctx context.Context, key string, data []byte, mimeType string) error
}

// ImageKey returns the object key of an uploaded image:
// images/{userId}/{unixMillis}_{baseName}.
func ImageKey(userID, fileName string, at time.Time) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("images/%s/%d_%s", userID, at.UnixMilli(), name)
}

// clock hands out strictly increasing timestamps so that two turns appended
// within the same clock tick still sort in append order.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
