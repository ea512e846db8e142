package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MemoryChatStore keeps conversations in process memory. Subscribers are
// notified synchronously, before Append returns, one delivery at a time.
// Listeners must not call back into the store.
type MemoryChatStore struct {
	// deliver orders writes with their notifications; mu guards the maps.
	deliver   sync.Mutex
	mu        sync.Mutex
	clock     *clock
	messages  map[string][]ChatMessage
	listeners map[string]map[uint64]HistoryFunc
	nextID    uint64
}

// Compile-time interface check.
var _ ChatStore = (*MemoryChatStore)(nil)

// NewMemoryChatStore returns an empty store.
func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{
		clock:     newClock(nil),
		messages:  make(map[string][]ChatMessage),
		listeners: make(map[string]map[uint64]HistoryFunc),
	}
}

func (s *MemoryChatStore) Append(ctx context.Context, userID, text string, role Role) (*ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("append: empty user id")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("append: invalid role %q", role)
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()

	msg := ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Role:      role,
		CreatedAt: ServerTimestamp(s.clock.next()),
	}

	s.mu.Lock()
	s.messages[userID] = append(s.messages[userID], msg)
	snapshot := slices.Clone(s.messages[userID])
	fns := s.listenersLocked(userID)
	s.mu.Unlock()

	log.Debug().
		Str("user_id", userID).
		Str("message_id", msg.ID).
		Str("role", string(role)).
		Int("listeners", len(fns)).
		Msg("Chat message appended")

	for _, fn := range fns {
		fn(slices.Clone(snapshot))
	}
	return &msg, nil
}

func (s *MemoryChatStore) Subscribe(ctx context.Context, userID string, fn HistoryFunc) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe: nil callback")
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[userID] == nil {
		s.listeners[userID] = make(map[uint64]HistoryFunc)
	}
	s.listeners[userID][id] = fn
	snapshot := slices.Clone(s.messages[userID])
	s.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners[userID], id)
			if len(s.listeners[userID]) == 0 {
				delete(s.listeners, userID)
			}
		})
	}, nil
}

// ListenerCount returns the number of live subscriptions for userID.
func (s *MemoryChatStore) ListenerCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[userID])
}

func (s *MemoryChatStore) listenersLocked(userID string) []HistoryFunc {
	fns := make([]HistoryFunc, 0, len(s.listeners[userID]))
	for _, fn := range s.listeners[userID] {
		fns = append(fns, fn)
	}
	return fns
}

// MemoryAnalysisSink keeps analysis records in process memory. Images go to
// the optional ImageStore; without one only the key is recorded.
type MemoryAnalysisSink struct {
	mu      sync.Mutex
	images  ImageStore
	records map[string][]AnalysisRecord
	now     func() time.Time
}

// Compile-time interface check.
var _ AnalysisSink = (*MemoryAnalysisSink)(nil)

// NewMemoryAnalysisSink returns an empty sink. images may be nil.
func NewMemoryAnalysisSink(images ImageStore) *MemoryAnalysisSink {
	return &MemoryAnalysisSink{
		images:  images,
		records: make(map[string][]AnalysisRecord),
		now:     time.Now,
	}
}

func (s *MemoryAnalysisSink) SaveAnalysis(ctx context.Context, upload AnalysisUpload) (*AnalysisRecord, error) {
	rec, err := storeImage(ctx, s.images, upload, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[upload.UserID] = append(s.records[upload.UserID], *rec)
	s.mu.Unlock()
	return rec, nil
}

func (s *MemoryAnalysisSink) ListAnalyses(ctx context.Context, userID string, limit int) ([]AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	records := slices.Clone(s.records[userID])
	s.mu.Unlock()

	slices.Reverse(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// storeImage uploads the binary (when an ImageStore is configured) and builds
// the record that points at it.
func storeImage(ctx context.Context, images ImageStore, upload AnalysisUpload, at time.Time) (*AnalysisRecord, error) {
	if upload.UserID == "" {
		return nil, fmt.Errorf("save analysis: empty user id")
	}
	if upload.Result == nil {
		return nil, fmt.Errorf("save analysis: nil result")
	}

	key := ImageKey(upload.UserID, upload.FileName, at)
	if images != nil {
		if err := images.PutImage(ctx, key, upload.Image, upload.MIMEType); err != nil {
			return nil, fmt.Errorf("upload image %s: %w", key, err)
		}
	}

	return &AnalysisRecord{
		ID:        uuid.NewString(),
		UserID:    upload.UserID,
		FileName:  upload.FileName,
		MIMEType:  upload.MIMEType,
		ImageKey:  key,
		Metadata:  upload.Metadata,
		Result:    upload.Result,
		CreatedAt: at.UnixMilli(),
	}, nil
}
