// Package conversation runs one user's chat session: it mirrors the persisted
// conversation, sends new turns to the model and persists the reply.
package conversation

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/metrics"
	"github.com/nurbua/Image-Insight/internal/store"
	"github.com/rs/zerolog/log"
)

// ApologyText is persisted as the model's turn when a reply cannot be produced.
const ApologyText = "Désolé, une erreur s'est produite. Veuillez réessayer."

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("conversation manager closed")

// State is the send state of a Manager.
type State int

const (
	StateIdle State = iota
	StateSending
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ReplyStreamer produces a streamed model reply. *chat.Generator implements it.
type ReplyStreamer interface {
	StreamReply(ctx context.Context, history []chat.Turn, message string) iter.Seq2[string, error]
}

// Manager owns the chat session of one user. At most one send is in flight;
// concurrent sends are rejected, not queued.
type Manager struct {
	userID   string
	store    store.ChatStore
	streamer ReplyStreamer
	listener store.HistoryFunc

	mu          sync.Mutex
	state       State
	messages    []store.ChatMessage
	lastErr     error
	unsubscribe func()
	closed      bool
}

// NewManager creates a manager for userID. listener, if not nil, receives the
// full ordered conversation after every change once Open has been called.
func NewManager(userID string, st store.ChatStore, streamer ReplyStreamer, listener store.HistoryFunc) *Manager {
	return &Manager{
		userID:   userID,
		store:    st,
		streamer: streamer,
		listener: listener,
	}
}

// Open subscribes to the persisted conversation. Calling Open twice is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	unsubscribe, err := m.store.Subscribe(ctx, m.userID, m.onHistory)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.unsubscribe != nil {
		unsubscribe()
		return nil
	}
	m.unsubscribe = unsubscribe
	log.Debug().Str("user_id", m.userID).Msg("Chat session opened")
	return nil
}

// Close releases the subscription. Sends still in flight finish and persist
// their turns, but the listener is no longer called.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.closed = true
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		log.Debug().Str("user_id", m.userID).Msg("Chat session closed")
	}
}

func (m *Manager) onHistory(messages []store.ChatMessage) {
	m.mu.Lock()
	m.messages = messages
	closed := m.closed
	m.mu.Unlock()

	if m.listener != nil && !closed {
		m.listener(slices.Clone(messages))
	}
}

// State returns the current send state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the failure of the most recent send, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Messages returns a copy of the mirrored conversation.
func (m *Manager) Messages() []store.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

// Send persists text as a user turn, streams the model's reply and persists
// it. accepted is false when text is blank or a send is already in flight;
// nothing happens in either case. reply is the model turn that was persisted:
// the answer, the ApologyText turn when the model failed, or nil when the
// model produced no text. err is only set when the user turn itself could
// not be persisted.
func (m *Manager) Send(ctx context.Context, text string) (reply *store.ChatMessage, accepted bool, err error) {
	text = strings.TrimSpace(text)
	if !m.begin(text) {
		return nil, false, nil
	}
	reply, err = m.run(ctx, text)
	return reply, true, err
}

// SendAsync is Send with the exchange running in the background. It reports
// whether the send was accepted. done, if not nil, is called once the
// exchange has finished and the manager is idle again; it is not called for
// a rejected send.
func (m *Manager) SendAsync(ctx context.Context, text string, done func()) bool {
	text = strings.TrimSpace(text)
	if !m.begin(text) {
		return false
	}
	go func() {
		_, _ = m.run(ctx, text)
		if done != nil {
			done()
		}
	}()
	return true
}

// begin claims the manager for one exchange. The claim holds until finish,
// including while a failed exchange persists its apology.
func (m *Manager) begin(text string) bool {
	if text == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		log.Debug().Str("user_id", m.userID).Stringer("state", m.state).Msg("Chat send ignored, another send is in flight")
		return false
	}
	m.state = StateSending
	m.lastErr = nil
	return true
}

func (m *Manager) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	m.state = StateIdle
}

func (m *Manager) run(ctx context.Context, text string) (*store.ChatMessage, error) {
	start := time.Now()

	userMsg, err := m.store.Append(ctx, m.userID, text, store.RoleUser)
	if err != nil {
		log.Error().Err(err).Str("user_id", m.userID).Msg("Failed to persist user chat turn")
		m.recordOutcome("persist_failed", start)
		m.finish(err)
		return nil, err
	}

	history := m.modelHistory(userMsg.ID)

	var reply strings.Builder
	var streamErr error
	for fragment, err := range m.streamer.StreamReply(ctx, history, text) {
		if err != nil {
			streamErr = err
			break
		}
		reply.WriteString(fragment)
	}

	var modelMsg *store.ChatMessage
	if streamErr == nil && reply.Len() > 0 {
		modelMsg, streamErr = m.store.Append(ctx, m.userID, reply.String(), store.RoleModel)
	}

	if streamErr != nil {
		return m.fail(ctx, streamErr, start), nil
	}

	outcome := "replied"
	if reply.Len() == 0 {
		outcome = "empty"
	}
	log.Info().
		Str("user_id", m.userID).
		Int("history_turns", len(history)).
		Int("reply_length", reply.Len()).
		Dur("duration", time.Since(start)).
		Msg("Chat turn complete")
	m.recordOutcome(outcome, start)
	m.finish(nil)
	return modelMsg, nil
}

// fail persists the apology turn and returns it, or nil if that write failed
// too. Partial reply text is discarded.
func (m *Manager) fail(ctx context.Context, cause error, start time.Time) *store.ChatMessage {
	m.mu.Lock()
	m.state = StateFailed
	m.lastErr = cause
	m.mu.Unlock()

	log.Error().Err(cause).Str("user_id", m.userID).Msg("Chat reply failed, persisting apology")

	apology, err := m.store.Append(context.WithoutCancel(ctx), m.userID, ApologyText, store.RoleModel)
	if err != nil {
		log.Error().Err(err).Str("user_id", m.userID).Msg("Failed to persist apology turn")
	}
	m.recordOutcome("failed", start)
	m.finish(cause)
	return apology
}

// modelHistory converts the mirror into model turns, excluding the turn that
// is about to be sent explicitly.
func (m *Manager) modelHistory(excludeID string) []chat.Turn {
	m.mu.Lock()
	messages := slices.Clone(m.messages)
	m.mu.Unlock()

	turns := make([]chat.Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.ID == excludeID || !msg.Role.Valid() {
			continue
		}
		turns = append(turns, chat.Turn{Role: chat.Role(msg.Role), Text: msg.Text})
	}
	return turns
}

func (m *Manager) recordOutcome(outcome string, start time.Time) {
	metrics.New().
		Dimension("Operation", "chat_turn").
		Dimension("Result", outcome).
		Duration("ChatTurnLatencyMs", time.Since(start)).
		Count("ChatTurnResult").
		Flush()
}
