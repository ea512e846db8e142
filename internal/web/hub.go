package web

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/conversation"
	"github.com/nurbua/Image-Insight/internal/store"
)

// chatSession is the shared chat manager of one user plus the SSE
// connections listening to it.
type chatSession struct {
	userID  string
	manager *conversation.Manager
	refs    int

	mu     sync.Mutex
	subs   map[chan []store.ChatMessage]struct{}
	last   []store.ChatMessage
	primed bool
}

// broadcast is the manager's history listener. Each subscriber channel holds
// at most one pending list; a newer list replaces an unread older one.
func (cs *chatSession) broadcast(messages []store.ChatMessage) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.last = messages
	cs.primed = true
	for ch := range cs.subs {
		select {
		case ch <- messages:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- messages:
			default:
			}
		}
	}
}

// subscribe registers a listener, primed with the latest known conversation.
func (cs *chatSession) subscribe() (<-chan []store.ChatMessage, func()) {
	ch := make(chan []store.ChatMessage, 1)
	cs.mu.Lock()
	cs.subs[ch] = struct{}{}
	if cs.primed {
		ch <- cs.last
	}
	cs.mu.Unlock()

	return ch, func() {
		cs.mu.Lock()
		delete(cs.subs, ch)
		cs.mu.Unlock()
	}
}

// snapshot returns the latest known conversation.
func (cs *chatSession) snapshot() []store.ChatMessage {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return slices.Clone(cs.last)
}

// chatHub reference-counts chat sessions so that every SSE connection and
// every in-flight send of a user share one manager. The manager is closed
// when the last holder releases it.
type chatHub struct {
	store    store.ChatStore
	streamer conversation.ReplyStreamer

	mu       sync.Mutex
	sessions map[string]*chatSession
}

func newChatHub(st store.ChatStore, streamer conversation.ReplyStreamer) *chatHub {
	return &chatHub{
		store:    st,
		streamer: streamer,
		sessions: make(map[string]*chatSession),
	}
}

func (h *chatHub) acquire(ctx context.Context, userID string) (*chatSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.sessions[userID]; ok {
		cs.refs++
		return cs, nil
	}

	cs := &chatSession{
		userID: userID,
		refs:   1,
		subs:   make(map[chan []store.ChatMessage]struct{}),
	}
	cs.manager = conversation.NewManager(userID, h.store, h.streamer, cs.broadcast)
	if err := cs.manager.Open(ctx); err != nil {
		return nil, err
	}
	h.sessions[userID] = cs
	log.Debug().Str("user_id", userID).Msg("Chat session acquired")
	return cs, nil
}

func (h *chatHub) release(cs *chatSession) {
	h.mu.Lock()
	cs.refs--
	last := cs.refs == 0
	if last {
		delete(h.sessions, cs.userID)
	}
	h.mu.Unlock()

	if last {
		cs.manager.Close()
		log.Debug().Str("user_id", cs.userID).Msg("Chat session released")
	}
}

// active reports the number of users with an open chat session.
func (h *chatHub) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
