package conversation

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/metrics"
	"github.com/nurbua/Image-Insight/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// scriptedStreamer replays fragments and an optional trailing error.
type scriptedStreamer struct {
	fragments []string
	err       error

	// gate, when set, blocks the stream until closed.
	gate chan struct{}

	mu          sync.Mutex
	lastHistory []chat.Turn
	lastMessage string
}

func (s *scriptedStreamer) StreamReply(_ context.Context, history []chat.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		s.lastHistory, s.lastMessage = history, message
		s.mu.Unlock()

		if s.gate != nil {
			<-s.gate
		}
		for _, f := range s.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

func openManager(t *testing.T, st store.ChatStore, streamer ReplyStreamer) (*Manager, *[][]store.ChatMessage) {
	t.Helper()
	var mu sync.Mutex
	var deliveries [][]store.ChatMessage
	m := NewManager("alice", st, streamer, func(msgs []store.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		deliveries = append(deliveries, msgs)
	})
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(m.Close)
	return m, &deliveries
}

func texts(msgs []store.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Text
	}
	return out
}

func TestSendPersistsUserTurnAndReply(t *testing.T) {
	st := store.NewMemoryChatStore()
	m, deliveries := openManager(t, st, &scriptedStreamer{fragments: []string{"Bon", "jour"}})

	reply, accepted, err := m.Send(context.Background(), "  Salut  ")
	if err != nil || !accepted {
		t.Fatalf("Send = %v, %v", accepted, err)
	}
	if reply == nil || reply.Role != store.RoleModel || reply.Text != "Bonjour" {
		t.Errorf("reply = %+v, want the persisted model turn", reply)
	}

	got := texts(m.Messages())
	want := []string{"user:Salut", "model:Bonjour"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if m.State() != StateIdle || m.LastError() != nil {
		t.Errorf("state = %v, err = %v", m.State(), m.LastError())
	}

	// Initial empty delivery, optimistic user turn, model turn.
	if len(*deliveries) != 3 || len((*deliveries)[1]) != 1 {
		t.Errorf("deliveries = %d", len(*deliveries))
	}
}

func TestSendExcludesNewTurnFromHistory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryChatStore()
	_, _ = st.Append(ctx, "alice", "Première question", store.RoleUser)
	_, _ = st.Append(ctx, "alice", "Première réponse", store.RoleModel)

	streamer := &scriptedStreamer{fragments: []string{"ok"}}
	m, _ := openManager(t, st, streamer)

	if _, _, err := m.Send(ctx, "Deuxième question"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if streamer.lastMessage != "Deuxième question" {
		t.Errorf("message = %q", streamer.lastMessage)
	}
	if len(streamer.lastHistory) != 2 {
		t.Fatalf("history = %+v, want the two earlier turns only", streamer.lastHistory)
	}
	if streamer.lastHistory[0].Role != chat.RoleUser || streamer.lastHistory[1].Role != chat.RoleModel {
		t.Errorf("history roles = %+v", streamer.lastHistory)
	}
}

func TestSendWhileBusyIsNoOp(t *testing.T) {
	st := store.NewMemoryChatStore()
	gate := make(chan struct{})
	m, _ := openManager(t, st, &scriptedStreamer{fragments: []string{"réponse"}, gate: gate})

	done := make(chan struct{})
	if !m.SendAsync(context.Background(), "première", func() { close(done) }) {
		t.Fatal("first send rejected")
	}
	waitFor(t, func() bool { return len(m.Messages()) == 1 })

	reply, accepted, err := m.Send(context.Background(), "deuxième")
	if accepted || err != nil || reply != nil {
		t.Errorf("busy Send = %v, %v, %v, want nil, false, nil", reply, accepted, err)
	}
	if m.SendAsync(context.Background(), "troisième", func() { t.Error("done called for a rejected send") }) {
		t.Error("busy SendAsync accepted")
	}
	if m.State() != StateSending {
		t.Errorf("state = %v, want sending", m.State())
	}

	close(gate)
	<-done
	if m.State() != StateIdle {
		t.Errorf("state after done = %v, want idle", m.State())
	}

	got := texts(m.Messages())
	if len(got) != 2 || got[0] != "user:première" || got[1] != "model:réponse" {
		t.Errorf("messages = %v", got)
	}
}

func TestSendBlankTextIsNoOp(t *testing.T) {
	st := store.NewMemoryChatStore()
	m, _ := openManager(t, st, &scriptedStreamer{fragments: []string{"x"}})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, accepted, err := m.Send(context.Background(), text)
		if accepted || err != nil {
			t.Errorf("Send(%q) = %v, %v", text, accepted, err)
		}
	}
	if len(m.Messages()) != 0 {
		t.Error("blank send persisted a turn")
	}
}

func TestStreamFailurePersistsApology(t *testing.T) {
	st := store.NewMemoryChatStore()
	cause := &chat.GenerationFailure{Kind: chat.FailureNetwork, Message: "network"}
	m, _ := openManager(t, st, &scriptedStreamer{fragments: []string{"partiel"}, err: cause})

	reply, accepted, err := m.Send(context.Background(), "Salut")
	if !accepted || err != nil {
		t.Fatalf("Send = %v, %v", accepted, err)
	}
	if reply == nil || reply.Text != ApologyText {
		t.Errorf("reply = %+v, want the apology turn", reply)
	}

	got := texts(m.Messages())
	if len(got) != 2 || got[1] != "model:"+ApologyText {
		t.Errorf("messages = %v, want user turn then apology", got)
	}
	if !errors.Is(m.LastError(), cause) {
		t.Errorf("LastError = %v", m.LastError())
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle after failure", m.State())
	}
}

func TestZeroFragmentsPersistNothing(t *testing.T) {
	st := store.NewMemoryChatStore()
	m, _ := openManager(t, st, &scriptedStreamer{})

	reply, _, err := m.Send(context.Background(), "Salut")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil for an empty stream", reply)
	}
	if got := texts(m.Messages()); len(got) != 1 || got[0] != "user:Salut" {
		t.Errorf("messages = %v, want only the user turn", got)
	}
}

// failingStore fails every Append.
type failingStore struct{ *store.MemoryChatStore }

func (failingStore) Append(context.Context, string, string, store.Role) (*store.ChatMessage, error) {
	return nil, errors.New("dynamodb unavailable")
}

func TestUserTurnPersistFailureIsReturned(t *testing.T) {
	m, _ := openManager(t, failingStore{store.NewMemoryChatStore()}, &scriptedStreamer{fragments: []string{"x"}})

	_, accepted, err := m.Send(context.Background(), "Salut")
	if !accepted || err == nil {
		t.Errorf("Send = %v, %v, want accepted with error", accepted, err)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v", m.State())
	}
}

// apologyGate blocks apology writes until release is closed.
type apologyGate struct {
	*store.MemoryChatStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *apologyGate) Append(ctx context.Context, userID, text string, role store.Role) (*store.ChatMessage, error) {
	if text == ApologyText {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.MemoryChatStore.Append(ctx, userID, text, role)
}

func TestSendRejectedWhileApologyIsPersisted(t *testing.T) {
	st := &apologyGate{
		MemoryChatStore: store.NewMemoryChatStore(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	cause := &chat.GenerationFailure{Kind: chat.FailureServer, Message: "server"}
	m, _ := openManager(t, st, &scriptedStreamer{err: cause})

	done := make(chan struct{})
	if !m.SendAsync(context.Background(), "première", func() { close(done) }) {
		t.Fatal("first send rejected")
	}
	<-st.entered

	if m.State() != StateFailed {
		t.Errorf("state = %v, want failed while the apology is written", m.State())
	}
	if m.SendAsync(context.Background(), "deuxième", nil) {
		t.Error("SendAsync accepted while the apology is being persisted")
	}
	if _, accepted, _ := m.Send(context.Background(), "troisième"); accepted {
		t.Error("Send accepted while the apology is being persisted")
	}

	close(st.release)
	<-done

	got := texts(m.Messages())
	if len(got) != 2 || got[0] != "user:première" || got[1] != "model:"+ApologyText {
		t.Errorf("messages = %v, want one exchange", got)
	}
	if _, accepted, _ := m.Send(context.Background(), "encore"); !accepted {
		t.Error("send after the failed exchange should be accepted")
	}
}

func TestCloseStopsDeliveries(t *testing.T) {
	st := store.NewMemoryChatStore()
	m, deliveries := openManager(t, st, &scriptedStreamer{})

	m.Close()
	_, _ = st.Append(context.Background(), "alice", "après fermeture", store.RoleUser)

	if len(*deliveries) != 1 {
		t.Errorf("deliveries = %d, want only the initial one", len(*deliveries))
	}
	if st.ListenerCount("alice") != 0 {
		t.Error("subscription leaked after Close")
	}
	if err := m.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}
