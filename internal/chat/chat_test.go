package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/llm"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeGen struct {
	mu   sync.Mutex
	reqs []llm.Request
	fn   func(n int, req llm.Request) (llm.Response, error)
}

func (f *fakeGen) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	n := len(f.reqs)
	f.reqs = append(f.reqs, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return llm.Response{Text: fmt.Sprintf("reply %d", n+1)}, nil
	}
	return fn(n, req)
}

func (f *fakeGen) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

type scriptedRNG struct {
	ints   []int
	floats []float64
}

func (r *scriptedRNG) IntN(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

func (r *scriptedRNG) Float64() float64 {
	if len(r.floats) == 0 {
		return 0.99
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

type fixture struct {
	gen   *fakeGen
	convs *conversation.Service
	opts  Options
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{
		gen:   &fakeGen{},
		convs: conversation.NewService(store.NewMemory()),
		now:   time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	ids := 0
	f.opts = DefaultOptions(f.gen, f.convs)
	f.opts.RNG = &scriptedRNG{}
	f.opts.Clock = func() time.Time { return f.now }
	f.opts.IDs = func() string { ids++; return fmt.Sprintf("id-%d", ids) }
	f.opts.SecondResponderDelay = 0
	return f
}

func ada() persona.Persona {
	p := persona.Persona{
		ID:           "p1",
		Name:         "Ada",
		Tagline:      "Analyst",
		GeminiAPIKey: "stub",
		Traits:       persona.Traits{Personality: []string{"curious"}},
	}
	p.Normalize()
	return p
}

func grace() persona.Persona {
	p := persona.Persona{ID: "p2", Name: "Grace", GeminiAPIKey: "stub-2"}
	p.Normalize()
	return p
}

func noKey() persona.Persona {
	p := persona.Persona{ID: "p3", Name: "Linus"}
	p.Normalize()
	return p
}

func TestSessionIgnoresBlankMessages(t *testing.T) {
	f := newFixture()
	s := NewSession(ada(), nil, f.opts)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, s.Messages())
	assert.Empty(t, f.gen.calls())
}

func TestSessionSendAppendsOneReply(t *testing.T) {
	f := newFixture()
	s := NewSession(ada(), nil, f.opts)

	turn, err := s.Send(context.Background(), "What do you think of Rust?")
	require.NoError(t, err)
	require.Len(t, turn.Replies, 1)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.SenderUser, msgs[0].Sender)
	assert.Equal(t, conversation.SenderPersona, msgs[1].Sender)
	assert.Equal(t, "p1", msgs[1].PersonaID)
	assert.Equal(t, "reply 1", msgs[1].Content)
	assert.False(t, s.Busy())

	req := f.gen.calls()[0]
	assert.Equal(t, "stub", req.APIKey)
	assert.Equal(t, "What do you think of Rust?", req.Prompt)
	assert.Contains(t, req.Persona, "Personality: curious.")
	assert.Empty(t, req.History)
}

func TestSessionHistoryMapping(t *testing.T) {
	f := newFixture()
	s := NewSession(ada(), nil, f.opts)
	ctx := context.Background()

	_, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = s.Send(ctx, "again")
	require.NoError(t, err)

	calls := f.gen.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []llm.Turn{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleModel, Content: "reply 1"},
	}, calls[1].History)
}

func TestSessionMissingCredential(t *testing.T) {
	f := newFixture()
	s := NewSession(noKey(), nil, f.opts)

	turn, err := s.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Empty(t, turn.Replies)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.SenderUser, msgs[0].Sender)
	assert.Empty(t, f.gen.calls())
	assert.False(t, s.Busy())
}

func TestSessionGenerationError(t *testing.T) {
	f := newFixture()
	f.gen.fn = func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: llm.FallbackAPIError}, fmt.Errorf("%w: quota", llm.ErrAPI)
	}
	s := NewSession(ada(), nil, f.opts)

	_, err := s.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrGeneration)
	require.ErrorIs(t, err, llm.ErrAPI)
	assert.Len(t, s.Messages(), 1)
	assert.False(t, s.Busy())
}

func TestSessionBusyAndReset(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	unblock := make(chan struct{})
	f.gen.fn = func(int, llm.Request) (llm.Response, error) {
		close(started)
		<-unblock
		return llm.Response{Text: "late"}, nil
	}
	s := NewSession(ada(), nil, f.opts)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "first")
		done <- err
	}()
	<-started

	_, err := s.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, s.Busy())

	s.Reset()
	close(unblock)
	require.NoError(t, <-done)

	assert.Empty(t, s.Messages())
	assert.False(t, s.Busy())
}

func TestSessionSaveRoundTrip(t *testing.T) {
	f := newFixture()
	s := NewSession(ada(), nil, f.opts)
	ctx := context.Background()

	_, err := s.Save(ctx)
	require.ErrorIs(t, err, ErrEmptyConversation)

	_, err = s.Send(ctx, "one")
	require.NoError(t, err)
	_, err = s.Send(ctx, "two")
	require.NoError(t, err)
	s.SetTitle("Rust chat")

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rust chat", saved.Title)
	assert.False(t, saved.IsGroup)

	loaded, err := f.convs.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Messages(), loaded.Messages)

	f.now = f.now.Add(time.Hour)
	_, err = s.Send(ctx, "three")
	require.NoError(t, err)
	again, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)
	assert.Equal(t, saved.CreatedAt, again.CreatedAt)
	assert.True(t, again.UpdatedAt.After(saved.UpdatedAt))

	all, err := f.convs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSessionContinuesStoredConversation(t *testing.T) {
	f := newFixture()
	created := f.now.Add(-24 * time.Hour)
	initial := conversation.Conversation{
		ID:        "c1",
		PersonaID: "p1",
		Messages:  []conversation.Message{conversation.NewUserMessage("m1", "earlier", created)},
		CreatedAt: created,
	}
	s := NewSession(ada(), &initial, f.opts)
	assert.Equal(t, "Conversation with Ada", s.Title())
	assert.Equal(t, "c1", s.ID())

	saved, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", saved.ID)
	assert.Equal(t, created, saved.CreatedAt)
}

func TestSessionExport(t *testing.T) {
	f := newFixture()
	s := NewSession(ada(), nil, f.opts)

	_, err := s.Export(f.now)
	require.ErrorIs(t, err, ErrEmptyConversation)

	_, err = s.Send(context.Background(), "hello there")
	require.NoError(t, err)

	tr, err := s.Export(f.now)
	require.NoError(t, err)
	assert.Equal(t, "Conversation_with_Ada_2025-03-14.txt", tr.Filename)
	lines := strings.Split(strings.TrimSpace(tr.Body), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "[2025-03-14 09:30:00] You: hello there", lines[3])
	assert.Equal(t, "[2025-03-14 09:30:00] Ada: reply 1", lines[4])
}

func TestGroupSingleEligibleNeverFollowsUp(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{ints: []int{5, 3, 7}, floats: []float64{0, 0, 0}}
	g := NewGroupSession([]persona.Persona{noKey(), ada()}, nil, f.opts)

	for range 3 {
		turn, err := g.Send(context.Background(), "hi")
		require.NoError(t, err)
		require.Len(t, turn.Replies, 1)
		assert.Equal(t, "p1", turn.Replies[0].PersonaID)
	}
	assert.Len(t, f.gen.calls(), 3)
}

func TestGroupFollowUp(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{ints: []int{0, 0}, floats: []float64{0.1}}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)

	turn, err := g.Send(context.Background(), "thoughts?")
	require.NoError(t, err)
	require.Len(t, turn.Replies, 2)
	assert.Equal(t, "p1", turn.Replies[0].PersonaID)
	assert.Equal(t, "p2", turn.Replies[1].PersonaID)

	calls := f.gen.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "stub-2", calls[1].APIKey)
	assert.Equal(t, `Ada said: "reply 1"`, calls[1].Prompt)
	assert.Equal(t, []llm.Turn{
		{Role: llm.RoleUser, Content: "thoughts?"},
		{Role: llm.RoleModel, Content: "reply 1"},
	}, calls[1].History)
	assert.Len(t, g.Messages(), 3)
	assert.False(t, g.Busy())
}

func TestGroupFollowUpProbability(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{floats: []float64{0.7}}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)

	turn, err := g.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, turn.Replies, 1)
	assert.Len(t, f.gen.calls(), 1)
}

func TestGroupFollowUpFailureDropped(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{floats: []float64{0}}
	f.gen.fn = func(n int, _ llm.Request) (llm.Response, error) {
		if n == 1 {
			return llm.Response{Text: llm.FallbackNetwork}, llm.ErrNetwork
		}
		return llm.Response{Text: "first"}, nil
	}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)

	turn, err := g.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, turn.Replies, 1)
	assert.Len(t, g.Messages(), 2)
	assert.False(t, g.Busy())
}

func TestGroupFollowUpCanceledDuringDelay(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{floats: []float64{0}}
	f.opts.SecondResponderDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gen.fn = func(int, llm.Request) (llm.Response, error) {
		cancel()
		return llm.Response{Text: "first"}, nil
	}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)

	turn, err := g.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Len(t, turn.Replies, 1)
	assert.Len(t, f.gen.calls(), 1)
	assert.False(t, g.Busy())
}

func TestGroupNoEligibleParticipant(t *testing.T) {
	f := newFixture()
	g := NewGroupSession([]persona.Persona{noKey()}, nil, f.opts)

	_, err := g.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoEligibleParticipant)
	assert.Len(t, g.Messages(), 1)
	assert.False(t, g.Busy())
}

func TestGroupFirstReplyError(t *testing.T) {
	f := newFixture()
	f.gen.fn = func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: llm.FallbackNetwork}, llm.ErrNetwork
	}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)

	_, err := g.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrGeneration)
	assert.Len(t, g.Messages(), 1)
	assert.Len(t, f.gen.calls(), 1)
}

func TestGroupParticipants(t *testing.T) {
	f := newFixture()
	g := NewGroupSession([]persona.Persona{ada(), ada()}, nil, f.opts)
	assert.Len(t, g.Participants(), 1)

	assert.True(t, g.AddParticipant(grace()))
	assert.False(t, g.AddParticipant(grace()))
	assert.Len(t, g.Participants(), 2)

	assert.True(t, g.RemoveParticipant("p2"))
	assert.False(t, g.RemoveParticipant("p2"))
	assert.Len(t, g.Participants(), 1)
}

func TestGroupRemovedParticipantKeepsHistory(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{ints: []int{1}}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)
	ctx := context.Background()

	turn, err := g.Send(ctx, "hi")
	require.NoError(t, err)
	require.Equal(t, "p2", turn.Replies[0].PersonaID)

	g.RemoveParticipant("p2")
	assert.Len(t, g.Messages(), 2)

	saved, err := g.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved.IsGroup)
	assert.Equal(t, "p1", saved.PersonaID)
	assert.Equal(t, []string{"p1", "p2"}, saved.ParticipantIDs)
	assert.Equal(t, []string{"p1"}, saved.ActiveIDs)
	assert.Equal(t, []string{"p1"}, saved.CurrentParticipants())
	assert.Equal(t, DefaultGroupTitle, saved.Title)

	tr, err := g.Export(f.now)
	require.NoError(t, err)
	assert.Contains(t, tr.Body, "] You: hi\n")
	assert.Contains(t, tr.Body, "] Unknown: reply 1\n")
}

func TestGroupSaveRequirements(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	empty := NewGroupSession(nil, nil, f.opts)
	_, err := empty.Save(ctx)
	require.ErrorIs(t, err, ErrNoParticipants)

	g := NewGroupSession([]persona.Persona{ada()}, nil, f.opts)
	_, err = g.Save(ctx)
	require.ErrorIs(t, err, ErrEmptyConversation)

	_, err = g.Export(f.now)
	require.ErrorIs(t, err, ErrEmptyConversation)
}

func TestGroupSaveRoundTrip(t *testing.T) {
	f := newFixture()
	f.opts.RNG = &scriptedRNG{floats: []float64{0}}
	g := NewGroupSession([]persona.Persona{ada(), grace()}, nil, f.opts)
	ctx := context.Background()

	_, err := g.Send(ctx, "hello all")
	require.NoError(t, err)
	g.SetTitle("Standup")

	saved, err := g.Save(ctx)
	require.NoError(t, err)
	loaded, err := f.convs.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Messages(), loaded.Messages)
	assert.Equal(t, "Standup", loaded.Title)

	resumed := NewGroupSession(g.Participants(), &loaded, f.opts)
	assert.Equal(t, saved.ID, resumed.ID())
	assert.Equal(t, "Standup", resumed.Title())
	assert.Len(t, resumed.Messages(), 3)
}
