package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MedChat/internal/backend"
	"MedChat/internal/conversation"
	"MedChat/internal/session"
	"MedChat/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendCall struct {
	text      string
	sessionID string
	symptoms  string
}

// fakeBackend records calls and delegates to the configured functions
type fakeBackend struct {
	mu      sync.Mutex
	sends   []sendCall
	creates int
	fetches []string

	send   func(ctx context.Context, text, sessionID, symptoms string) (*backend.ChatResponse, error)
	create func(ctx context.Context) (string, error)
	fetch  func(ctx context.Context, sessionID string) ([]session.Message, error)
}

func (f *fakeBackend) SendMessage(ctx context.Context, text, sessionID, symptoms string) (*backend.ChatResponse, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sendCall{text: text, sessionID: sessionID, symptoms: symptoms})
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return reply("ok", nil, nil), nil
	}
	return fn(ctx, text, sessionID, symptoms)
}

func (f *fakeBackend) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	fn := f.create
	f.mu.Unlock()
	if fn == nil {
		return fmt.Sprintf("created-%d", n), nil
	}
	return fn(ctx)
}

func (f *fakeBackend) FetchSessionMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, sessionID)
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return []session.Message{}, nil
	}
	return fn(ctx, sessionID)
}

func (f *fakeBackend) calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakeBackend) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func reply(text string, symptoms, sessionID *string) *backend.ChatResponse {
	return &backend.ChatResponse{
		Response:         text,
		Timestamp:        "10:00:00",
		PossibleDiseases: []string{"Cảm cúm"},
		Symptoms:         symptoms,
		SessionID:        sessionID,
	}
}

func ptr(s string) *string { return &s }

// gate blocks SendMessage until released and signals when a call has started
type gate struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) send(resp *backend.ChatResponse, err error) func(context.Context, string, string, string) (*backend.ChatResponse, error) {
	return func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		g.started <- struct{}{}
		<-g.release
		return resp, err
	}
}

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not start")
	}
}

func submitAsync(c *conversation.Conversation, text string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), text) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not complete")
		return nil
	}
}

func TestNewConversationInitialState(t *testing.T) {
	c := conversation.New(&fakeBackend{}, conversation.Options{Key: "k"})

	state := c.Snapshot()
	require.Len(t, state.Messages, 1)
	welcome := state.Messages[0]
	assert.Equal(t, session.RoleAssistant, welcome.Role)
	assert.Equal(t, conversation.WelcomeText, welcome.Content)
	assert.Empty(t, welcome.PossibleDiseases)
	assert.NotEmpty(t, welcome.Timestamp)

	assert.Equal(t, "k", state.Key)
	assert.Equal(t, conversation.Idle, state.Status)
	assert.False(t, state.Loading())
	assert.Empty(t, state.SessionID)
	assert.Equal(t, conversation.OriginNone, state.Origin)
	assert.Empty(t, state.Symptoms)
	assert.Empty(t, state.Error)
}

func TestNewConversationWithHistory(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: "ho", Timestamp: "09:00:00"},
		{Role: session.RoleAssistant, Content: "bao lâu rồi?", Timestamp: "09:00:01"},
	}
	c := conversation.New(&fakeBackend{}, conversation.Options{SessionID: "s1", Origin: conversation.OriginBackend, History: history})

	state := c.Snapshot()
	require.Len(t, state.Messages, 3)
	assert.Equal(t, conversation.WelcomeText, state.Messages[0].Content)
	assert.Equal(t, history, state.Messages[1:])
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, conversation.OriginBackend, state.Origin)
}

func TestNewConversationSessionIDDefaultsToLocal(t *testing.T) {
	c := conversation.New(&fakeBackend{}, conversation.Options{SessionID: "local-1"})
	assert.Equal(t, conversation.OriginLocal, c.Snapshot().Origin)
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	for _, input := range []string{"", " ", "\t\n  "} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			fb := &fakeBackend{}
			c := conversation.New(fb, conversation.Options{})

			err := c.Submit(context.Background(), input)
			assert.ErrorIs(t, err, conversation.ErrEmptyInput)
			assert.Len(t, c.Snapshot().Messages, 1)
			assert.Equal(t, conversation.Idle, c.Status())
			assert.Empty(t, fb.calls())
		})
	}
}

func TestSubmitFreshConversation(t *testing.T) {
	g := newGate()
	fb := &fakeBackend{send: g.send(reply("Bạn bị đau đầu bao lâu rồi?", ptr("đau đầu"), ptr("srv-1")), nil)}
	c := conversation.New(fb, conversation.Options{})

	done := submitAsync(c, "đau đầu")
	g.waitStarted(t)

	pending := c.Snapshot()
	require.Len(t, pending.Messages, 2)
	assert.Equal(t, session.RoleUser, pending.Messages[1].Role)
	assert.Equal(t, "đau đầu", pending.Messages[1].Content)
	assert.Equal(t, conversation.AwaitingReply, pending.Status)
	assert.True(t, pending.Loading())

	close(g.release)
	require.NoError(t, wait(t, done))

	state := c.Snapshot()
	require.Len(t, state.Messages, 3)
	assistant := state.Messages[2]
	assert.Equal(t, session.RoleAssistant, assistant.Role)
	assert.Equal(t, "Bạn bị đau đầu bao lâu rồi?", assistant.Content)
	assert.Equal(t, "10:00:00", assistant.Timestamp)
	assert.Equal(t, []string{"Cảm cúm"}, assistant.PossibleDiseases)
	assert.Equal(t, conversation.Idle, state.Status)
	assert.Equal(t, "đau đầu", state.Symptoms)
	assert.Equal(t, "srv-1", state.SessionID)
	assert.Equal(t, conversation.OriginBackend, state.Origin)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].sessionID)
	assert.Empty(t, calls[0].symptoms)
	assert.Zero(t, fb.createCount())
}

func TestSubmitWhileAwaitingReplyIsRejected(t *testing.T) {
	g := newGate()
	fb := &fakeBackend{send: g.send(reply("ok", nil, nil), nil)}
	c := conversation.New(fb, conversation.Options{SessionID: "s1", Origin: conversation.OriginBackend})

	done := submitAsync(c, "first")
	g.waitStarted(t)

	before := c.Snapshot()
	err := c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, conversation.ErrBusy)

	after := c.Snapshot()
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, conversation.AwaitingReply, after.Status)

	close(g.release)
	require.NoError(t, wait(t, done))

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "first", calls[0].text)
	assert.Len(t, c.Snapshot().Messages, 3)
}

func TestSubmitServerErrorKeepsUserMessage(t *testing.T) {
	serverErr := fmt.Errorf("send_message: %w", &transport.HTTPError{StatusCode: 500, Body: "boom"})
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return nil, serverErr
	}}
	c := conversation.New(fb, conversation.Options{})

	err := c.Submit(context.Background(), "sốt cao")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrServer)

	state := c.Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "sốt cao", state.Messages[1].Content)
	assert.Equal(t, conversation.SendFailedNotice, state.Error)
	assert.Equal(t, conversation.Idle, state.Status)
	assert.Empty(t, state.SessionID)
	assert.ErrorIs(t, c.Err(), transport.ErrServer)
	assert.Equal(t, transport.KindServer, transport.KindOf(c.Err()))
	assert.Zero(t, fb.createCount())
}

func TestSubmitClearsPreviousError(t *testing.T) {
	fail := true
	fb := &fakeBackend{}
	fb.send = func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		if fail {
			return nil, fmt.Errorf("send_message: %w", transport.ErrTimeout)
		}
		return reply("ok", nil, nil), nil
	}
	c := conversation.New(fb, conversation.Options{SessionID: "s1", Origin: conversation.OriginBackend})

	require.Error(t, c.Submit(context.Background(), "one"))
	assert.NotEmpty(t, c.Snapshot().Error)

	fail = false
	require.NoError(t, c.Submit(context.Background(), "one"))

	state := c.Snapshot()
	assert.Empty(t, state.Error)
	assert.NoError(t, c.Err())
	// retry is a re-submission, so the first attempt stays unanswered in the log
	require.Len(t, state.Messages, 4)
	assert.Equal(t, "one", state.Messages[1].Content)
	assert.Equal(t, "one", state.Messages[2].Content)
	assert.Equal(t, session.RoleAssistant, state.Messages[3].Role)
}

func TestDismissError(t *testing.T) {
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return nil, transport.ErrNetwork
	}}
	c := conversation.New(fb, conversation.Options{})

	require.Error(t, c.Submit(context.Background(), "hi"))
	require.NotEmpty(t, c.Snapshot().Error)

	c.DismissError()
	assert.Empty(t, c.Snapshot().Error)
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestLogGrowthPerTurn(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		growth  int
		wantErr bool
	}{
		{name: "success", growth: 2},
		{name: "timeout", err: transport.ErrTimeout, growth: 1, wantErr: true},
		{name: "network", err: transport.ErrNetwork, growth: 1, wantErr: true},
		{name: "server", err: &transport.HTTPError{StatusCode: 502}, growth: 1, wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
				if testCase.err != nil {
					return nil, testCase.err
				}
				return reply("ok", nil, nil), nil
			}}
			c := conversation.New(fb, conversation.Options{SessionID: "s", Origin: conversation.OriginBackend})
			before := len(c.Snapshot().Messages)

			err := c.Submit(context.Background(), "text")
			if testCase.wantErr {
				require.Error(t, err)
				assert.NotEmpty(t, c.Snapshot().Error)
			} else {
				require.NoError(t, err)
				assert.Empty(t, c.Snapshot().Error)
			}
			assert.Equal(t, before+testCase.growth, len(c.Snapshot().Messages))
			assert.Equal(t, conversation.Idle, c.Status())
		})
	}
}

func TestSymptomContext(t *testing.T) {
	responses := []*backend.ChatResponse{
		reply("a", ptr("ho"), nil),
		reply("b", nil, nil),
		reply("c", ptr("ho, sốt"), nil),
		reply("d", ptr(""), nil),
	}
	fb := &fakeBackend{}
	turn := 0
	fb.send = func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		resp := responses[turn]
		turn++
		return resp, nil
	}
	c := conversation.New(fb, conversation.Options{SessionID: "s", Origin: conversation.OriginBackend})

	require.NoError(t, c.Submit(context.Background(), "1"))
	assert.Equal(t, "ho", c.Snapshot().Symptoms)

	// absent symptoms leave the context unchanged
	require.NoError(t, c.Submit(context.Background(), "2"))
	assert.Equal(t, "ho", c.Snapshot().Symptoms)

	require.NoError(t, c.Submit(context.Background(), "3"))
	assert.Equal(t, "ho, sốt", c.Snapshot().Symptoms)

	// present but empty overwrites
	require.NoError(t, c.Submit(context.Background(), "4"))
	assert.Equal(t, "", c.Snapshot().Symptoms)

	calls := fb.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"", "ho", "ho", "ho, sốt"},
		[]string{calls[0].symptoms, calls[1].symptoms, calls[2].symptoms, calls[3].symptoms})
}

func TestSymptomsUnchangedOnFailure(t *testing.T) {
	fail := false
	fb := &fakeBackend{}
	fb.send = func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		if fail {
			return nil, transport.ErrNetwork
		}
		return reply("ok", ptr("đau bụng"), nil), nil
	}
	c := conversation.New(fb, conversation.Options{SessionID: "s", Origin: conversation.OriginBackend})

	require.NoError(t, c.Submit(context.Background(), "1"))
	fail = true
	require.Error(t, c.Submit(context.Background(), "2"))
	assert.Equal(t, "đau bụng", c.Snapshot().Symptoms)
}

func TestIdentityMintedAfterFirstSuccess(t *testing.T) {
	var bound []string
	fb := &fakeBackend{}
	c := conversation.New(fb, conversation.Options{
		OnBind: func(_ *conversation.Conversation, previous, id string) {
			assert.Empty(t, previous)
			bound = append(bound, id)
		},
	})

	require.NoError(t, c.Submit(context.Background(), "1"))
	assert.Equal(t, "created-1", c.SessionID())
	assert.Equal(t, conversation.OriginBackend, c.Snapshot().Origin)

	require.NoError(t, c.Submit(context.Background(), "2"))
	require.NoError(t, c.Submit(context.Background(), "3"))

	assert.Equal(t, 1, fb.createCount())
	assert.Equal(t, []string{"created-1"}, bound)

	calls := fb.calls()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].sessionID)
	assert.Equal(t, "created-1", calls[1].sessionID)
	assert.Equal(t, "created-1", calls[2].sessionID)
}

func TestIdentityNotMintedOnFailure(t *testing.T) {
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return nil, transport.ErrNetwork
	}}
	c := conversation.New(fb, conversation.Options{})

	require.Error(t, c.Submit(context.Background(), "1"))
	assert.Empty(t, c.SessionID())
	assert.Zero(t, fb.createCount())
}

func TestIdentityCreateSessionFailureRetriedNextTurn(t *testing.T) {
	fb := &fakeBackend{}
	attempts := 0
	fb.create = func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", transport.ErrNetwork
		}
		return "late-id", nil
	}
	c := conversation.New(fb, conversation.Options{})

	require.NoError(t, c.Submit(context.Background(), "1"))
	state := c.Snapshot()
	assert.Empty(t, state.SessionID)
	assert.Empty(t, state.Error)
	assert.Len(t, state.Messages, 3)

	require.NoError(t, c.Submit(context.Background(), "2"))
	assert.Equal(t, "late-id", c.SessionID())
	assert.Equal(t, 2, fb.createCount())
}

func TestBackendIdentityNeverReplaced(t *testing.T) {
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return reply("ok", nil, ptr("someone-else")), nil
	}}
	bindCalled := false
	c := conversation.New(fb, conversation.Options{
		SessionID: "s1",
		Origin:    conversation.OriginBackend,
		OnBind:    func(*conversation.Conversation, string, string) { bindCalled = true },
	})

	require.NoError(t, c.Submit(context.Background(), "1"))
	require.NoError(t, c.Submit(context.Background(), "2"))

	assert.Equal(t, "s1", c.SessionID())
	assert.False(t, bindCalled)
	assert.Zero(t, fb.createCount())
	for _, call := range fb.calls() {
		assert.Equal(t, "s1", call.sessionID)
	}
}

func TestLocalPlaceholderKeptWithoutServerID(t *testing.T) {
	fb := &fakeBackend{}
	c := conversation.New(fb, conversation.Options{SessionID: "local-1"})

	require.NoError(t, c.Submit(context.Background(), "1"))
	assert.Equal(t, "local-1", c.SessionID())
	assert.Equal(t, conversation.OriginLocal, c.Snapshot().Origin)
	assert.Zero(t, fb.createCount())
	assert.Equal(t, "local-1", fb.calls()[0].sessionID)
}

func TestLocalPlaceholderReplacedByServerID(t *testing.T) {
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return reply("ok", nil, ptr("srv-9")), nil
	}}
	var previous, id string
	c := conversation.New(fb, conversation.Options{
		SessionID: "local-1",
		OnBind: func(_ *conversation.Conversation, p, i string) {
			previous, id = p, i
		},
	})

	require.NoError(t, c.Submit(context.Background(), "1"))
	assert.Equal(t, "srv-9", c.SessionID())
	assert.Equal(t, "local-1", previous)
	assert.Equal(t, "srv-9", id)

	require.NoError(t, c.Submit(context.Background(), "2"))
	assert.Equal(t, "srv-9", fb.calls()[1].sessionID)
}

func TestConcurrentFirstMessagesMintSeparateIdentities(t *testing.T) {
	fb := &fakeBackend{}
	const n = 8
	convs := make([]*conversation.Conversation, n)
	for i := range convs {
		convs[i] = conversation.New(fb, conversation.Options{Key: fmt.Sprintf("k%d", i)})
	}

	var wg sync.WaitGroup
	for _, c := range convs {
		wg.Add(1)
		go func(c *conversation.Conversation) {
			defer wg.Done()
			assert.NoError(t, c.Submit(context.Background(), "xin chào"))
		}(c)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, c := range convs {
		id := c.SessionID()
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "id %s bound twice", id)
		seen[id] = true
	}
	assert.Equal(t, n, fb.createCount())
}

func TestCloseDiscardsLateReply(t *testing.T) {
	g := newGate()
	fb := &fakeBackend{send: g.send(reply("late", ptr("x"), ptr("srv")), nil)}
	c := conversation.New(fb, conversation.Options{})

	done := submitAsync(c, "hello")
	g.waitStarted(t)
	c.Close()
	close(g.release)

	err := wait(t, done)
	assert.ErrorIs(t, err, conversation.ErrClosed)

	state := c.Snapshot()
	assert.Len(t, state.Messages, 2)
	assert.Empty(t, state.Symptoms)
	assert.Empty(t, state.SessionID)
	assert.Equal(t, conversation.Idle, state.Status)

	assert.ErrorIs(t, c.Submit(context.Background(), "again"), conversation.ErrClosed)
}

func TestOnReplyRunsAfterTurnApplied(t *testing.T) {
	fb := &fakeBackend{send: func(context.Context, string, string, string) (*backend.ChatResponse, error) {
		return reply("trả lời", nil, ptr("srv-1")), nil
	}}
	var got conversation.State
	var user, assistant session.Message
	c := conversation.New(fb, conversation.Options{
		OnReply: func(c *conversation.Conversation, u, r session.Message) {
			got = c.Snapshot()
			user, assistant = u, r
		},
	})

	require.NoError(t, c.Submit(context.Background(), "câu hỏi"))
	assert.Equal(t, "câu hỏi", user.Content)
	assert.Equal(t, "trả lời", assistant.Content)
	assert.Equal(t, "srv-1", got.SessionID)
	assert.Equal(t, conversation.Idle, got.Status)
	assert.Len(t, got.Messages, 3)
}

func TestSnapshotIsCopy(t *testing.T) {
	fb := &fakeBackend{}
	c := conversation.New(fb, conversation.Options{SessionID: "s", Origin: conversation.OriginBackend})
	require.NoError(t, c.Submit(context.Background(), "hi"))

	state := c.Snapshot()
	state.Messages[2].PossibleDiseases[0] = "changed"
	state.Messages[1].Content = "changed"

	fresh := c.Snapshot()
	assert.Equal(t, "Cảm cúm", fresh.Messages[2].PossibleDiseases[0])
	assert.Equal(t, "hi", fresh.Messages[1].Content)
}

func TestSubmitPassesContextCancellation(t *testing.T) {
	fb := &fakeBackend{send: func(ctx context.Context, _, _, _ string) (*backend.ChatResponse, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("send_message: %w", ctx.Err())
	}}
	c := conversation.New(fb, conversation.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Submit(ctx, "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, transport.KindCanceled, transport.KindOf(err))
	assert.Equal(t, conversation.Idle, c.Status())
}
