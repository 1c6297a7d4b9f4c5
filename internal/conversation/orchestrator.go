package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"MedChat/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the full set of remote operations the orchestrator uses
type Backend interface {
	Transport
	FetchSessionMessages(ctx context.Context, sessionID string) ([]session.Message, error)
}

// Registry records sessions for the sidebar
type Registry interface {
	CreateOrSelect(id string) (session.Session, bool)
	Register(id string) (session.Session, bool)
	Rekey(oldID, newID string) bool
	Remove(id string) bool
	ClearSelection()
	SetPreview(id, text string) bool
}

// OrchestratorOptions configures an Orchestrator
type OrchestratorOptions struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time

	// OnReply runs after every successful turn of any conversation
	OnReply func(c *Conversation, user, reply session.Message)
}

// Orchestrator holds the open conversations and the current selection.
// A submission is bound to the conversation selected when it starts, so a
// reply arriving after the user switched away lands in its own log.
type Orchestrator struct {
	backend  Backend
	registry Registry
	opts     OrchestratorOptions
	logger   *slog.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
	order         []string
	current       string
}

// NewOrchestrator creates an orchestrator with one fresh, unbound conversation selected
func NewOrchestrator(b Backend, r Registry, opts OrchestratorOptions) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		backend:       b,
		registry:      r,
		opts:          opts,
		logger:        opts.Logger,
		conversations: make(map[string]*Conversation),
	}

	c := o.newConversation(Options{})
	o.mu.Lock()
	o.add(c)
	o.current = c.Key()
	o.mu.Unlock()
	return o
}

// Current returns the selected conversation
func (o *Orchestrator) Current() *Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversations[o.current]
}

// Conversations returns the open conversations in opening order
func (o *Orchestrator) Conversations() []*Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Conversation, 0, len(o.order))
	for _, key := range o.order {
		out = append(out, o.conversations[key])
	}
	return out
}

// NewChat opens a conversation under a locally generated session id and selects it
func (o *Orchestrator) NewChat() *Conversation {
	id := uuid.NewString()
	c := o.newConversation(Options{SessionID: id, Origin: OriginLocal})

	o.mu.Lock()
	o.add(c)
	o.current = c.Key()
	o.mu.Unlock()

	o.registry.CreateOrSelect(id)
	o.logger.Info("started new chat", "conversation", c.Key(), "session_id", id)
	return c
}

// Select switches to the open conversation bound to sessionID
func (o *Orchestrator) Select(sessionID string) (*Conversation, error) {
	o.mu.Lock()
	c := o.findBySession(sessionID)
	if c == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("select %q: %w", sessionID, ErrNoConversation)
	}
	o.current = c.Key()
	o.mu.Unlock()

	o.registry.CreateOrSelect(sessionID)
	return c, nil
}

// Open resumes a backend session: an open conversation is selected, otherwise
// the history is fetched and a new conversation is opened with it.
func (o *Orchestrator) Open(ctx context.Context, sessionID string) (*Conversation, error) {
	if c, err := o.Select(sessionID); err == nil {
		return c, nil
	}

	history, err := o.backend.FetchSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open session %q: %w", sessionID, err)
	}
	return o.Restore(sessionID, history), nil
}

// Restore opens a conversation for a known session with the given history
// and selects it, without contacting the backend.
func (o *Orchestrator) Restore(sessionID string, history []session.Message) *Conversation {
	o.mu.Lock()
	if c := o.findBySession(sessionID); c != nil {
		o.current = c.Key()
		o.mu.Unlock()
		o.registry.CreateOrSelect(sessionID)
		return c
	}
	o.mu.Unlock()

	c := o.newConversation(Options{SessionID: sessionID, Origin: OriginBackend, History: history})

	o.mu.Lock()
	o.add(c)
	o.current = c.Key()
	o.mu.Unlock()

	o.registry.CreateOrSelect(sessionID)
	o.logger.Info("opened session", "conversation", c.Key(), "session_id", sessionID, "messages", len(history))
	return c
}

// Abandon closes a conversation and forgets it. Its pending reply, if any,
// is discarded. Abandoning the current conversation selects a fresh one and
// clears the registry selection; the session entry itself stays listed.
func (o *Orchestrator) Abandon(c *Conversation) {
	c.Close()

	o.mu.Lock()
	delete(o.conversations, c.Key())
	for i, key := range o.order {
		if key == c.Key() {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	wasCurrent := o.current == c.Key()
	o.mu.Unlock()

	if wasCurrent {
		fresh := o.newConversation(Options{})
		o.mu.Lock()
		o.add(fresh)
		o.current = fresh.Key()
		o.mu.Unlock()
		o.registry.ClearSelection()
	}
	o.logger.Info("abandoned conversation", "conversation", c.Key(), "session_id", c.SessionID())
}

// Submit sends text on the conversation selected at call time
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	c := o.Current()
	if c == nil {
		return ErrNoConversation
	}
	return c.Submit(ctx, text)
}

func (o *Orchestrator) newConversation(opts Options) *Conversation {
	opts.Key = uuid.NewString()
	opts.Logger = o.opts.Logger
	opts.Tracer = o.opts.Tracer
	opts.Meter = o.opts.Meter
	opts.Now = o.opts.Now
	opts.OnBind = o.handleBind
	opts.OnReply = o.handleReply
	return New(o.backend, opts)
}

// add registers c. Callers hold o.mu.
func (o *Orchestrator) add(c *Conversation) {
	o.conversations[c.Key()] = c
	o.order = append(o.order, c.Key())
}

// findBySession looks up an open conversation. Callers hold o.mu.
func (o *Orchestrator) findBySession(sessionID string) *Conversation {
	if sessionID == "" {
		return nil
	}
	for _, key := range o.order {
		c := o.conversations[key]
		if c.SessionID() == sessionID {
			return c
		}
	}
	return nil
}

func (o *Orchestrator) handleBind(c *Conversation, previous, id string) {
	if previous != "" {
		if o.registry.Rekey(previous, id) {
			return
		}
		// id is already listed; the placeholder entry would point nowhere
		o.registry.Remove(previous)
	}

	o.mu.Lock()
	isCurrent := o.current == c.Key()
	o.mu.Unlock()

	if isCurrent {
		o.registry.CreateOrSelect(id)
	} else {
		o.registry.Register(id)
	}
}

func (o *Orchestrator) handleReply(c *Conversation, user, reply session.Message) {
	if id := c.SessionID(); id != "" {
		o.registry.SetPreview(id, user.Content)
	}
	if o.opts.OnReply != nil {
		o.opts.OnReply(c, user, reply)
	}
}
