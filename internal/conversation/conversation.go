package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"MedChat/internal/backend"
	"MedChat/internal/session"
	"MedChat/internal/transport"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyInput     = errors.New("empty input")
	ErrBusy           = errors.New("a reply is already pending")
	ErrClosed         = errors.New("conversation closed")
	ErrNoConversation = errors.New("no such conversation")
)

// Transport is the part of the backend client a conversation needs
type Transport interface {
	SendMessage(ctx context.Context, text, sessionID, previousSymptoms string) (*backend.ChatResponse, error)
	CreateSession(ctx context.Context) (string, error)
}

// Status of a conversation
type Status int

const (
	Idle Status = iota
	AwaitingReply
)

func (s Status) String() string {
	if s == AwaitingReply {
		return "awaiting_reply"
	}
	return "idle"
}

// State is a point-in-time copy of a conversation, safe to hand to the UI
type State struct {
	Key       string
	SessionID string
	Origin    Origin
	Messages  []session.Message
	Status    Status
	Symptoms  string
	Error     string
}

// Loading reports whether a call is in flight
func (s State) Loading() bool {
	return s.Status == AwaitingReply
}

// Options configures a Conversation
type Options struct {
	// Key identifies the conversation locally; it never changes
	Key string

	// SessionID and Origin preset the identity, e.g. for a resumed session
	SessionID string
	Origin    Origin

	// History is appended after the welcome message
	History []session.Message

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time

	// OnBind runs after a backend id has been bound; previous is the
	// replaced local placeholder or ""
	OnBind func(c *Conversation, previous, id string)

	// OnReply runs after a successful turn has been fully applied
	OnReply func(c *Conversation, user, reply session.Message)
}

// Conversation owns the message log, the pending flag, the symptom context
// and the error slot of one chat. At most one call is outstanding at a time.
type Conversation struct {
	key       string
	transport Transport
	logger    *slog.Logger
	tracer    trace.Tracer
	turns     metric.Int64Counter
	now       func() time.Time
	onBind    func(c *Conversation, previous, id string)
	onReply   func(c *Conversation, user, reply session.Message)

	mu       sync.Mutex
	messages []session.Message
	status   Status
	symptoms string
	errMsg   string
	lastErr  error
	identity identity
	closed   bool
}

// New creates a conversation whose log starts with the welcome message
func New(t Transport, opts Options) *Conversation {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider().Tracer("medchat/conversation")
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider().Meter("medchat/conversation")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Conversation{
		key:       opts.Key,
		transport: t,
		logger:    opts.Logger.With("conversation", opts.Key),
		tracer:    opts.Tracer,
		now:       opts.Now,
		onBind:    opts.OnBind,
		onReply:   opts.OnReply,
	}

	turns, err := opts.Meter.Int64Counter(
		"medchat.conversation.turns",
		metric.WithDescription("Submitted turns by outcome"),
	)
	if err != nil {
		c.logger.Warn("failed to create turn counter", "error", err)
	} else {
		c.turns = turns
	}

	if opts.SessionID != "" {
		origin := opts.Origin
		if origin == OriginNone {
			origin = OriginLocal
		}
		c.identity = identity{id: opts.SessionID, origin: origin}
	}

	c.messages = make([]session.Message, 0, len(opts.History)+1)
	c.messages = append(c.messages, session.Message{
		Role:             session.RoleAssistant,
		Content:          WelcomeText,
		Timestamp:        session.FormatTimestamp(c.now()),
		PossibleDiseases: []string{},
	})
	c.messages = append(c.messages, opts.History...)

	return c
}

// Key returns the local conversation key
func (c *Conversation) Key() string {
	return c.key
}

// SessionID returns the bound session id, or "" if none yet
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.id
}

// Status returns whether a call is in flight
func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error of the last failed turn, for diagnostics
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns a copy of the observable state
func (c *Conversation) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]session.Message, len(c.messages))
	for i, m := range c.messages {
		if m.PossibleDiseases != nil {
			m.PossibleDiseases = append([]string(nil), m.PossibleDiseases...)
		}
		messages[i] = m
	}

	return State{
		Key:       c.key,
		SessionID: c.identity.id,
		Origin:    c.identity.origin,
		Messages:  messages,
		Status:    c.status,
		Symptoms:  c.symptoms,
		Error:     c.errMsg,
	}
}

// DismissError clears the error slot
func (c *Conversation) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ""
}

// Close abandons the conversation. A reply still in flight is discarded.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Submit runs one user turn and blocks until it completes. The user message
// is appended before the call is made and is kept when the call fails.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == AwaitingReply {
		c.mu.Unlock()
		return ErrBusy
	}
	user := session.Message{
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: session.FormatTimestamp(c.now()),
	}
	c.messages = append(c.messages, user)
	c.status = AwaitingReply
	c.errMsg = ""
	sessionID := c.identity.outgoing()
	symptoms := c.symptoms
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("conversation", c.key),
		attribute.Bool("has_session", sessionID != ""),
	))
	defer span.End()

	resp, err := c.transport.SendMessage(ctx, text, sessionID, symptoms)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, transport.KindOf(err))
		return c.fail(ctx, err)
	}

	reply := resp.AssistantMessage()

	c.mu.Lock()
	if c.closed {
		c.status = Idle
		c.mu.Unlock()
		c.logger.Info("discarded reply for closed conversation")
		c.count(ctx, "discarded")
		return ErrClosed
	}
	c.messages = append(c.messages, reply)
	if resp.Symptoms != nil {
		c.symptoms = *resp.Symptoms
	}
	c.lastErr = nil
	c.mu.Unlock()

	c.reconcileIdentity(ctx, resp)

	c.mu.Lock()
	c.status = Idle
	c.mu.Unlock()

	c.count(ctx, "ok")
	if c.onReply != nil {
		c.onReply(c, user, reply)
	}
	return nil
}

// fail applies the failure path of a turn
func (c *Conversation) fail(ctx context.Context, err error) error {
	kind := transport.KindOf(err)

	c.mu.Lock()
	c.status = Idle
	closed := c.closed
	if !closed {
		c.errMsg = SendFailedNotice
		c.lastErr = err
	}
	c.mu.Unlock()

	c.logger.Error("failed to send message", "kind", kind, "error", err)
	c.count(ctx, kind)
	return fmt.Errorf("send message: %w", err)
}

// reconcileIdentity binds a session id after the first successful exchange.
// The state is still AwaitingReply here, so no second turn can mint another id.
func (c *Conversation) reconcileIdentity(ctx context.Context, resp *backend.ChatResponse) {
	c.mu.Lock()
	current := c.identity
	c.mu.Unlock()

	if current.origin == OriginBackend {
		if resp.SessionID != nil && *resp.SessionID != current.id {
			c.logger.Warn("ignoring session id from reply, conversation already bound",
				"session_id", current.id, "reply_session_id", *resp.SessionID)
		}
		return
	}

	if resp.SessionID != nil && *resp.SessionID != "" {
		c.bind(*resp.SessionID)
		return
	}

	// A local placeholder was already presented to the backend and stays valid
	if current.origin == OriginLocal {
		return
	}

	id, err := c.transport.CreateSession(ctx)
	if err != nil {
		c.logger.Warn("failed to create session, will retry on next turn",
			"kind", transport.KindOf(err), "error", err)
		return
	}
	c.bind(id)
}

func (c *Conversation) bind(id string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	previous, changed := c.identity.bindBackend(id)
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Info("bound session", "session_id", id, "replaced", previous)
	if c.onBind != nil {
		c.onBind(c, previous, id)
	}
}

func (c *Conversation) count(ctx context.Context, outcome string) {
	if c.turns == nil {
		return
	}
	c.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
