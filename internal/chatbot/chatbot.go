package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"MedChat/internal/availability"
	"MedChat/internal/config"
	"MedChat/internal/conversation"
	"MedChat/internal/registry"
	"MedChat/internal/session"
	"MedChat/internal/store"
	"MedChat/internal/telemetry"
	"MedChat/internal/transport"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ChatBot is the terminal front-end: it renders conversations and forwards
// user input to the orchestrator.
type ChatBot struct {
	config   config.Config
	logger   *slog.Logger
	client   *transport.Client
	registry *registry.Registry
	monitor  *availability.Monitor
	orch     *conversation.Orchestrator
	store    *store.Store // nil when persistence is disabled

	in  io.Reader
	out io.Writer

	cleanup []func()
}

// Deps lets callers supply pre-built collaborators
type Deps struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Store  *store.Store
	In     io.Reader
	Out    io.Writer
}

var (
	userLabel      = color.New(color.FgGreen, color.Bold).SprintFunc()
	assistantLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	errorText      = color.New(color.FgRed).SprintFunc()
	warnText       = color.New(color.FgYellow).SprintFunc()
	dimText        = color.New(color.Faint).SprintFunc()
)

// NewChatBot wires the application from configuration
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{Dir: cfg.LogDir, Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, shutdown, err := telemetry.InitTelemetry(context.Background(), cfg.LogDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath, logger)
		if err != nil {
			shutdown()
			logFile.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if cfg.Debug {
		logger.Info("debug mode enabled")
	}

	cb := New(cfg, Deps{
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
		Store:  st,
		In:     os.Stdin,
		Out:    os.Stdout,
	})
	cb.cleanup = append(cb.cleanup, shutdown, func() { logFile.Close() })
	return cb, nil
}

// New builds a ChatBot around the given dependencies
func New(cfg config.Config, deps Deps) *ChatBot {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	client := transport.New(transport.Options{
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout,
		Logger:  deps.Logger,
		Tracer:  deps.Tracer,
		Meter:   deps.Meter,
	})
	reg := registry.New()

	cb := &ChatBot{
		config:   cfg,
		logger:   deps.Logger,
		client:   client,
		registry: reg,
		monitor:  availability.New(client, deps.Logger),
		store:    deps.Store,
		in:       deps.In,
		out:      deps.Out,
	}
	cb.orch = conversation.NewOrchestrator(client, reg, conversation.OrchestratorOptions{
		Logger: deps.Logger,
		Tracer: deps.Tracer,
		Meter:  deps.Meter,
	})
	return cb
}

// Orchestrator exposes the conversation orchestrator
func (cb *ChatBot) Orchestrator() *conversation.Orchestrator {
	return cb.orch
}

// Registry exposes the session registry
func (cb *ChatBot) Registry() *registry.Registry {
	return cb.registry
}

// Monitor exposes the availability monitor
func (cb *ChatBot) Monitor() *availability.Monitor {
	return cb.monitor
}

// Run starts the chat loop and blocks until the input ends or the user quits
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.close()

	cb.restoreSessions(ctx)

	if cb.config.HealthInterval > 0 {
		monitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go cb.monitor.Run(monitorCtx, cb.config.HealthInterval)
	} else {
		cb.monitor.Check(ctx)
	}

	if cb.config.SessionID != "" {
		if err := cb.openSession(ctx, cb.config.SessionID); err != nil {
			cb.printf("%s\n", errorText(fmt.Sprintf("Could not open session %s: %v", cb.config.SessionID, err)))
		}
	}

	cb.printBanner()
	cb.printConversation(cb.orch.Current())

	scanner := bufio.NewScanner(cb.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		cb.printf("%s ", userLabel("Bạn:"))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.printf("%s\n", errorText("Error: "+err.Error()))
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		cb.sendMessage(ctx, input)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	cb.saveAll(context.Background())
	cb.printf("Tạm biệt!\n")
	return nil
}

// sendMessage runs one turn on the current conversation and prints the outcome
func (cb *ChatBot) sendMessage(ctx context.Context, input string) {
	c := cb.orch.Current()
	if c == nil {
		return
	}

	err := c.Submit(ctx, input)
	state := c.Snapshot()

	switch {
	case err == nil:
		last := state.Messages[len(state.Messages)-1]
		cb.printMessage(last)
		cb.saveConversation(context.Background(), c)
	case errors.Is(err, conversation.ErrBusy), errors.Is(err, conversation.ErrEmptyInput):
		cb.logger.Debug("submission rejected", "error", err)
	default:
		cb.printf("%s\n", errorText(state.Error))
		cb.logger.Error("failed to send message", "kind", transport.KindOf(err), "error", err)
	}
}

// handleCommand handles slash commands. It reports whether to quit.
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		cb.saveConversation(ctx, cb.orch.Current())
		c := cb.orch.NewChat()
		cb.printf("Started new chat: %s\n", c.SessionID())
		cb.printConversation(c)
		return false, nil

	case "/close":
		c := cb.orch.Current()
		cb.saveConversation(ctx, c)
		cb.orch.Abandon(c)
		cb.printf("Closed conversation. Started a fresh one.\n")
		cb.printConversation(cb.orch.Current())
		return false, nil

	case "/sessions":
		cb.printSessions()
		return false, nil

	case "/switch", "/open":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: %s <session-id>", parts[0])
		}
		cb.saveConversation(ctx, cb.orch.Current())
		if err := cb.openSession(ctx, parts[1]); err != nil {
			return false, err
		}
		cb.printConversation(cb.orch.Current())
		return false, nil

	case "/history":
		cb.printConversation(cb.orch.Current())
		return false, nil

	case "/status":
		cb.printStatus()
		return false, nil

	case "/health":
		if cb.monitor.Check(ctx) {
			cb.printf("Backend is online\n")
		} else {
			cb.printf("%s\n", warnText("Offline: "+cb.monitor.Error()))
		}
		return false, nil

	case "/dismiss":
		cb.orch.Current().DismissError()
		cb.monitor.DismissError()
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /new               - Start a new chat\n")
		cb.printf("  /close             - Close the current chat and start a fresh one\n")
		cb.printf("  /sessions          - List known sessions\n")
		cb.printf("  /switch <id>       - Switch to a session (loads its history)\n")
		cb.printf("  /history           - Show the current conversation\n")
		cb.printf("  /status            - Show connection and session state\n")
		cb.printf("  /health            - Check the backend again\n")
		cb.printf("  /dismiss           - Clear error notices\n")
		cb.printf("  /quit, /exit       - Exit\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// openSession switches to an open conversation, loads the session from the
// backend, or falls back to the locally stored transcript.
func (cb *ChatBot) openSession(ctx context.Context, id string) error {
	if _, err := cb.orch.Select(id); err == nil {
		return nil
	}

	_, err := cb.orch.Open(ctx, id)
	if err == nil {
		return nil
	}
	if cb.store == nil {
		return err
	}

	history, loadErr := cb.store.LoadTranscript(ctx, id)
	if loadErr != nil || len(history) == 0 {
		return err
	}
	cb.logger.Warn("using stored transcript", "session_id", id, "error", err)
	cb.orch.Restore(id, history)
	return nil
}

func (cb *ChatBot) restoreSessions(ctx context.Context) {
	if cb.store == nil {
		return
	}
	sessions, err := cb.store.ListSessions(ctx)
	if err != nil {
		cb.logger.Warn("failed to load stored sessions", "error", err)
		return
	}
	cb.registry.Restore(sessions)
	cb.logger.Info("restored sessions", "count", len(sessions))
}

// saveConversation persists the registry entry and transcript of a bound conversation
func (cb *ChatBot) saveConversation(ctx context.Context, c *conversation.Conversation) {
	if cb.store == nil || c == nil {
		return
	}
	state := c.Snapshot()
	if state.SessionID == "" {
		return
	}
	entry, ok := cb.registry.Get(state.SessionID)
	if !ok {
		return
	}
	if err := cb.store.SaveSession(ctx, entry); err != nil {
		cb.logger.Error("failed to save session", "session_id", state.SessionID, "error", err)
		return
	}
	// the welcome message is synthetic and not stored
	if err := cb.store.SaveTranscript(ctx, state.SessionID, state.Messages[1:]); err != nil {
		cb.logger.Error("failed to save transcript", "session_id", state.SessionID, "error", err)
	}
}

func (cb *ChatBot) saveAll(ctx context.Context) {
	for _, c := range cb.orch.Conversations() {
		cb.saveConversation(ctx, c)
	}
}

func (cb *ChatBot) close() {
	if cb.store != nil {
		if err := cb.store.Close(); err != nil {
			cb.logger.Error("failed to close database", "error", err)
		}
	}
	for i := len(cb.cleanup) - 1; i >= 0; i-- {
		cb.cleanup[i]()
	}
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

func (cb *ChatBot) printBanner() {
	cb.printf("=== ViMedical - Trợ lý Y Tế Thông minh ===\n")
	cb.printf("Backend: %s\n", cb.client.BaseURL())
	if !cb.monitor.Online() {
		cb.printf("%s\n", warnText("Offline: "+cb.monitor.Error()))
	}
	cb.printf("Type /help for commands, /quit to exit\n\n")
}

func (cb *ChatBot) printConversation(c *conversation.Conversation) {
	if c == nil {
		return
	}
	state := c.Snapshot()
	for _, msg := range state.Messages {
		cb.printMessage(msg)
	}
	if state.Error != "" {
		cb.printf("%s\n", errorText(state.Error))
	}
}

func (cb *ChatBot) printMessage(msg session.Message) {
	label := assistantLabel("ViNNan:")
	if msg.Role == session.RoleUser {
		label = userLabel("Bạn:")
	}
	cb.printf("%s %s\n", label, msg.Content)
	if len(msg.PossibleDiseases) > 0 {
		cb.printf("  Các bệnh có thể liên quan:\n")
		for i, d := range msg.PossibleDiseases {
			cb.printf("    %d. %s\n", i+1, d)
		}
	}
	cb.printf("  %s\n\n", dimText(msg.Timestamp))
}

func (cb *ChatBot) printSessions() {
	sessions := cb.registry.List()
	if len(sessions) == 0 {
		cb.printf("No sessions yet.\n")
		return
	}
	current := cb.registry.CurrentID()
	cb.printf("\nSessions:\n")
	for _, s := range sessions {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		cb.printf("%s %s  %s  %s\n", marker, s.Title, s.ID, dimText(s.CreatedAt.Format(time.DateTime)))
		cb.printf("    %s\n", s.LastMessagePreview)
	}
	cb.printf("\n")
}

func (cb *ChatBot) printStatus() {
	state := cb.orch.Current().Snapshot()
	online := "online"
	if !cb.monitor.Online() {
		online = "offline"
	}
	sessionID := state.SessionID
	if sessionID == "" {
		sessionID = "(not assigned yet)"
	}
	cb.printf("Backend:  %s (%s)\n", cb.client.BaseURL(), online)
	cb.printf("Session:  %s [%s]\n", sessionID, state.Origin)
	cb.printf("State:    %s\n", state.Status)
	cb.printf("Messages: %d\n", len(state.Messages))
	if state.Symptoms != "" {
		cb.printf("Symptoms: %s\n", state.Symptoms)
	}
}
