package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"MedChat/internal/backend"
	"MedChat/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "http://localhost:8000/api/v1"
	DefaultTimeout = 30 * time.Second

	maxBodySize = 5 * 1024 * 1024
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// Transport replaces http.DefaultTransport, mostly for tests
	Transport http.RoundTripper

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Client talks to the medical question-answering backend.
// Every operation is a single round trip; nothing is retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// New creates a Client
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider().Tracer("medchat/transport")
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider().Meter("medchat/transport")
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &loggingRoundTripper{inner: opts.Transport, logger: opts.Logger},
		},
		logger: opts.Logger,
		tracer: opts.Tracer,
	}

	histogram, err := opts.Meter.Float64Histogram(
		"medchat.client.request.duration",
		metric.WithDescription("Backend request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		opts.Logger.Warn("failed to create request duration histogram", "error", err)
	} else {
		c.duration = histogram
	}

	return c
}

// BaseURL returns the configured base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendMessage posts a user message. An empty sessionID is sent as null.
func (c *Client) SendMessage(ctx context.Context, text, sessionID, previousSymptoms string) (*backend.ChatResponse, error) {
	reqBody := backend.ChatRequest{
		Message:          text,
		PreviousSymptoms: previousSymptoms,
	}
	if sessionID != "" {
		reqBody.SessionID = &sessionID
	}

	var resp backend.ChatResponse
	if err := c.do(ctx, "send_message", http.MethodPost, "/chat", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchSessionMessages returns the server-side history of a session, oldest first
func (c *Client) FetchSessionMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || strings.Contains(sessionID, "/") {
		return nil, fmt.Errorf("fetch_session_messages: %w: invalid id %q", ErrUnknownSession, sessionID)
	}

	var raw json.RawMessage
	err := c.do(ctx, "fetch_session_messages", http.MethodGet, "/session/"+sessionID+"/messages", nil, &raw)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("fetch_session_messages: %w %q: %w", ErrUnknownSession, sessionID, httpErr)
		}
		return nil, err
	}

	messages, err := decodeMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch_session_messages: %w: %w", ErrInvalidResponse, err)
	}
	return messages, nil
}

// CreateSession asks the backend for a fresh session identifier
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp backend.NewSessionResponse
	if err := c.do(ctx, "create_session", http.MethodPost, "/session/new", nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create_session: %w: empty session_id", ErrInvalidResponse)
	}
	return resp.SessionID, nil
}

// HealthCheck succeeds on any 2xx reply from /health
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "health_check", http.MethodGet, "/health", nil, nil)
}

// do performs one JSON round trip. payload and out may be nil.
func (c *Client) do(ctx context.Context, op, method, relPath string, payload, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "backend."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", relPath),
	))
	start := time.Now()
	defer func() {
		kind := KindOf(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
		if c.duration != nil {
			outcome := "ok"
			if kind != "" {
				outcome = kind
			}
			c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("operation", op),
				attribute.String("outcome", outcome),
			))
		}
	}()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := c.newRequest(ctx, method, relPath, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return classify(op, fmt.Errorf("failed to read response: %w", err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidResponse, err)
	}
	return nil
}

// newRequest joins relPath onto the base address
func (c *Client) newRequest(ctx context.Context, method, relPath string, body io.Reader) (*http.Request, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	base.Path = path.Join(base.Path, relPath)
	return http.NewRequestWithContext(ctx, method, base.String(), body)
}

func decodeMessages(raw json.RawMessage) ([]session.Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var messages []session.Message
		if err := json.Unmarshal(trimmed, &messages); err != nil {
			return nil, err
		}
		return messages, nil
	}

	var wrapped backend.MessagesResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Messages == nil {
		return []session.Message{}, nil
	}
	return wrapped.Messages, nil
}
