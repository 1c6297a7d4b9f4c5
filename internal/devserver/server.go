package devserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"MedChat/internal/backend"
	"MedChat/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Server is a local stand-in for the question-answering backend. It speaks
// the same HTTP contract as the real service.
type Server struct {
	sessions  *SessionManager
	responder Responder
	logger    *slog.Logger
	origins   []string
	now       func() time.Time
}

// Options configures a Server
type Options struct {
	Responder      Responder
	Logger         *slog.Logger
	AllowedOrigins []string
}

// New creates a Server
func New(opts Options) *Server {
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		sessions:  NewSessionManager(),
		responder: opts.Responder,
		logger:    opts.Logger,
		origins:   opts.AllowedOrigins,
		now:       time.Now,
	}
}

// Sessions exposes the in-memory session state
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "MedChat dev backend is running", "version": "1.0.0"})
	})
	r.GET("/health", s.health)

	api := r.Group("/api/v1")
	{
		api.POST("/chat", s.chat)
		api.POST("/session/new", s.newSession)
		api.GET("/session/:id/messages", s.sessionMessages)
		api.GET("/health", s.health)
	}

	return r
}

// Handler wraps the router with CORS for browser clients
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.Router())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, backend.HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().Format(time.RFC3339),
	})
}

func (s *Server) chat(c *gin.Context) {
	var req backend.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "message is required"})
		return
	}

	var sessionID string
	if req.SessionID != nil && *req.SessionID != "" {
		sessionID = *req.SessionID
		s.sessions.Ensure(sessionID)
	} else {
		sessionID = s.sessions.Create()
	}

	previous := s.sessions.Symptoms(sessionID)
	if previous == "" {
		previous = req.PreviousSymptoms
	}

	timestamp := session.FormatTimestamp(s.now())
	s.sessions.Append(sessionID, session.Message{
		Role:      session.RoleUser,
		Content:   req.Message,
		Timestamp: timestamp,
	}, "")

	reply, err := s.responder.Respond(c.Request.Context(), req.Message, previous)
	if err != nil {
		s.logger.Error("responder failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error: " + err.Error()})
		return
	}

	symptoms := reply.Symptoms
	if symptoms == "" {
		symptoms = previous
	}
	diseases := reply.PossibleDiseases
	if diseases == nil {
		diseases = []string{}
	}

	s.sessions.Append(sessionID, session.Message{
		Role:      session.RoleAssistant,
		Content:   reply.Text,
		Timestamp: timestamp,
	}, symptoms)

	ask := reply.AskConfirmation
	c.JSON(http.StatusOK, backend.ChatResponse{
		Response:         reply.Text,
		Timestamp:        timestamp,
		PossibleDiseases: diseases,
		AskConfirmation:  &ask,
		Symptoms:         &symptoms,
		SessionID:        &sessionID,
	})
}

func (s *Server) newSession(c *gin.Context) {
	c.JSON(http.StatusOK, backend.NewSessionResponse{SessionID: s.sessions.Create()})
}

func (s *Server) sessionMessages(c *gin.Context) {
	messages, ok := s.sessions.Messages(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
		return
	}
	c.JSON(http.StatusOK, backend.MessagesResponse{Messages: messages})
}
