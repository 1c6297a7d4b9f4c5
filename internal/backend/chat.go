package backend

import "MedChat/internal/session"

// ChatRequest represents the request body for POST /chat
type ChatRequest struct {
	Message          string  `json:"message"`
	SessionID        *string `json:"session_id"`
	PreviousSymptoms string  `json:"previous_symptoms"`
}

// ChatResponse represents the assistant envelope returned by POST /chat.
// Optional fields are pointers so that "absent" can be told apart from "empty".
type ChatResponse struct {
	Response         string   `json:"response"`
	Timestamp        string   `json:"timestamp"`
	PossibleDiseases []string `json:"possible_diseases,omitempty"`
	AskConfirmation  *bool    `json:"ask_confirmation,omitempty"`
	Symptoms         *string  `json:"symptoms,omitempty"`
	SessionID        *string  `json:"session_id,omitempty"`
}

// AssistantMessage converts the envelope into the message appended to the log
func (r ChatResponse) AssistantMessage() session.Message {
	diseases := make([]string, len(r.PossibleDiseases))
	copy(diseases, r.PossibleDiseases)
	return session.Message{
		Role:             session.RoleAssistant,
		Content:          r.Response,
		Timestamp:        r.Timestamp,
		PossibleDiseases: diseases,
		AskConfirmation:  r.AskConfirmation,
	}
}

// NewSessionResponse represents the response from POST /session/new
type NewSessionResponse struct {
	SessionID string `json:"session_id"`
}

// MessagesResponse represents the object form of GET /session/{id}/messages
type MessagesResponse struct {
	Messages []session.Message `json:"messages"`
}

// HealthResponse represents the body served by GET /health.
// Clients only rely on the status code.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
