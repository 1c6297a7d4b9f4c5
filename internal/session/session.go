package session

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimestampLayout is the display format of message timestamps (HH:MM:SS)
const TimestampLayout = "15:04:05"

// Message represents a single chat message
type Message struct {
	Role             Role     `json:"role"`
	Content          string   `json:"content"`
	Timestamp        string   `json:"timestamp"`
	PossibleDiseases []string `json:"possible_diseases,omitempty"`
	AskConfirmation  *bool    `json:"ask_confirmation,omitempty"`
}

// Session represents a known conversation session as listed in the sidebar
type Session struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"last_message_preview"`
	CreatedAt          time.Time `json:"created_at"`
}

// FormatTimestamp renders t the way message timestamps are displayed
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
