package session

import (
	"time"

	"github.com/google/uuid"
)

// Session maps a caller's session key to a backend session id.
type Session struct {
	Key          string    `json:"key"`
	BackendID    string    `json:"backend_id"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Turns        int       `json:"turns"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// NewID returns a backend session id. The CLI only accepts UUIDs.
func NewID() string {
	return uuid.NewString()
}
