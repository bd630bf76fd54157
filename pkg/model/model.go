// Package model provides the LLM client used by the conversation loop.
//
// The only backend is Google's Gemini generateContent REST API, reachable
// either through the Generative Language endpoint (API key) or through
// Vertex AI (project/location plus a bearer token). The interface is kept
// small so the loop can be tested against a fake.
package model

import "context"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single conversation entry. Turns are held in an ordered,
// append-only in-memory list for the session and never persisted.
type Turn struct {
	Role Role
	Text string
}

// GenerationConfig holds the sampling options recognized by the backend.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Client creates chat sessions against a model backend.
type Client interface {
	// StartChat begins a chat primed with the given history. The
	// history slice is not retained; callers may mutate it afterwards.
	StartChat(history []Turn) Chat

	// Close releases client resources.
	Close() error
}

// Chat sends messages within one chat session.
type Chat interface {
	// SendMessage sends text to the model and returns the reply text.
	// A non-nil error means the turn failed and should be discarded
	// from the caller's history.
	SendMessage(ctx context.Context, text string, cfg GenerationConfig) (string, error)
}
