// Package ai dispatches tutoring questions to a chat-completion provider.
package ai

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to the provider. ImageURL
// optionally carries an attached homework photo as a data URL.
type Message struct {
	Role     Role
	Content  string
	ImageURL string
}

// Dispatcher sends a full transcript and returns the assistant's reply.
type Dispatcher interface {
	SendMessage(ctx context.Context, messages []Message) (string, error)
}

// DispatchError wraps a provider failure with enough context to log it.
type DispatchError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai: %s dispatch failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai: %s dispatch failed: %v", e.Provider, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
