package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type ConversationMessage struct {
	ID        uuid.UUID   `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationPhase selects how the next turn is handled.
type ConversationPhase string

const (
	// PhaseSearching runs the full synthesize/analyze/search/rank pipeline.
	PhaseSearching ConversationPhase = "searching"
	// PhaseChatting answers conversationally over the last results.
	PhaseChatting ConversationPhase = "chatting"
)

// ConversationState is passed into a turn and returned, updated, with the
// terminal payload. It is a plain value; the caller owns persistence.
type ConversationState struct {
	Phase       ConversationPhase `json:"phase"`
	Location    string            `json:"location,omitempty"`
	ProgramMode bool              `json:"program_mode,omitempty"`
	// SkipEcho tells the client not to render the user message again after
	// a confirmed reload replaced it with an earlier query.
	SkipEcho bool `json:"skip_echo,omitempty"`
}

type ScopeKind string

const (
	ScopeChange ScopeKind = "scope_change"
	NormalReply ScopeKind = "normal_reply"
)

// ScopeDecision is the classifier verdict for a chat message: either the
// user confirmed a scope change and the search must be reloaded, or the
// message gets a normal conversational reply.
type ScopeDecision struct {
	Kind ScopeKind `json:"kind"`
	Text string    `json:"text,omitempty"`
}

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionClosed  SessionStatus = "closed"
)

// ConversationSession is the persisted view of an ongoing conversation.
type ConversationSession struct {
	ID        uuid.UUID             `json:"id"`
	UserID    *uuid.UUID            `json:"user_id,omitempty"`
	History   []ConversationMessage `json:"history"`
	State     ConversationState     `json:"state"`
	Results   *RankedResults        `json:"results,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	ExpiresAt time.Time             `json:"expires_at"`
	Status    SessionStatus         `json:"status"`
}

type ConversationSessionRepository interface {
	CreateSession(ctx context.Context, session ConversationSession) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*ConversationSession, error)
	UpdateSession(ctx context.Context, session ConversationSession) error
	AddMessage(ctx context.Context, sessionID uuid.UUID, message ConversationMessage) error
	ExpireSessions(ctx context.Context) error
}
