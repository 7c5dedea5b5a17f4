// Package store persists connections, conversations and messages for the
// engagement auto-responder. Two implementations exist: Postgres for
// production and an in-memory store used by tests.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Connection is a stored OAuth credential binding one managed account to one
// external social platform. Created on OAuth callback, mutated on token
// refresh, deactivated on disconnect. Never shared across accounts.
type Connection struct {
	ID             string
	AccountID      string
	Platform       string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	PlatformUserID string
	IsConnected    bool
}

// Conversation is a thread between a managed account and one external
// participant on one platform. Unique per (account_id, participant_id).
type Conversation struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Platform        string    `json:"platform"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	Status          string    `json:"status"` // "active" or "closed"
	AIEnabled       bool      `json:"ai_enabled"`
	RedirectSent    bool      `json:"redirect_sent"`
	MessageCount    int       `json:"message_count"`
	LastMessageAt   time.Time `json:"last_message_at"`
}

// Message belongs to exactly one conversation. Immutable once persisted
// except for status transitions.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	SenderType        string    `json:"sender_type"` // "fan", "ai", "manual" or "system"
	SenderName        string    `json:"sender_name"`
	Content           string    `json:"content"`
	Status            string    `json:"status"` // "pending", "typing", "sent" or "failed"
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Persona biases AI-generated replies for one account. Read-only from the
// classifier's perspective.
type Persona struct {
	AccountID      string
	Tone           string
	Vocabulary     string
	EmotionalRange string
	Boundaries     string
	RedirectURL    string
}

// ResponderState records whether the auto-responder is active for an
// account, so pollers resume after a restart.
type ResponderState struct {
	AccountID string
	Platform  string
	Active    bool
	UpdatedAt time.Time
}

// Incident is an admin-subsystem record. Status moves pending -> recorded
// -> acknowledged; the pending phase exists so callers can show an explicit
// unconfirmed state instead of assuming the write succeeded.
type Incident struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"` // "pending", "recorded" or "acknowledged"
	CreatedAt   time.Time `json:"created_at"`
	AckedBy     string    `json:"acked_by,omitempty"`
	AckedAt     time.Time `json:"acked_at,omitempty"`
}

// AuditEntry is an append-mostly record of a state mutation.
type AuditEntry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardSummary aggregates the independent reads the dashboard endpoint
// fans out.
type DashboardSummary struct {
	Conversations   int       `json:"conversations"`
	Messages        int       `json:"messages"`
	RepliesSent     int       `json:"replies_sent"`
	OpenIncidents   int       `json:"open_incidents"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ActiveResponder bool      `json:"active_responder"`
}

// Store is the persistence contract shared by the Postgres and in-memory
// implementations.
type Store interface {
	// Connections
	GetConnection(ctx context.Context, accountID, platform string) (*Connection, error)
	GetConnectionByPlatformUser(ctx context.Context, platform, platformUserID string) (*Connection, error)
	UpsertConnection(ctx context.Context, conn *Connection) error
	UpdateConnectionTokens(ctx context.Context, accountID, platform, accessToken, refreshToken string, expiresAt time.Time) error
	DisconnectConnection(ctx context.Context, accountID, platform string) error

	// Conversations and messages
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	GetOrCreateConversation(ctx context.Context, accountID, platform, participantID, participantName string) (*Conversation, error)
	ListConversations(ctx context.Context, accountID string) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	AppendMessage(ctx context.Context, msg *Message) error
	// UpdateMessageStatus transitions a message's status and, when
	// platformMessageID is non-empty, records the platform's id for it.
	UpdateMessageStatus(ctx context.Context, messageID, status, platformMessageID string) error
	SetConversationAI(ctx context.Context, conversationID string, enabled bool, reason string) error
	MarkRedirectSent(ctx context.Context, conversationID string) error

	// Persona
	GetPersona(ctx context.Context, accountID string) (*Persona, error)

	// Poll cursor: id of the last fan message already answered, per
	// conversation, so restarts resume instead of re-scanning.
	GetCursor(ctx context.Context, conversationID string) (string, error)
	SetCursor(ctx context.Context, conversationID, lastMessageID string) error

	// ClaimCommentReply records that an auto-DM was triggered by the given
	// comment. Returns true exactly once per (account, comment) pair.
	ClaimCommentReply(ctx context.Context, accountID, commentID string) (bool, error)

	// Responder toggle persistence
	SetResponderState(ctx context.Context, accountID, platform string, active bool) error
	ListActiveResponders(ctx context.Context) ([]ResponderState, error)

	// Admin subsystem
	CreateIncident(ctx context.Context, inc *Incident) error
	RecordIncident(ctx context.Context, incidentID string) error
	AckIncident(ctx context.Context, incidentID, actor string) error
	ListIncidents(ctx context.Context, accountID string) ([]Incident, error)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, accountID string, limit int) ([]AuditEntry, error)

	// Dashboard reads (each independent, fanned out by the caller)
	CountConversations(ctx context.Context, accountID string) (int, error)
	CountMessages(ctx context.Context, accountID string) (int, error)
	CountRepliesSent(ctx context.Context, accountID string) (int, error)
	CountOpenIncidents(ctx context.Context, accountID string) (int, error)
	LastActivity(ctx context.Context, accountID string) (time.Time, error)
}
