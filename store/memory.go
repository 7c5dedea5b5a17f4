package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Appends share one mutex, so the only ordering guarantee is the same one
// Postgres gives us: per-row atomicity plus created_at comparison.
type MemoryStore struct {
	mu            sync.RWMutex
	connections   map[string]*Connection // accountID|platform
	conversations map[string]*Conversation
	messages      map[string][]Message // conversationID -> ordered by CreatedAt
	personas      map[string]*Persona
	cursors       map[string]string
	commentMarks  map[string]bool // accountID|commentID
	responders    map[string]*ResponderState
	incidents     map[string]*Incident
	audit         []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections:   make(map[string]*Connection),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		personas:      make(map[string]*Persona),
		cursors:       make(map[string]string),
		commentMarks:  make(map[string]bool),
		responders:    make(map[string]*ResponderState),
		incidents:     make(map[string]*Incident),
	}
}

func connKey(accountID, platform string) string {
	return accountID + "|" + platform
}

func (s *MemoryStore) GetConnection(ctx context.Context, accountID, platform string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[connKey(accountID, platform)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (s *MemoryStore) GetConnectionByPlatformUser(ctx context.Context, platform, platformUserID string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if conn.Platform == platform && conn.PlatformUserID == platformUserID {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertConnection(ctx context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	copied := *conn
	s.connections[connKey(conn.AccountID, conn.Platform)] = &copied
	return nil
}

func (s *MemoryStore) UpdateConnectionTokens(ctx context.Context, accountID, platform, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[connKey(accountID, platform)]
	if !ok {
		return ErrNotFound
	}
	conn.AccessToken = accessToken
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.ExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) DisconnectConnection(ctx context.Context, accountID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[connKey(accountID, platform)]
	if !ok {
		return ErrNotFound
	}
	conn.IsConnected = false
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, accountID, platform, participantID, participantName string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		if conv.AccountID == accountID && conv.ParticipantID == participantID {
			if participantName != "" && conv.ParticipantName != participantName {
				conv.ParticipantName = participantName
			}
			copied := *conv
			return &copied, nil
		}
	}

	conv := &Conversation{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		Platform:        platform,
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Status:          "active",
		AIEnabled:       true,
		LastMessageAt:   time.Now(),
	}
	s.conversations[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, accountID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Conversation{}
	for _, conv := range s.conversations {
		if conv.AccountID == accountID {
			result = append(result, *conv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessageAt.After(result[j].LastMessageAt)
	})
	return result, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	result := make([]Message, len(msgs))
	copy(result, msgs)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv.MessageCount++
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
	return nil
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, messageID, status, platformMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				s.messages[convID][i].Status = status
				if platformMessageID != "" {
					s.messages[convID][i].PlatformMessageID = platformMessageID
				}
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SetConversationAI(ctx context.Context, conversationID string, enabled bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	if conv.AIEnabled != enabled {
		stateMsg := fmt.Sprintf("AI %s: %s",
			map[bool]string{true: "enabled", false: "disabled"}[enabled],
			reason,
		)
		s.messages[conversationID] = append(s.messages[conversationID], Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			SenderType:     "system",
			Content:        stateMsg,
			Status:         "sent",
			CreatedAt:      time.Now(),
		})
	}

	conv.AIEnabled = enabled
	return nil
}

func (s *MemoryStore) MarkRedirectSent(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.RedirectSent = true
	return nil
}

func (s *MemoryStore) GetPersona(ctx context.Context, accountID string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) SetPersona(ctx context.Context, p *Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *p
	s.personas[p.AccountID] = &copied
	return nil
}

func (s *MemoryStore) GetCursor(ctx context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[conversationID], nil
}

func (s *MemoryStore) SetCursor(ctx context.Context, conversationID, lastMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[conversationID] = lastMessageID
	return nil
}

func (s *MemoryStore) ClaimCommentReply(ctx context.Context, accountID, commentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountID + "|" + commentID
	if s.commentMarks[key] {
		return false, nil
	}
	s.commentMarks[key] = true
	return true, nil
}

func (s *MemoryStore) SetResponderState(ctx context.Context, accountID, platform string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responders[connKey(accountID, platform)] = &ResponderState{
		AccountID: accountID,
		Platform:  platform,
		Active:    active,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryStore) ListActiveResponders(ctx context.Context) ([]ResponderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []ResponderState{}
	for _, r := range s.responders {
		if r.Active {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateIncident(ctx context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}
	inc.Status = "pending"
	copied := *inc
	s.incidents[inc.ID] = &copied
	return nil
}

func (s *MemoryStore) RecordIncident(ctx context.Context, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	inc.Status = "recorded"
	return nil
}

func (s *MemoryStore) AckIncident(ctx context.Context, incidentID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return ErrNotFound
	}
	inc.Status = "acknowledged"
	inc.AckedBy = actor
	inc.AckedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListIncidents(ctx context.Context, accountID string) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Incident{}
	for _, inc := range s.incidents {
		if inc.AccountID == accountID {
			result = append(result, *inc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, *entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, accountID string, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []AuditEntry{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].AccountID == accountID {
			result = append(result, s.audit[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) CountConversations(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, conv := range s.conversations {
		if conv.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, conv := range s.conversations {
		if conv.AccountID == accountID {
			count += len(s.messages[conv.ID])
		}
	}
	return count, nil
}

func (s *MemoryStore) CountRepliesSent(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, conv := range s.conversations {
		if conv.AccountID != accountID {
			continue
		}
		for _, msg := range s.messages[conv.ID] {
			if (msg.SenderType == "ai" || msg.SenderType == "manual") && msg.Status == "sent" {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) CountOpenIncidents(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inc := range s.incidents {
		if inc.AccountID == accountID && inc.Status != "acknowledged" {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) LastActivity(ctx context.Context, accountID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, conv := range s.conversations {
		if conv.AccountID == accountID && conv.LastMessageAt.After(last) {
			last = conv.LastMessageAt
		}
	}
	return last, nil
}
