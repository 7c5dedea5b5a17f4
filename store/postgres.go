package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore is the production Store backed by database/sql + lib/pq.
// All writes to a conversation and its messages happen inside a transaction
// holding a FOR UPDATE lock on the conversation row; there is no
// cross-conversation ordering beyond created_at comparison.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetConnection(ctx context.Context, accountID, platform string) (*Connection, error) {
	conn := &Connection{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
        SELECT id, account_id, platform, COALESCE(access_token, ''),
               refresh_token, expires_at, COALESCE(platform_user_id, ''), is_connected
        FROM connections
        WHERE account_id = $1 AND platform = $2
    `, accountID, platform).Scan(
		&conn.ID, &conn.AccountID, &conn.Platform, &conn.AccessToken,
		&refreshToken, &expiresAt, &conn.PlatformUserID, &conn.IsConnected,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching connection: %v", err)
	}
	conn.RefreshToken = refreshToken.String
	conn.ExpiresAt = expiresAt.Time
	return conn, nil
}

func (s *PostgresStore) GetConnectionByPlatformUser(ctx context.Context, platform, platformUserID string) (*Connection, error) {
	conn := &Connection{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
        SELECT id, account_id, platform, COALESCE(access_token, ''),
               refresh_token, expires_at, COALESCE(platform_user_id, ''), is_connected
        FROM connections
        WHERE platform = $1 AND platform_user_id = $2
    `, platform, platformUserID).Scan(
		&conn.ID, &conn.AccountID, &conn.Platform, &conn.AccessToken,
		&refreshToken, &expiresAt, &conn.PlatformUserID, &conn.IsConnected,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching connection: %v", err)
	}
	conn.RefreshToken = refreshToken.String
	conn.ExpiresAt = expiresAt.Time
	return conn, nil
}

func (s *PostgresStore) UpsertConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO connections (id, account_id, platform, access_token, refresh_token,
                                 expires_at, platform_user_id, is_connected, updated_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NOW())
        ON CONFLICT (account_id, platform) DO UPDATE
        SET access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            platform_user_id = EXCLUDED.platform_user_id,
            is_connected = EXCLUDED.is_connected,
            updated_at = NOW()
    `, conn.ID, conn.AccountID, conn.Platform, conn.AccessToken, conn.RefreshToken,
		conn.ExpiresAt, conn.PlatformUserID, conn.IsConnected)
	if err != nil {
		return fmt.Errorf("error upserting connection: %v", err)
	}
	return nil
}

func (s *PostgresStore) UpdateConnectionTokens(ctx context.Context, accountID, platform, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE connections
        SET access_token = $1,
            refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
            expires_at = $3,
            updated_at = NOW()
        WHERE account_id = $4 AND platform = $5
    `, accessToken, refreshToken, expiresAt, accountID, platform)
	if err != nil {
		return fmt.Errorf("error updating connection tokens: %v", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	log.Printf("🔑 Refreshed tokens for account %s on %s (expires %v)", accountID, platform, expiresAt)
	return nil
}

func (s *PostgresStore) DisconnectConnection(ctx context.Context, accountID, platform string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE connections
        SET is_connected = false, updated_at = NOW()
        WHERE account_id = $1 AND platform = $2
    `, accountID, platform)
	if err != nil {
		return fmt.Errorf("error disconnecting: %v", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, account_id, platform, participant_id,
               COALESCE(participant_name, ''), COALESCE(avatar_url, ''),
               status, ai_enabled, redirect_sent, message_count,
               COALESCE(last_message_at, '1970-01-01'::timestamp)
        FROM conversations
        WHERE id = $1
    `, conversationID).Scan(
		&conv.ID, &conv.AccountID, &conv.Platform, &conv.ParticipantID,
		&conv.ParticipantName, &conv.AvatarURL, &conv.Status, &conv.AIEnabled,
		&conv.RedirectSent, &conv.MessageCount, &conv.LastMessageAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching conversation: %v", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, accountID, platform, participantID, participantName string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, account_id, platform, participant_id,
               COALESCE(participant_name, ''), COALESCE(avatar_url, ''),
               status, ai_enabled, redirect_sent, message_count,
               COALESCE(last_message_at, '1970-01-01'::timestamp)
        FROM conversations
        WHERE account_id = $1 AND participant_id = $2
    `, accountID, participantID).Scan(
		&conv.ID, &conv.AccountID, &conv.Platform, &conv.ParticipantID,
		&conv.ParticipantName, &conv.AvatarURL, &conv.Status, &conv.AIEnabled,
		&conv.RedirectSent, &conv.MessageCount, &conv.LastMessageAt,
	)

	if err == sql.ErrNoRows {
		conv = &Conversation{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Platform:        platform,
			ParticipantID:   participantID,
			ParticipantName: participantName,
			Status:          "active",
			AIEnabled:       true,
			LastMessageAt:   time.Now(),
		}
		_, err = s.db.ExecContext(ctx, `
            INSERT INTO conversations (id, account_id, platform, participant_id, participant_name,
                                       status, ai_enabled, redirect_sent, message_count, last_message_at, created_at)
            VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'active', true, false, 0, NOW(), NOW())
            ON CONFLICT (account_id, participant_id) DO NOTHING
        `, conv.ID, conv.AccountID, conv.Platform, conv.ParticipantID, conv.ParticipantName)
		if err != nil {
			return nil, fmt.Errorf("error creating conversation: %v", err)
		}
		log.Printf("✨ Created new conversation %s for participant %s", conv.ID, participantID)

		// A concurrent inbound message may have won the insert race; re-read
		// so both callers end up with the same row.
		return s.GetOrCreateConversation(ctx, accountID, platform, participantID, participantName)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching conversation: %v", err)
	}

	if participantName != "" && participantName != conv.ParticipantName {
		if _, err := s.db.ExecContext(ctx, `
            UPDATE conversations SET participant_name = $1, updated_at = NOW() WHERE id = $2
        `, participantName, conv.ID); err == nil {
			conv.ParticipantName = participantName
		}
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, accountID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, account_id, platform, participant_id,
               COALESCE(participant_name, ''), COALESCE(avatar_url, ''),
               status, ai_enabled, redirect_sent, message_count,
               COALESCE(last_message_at, '1970-01-01'::timestamp)
        FROM conversations
        WHERE account_id = $1
        ORDER BY last_message_at DESC
    `, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %v", err)
	}
	defer rows.Close()

	result := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.ID, &conv.AccountID, &conv.Platform, &conv.ParticipantID,
			&conv.ParticipantName, &conv.AvatarURL, &conv.Status, &conv.AIEnabled,
			&conv.RedirectSent, &conv.MessageCount, &conv.LastMessageAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %v", err)
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, sender_type, COALESCE(sender_name, ''),
               content, status, COALESCE(platform_message_id, ''), created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at ASC, id ASC
    `, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %v", err)
	}
	defer rows.Close()

	result := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderType, &msg.SenderName,
			&msg.Content, &msg.Status, &msg.PlatformMessageID, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning message: %v", err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	// Lock the conversation row so the count and timestamp bump stay
	// consistent under concurrent appends.
	var convID string
	err = tx.QueryRowContext(ctx, `
        SELECT id FROM conversations WHERE id = $1 FOR UPDATE
    `, msg.ConversationID).Scan(&convID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error locking conversation: %v", err)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, sender_type, sender_name,
                              content, status, platform_message_id, created_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)
    `, msg.ID, msg.ConversationID, msg.SenderType, msg.SenderName,
		msg.Content, msg.Status, msg.PlatformMessageID, msg.CreatedAt); err != nil {
		return fmt.Errorf("error inserting message: %v", err)
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE conversations
        SET message_count = message_count + 1,
            last_message_at = GREATEST(last_message_at, $1),
            updated_at = NOW()
        WHERE id = $2
    `, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("error bumping conversation: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, messageID, status, platformMessageID string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE messages
        SET status = $1,
            platform_message_id = COALESCE(NULLIF($2, ''), platform_message_id)
        WHERE id = $3
    `, status, platformMessageID, messageID)
	if err != nil {
		return fmt.Errorf("error updating message status: %v", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetConversationAI(ctx context.Context, conversationID string, enabled bool, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	var current bool
	err = tx.QueryRowContext(ctx, `
        SELECT ai_enabled FROM conversations WHERE id = $1 FOR UPDATE
    `, conversationID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error locking conversation: %v", err)
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE conversations SET ai_enabled = $1, updated_at = NOW() WHERE id = $2
    `, enabled, conversationID); err != nil {
		return fmt.Errorf("error updating ai flag: %v", err)
	}

	if current != enabled {
		stateMsg := fmt.Sprintf("AI %s: %s",
			map[bool]string{true: "enabled", false: "disabled"}[enabled],
			reason,
		)
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO messages (id, conversation_id, sender_type, content, status, created_at)
            VALUES ($1, $2, 'system', $3, 'sent', NOW())
        `, uuid.NewString(), conversationID, stateMsg); err != nil {
			return fmt.Errorf("error logging state change: %v", err)
		}
		log.Printf("🔧 %s (conversation %s)", stateMsg, conversationID)
	}

	return tx.Commit()
}

func (s *PostgresStore) MarkRedirectSent(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE conversations SET redirect_sent = true, updated_at = NOW() WHERE id = $1
    `, conversationID)
	if err != nil {
		return fmt.Errorf("error marking redirect sent: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetPersona(ctx context.Context, accountID string) (*Persona, error) {
	p := &Persona{}
	err := s.db.QueryRowContext(ctx, `
        SELECT account_id, COALESCE(tone, ''), COALESCE(vocabulary, ''),
               COALESCE(emotional_range, ''), COALESCE(boundaries, ''), COALESCE(redirect_url, '')
        FROM personas
        WHERE account_id = $1
    `, accountID).Scan(&p.AccountID, &p.Tone, &p.Vocabulary, &p.EmotionalRange, &p.Boundaries, &p.RedirectURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching persona: %v", err)
	}
	return p, nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, conversationID string) (string, error) {
	var lastID string
	err := s.db.QueryRowContext(ctx, `
        SELECT last_processed_message_id FROM poll_cursors WHERE conversation_id = $1
    `, conversationID).Scan(&lastID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error fetching cursor: %v", err)
	}
	return lastID, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, conversationID, lastMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO poll_cursors (conversation_id, last_processed_message_id, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (conversation_id) DO UPDATE
        SET last_processed_message_id = EXCLUDED.last_processed_message_id,
            updated_at = NOW()
    `, conversationID, lastMessageID)
	if err != nil {
		return fmt.Errorf("error setting cursor: %v", err)
	}
	return nil
}

func (s *PostgresStore) ClaimCommentReply(ctx context.Context, accountID, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO comment_replies (account_id, comment_id, created_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (account_id, comment_id) DO NOTHING
    `, accountID, commentID)
	if err != nil {
		return false, fmt.Errorf("error claiming comment reply: %v", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading claim result: %v", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) SetResponderState(ctx context.Context, accountID, platform string, active bool) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO responder_states (account_id, platform, active, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (account_id, platform) DO UPDATE
        SET active = EXCLUDED.active, updated_at = NOW()
    `, accountID, platform, active)
	if err != nil {
		return fmt.Errorf("error setting responder state: %v", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveResponders(ctx context.Context) ([]ResponderState, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT account_id, platform, active, updated_at
        FROM responder_states
        WHERE active = true
    `)
	if err != nil {
		return nil, fmt.Errorf("error listing active responders: %v", err)
	}
	defer rows.Close()

	result := []ResponderState{}
	for rows.Next() {
		var r ResponderState
		if err := rows.Scan(&r.AccountID, &r.Platform, &r.Active, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning responder state: %v", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateIncident(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	inc.Status = "pending"
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO incidents (id, account_id, severity, title, description, status, created_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
        RETURNING created_at
    `, inc.ID, inc.AccountID, inc.Severity, inc.Title, inc.Description).Scan(&inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating incident: %v", err)
	}
	return nil
}

func (s *PostgresStore) RecordIncident(ctx context.Context, incidentID string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE incidents SET status = 'recorded' WHERE id = $1 AND status = 'pending'
    `, incidentID)
	if err != nil {
		return fmt.Errorf("error recording incident: %v", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AckIncident(ctx context.Context, incidentID, actor string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE incidents
        SET status = 'acknowledged', acked_by = $1, acked_at = NOW()
        WHERE id = $2
    `, actor, incidentID)
	if err != nil {
		return fmt.Errorf("error acknowledging incident: %v", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, accountID string) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, account_id, severity, title, COALESCE(description, ''), status,
               created_at, COALESCE(acked_by, ''),
               COALESCE(acked_at, '1970-01-01'::timestamp)
        FROM incidents
        WHERE account_id = $1
        ORDER BY created_at DESC
    `, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing incidents: %v", err)
	}
	defer rows.Close()

	result := []Incident{}
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.AccountID, &inc.Severity, &inc.Title,
			&inc.Description, &inc.Status, &inc.CreatedAt, &inc.AckedBy, &inc.AckedAt); err != nil {
			return nil, fmt.Errorf("error scanning incident: %v", err)
		}
		result = append(result, inc)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_entries (id, account_id, actor, action, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
    `, entry.ID, entry.AccountID, entry.Actor, entry.Action, entry.Detail)
	if err != nil {
		return fmt.Errorf("error appending audit entry: %v", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, accountID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, account_id, actor, action, COALESCE(detail, ''), created_at
        FROM audit_entries
        WHERE account_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %v", err)
	}
	defer rows.Close()

	result := []AuditEntry{}
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Actor,
			&entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning audit entry: %v", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountConversations(ctx context.Context, accountID string) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM conversations WHERE account_id = $1", accountID)
}

func (s *PostgresStore) CountMessages(ctx context.Context, accountID string) (int, error) {
	return s.countQuery(ctx, `
        SELECT COUNT(*) FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE c.account_id = $1
    `, accountID)
}

func (s *PostgresStore) CountRepliesSent(ctx context.Context, accountID string) (int, error) {
	return s.countQuery(ctx, `
        SELECT COUNT(*) FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE c.account_id = $1
          AND m.sender_type = ANY($2)
          AND m.status = 'sent'
    `, accountID, pq.Array([]string{"ai", "manual"}))
}

func (s *PostgresStore) CountOpenIncidents(ctx context.Context, accountID string) (int, error) {
	return s.countQuery(ctx, `
        SELECT COUNT(*) FROM incidents
        WHERE account_id = $1 AND status != 'acknowledged'
    `, accountID)
}

func (s *PostgresStore) LastActivity(ctx context.Context, accountID string) (time.Time, error) {
	var last time.Time
	err := s.db.QueryRowContext(ctx, `
        SELECT COALESCE(MAX(last_message_at), '1970-01-01'::timestamp)
        FROM conversations
        WHERE account_id = $1
    `, accountID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("error fetching last activity: %v", err)
	}
	return last, nil
}

func (s *PostgresStore) countQuery(ctx context.Context, query string, args ...interface{}) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting rows: %v", err)
	}
	return count, nil
}
