package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newConversation(t *testing.T, s *MemoryStore, accountID, participantID string) *Conversation {
	t.Helper()
	conv, err := s.GetOrCreateConversation(context.Background(), accountID, "facebook", participantID, "Fan")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}
	return conv
}

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := newConversation(t, s, "acct-1", "fan-1")
	second := newConversation(t, s, "acct-1", "fan-1")
	if first.ID != second.ID {
		t.Errorf("same participant produced two conversations: %s vs %s", first.ID, second.ID)
	}

	// A different account with the same participant id gets its own thread.
	other, err := s.GetOrCreateConversation(ctx, "acct-2", "facebook", "fan-1", "Fan")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}
	if other.ID == first.ID {
		t.Error("conversations leaked across accounts")
	}
}

func TestAppendMessageBumpsConversation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s, "acct-1", "fan-1")

	before, _ := s.GetConversation(ctx, conv.ID)
	msg := &Message{
		ConversationID: conv.ID,
		SenderType:     "fan",
		Content:        "hello",
		Status:         "sent",
		CreatedAt:      before.LastMessageAt.Add(time.Minute),
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	after, _ := s.GetConversation(ctx, conv.ID)
	if after.MessageCount != before.MessageCount+1 {
		t.Errorf("message count = %d, want %d", after.MessageCount, before.MessageCount+1)
	}
	if !after.LastMessageAt.After(before.LastMessageAt) {
		t.Errorf("last_message_at did not advance: %v", after.LastMessageAt)
	}
}

func TestAppendMessageToMissingConversation(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendMessage(context.Background(), &Message{
		ConversationID: "nope",
		SenderType:     "fan",
		Content:        "hello",
	})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAppendsKeepCountConsistent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s, "acct-1", "fan-1")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendMessage(ctx, &Message{
				ConversationID: conv.ID,
				SenderType:     "fan",
				Content:        fmt.Sprintf("msg %d", i),
				Status:         "sent",
			})
		}(i)
	}
	wg.Wait()

	after, _ := s.GetConversation(ctx, conv.ID)
	if after.MessageCount != writers {
		t.Errorf("message count = %d, want %d", after.MessageCount, writers)
	}

	msgs, _ := s.ListMessages(ctx, conv.ID)
	if len(msgs) != writers {
		t.Fatalf("listed %d messages, want %d", len(msgs), writers)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
}

func TestUpdateMessageStatusBackfillsPlatformID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s, "acct-1", "fan-1")

	msg := &Message{ConversationID: conv.ID, SenderType: "ai", Content: "hi", Status: "pending"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.UpdateMessageStatus(ctx, msg.ID, "sent", "pm-7"); err != nil {
		t.Fatalf("update: %v", err)
	}

	msgs, _ := s.ListMessages(ctx, conv.ID)
	if msgs[0].Status != "sent" || msgs[0].PlatformMessageID != "pm-7" {
		t.Errorf("message after transition = %+v", msgs[0])
	}

	// Empty platform id keeps the recorded one.
	if err := s.UpdateMessageStatus(ctx, msg.ID, "failed", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	msgs, _ = s.ListMessages(ctx, conv.ID)
	if msgs[0].PlatformMessageID != "pm-7" {
		t.Errorf("platform id overwritten by empty value: %+v", msgs[0])
	}

	if err := s.UpdateMessageStatus(ctx, "missing", "sent", ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetConversationAILogsSystemMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s, "acct-1", "fan-1")

	if err := s.SetConversationAI(ctx, conv.ID, false, "operator takeover"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	msgs, _ := s.ListMessages(ctx, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("no system message logged on AI flip; messages = %+v", msgs)
	}
	if msgs[0].SenderType != "system" || msgs[0].Status != "sent" {
		t.Errorf("flip message = %+v", msgs[0])
	}
	if msgs[0].Content != "AI disabled: operator takeover" {
		t.Errorf("flip message content = %q", msgs[0].Content)
	}

	// Setting the same value again does not log a duplicate.
	if err := s.SetConversationAI(ctx, conv.ID, false, "operator takeover"); err != nil {
		t.Fatalf("repeat toggle: %v", err)
	}
	if msgs, _ = s.ListMessages(ctx, conv.ID); len(msgs) != 1 {
		t.Fatalf("repeated toggle logged again: %d messages", len(msgs))
	}

	if err := s.SetConversationAI(ctx, conv.ID, true, "handback"); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	msgs, _ = s.ListMessages(ctx, conv.ID)
	if len(msgs) != 2 || msgs[1].Content != "AI enabled: handback" {
		t.Fatalf("messages after re-enable = %+v", msgs)
	}
}

func TestListConversationsEmptyIsNotNil(t *testing.T) {
	s := NewMemoryStore()
	convs, err := s.ListConversations(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if convs == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(convs) != 0 {
		t.Fatalf("expected no conversations, got %d", len(convs))
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	older := newConversation(t, s, "acct-1", "fan-old")
	newer := newConversation(t, s, "acct-1", "fan-new")
	s.AppendMessage(ctx, &Message{
		ConversationID: newer.ID,
		SenderType:     "fan",
		Content:        "latest",
		CreatedAt:      time.Now().Add(time.Hour),
	})

	convs, _ := s.ListConversations(ctx, "acct-1")
	if len(convs) != 2 {
		t.Fatalf("listed %d conversations, want 2", len(convs))
	}
	if convs[0].ID != newer.ID || convs[1].ID != older.ID {
		t.Error("conversations not ordered by last activity")
	}
}

func TestClaimCommentReplyIsOnceOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	claimed, err := s.ClaimCommentReply(ctx, "acct-1", "comment-1")
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}

	claimed, err = s.ClaimCommentReply(ctx, "acct-1", "comment-1")
	if err != nil || claimed {
		t.Fatalf("second claim should be refused: claimed=%v err=%v", claimed, err)
	}

	// Same comment for a different account is an independent claim.
	claimed, err = s.ClaimCommentReply(ctx, "acct-2", "comment-1")
	if err != nil || !claimed {
		t.Fatalf("other account's claim: claimed=%v err=%v", claimed, err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cursor, err := s.GetCursor(ctx, "conv-1")
	if err != nil || cursor != "" {
		t.Fatalf("fresh cursor should be empty: %q, %v", cursor, err)
	}

	if err := s.SetCursor(ctx, "conv-1", "msg-9"); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	cursor, _ = s.GetCursor(ctx, "conv-1")
	if cursor != "msg-9" {
		t.Errorf("cursor = %q, want msg-9", cursor)
	}
}

func TestResponderStatePersistence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetResponderState(ctx, "acct-1", "facebook", true)
	s.SetResponderState(ctx, "acct-2", "instagram", true)
	s.SetResponderState(ctx, "acct-2", "instagram", false)

	active, err := s.ListActiveResponders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].AccountID != "acct-1" {
		t.Fatalf("active responders = %+v, want just acct-1", active)
	}
}

func TestIncidentLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inc := &Incident{AccountID: "acct-1", Severity: "high", Title: "token expired"}
	if err := s.CreateIncident(ctx, inc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if inc.Status != "pending" {
		t.Errorf("fresh incident status = %q, want pending", inc.Status)
	}

	open, _ := s.CountOpenIncidents(ctx, "acct-1")
	if open != 1 {
		t.Errorf("open incidents = %d, want 1", open)
	}

	if err := s.RecordIncident(ctx, inc.ID); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.AckIncident(ctx, inc.ID, "admin"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	listed, _ := s.ListIncidents(ctx, "acct-1")
	if len(listed) != 1 || listed[0].Status != "acknowledged" || listed[0].AckedBy != "admin" {
		t.Fatalf("incident after ack = %+v", listed)
	}

	open, _ = s.CountOpenIncidents(ctx, "acct-1")
	if open != 0 {
		t.Errorf("open incidents after ack = %d, want 0", open)
	}
}

func TestAuditListNewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.AppendAudit(ctx, &AuditEntry{
			AccountID: "acct-1",
			Actor:     "admin",
			Action:    fmt.Sprintf("action-%d", i),
		})
	}

	entries, err := s.ListAudit(ctx, "acct-1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("listed %d entries, want 3", len(entries))
	}
	if entries[0].Action != "action-4" {
		t.Errorf("newest entry = %q, want action-4", entries[0].Action)
	}
}
