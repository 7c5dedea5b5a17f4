// Package responder runs the engagement pipeline: a durable poller that
// answers new fan DMs, a comment scanner that detects buying signals, and
// the dispatch path that sends replies out through platform adapters.
package responder

import (
	"context"
	"log"

	"engage-router/adapter"
	"engage-router/metrics"
	"engage-router/store"
)

type Dispatcher struct {
	store    store.Store
	registry *adapter.Registry
}

func NewDispatcher(st store.Store, registry *adapter.Registry) *Dispatcher {
	return &Dispatcher{store: st, registry: registry}
}

// SendReply sends text to the conversation's participant through the
// platform adapter. The message row lands as "pending" before the send, then
// transitions to "sent" or "failed" with the outcome. Adapter errors are
// recorded, not re-raised, so the caller always gets a completed message
// record back.
func (d *Dispatcher) SendReply(ctx context.Context, conversationID, text, senderType string) (*store.Message, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderType:     senderType,
		SenderName:     senderName(senderType),
		Content:        text,
		Status:         "pending",
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	result, sendErr := d.send(ctx, conv, text)
	if sendErr != nil {
		log.Printf("❌ Send failed for conversation %s: %v", conv.ID, sendErr)
		msg.Status = "failed"
	} else {
		msg.Status = "sent"
		if id, ok := result.Data["message_id"].(string); ok {
			msg.PlatformMessageID = id
		}
	}

	if err := d.store.UpdateMessageStatus(ctx, msg.ID, msg.Status, msg.PlatformMessageID); err != nil {
		return nil, err
	}

	metrics.Registry("engage_router").RepliesSent.WithLabelValues(conv.Platform, msg.Status).Inc()
	return msg, nil
}

func (d *Dispatcher) send(ctx context.Context, conv *store.Conversation, text string) (*adapter.Result, error) {
	a, err := d.registry.Get(conv.Platform)
	if err != nil {
		return nil, err
	}
	return a.Do(ctx, adapter.Request{
		Action:    adapter.ActionSendMessage,
		AccountID: conv.AccountID,
		Params: map[string]string{
			"recipient_id": conv.ParticipantID,
			"text":         text,
		},
	})
}

// AutoDM sends a DM triggered by a comment, at most once per (account,
// comment) pair: the dedup mark is claimed before the send, so a repeated
// poll over the same comment id observes the mark and skips. Returns whether
// this call performed the send.
func (d *Dispatcher) AutoDM(ctx context.Context, accountID, platform, commentID, participantID, participantName, text string) (bool, error) {
	claimed, err := d.store.ClaimCommentReply(ctx, accountID, commentID)
	if err != nil {
		return false, err
	}
	if !claimed {
		log.Printf("📝 Comment %s already answered, skipping auto-DM", commentID)
		return false, nil
	}

	conv, err := d.store.GetOrCreateConversation(ctx, accountID, platform, participantID, participantName)
	if err != nil {
		return false, err
	}

	if _, err := d.SendReply(ctx, conv.ID, text, "ai"); err != nil {
		return true, err
	}
	log.Printf("💬 Auto-DM sent to %s for comment %s", participantID, commentID)
	return true, nil
}

func senderName(senderType string) string {
	if senderType == "manual" {
		return "Operator"
	}
	return "AI Assistant"
}
