// webhook.go
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"engage-router/adapter"
	"engage-router/metrics"
	"engage-router/store"
)

// validateSignature checks the X-Hub-Signature-256 header against the HMAC
// of the raw body before the handler ever sees the payload. GET requests
// (webhook verification) pass through unsigned.
func validateSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			next(w, r)
			return
		}

		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			LogWarn("Webhook request without signature header")
			http.Error(w, "Missing signature", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Error reading body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		mac := hmac.New(sha256.New, []byte(config.AppSecret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))

		// Header format is "sha256=<hex>".
		if len(signature) < 8 || !hmac.Equal([]byte(signature[7:]), []byte(expected)) {
			LogWarn("Webhook signature mismatch")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handleWebhookVerification(w, r)
	case http.MethodPost:
		handleWebhookEvent(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleWebhookVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == config.VerifyToken {
		LogInfo("✅ Webhook verified successfully")
		w.Write([]byte(challenge))
		return
	}

	LogWarn("Webhook verification failed (mode=%s)", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleWebhookEvent acknowledges immediately and processes in the
// background: the platform retries deliveries that do not get a fast 200.
func handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		LogError("[%s] Error decoding webhook payload: %v", requestID, err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))

	go processWebhookEvent(requestID, event)
}

func processWebhookEvent(requestID string, event WebhookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	platform := normalizePlatform(event.Object)
	LogDebug("[%s] Processing webhook event for object type %s", requestID, event.Object)

	for _, entry := range event.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Message == nil || messaging.Message.IsEcho {
				continue
			}
			if messaging.Message.Text == "" {
				LogDebug("[%s] Skipping non-text message from %s", requestID, messaging.Sender.ID)
				continue
			}

			if err := ingestMessage(ctx, platform, entry.ID, messaging); err != nil {
				LogError("[%s] Error ingesting message from %s: %v", requestID, messaging.Sender.ID, err)
			}
		}
	}
}

func normalizePlatform(object string) string {
	if object == "page" {
		return "facebook"
	}
	return object
}

// ingestMessage resolves the receiving account from the entry's platform
// user id, then appends the fan message to its conversation.
func ingestMessage(ctx context.Context, platform, entryID string, messaging MessagingEntry) error {
	conn, err := dataStore.GetConnectionByPlatformUser(ctx, platform, entryID)
	if err != nil {
		return err
	}

	name := messaging.Sender.Username
	if name != "" {
		// The event carries the current name; drop any stale cached lookup.
		convCache.InvalidateProfile(ctx, messaging.Sender.ID)
	} else {
		name = lookupProfileName(ctx, platform, conn.AccountID, messaging.Sender.ID)
	}
	if name == "" {
		name = messaging.Sender.ID
	}

	conv, err := dataStore.GetOrCreateConversation(ctx, conn.AccountID, platform, messaging.Sender.ID, name)
	if err != nil {
		return err
	}

	msg := &store.Message{
		ConversationID:    conv.ID,
		SenderType:        "fan",
		SenderName:        name,
		Content:           messaging.Message.Text,
		Status:            "sent",
		PlatformMessageID: messaging.Message.Mid,
	}
	if err := dataStore.AppendMessage(ctx, msg); err != nil {
		return err
	}

	metrics.Registry("engage_router").InboundMessages.WithLabelValues(platform).Inc()
	convCache.InvalidateConversations(ctx, conn.AccountID)

	LogInfo("📩 Inbound %s message in conversation %s", platform, conv.ID)
	return nil
}

// lookupProfileName fetches the sender's display name through the platform
// adapter, cached for a day. Failures just mean the fan shows up by id.
func lookupProfileName(ctx context.Context, platform, accountID, userID string) string {
	a, err := registry.Get(platform)
	if err != nil {
		return ""
	}

	name, err := convCache.GetProfileName(ctx, userID, func() (string, error) {
		result, err := a.Do(ctx, adapter.Request{
			Action:    adapter.ActionGetProfile,
			AccountID: accountID,
			Params:    map[string]string{"user_id": userID},
		})
		if err != nil {
			return "", err
		}
		if n, ok := result.Data["name"].(string); ok && n != "" {
			return n, nil
		}
		if n, ok := result.Data["username"].(string); ok && n != "" {
			return n, nil
		}
		return "", nil
	})
	if err != nil {
		LogDebug("Profile lookup failed for %s on %s: %v", userID, platform, err)
		return ""
	}
	return name
}
