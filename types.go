// types.go
package main

import (
	"encoding/json"
	"net/http"
	"time"
)

type Config struct {
	DatabaseURL       string
	Port              string
	AppSecret         string // HMAC secret for webhook signatures
	VerifyToken       string
	AIGatewayKey      string
	AIGatewayURL      string // empty means the gateway's public endpoint
	AIModel           string
	JWTSecret         string
	AdminPassword     string
	FacebookAppID     string
	FacebookAppSecret string
	RedisAddr         string
	RedisUsername     string
	RedisPassword     string
	PollInterval      time.Duration
}

// ActionRequest is the internal envelope clients post to /api/social.
type ActionRequest struct {
	Action    string            `json:"action"`
	AccountID string            `json:"account_id"`
	Params    map[string]string `json:"params"`
}

// APIResponse is the envelope every API handler answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LogError("Error encoding JSON response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{Success: false, Error: message})
}

// WebhookEvent mirrors the Graph-style webhook payload for inbound
// messages.
type WebhookEvent struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string           `json:"id"` // platform user id of the receiving account
	Time      int64            `json:"time"`
	Messaging []MessagingEntry `json:"messaging"`
}

type MessagingEntry struct {
	Sender struct {
		ID       string `json:"id"`
		Username string `json:"username,omitempty"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message *MessageData `json:"message"`
}

type MessageData struct {
	Mid    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

// ConnectionRequest registers or tears down a platform credential.
type ConnectionRequest struct {
	AccountID      string    `json:"account_id"`
	Platform       string    `json:"platform"`
	AccessToken    string    `json:"access_token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	PlatformUserID string    `json:"platform_user_id,omitempty"`
}

// AIToggleRequest flips the per-conversation AI flag.
type AIToggleRequest struct {
	ConversationID string `json:"conversation_id"`
	Enabled        bool   `json:"enabled"`
	Reason         string `json:"reason,omitempty"`
}

// SendRequest is the manual operator reply payload.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// ResponderRequest toggles the auto-responder for an account.
type ResponderRequest struct {
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
}
