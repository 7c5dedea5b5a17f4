// handlers.go
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"engage-router/adapter"
	"engage-router/metrics"
	"engage-router/store"
)

// handleSocialAction is the internal action gateway: one envelope in, one
// envelope out, with the platform picked by the request instead of the URL.
func handleSocialAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	requestID := generateRequestID()

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Action == "" || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "action and account_id are required")
		return
	}

	platform := req.Params["platform"]
	if platform == "" {
		writeError(w, http.StatusBadRequest, "params.platform is required")
		return
	}

	LogInfo("[%s] Social action %s for account %s on %s", requestID, req.Action, req.AccountID, platform)

	// Comment scanning is a pipeline, not a single adapter call.
	if req.Action == "scan_comments" {
		postID := req.Params["post_id"]
		if postID == "" {
			writeError(w, http.StatusBadRequest, "params.post_id is required")
			return
		}
		report, err := scanner.ScanPost(r.Context(), req.AccountID, platform, postID)
		if err != nil {
			writeAdapterError(w, requestID, platform, err)
			return
		}
		writeSuccess(w, report)
		return
	}

	a, err := registry.Get(platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.Do(r.Context(), adapter.Request{
		Action:    req.Action,
		AccountID: req.AccountID,
		Params:    req.Params,
	})
	if err != nil {
		writeAdapterError(w, requestID, platform, err)
		return
	}

	writeSuccess(w, result.Data)
}

// writeAdapterError maps the adapter failure taxonomy onto HTTP statuses:
// caller mistakes are 4xx, upstream platform failures are 502.
func writeAdapterError(w http.ResponseWriter, requestID, platform string, err error) {
	var adapterErr *adapter.AdapterError
	if errors.As(err, &adapterErr) {
		metrics.Registry("engage_router").AdapterErrors.WithLabelValues(platform, string(adapterErr.Code)).Inc()
	}

	switch {
	case adapter.IsMalformedRequest(err):
		LogWarn("[%s] Malformed request: %v", requestID, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case adapter.IsNotConnected(err):
		LogWarn("[%s] Account not connected: %v", requestID, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case adapter.IsRemoteAPIError(err):
		LogError("[%s] Upstream platform error: %v", requestID, err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		LogError("[%s] Social action failed: %v", requestID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	conversations, err := convCache.GetConversations(r.Context(), accountID, func() ([]store.Conversation, error) {
		return dataStore.ListConversations(r.Context(), accountID)
	})
	if err != nil {
		LogError("Error listing conversations for %s: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeSuccess(w, conversations)
}

func handleListMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	if _, err := dataStore.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		LogError("Error loading conversation %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	messages, err := dataStore.ListMessages(r.Context(), conversationID)
	if err != nil {
		LogError("Error listing messages for %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeSuccess(w, messages)
}

// handleSend is the manual operator reply path. The dispatcher records the
// outcome either way, so a failed platform send still answers 200 with a
// "failed" message row.
func handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConversationID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and text are required")
		return
	}

	msg, err := dispatcher.SendReply(r.Context(), req.ConversationID, req.Text, "manual")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		LogError("Error sending manual reply to %s: %v", req.ConversationID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if conv, err := dataStore.GetConversation(r.Context(), req.ConversationID); err == nil {
		convCache.InvalidateConversations(r.Context(), conv.AccountID)
	}

	writeSuccess(w, msg)
}

// handleConnections registers or replaces a platform credential. The OAuth
// dance itself happens in the external auth provider; it posts the resulting
// token here.
func handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountID == "" || req.Platform == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "account_id, platform and access_token are required")
		return
	}
	if _, err := registry.Get(req.Platform); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn := &store.Connection{
		AccountID:      req.AccountID,
		Platform:       req.Platform,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		ExpiresAt:      req.ExpiresAt,
		PlatformUserID: req.PlatformUserID,
		IsConnected:    true,
	}
	if err := dataStore.UpsertConnection(r.Context(), conn); err != nil {
		LogError("Error upserting connection for %s: %v", req.AccountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	LogInfo("🔗 Connected %s for account %s", req.Platform, req.AccountID)
	writeSuccess(w, map[string]string{"connection_id": conn.ID})
}

func handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountID == "" || req.Platform == "" {
		writeError(w, http.StatusBadRequest, "account_id and platform are required")
		return
	}

	if err := dataStore.DisconnectConnection(r.Context(), req.AccountID, req.Platform); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		LogError("Error disconnecting %s for %s: %v", req.Platform, req.AccountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	poller.Stop(r.Context(), req.AccountID)
	LogInfo("🔌 Disconnected %s for account %s", req.Platform, req.AccountID)
	writeSuccess(w, map[string]bool{"connected": false})
}

// handleConversationAI toggles the per-conversation AI flag, for operator
// takeovers and handbacks. The store logs a system message on each flip.
func handleConversationAI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AIToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	if err := dataStore.SetConversationAI(r.Context(), req.ConversationID, req.Enabled, req.Reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		LogError("Error toggling AI for %s: %v", req.ConversationID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if conv, err := dataStore.GetConversation(r.Context(), req.ConversationID); err == nil {
		convCache.InvalidateConversations(r.Context(), conv.AccountID)
	}

	writeSuccess(w, map[string]bool{"ai_enabled": req.Enabled})
}

func handleResponderStart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeResponderRequest(w, r)
	if !ok {
		return
	}

	if err := poller.Start(r.Context(), req.AccountID, req.Platform); err != nil {
		LogError("Error starting responder for %s: %v", req.AccountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	LogInfo("🤖 Auto-responder started for account %s (%s)", req.AccountID, req.Platform)
	writeSuccess(w, map[string]bool{"active": true})
}

func handleResponderStop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeResponderRequest(w, r)
	if !ok {
		return
	}

	poller.Stop(r.Context(), req.AccountID)
	LogInfo("🛑 Auto-responder stopped for account %s", req.AccountID)
	writeSuccess(w, map[string]bool{"active": false})
}

func handleResponderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	writeSuccess(w, map[string]bool{"active": poller.Active(accountID)})
}

func decodeResponderRequest(w http.ResponseWriter, r *http.Request) (ResponderRequest, bool) {
	var req ResponderRequest
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return req, false
	}
	if req.Platform == "" {
		req.Platform = "facebook"
	}
	return req, true
}

// handleDashboard fans out the five independent reads concurrently. One
// failed read fails the whole response rather than serving partial numbers.
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	var summary store.DashboardSummary
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		var err error
		summary.Conversations, err = dataStore.CountConversations(ctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		summary.Messages, err = dataStore.CountMessages(ctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		summary.RepliesSent, err = dataStore.CountRepliesSent(ctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		summary.OpenIncidents, err = dataStore.CountOpenIncidents(ctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		summary.LastActivityAt, err = dataStore.LastActivity(ctx, accountID)
		return err
	})

	if err := g.Wait(); err != nil {
		LogError("Error building dashboard for %s: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	summary.ActiveResponder = poller.Active(accountID)
	writeSuccess(w, summary)
}
