// handlers_test.go
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"engage-router/adapter"
	"engage-router/store"
)

// okAdapter answers every action with a canned success payload.
type okAdapter struct {
	platform string
	fail     error
}

func (a *okAdapter) Platform() string { return a.platform }

func (a *okAdapter) Do(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	return &adapter.Result{Data: map[string]interface{}{"message_id": "pm-1"}}, nil
}

func TestListConversationsEnvelope(t *testing.T) {
	st := setupTestApp(t)
	ctx := context.Background()

	t.Run("missing account_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleListConversations(rec, httptest.NewRequest("GET", "/api/conversations", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty list is a success with empty data", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleListConversations(rec, httptest.NewRequest("GET", "/api/conversations?account_id=acct-1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		resp := decodeEnvelope(t, rec)
		if !resp.Success {
			t.Error("envelope success = false")
		}
		if items, ok := resp.Data.([]interface{}); !ok || len(items) != 0 {
			t.Errorf("data = %#v, want empty array", resp.Data)
		}
	})

	st.GetOrCreateConversation(ctx, "acct-1", "facebook", "fan-1", "Fan")
	t.Run("lists stored conversations", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleListConversations(rec, httptest.NewRequest("GET", "/api/conversations?account_id=acct-1", nil))
		resp := decodeEnvelope(t, rec)
		items := resp.Data.([]interface{})
		if len(items) != 1 {
			t.Fatalf("listed %d conversations, want 1", len(items))
		}
		conv := items[0].(map[string]interface{})
		if conv["participant_id"] != "fan-1" {
			t.Errorf("participant_id = %v", conv["participant_id"])
		}
	})
}

func TestListMessagesUnknownConversation(t *testing.T) {
	setupTestApp(t)

	rec := httptest.NewRecorder()
	handleListMessages(rec, httptest.NewRequest("GET", "/api/messages?conversation_id=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendManualReply(t *testing.T) {
	st := setupTestApp(t)
	registry.Register(&okAdapter{platform: "facebook"})
	ctx := context.Background()
	conv, _ := st.GetOrCreateConversation(ctx, "acct-1", "facebook", "fan-1", "Fan")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/send",
		strings.NewReader(`{"conversation_id": "`+conv.ID+`", "text": "on my way!"}`))
	handleSend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	msg := decodeEnvelope(t, rec).Data.(map[string]interface{})
	if msg["status"] != "sent" || msg["sender_type"] != "manual" {
		t.Errorf("message = %+v", msg)
	}

	msgs, _ := st.ListMessages(ctx, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
}

func TestSendFailedPlatformStillRecords(t *testing.T) {
	st := setupTestApp(t)
	registry.Register(&okAdapter{
		platform: "facebook",
		fail:     &adapter.AdapterError{Code: adapter.ErrCodeRemoteAPI, Message: "down", UpstreamStatus: 500},
	})
	ctx := context.Background()
	conv, _ := st.GetOrCreateConversation(ctx, "acct-1", "facebook", "fan-1", "Fan")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/send",
		strings.NewReader(`{"conversation_id": "`+conv.ID+`", "text": "hello"}`))
	handleSend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (outcome is recorded, not raised)", rec.Code)
	}
	msg := decodeEnvelope(t, rec).Data.(map[string]interface{})
	if msg["status"] != "failed" {
		t.Errorf("message status = %v, want failed", msg["status"])
	}
}

func TestSocialActionErrorMapping(t *testing.T) {
	setupTestApp(t)
	registry.Register(&okAdapter{
		platform: "facebook",
		fail:     &adapter.AdapterError{Code: adapter.ErrCodeNotConnected, Message: "no credential"},
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown platform", `{"action": "send_message", "account_id": "a", "params": {"platform": "myspace"}}`, http.StatusBadRequest},
		{"missing platform", `{"action": "send_message", "account_id": "a", "params": {}}`, http.StatusBadRequest},
		{"not connected", `{"action": "send_message", "account_id": "a", "params": {"platform": "facebook"}}`, http.StatusBadRequest},
		{"missing action", `{"account_id": "a", "params": {"platform": "facebook"}}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/social", strings.NewReader(tc.body))
			handleSocialAction(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestSocialActionUpstreamErrorIsBadGateway(t *testing.T) {
	setupTestApp(t)
	registry.Register(&okAdapter{
		platform: "facebook",
		fail:     &adapter.AdapterError{Code: adapter.ErrCodeRemoteAPI, Message: "boom", UpstreamStatus: 500},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/social",
		strings.NewReader(`{"action": "send_message", "account_id": "a", "params": {"platform": "facebook"}}`))
	handleSocialAction(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestResponderEndpoints(t *testing.T) {
	setupTestApp(t)

	t.Run("status requires account_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleResponderStatus(rec, httptest.NewRequest("GET", "/api/responder/status", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("start then status then stop", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handleResponderStart(rec, httptest.NewRequest("POST", "/api/responder/start",
			strings.NewReader(`{"account_id": "acct-1", "platform": "facebook"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("start status = %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		handleResponderStatus(rec, httptest.NewRequest("GET", "/api/responder/status?account_id=acct-1", nil))
		data := decodeEnvelope(t, rec).Data.(map[string]interface{})
		if data["active"] != true {
			t.Errorf("active = %v, want true", data["active"])
		}

		rec = httptest.NewRecorder()
		handleResponderStop(rec, httptest.NewRequest("POST", "/api/responder/stop",
			strings.NewReader(`{"account_id": "acct-1"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("stop status = %d", rec.Code)
		}
		if poller.Active("acct-1") {
			t.Error("responder still active after stop")
		}
	})
}

func TestConnectionLifecycle(t *testing.T) {
	st := setupTestApp(t)
	registry.Register(&okAdapter{platform: "facebook"})
	ctx := context.Background()

	t.Run("unknown platform is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/connections",
			strings.NewReader(`{"account_id": "acct-1", "platform": "myspace", "access_token": "tok"}`))
		handleConnections(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("upsert stores a connected credential", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/connections",
			strings.NewReader(`{"account_id": "acct-1", "platform": "facebook", "access_token": "tok", "platform_user_id": "page-1"}`))
		handleConnections(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}

		conn, err := st.GetConnection(ctx, "acct-1", "facebook")
		if err != nil {
			t.Fatalf("connection not stored: %v", err)
		}
		if !conn.IsConnected || conn.AccessToken != "tok" || conn.PlatformUserID != "page-1" {
			t.Errorf("stored connection = %+v", conn)
		}
	})

	t.Run("disconnect deactivates and stops the responder", func(t *testing.T) {
		handleResponderStart(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/responder/start",
			strings.NewReader(`{"account_id": "acct-1", "platform": "facebook"}`)))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/connections/disconnect",
			strings.NewReader(`{"account_id": "acct-1", "platform": "facebook"}`))
		handleDisconnect(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}

		conn, _ := st.GetConnection(ctx, "acct-1", "facebook")
		if conn.IsConnected {
			t.Error("connection still marked connected")
		}
		if poller.Active("acct-1") {
			t.Error("responder still active after disconnect")
		}
	})

	t.Run("disconnect unknown connection is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/connections/disconnect",
			strings.NewReader(`{"account_id": "ghost", "platform": "facebook"}`))
		handleDisconnect(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestConversationAIToggle(t *testing.T) {
	st := setupTestApp(t)
	ctx := context.Background()
	conv, _ := st.GetOrCreateConversation(ctx, "acct-1", "facebook", "fan-1", "Fan")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/conversations/ai",
		strings.NewReader(`{"conversation_id": "`+conv.ID+`", "enabled": false, "reason": "operator takeover"}`))
	handleConversationAI(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	after, _ := st.GetConversation(ctx, conv.ID)
	if after.AIEnabled {
		t.Error("ai_enabled still true after toggle off")
	}

	// The flip leaves a system message in the thread.
	msgs, _ := st.ListMessages(ctx, conv.ID)
	if len(msgs) != 1 || msgs[0].SenderType != "system" {
		t.Fatalf("no system message logged on AI flip; messages = %+v", msgs)
	}
	if msgs[0].Content != "AI disabled: operator takeover" {
		t.Errorf("flip message content = %q", msgs[0].Content)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/conversations/ai",
		strings.NewReader(`{"conversation_id": "missing", "enabled": true}`))
	handleConversationAI(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for unknown conversation = %d, want 404", rec.Code)
	}
}

func TestDashboardAggregates(t *testing.T) {
	st := setupTestApp(t)
	registry.Register(&okAdapter{platform: "facebook"})
	ctx := context.Background()

	conv, _ := st.GetOrCreateConversation(ctx, "acct-1", "facebook", "fan-1", "Fan")
	st.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID, SenderType: "fan", Content: "hi", Status: "sent",
	})
	st.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID, SenderType: "ai", Content: "hello!", Status: "sent",
	})
	st.CreateIncident(ctx, &store.Incident{AccountID: "acct-1", Severity: "low", Title: "x"})

	rec := httptest.NewRecorder()
	handleDashboard(rec, httptest.NewRequest("GET", "/api/dashboard?account_id=acct-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	checks := map[string]float64{
		"conversations":  1,
		"messages":       2,
		"replies_sent":   1,
		"open_incidents": 1,
	}
	for field, want := range checks {
		if got, _ := data[field].(float64); got != want {
			t.Errorf("%s = %v, want %v", field, data[field], want)
		}
	}
	if data["active_responder"] != false {
		t.Errorf("active_responder = %v, want false", data["active_responder"])
	}
}
