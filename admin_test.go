// admin_test.go
package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"engage-router/auth"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return resp
}

func TestAdminLogin(t *testing.T) {
	setupTestApp(t)

	t.Run("wrong password", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/admin/login", strings.NewReader(`{"password": "nope"}`))
		handleAdminLogin(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if resp := decodeEnvelope(t, rec); resp.Success {
			t.Error("envelope success = true for a failed login")
		}
	})

	t.Run("right password yields a working token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/admin/login", strings.NewReader(`{"password": "test-admin-password"}`))
		handleAdminLogin(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		resp := decodeEnvelope(t, rec)
		token := resp.Data.(map[string]interface{})["token"].(string)

		claims, err := auth.ParseToken(config.JWTSecret, token)
		if err != nil {
			t.Fatalf("issued token does not parse: %v", err)
		}
		if claims.Role != "admin" {
			t.Errorf("role = %q, want admin", claims.Role)
		}
	})
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(config.JWTSecret, "admin", "admin")
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	return req
}

func TestIncidentEndpointsRequireAuth(t *testing.T) {
	setupTestApp(t)
	handler := auth.Middleware(config.JWTSecret, handleIncidents)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/admin/incidents?account_id=acct-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}
}

func TestIncidentCreateAckAndAudit(t *testing.T) {
	setupTestApp(t)
	incidents := auth.Middleware(config.JWTSecret, handleIncidents)
	ack := auth.Middleware(config.JWTSecret, handleIncidentAck)
	audit := auth.Middleware(config.JWTSecret, handleAudit)

	// Create: the returned incident must already be past the pending phase.
	rec := httptest.NewRecorder()
	incidents(rec, authedRequest(t, "POST", "/api/admin/incidents",
		`{"account_id": "acct-1", "severity": "high", "title": "token expired"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeEnvelope(t, rec).Data.(map[string]interface{})
	if created["status"] != "recorded" {
		t.Errorf("created incident status = %v, want recorded", created["status"])
	}
	incidentID := created["id"].(string)

	// List shows it.
	rec = httptest.NewRecorder()
	incidents(rec, authedRequest(t, "GET", "/api/admin/incidents?account_id=acct-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	listed := decodeEnvelope(t, rec).Data.([]interface{})
	if len(listed) != 1 {
		t.Fatalf("listed %d incidents, want 1", len(listed))
	}

	// Ack.
	rec = httptest.NewRecorder()
	ack(rec, authedRequest(t, "POST", "/api/admin/incidents/ack",
		`{"incident_id": "`+incidentID+`", "account_id": "acct-1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d: %s", rec.Code, rec.Body.String())
	}

	// Both mutations left audit entries, newest first.
	rec = httptest.NewRecorder()
	audit(rec, authedRequest(t, "GET", "/api/admin/audit?account_id=acct-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	entries := decodeEnvelope(t, rec).Data.([]interface{})
	if len(entries) != 2 {
		t.Fatalf("audit has %d entries, want 2", len(entries))
	}
	newest := entries[0].(map[string]interface{})
	if newest["action"] != "incident_acknowledged" {
		t.Errorf("newest audit action = %v, want incident_acknowledged", newest["action"])
	}
}

func TestAckUnknownIncident(t *testing.T) {
	setupTestApp(t)
	ack := auth.Middleware(config.JWTSecret, handleIncidentAck)

	rec := httptest.NewRecorder()
	ack(rec, authedRequest(t, "POST", "/api/admin/incidents/ack", `{"incident_id": "missing"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
