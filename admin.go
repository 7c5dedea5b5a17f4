// admin.go
package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"engage-router/auth"
	"engage-router/store"
)

type loginRequest struct {
	Password string `json:"password"`
}

func handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(config.AdminPassword)) != 1 {
		LogWarn("Admin login failed")
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := auth.GenerateToken(config.JWTSecret, "admin", "admin")
	if err != nil {
		LogError("Error generating admin token: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	LogInfo("🔑 Admin logged in")
	writeSuccess(w, map[string]string{"token": token})
}

type incidentRequest struct {
	AccountID   string `json:"account_id"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func handleIncidents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		createIncident(w, r)
	case http.MethodGet:
		listIncidents(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// createIncident writes in two phases: the row lands as "pending" first,
// then flips to "recorded" once the write is confirmed. A crash between the
// two leaves an explicit pending row instead of a silently half-done one.
func createIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "account_id and title are required")
		return
	}
	if req.Severity == "" {
		req.Severity = "info"
	}

	inc := &store.Incident{
		AccountID:   req.AccountID,
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		Status:      "pending",
	}
	if err := dataStore.CreateIncident(r.Context(), inc); err != nil {
		LogError("Error creating incident: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := dataStore.RecordIncident(r.Context(), inc.ID); err != nil {
		LogError("Error recording incident %s: %v", inc.ID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	inc.Status = "recorded"

	auditAction(r, req.AccountID, "incident_created", inc.Title)
	LogInfo("🚨 Incident recorded: %s (%s)", inc.Title, inc.Severity)
	writeSuccess(w, inc)
}

func listIncidents(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	incidents, err := dataStore.ListIncidents(r.Context(), accountID)
	if err != nil {
		LogError("Error listing incidents for %s: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeSuccess(w, incidents)
}

type ackRequest struct {
	IncidentID string `json:"incident_id"`
	AccountID  string `json:"account_id"`
}

func handleIncidentAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IncidentID == "" {
		writeError(w, http.StatusBadRequest, "incident_id is required")
		return
	}

	actor := "admin"
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		actor = claims.Subject
	}

	if err := dataStore.AckIncident(r.Context(), req.IncidentID, actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Incident not found")
			return
		}
		LogError("Error acknowledging incident %s: %v", req.IncidentID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	auditAction(r, req.AccountID, "incident_acknowledged", req.IncidentID)
	writeSuccess(w, map[string]string{"status": "acknowledged"})
}

func handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := dataStore.ListAudit(r.Context(), accountID, limit)
	if err != nil {
		LogError("Error listing audit entries for %s: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeSuccess(w, entries)
}

// auditAction records a mutation in the audit log. Failures are logged, not
// surfaced: the primary operation already succeeded.
func auditAction(r *http.Request, accountID, action, detail string) {
	actor := "admin"
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		actor = claims.Subject
	}

	entry := &store.AuditEntry{
		AccountID: accountID,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
	}
	if err := dataStore.AppendAudit(r.Context(), entry); err != nil {
		LogError("Error appending audit entry (%s): %v", action, err)
	}
}
