package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"engage-router/store"
)

const instagramGraphURL = "https://graph.facebook.com/v19.0"

// Instagram handles Instagram Direct through the Graph API. Sends go through
// me/messages with messaging_type RESPONSE; long-lived tokens refresh via
// ig_refresh_token instead of the Facebook exchange flow.
type Instagram struct {
	store  store.Store
	client *http.Client

	BaseURL string
}

func NewInstagram(st store.Store) *Instagram {
	return &Instagram{
		store:   st,
		client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: instagramGraphURL,
	}
}

func (ig *Instagram) Platform() string { return "instagram" }

func (ig *Instagram) Do(ctx context.Context, req Request) (*Result, error) {
	conn, err := ig.store.GetConnection(ctx, req.AccountID, ig.Platform())
	if errors.Is(err, store.ErrNotFound) {
		return nil, notConnected(req.AccountID, ig.Platform())
	}
	if err != nil {
		return nil, fmt.Errorf("error resolving connection: %v", err)
	}
	if !conn.IsConnected || conn.AccessToken == "" {
		return nil, notConnected(req.AccountID, ig.Platform())
	}

	switch req.Action {
	case ActionSendMessage:
		return ig.sendMessage(ctx, conn, req.Params)
	case ActionGetMessages:
		return ig.getMessages(ctx, conn)
	case ActionGetComments:
		return ig.getComments(ctx, conn, req.Params)
	case ActionReplyComment:
		return ig.replyComment(ctx, conn, req.Params)
	case ActionGetProfile:
		return ig.getProfile(ctx, conn, req.Params)
	case ActionRefreshToken:
		return ig.refreshToken(ctx, conn)
	default:
		return nil, malformedRequest(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (ig *Instagram) sendMessage(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "recipient_id", "text"); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"recipient":      map[string]string{"id": params["recipient_id"]},
		"message":        map[string]string{"text": params["text"]},
		"messaging_type": "RESPONSE",
	}
	sendURL := fmt.Sprintf("%s/me/messages?access_token=%s",
		ig.BaseURL, url.QueryEscape(conn.AccessToken))

	return ig.post(ctx, sendURL, payload)
}

func (ig *Instagram) getMessages(ctx context.Context, conn *store.Connection) (*Result, error) {
	getURL := fmt.Sprintf("%s/me/conversations?platform=instagram&fields=participants,messages{message,from,created_time}&access_token=%s",
		ig.BaseURL, url.QueryEscape(conn.AccessToken))
	return ig.get(ctx, getURL)
}

func (ig *Instagram) getComments(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "media_id"); err != nil {
		return nil, err
	}
	getURL := fmt.Sprintf("%s/%s/comments?fields=from,text,timestamp&access_token=%s",
		ig.BaseURL, url.PathEscape(params["media_id"]), url.QueryEscape(conn.AccessToken))
	return ig.get(ctx, getURL)
}

func (ig *Instagram) replyComment(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "comment_id", "text"); err != nil {
		return nil, err
	}
	replyURL := fmt.Sprintf("%s/%s/replies?access_token=%s",
		ig.BaseURL, url.PathEscape(params["comment_id"]), url.QueryEscape(conn.AccessToken))
	return ig.post(ctx, replyURL, map[string]interface{}{"message": params["text"]})
}

func (ig *Instagram) getProfile(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "user_id"); err != nil {
		return nil, err
	}
	getURL := fmt.Sprintf("%s/%s?fields=username&access_token=%s",
		ig.BaseURL, url.PathEscape(params["user_id"]), url.QueryEscape(conn.AccessToken))
	return ig.get(ctx, getURL)
}

func (ig *Instagram) refreshToken(ctx context.Context, conn *store.Connection) (*Result, error) {
	refreshURL := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		ig.BaseURL, url.QueryEscape(conn.AccessToken))

	result, err := ig.get(ctx, refreshURL)
	if err != nil {
		return nil, err
	}

	newToken, _ := result.Data["access_token"].(string)
	if newToken == "" {
		return nil, remoteAPIError(http.StatusOK, "token refresh response missing access_token")
	}
	expiresIn, _ := result.Data["expires_in"].(float64)
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)

	if err := ig.store.UpdateConnectionTokens(ctx, conn.AccountID, ig.Platform(), newToken, "", expiresAt); err != nil {
		return nil, fmt.Errorf("error storing refreshed token: %v", err)
	}

	return &Result{Data: map[string]interface{}{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}}, nil
}

func (ig *Instagram) get(ctx context.Context, requestURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	return ig.doRequest(req)
}

func (ig *Instagram) post(ctx context.Context, requestURL string, payload interface{}) (*Result, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error creating payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return ig.doRequest(req)
}

func (ig *Instagram) doRequest(req *http.Request) (*Result, error) {
	resp, err := ig.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending to instagram: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading instagram response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteAPIError(resp.StatusCode, string(body))
	}

	data := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("error parsing instagram response: %v", err)
		}
	}
	return &Result{Data: data}, nil
}
