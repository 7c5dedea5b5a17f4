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

const facebookGraphURL = "https://graph.facebook.com/v19.0"

// Facebook talks to the Meta Graph API for Facebook pages. The access token
// travels as a query parameter, which is that platform's convention.
type Facebook struct {
	store     store.Store
	client    *http.Client
	appID     string
	appSecret string

	// BaseURL is overridable so tests can point the adapter at a fake
	// Graph server.
	BaseURL string
}

func NewFacebook(st store.Store, appID, appSecret string) *Facebook {
	return &Facebook{
		store:     st,
		client:    &http.Client{Timeout: 10 * time.Second},
		appID:     appID,
		appSecret: appSecret,
		BaseURL:   facebookGraphURL,
	}
}

func (f *Facebook) Platform() string { return "facebook" }

func (f *Facebook) Do(ctx context.Context, req Request) (*Result, error) {
	conn, err := f.store.GetConnection(ctx, req.AccountID, f.Platform())
	if errors.Is(err, store.ErrNotFound) {
		return nil, notConnected(req.AccountID, f.Platform())
	}
	if err != nil {
		return nil, fmt.Errorf("error resolving connection: %v", err)
	}
	if !conn.IsConnected || conn.AccessToken == "" {
		return nil, notConnected(req.AccountID, f.Platform())
	}

	switch req.Action {
	case ActionSendMessage:
		return f.sendMessage(ctx, conn, req.Params)
	case ActionGetMessages:
		return f.getMessages(ctx, conn)
	case ActionGetComments:
		return f.getComments(ctx, conn, req.Params)
	case ActionReplyComment:
		return f.replyComment(ctx, conn, req.Params)
	case ActionGetProfile:
		return f.getProfile(ctx, conn, req.Params)
	case ActionRefreshToken:
		return f.refreshToken(ctx, conn)
	default:
		return nil, malformedRequest(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (f *Facebook) sendMessage(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "recipient_id", "text"); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"recipient": map[string]string{"id": params["recipient_id"]},
		"message":   map[string]string{"text": params["text"]},
	}
	sendURL := fmt.Sprintf("%s/%s/messages?access_token=%s",
		f.BaseURL, conn.PlatformUserID, url.QueryEscape(conn.AccessToken))

	return f.post(ctx, sendURL, payload)
}

func (f *Facebook) getMessages(ctx context.Context, conn *store.Connection) (*Result, error) {
	getURL := fmt.Sprintf("%s/%s/conversations?fields=participants,messages{message,from,created_time}&access_token=%s",
		f.BaseURL, conn.PlatformUserID, url.QueryEscape(conn.AccessToken))
	return f.get(ctx, getURL)
}

func (f *Facebook) getComments(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "post_id"); err != nil {
		return nil, err
	}
	getURL := fmt.Sprintf("%s/%s/comments?fields=from,message,created_time&access_token=%s",
		f.BaseURL, url.PathEscape(params["post_id"]), url.QueryEscape(conn.AccessToken))
	return f.get(ctx, getURL)
}

func (f *Facebook) replyComment(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "comment_id", "text"); err != nil {
		return nil, err
	}
	replyURL := fmt.Sprintf("%s/%s/comments?access_token=%s",
		f.BaseURL, url.PathEscape(params["comment_id"]), url.QueryEscape(conn.AccessToken))
	return f.post(ctx, replyURL, map[string]interface{}{"message": params["text"]})
}

func (f *Facebook) getProfile(ctx context.Context, conn *store.Connection, params map[string]string) (*Result, error) {
	if err := requireParams(params, "user_id"); err != nil {
		return nil, err
	}
	getURL := fmt.Sprintf("%s/%s?fields=name&access_token=%s",
		f.BaseURL, url.PathEscape(params["user_id"]), url.QueryEscape(conn.AccessToken))
	return f.get(ctx, getURL)
}

// refreshToken exchanges the current token for a fresh long-lived one and
// overwrites the stored connection. Callers are responsible for invoking it
// before expiry; there is no transparent refresh-and-retry wrapper.
func (f *Facebook) refreshToken(ctx context.Context, conn *store.Connection) (*Result, error) {
	refreshURL := fmt.Sprintf("%s/oauth/access_token?grant_type=fb_exchange_token&client_id=%s&client_secret=%s&fb_exchange_token=%s",
		f.BaseURL, url.QueryEscape(f.appID), url.QueryEscape(f.appSecret), url.QueryEscape(conn.AccessToken))

	result, err := f.get(ctx, refreshURL)
	if err != nil {
		return nil, err
	}

	newToken, _ := result.Data["access_token"].(string)
	if newToken == "" {
		return nil, remoteAPIError(http.StatusOK, "token refresh response missing access_token")
	}
	expiresIn, _ := result.Data["expires_in"].(float64)
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)

	if err := f.store.UpdateConnectionTokens(ctx, conn.AccountID, f.Platform(), newToken, "", expiresAt); err != nil {
		return nil, fmt.Errorf("error storing refreshed token: %v", err)
	}

	return &Result{Data: map[string]interface{}{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}}, nil
}

func (f *Facebook) get(ctx context.Context, requestURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	return f.doRequest(req)
}

func (f *Facebook) post(ctx context.Context, requestURL string, payload interface{}) (*Result, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error creating payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return f.doRequest(req)
}

func (f *Facebook) doRequest(req *http.Request) (*Result, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending to facebook: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading facebook response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteAPIError(resp.StatusCode, string(body))
	}

	data := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("error parsing facebook response: %v", err)
		}
	}
	return &Result{Data: data}, nil
}
