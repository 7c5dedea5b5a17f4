// Package adapter translates generic {action, account_id, params} requests
// into platform-specific authenticated REST calls. One adapter exists per
// social platform; a registry maps the platform enum to its adapter so
// callers never switch on platform names themselves.
package adapter

import (
	"context"
	"fmt"
	"sync"
)

// Actions understood by every adapter. Individual platforms may reject an
// action they cannot serve with a MalformedRequest error.
const (
	ActionSendMessage  = "send_message"
	ActionGetMessages  = "get_messages"
	ActionGetComments  = "get_comments"
	ActionReplyComment = "reply_comment"
	ActionGetProfile   = "get_profile"
	ActionRefreshToken = "refresh_token"
)

// Request is the internal envelope an adapter receives.
type Request struct {
	Action    string            `json:"action"`
	AccountID string            `json:"account_id"`
	Params    map[string]string `json:"params"`
}

// Result carries the platform's decoded response payload.
type Result struct {
	Data map[string]interface{} `json:"data"`
}

// Adapter is the per-platform translation layer. Implementations must
// resolve the stored connection for (account_id, platform), refuse to make
// any network call without a usable credential, and surface upstream errors
// verbatim as AdapterError values.
type Adapter interface {
	Platform() string
	Do(ctx context.Context, req Request) (*Result, error)
}

// Registry maps platform enum -> adapter instance.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[platform]
	if !ok {
		return nil, malformedRequest(fmt.Sprintf("unsupported platform: %s", platform))
	}
	return a, nil
}

// Platforms returns the registered platform names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

func requireParams(params map[string]string, names ...string) error {
	for _, name := range names {
		if params[name] == "" {
			return malformedRequest(fmt.Sprintf("missing required param: %s", name))
		}
	}
	return nil
}
