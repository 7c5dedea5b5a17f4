// Package classifier generates persona-biased replies and classifies
// engagement signals through an OpenAI-compatible chat-completion gateway.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"engage-router/store"
)

var (
	// ErrRateLimited maps the gateway's HTTP 429.
	ErrRateLimited = errors.New("ai gateway rate limited, try again shortly")

	// ErrQuotaExhausted maps the gateway's HTTP 402.
	ErrQuotaExhausted = errors.New("ai gateway quota exhausted")
)

// maxContextTurns bounds the window of prior turns included in a prompt.
const maxContextTurns = 10

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	Role    string // "fan", "ai" or "manual"
	Content string
}

type Classifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// New builds a classifier against the given gateway. baseURL is empty in
// production (the library default) and points at a fake server in tests.
func New(apiKey, baseURL, model string) *Classifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Classifier{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   300,
		temperature: 0.7,
	}
}

// Reply generates a single DM reply for a fan message. The completion's top
// choice is returned verbatim; an empty completion is an error so we never
// dispatch an empty DM.
func (c *Classifier) Reply(ctx context.Context, messageText, senderName string, recent []Turn, persona *store.Persona) (string, error) {
	if strings.TrimSpace(messageText) == "" {
		return "", fmt.Errorf("empty message text")
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: buildPersonaPrompt(persona),
		},
	}

	if len(recent) > maxContextTurns {
		recent = recent[len(recent)-maxContextTurns:]
	}
	for _, turn := range recent {
		role := openai.ChatMessageRoleUser
		if turn.Role == "ai" || turn.Role == "manual" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("%s: %s", senderName, messageText),
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", mapGatewayError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in gateway response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty completion from gateway")
	}
	return reply, nil
}

func buildPersonaPrompt(persona *store.Persona) string {
	var b strings.Builder
	b.WriteString("You are replying to direct messages on behalf of a content creator. ")
	b.WriteString("Keep replies short (1-3 sentences), warm and natural. ")
	b.WriteString("Never reveal that you are an AI.\n")

	if persona != nil {
		if persona.Tone != "" {
			fmt.Fprintf(&b, "Tone: %s.\n", persona.Tone)
		}
		if persona.Vocabulary != "" {
			fmt.Fprintf(&b, "Vocabulary style: %s.\n", persona.Vocabulary)
		}
		if persona.EmotionalRange != "" {
			fmt.Fprintf(&b, "Emotional range: %s.\n", persona.EmotionalRange)
		}
		if persona.Boundaries != "" {
			fmt.Fprintf(&b, "Hard boundaries, never cross these: %s.\n", persona.Boundaries)
		}
		if persona.RedirectURL != "" {
			fmt.Fprintf(&b, "If the fan asks about prices, content or subscriptions, point them to %s exactly once per conversation.\n", persona.RedirectURL)
		}
	}
	return b.String()
}

// mapGatewayError converts transport errors into the user-facing taxonomy:
// 429 and 402 get distinct sentinel errors, everything else is generic.
func mapGatewayError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimited
		case http.StatusPaymentRequired:
			return ErrQuotaExhausted
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimited
		case http.StatusPaymentRequired:
			return ErrQuotaExhausted
		}
	}
	return fmt.Errorf("ai gateway error: %v", err)
}
