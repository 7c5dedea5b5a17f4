package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Engagement signals a comment can carry. "unclassified" is the explicit
// fallback when the model's answer cannot be trusted for an item.
const (
	SignalBuying       = "buying"
	SignalQuestion     = "question"
	SignalNeutral      = "neutral"
	SignalNegative     = "negative"
	SignalUnclassified = "unclassified"
)

// Comment is one inbound post comment to classify.
type Comment struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

// Classification is the per-comment result. The slice returned by
// ClassifyComments always has exactly one entry per input comment, in input
// order.
type Classification struct {
	ID      string `json:"id"`
	Signal  string `json:"signal"`
	AIReply string `json:"aiReply"`
}

var validSignals = map[string]bool{
	SignalBuying:   true,
	SignalQuestion: true,
	SignalNeutral:  true,
	SignalNegative: true,
}

// ClassifyComments classifies a batch of comments in one completion call.
// The model must echo each comment's id; matching is strictly by id, never
// by position. Output that cannot be parsed degrades every item to
// unclassified rather than misattributing replies. Gateway failures (rate
// limit, quota) are returned as errors so callers do not treat a throttled
// batch as neutral.
func (c *Classifier) ClassifyComments(ctx context.Context, comments []Comment) ([]Classification, error) {
	if len(comments) == 0 {
		return []Classification{}, nil
	}

	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return nil, fmt.Errorf("error encoding comments: %v", err)
	}

	prompt := fmt.Sprintf(`You classify social media comments on a creator's posts.

For EVERY comment below, decide its engagement signal:
- "buying"   - shows purchase intent (asks about price, links, subscriptions, how to buy)
- "question" - asks something without purchase intent
- "negative" - hostile, spam or troll content
- "neutral"  - everything else

For "buying" and "question" comments also write a short friendly reply (one sentence).

Respond with ONLY a JSON array. Each element MUST echo the comment's exact "id":
[{"id": "<comment id>", "signal": "<signal>", "aiReply": "<reply or empty string>"}]

Comments:
%s`, string(commentsJSON))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens * 4,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, mapGatewayError(err)
	}
	if len(resp.Choices) == 0 {
		return unclassifiedAll(comments), nil
	}

	return decodeClassifications(resp.Choices[0].Message.Content, comments), nil
}

// decodeClassifications extracts the JSON array from the completion text and
// matches items to inputs by id. Every input comment gets exactly one result:
// parse failure, a missing id or an invalid signal all yield unclassified for
// the affected items, and ids the model invented are discarded.
func decodeClassifications(raw string, comments []Comment) []Classification {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		log.Printf("⚠️ Classifier output contained no JSON array, degrading %d comments to unclassified", len(comments))
		return unclassifiedAll(comments)
	}

	var parsed []Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		log.Printf("⚠️ Classifier output failed to parse (%v), degrading %d comments to unclassified", err, len(comments))
		return unclassifiedAll(comments)
	}

	byID := make(map[string]Classification, len(parsed))
	for _, item := range parsed {
		if item.ID == "" {
			continue
		}
		if _, dup := byID[item.ID]; dup {
			continue
		}
		byID[item.ID] = item
	}

	result := make([]Classification, 0, len(comments))
	for _, comment := range comments {
		item, ok := byID[comment.ID]
		if !ok || !validSignals[item.Signal] {
			result = append(result, Classification{ID: comment.ID, Signal: SignalUnclassified})
			continue
		}
		result = append(result, Classification{
			ID:      comment.ID,
			Signal:  item.Signal,
			AIReply: strings.TrimSpace(item.AIReply),
		})
	}
	return result
}

func unclassifiedAll(comments []Comment) []Classification {
	result := make([]Classification, 0, len(comments))
	for _, comment := range comments {
		result = append(result, Classification{ID: comment.ID, Signal: SignalUnclassified})
	}
	return result
}
