package responder

import (
	"context"
	"fmt"
	"log"

	"engage-router/adapter"
	"engage-router/classifier"
	"engage-router/store"
)

// Scanner fetches a post's comments, classifies them in one batch and
// auto-DMs commenters that show purchase intent.
type Scanner struct {
	store      store.Store
	registry   *adapter.Registry
	classifier *classifier.Classifier
	dispatcher *Dispatcher
}

func NewScanner(st store.Store, registry *adapter.Registry, cl *classifier.Classifier, d *Dispatcher) *Scanner {
	return &Scanner{store: st, registry: registry, classifier: cl, dispatcher: d}
}

// ScanReport summarizes one scan pass.
type ScanReport struct {
	PostID          string                      `json:"post_id"`
	Scanned         int                         `json:"scanned"`
	DMsSent         int                         `json:"dms_sent"`
	Classifications []classifier.Classification `json:"classifications"`
}

// ScanPost runs the comment pipeline for one post. Already-answered
// comments are skipped by the dispatcher's dedup mark, so scanning the same
// post repeatedly sends at most one DM per comment.
func (s *Scanner) ScanPost(ctx context.Context, accountID, platform, postID string) (*ScanReport, error) {
	a, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	result, err := a.Do(ctx, adapter.Request{
		Action:    adapter.ActionGetComments,
		AccountID: accountID,
		Params:    map[string]string{"post_id": postID, "media_id": postID},
	})
	if err != nil {
		return nil, err
	}

	comments, authors := parseComments(result)
	if len(comments) == 0 {
		return &ScanReport{PostID: postID, Classifications: []classifier.Classification{}}, nil
	}

	classifications, err := s.classifier.ClassifyComments(ctx, comments)
	if err != nil {
		return nil, err
	}

	report := &ScanReport{
		PostID:          postID,
		Scanned:         len(comments),
		Classifications: classifications,
	}

	for _, c := range classifications {
		if c.Signal != classifier.SignalBuying {
			continue
		}
		author := authors[c.ID]
		if author.id == "" {
			log.Printf("⚠️ Buying comment %s has no author id, cannot DM", c.ID)
			continue
		}

		text := c.AIReply
		if text == "" {
			text = s.defaultBuyingReply(ctx, accountID)
		}

		sent, err := s.dispatcher.AutoDM(ctx, accountID, platform, c.ID, author.id, author.name, text)
		if err != nil {
			log.Printf("❌ Auto-DM failed for comment %s: %v", c.ID, err)
			continue
		}
		if sent {
			report.DMsSent++
		}
	}

	log.Printf("🔎 Scanned %d comments on post %s, sent %d DMs", report.Scanned, postID, report.DMsSent)
	return report, nil
}

func (s *Scanner) defaultBuyingReply(ctx context.Context, accountID string) string {
	persona, err := s.store.GetPersona(ctx, accountID)
	if err == nil && persona.RedirectURL != "" {
		return fmt.Sprintf("Hey! Thanks for the interest 💕 You can find everything here: %s", persona.RedirectURL)
	}
	return "Hey! Thanks for the interest, just sent you the details 💕"
}

type commentAuthor struct {
	id   string
	name string
}

// parseComments flattens the Graph-style comments payload
// ({"data":[{"id","message"|"text","from":{"id","name"|"username"}}]})
// into classifier inputs plus an author lookup by comment id.
func parseComments(result *adapter.Result) ([]classifier.Comment, map[string]commentAuthor) {
	comments := []classifier.Comment{}
	authors := map[string]commentAuthor{}

	items, ok := result.Data["data"].([]interface{})
	if !ok {
		return comments, authors
	}

	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		if id == "" {
			continue
		}

		text, _ := entry["message"].(string)
		if text == "" {
			text, _ = entry["text"].(string)
		}

		var author commentAuthor
		if from, ok := entry["from"].(map[string]interface{}); ok {
			author.id, _ = from["id"].(string)
			author.name, _ = from["name"].(string)
			if author.name == "" {
				author.name, _ = from["username"].(string)
			}
		}

		comments = append(comments, classifier.Comment{ID: id, Author: author.name, Text: text})
		authors[id] = author
	}
	return comments, authors
}
