package responder

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"engage-router/classifier"
	"engage-router/metrics"
	"engage-router/store"
)

// DefaultInterval matches the 30-second cadence the dashboard UI expects.
const DefaultInterval = 30 * time.Second

// Poller is the durable controller behind the auto-respond toggle. One
// goroutine runs per active account; the toggle state and a per-conversation
// cursor (last answered fan message id) are persisted, so a process restart
// resumes where it left off instead of re-scanning history.
//
// Stopping an account ceases scheduling but never cancels the in-flight
// tick; the tick finishes, then the loop exits.
type Poller struct {
	store      store.Store
	classifier *classifier.Classifier
	dispatcher *Dispatcher
	interval   time.Duration

	mu     sync.Mutex
	active map[string]*runner // accountID -> runner
	wg     sync.WaitGroup
}

type runner struct {
	platform string
	stop     chan struct{}
}

func NewPoller(st store.Store, cl *classifier.Classifier, d *Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		store:      st,
		classifier: cl,
		dispatcher: d,
		interval:   interval,
		active:     make(map[string]*runner),
	}
}

// Start activates polling for an account. Starting an already-active
// account is a no-op.
func (p *Poller) Start(ctx context.Context, accountID, platform string) error {
	p.mu.Lock()
	if _, running := p.active[accountID]; running {
		p.mu.Unlock()
		return nil
	}
	r := &runner{platform: platform, stop: make(chan struct{})}
	p.active[accountID] = r
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.store.SetResponderState(ctx, accountID, platform, true); err != nil {
		log.Printf("⚠️ Could not persist responder state for %s: %v", accountID, err)
	}

	log.Printf("▶️ Auto-responder started for account %s (%s, every %v)", accountID, platform, p.interval)
	go p.run(accountID, platform, r.stop)
	return nil
}

// Stop deactivates polling. The in-flight tick, if any, runs to completion.
func (p *Poller) Stop(ctx context.Context, accountID string) {
	p.mu.Lock()
	r, running := p.active[accountID]
	if running {
		delete(p.active, accountID)
		close(r.stop)
	}
	p.mu.Unlock()

	if !running {
		return
	}
	if err := p.store.SetResponderState(ctx, accountID, r.platform, false); err != nil {
		log.Printf("⚠️ Could not persist responder state for %s: %v", accountID, err)
	}
	log.Printf("⏸️ Auto-responder stopped for account %s", accountID)
}

// Active reports whether the account is currently polling.
func (p *Poller) Active(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, running := p.active[accountID]
	return running
}

// Resume restarts pollers for every account whose persisted toggle is
// active. Called once at boot.
func (p *Poller) Resume(ctx context.Context) error {
	states, err := p.store.ListActiveResponders(ctx)
	if err != nil {
		return err
	}
	for _, state := range states {
		if err := p.Start(ctx, state.AccountID, state.Platform); err != nil {
			log.Printf("⚠️ Could not resume responder for %s: %v", state.AccountID, err)
		}
	}
	if len(states) > 0 {
		log.Printf("🔄 Resumed %d auto-responders from persisted state", len(states))
	}
	return nil
}

// Shutdown stops all pollers and waits for in-flight ticks.
func (p *Poller) Shutdown(ctx context.Context) {
	p.mu.Lock()
	for accountID, r := range p.active {
		close(r.stop)
		delete(p.active, accountID)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(accountID, platform string, stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First tick runs immediately so toggling on feels responsive.
	p.tick(context.Background(), accountID, platform)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick(context.Background(), accountID, platform)
		}
	}
}

// tick answers the newest unanswered fan message in each active,
// AI-enabled conversation. The cursor only advances after a reply was
// dispatched, so a rate-limited tick retries the same message next time.
func (p *Poller) tick(ctx context.Context, accountID, platform string) {
	metrics.Registry("engage_router").PollTicks.Inc()

	convs, err := p.store.ListConversations(ctx, accountID)
	if err != nil {
		log.Printf("❌ Poll tick failed to list conversations for %s: %v", accountID, err)
		return
	}

	for _, conv := range convs {
		if conv.Status != "active" || !conv.AIEnabled || conv.Platform != platform {
			continue
		}
		if err := p.processConversation(ctx, accountID, conv); err != nil {
			log.Printf("❌ Poll tick failed for conversation %s: %v", conv.ID, err)
		}
	}
}

func (p *Poller) processConversation(ctx context.Context, accountID string, conv store.Conversation) error {
	msgs, err := p.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return err
	}

	cursor, err := p.store.GetCursor(ctx, conv.ID)
	if err != nil {
		return err
	}

	pending := pendingFanMessage(msgs, cursor)
	if pending == nil {
		return nil
	}

	persona, err := p.store.GetPersona(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// The redirect link is offered once per conversation. Once sent, the
	// prompt stops mentioning it.
	if persona != nil && conv.RedirectSent {
		trimmed := *persona
		trimmed.RedirectURL = ""
		persona = &trimmed
	}

	started := time.Now()
	reply, err := p.classifier.Reply(ctx, pending.Content, pending.SenderName, recentTurns(msgs, pending.ID), persona)
	m := metrics.Registry("engage_router")
	if err != nil {
		// Rate limits and quota errors leave the cursor alone: the same
		// message is retried next tick and no "sent" row is written.
		m.ClassifierRequests.WithLabelValues("error").Inc()
		m.ClassifierLatency.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return err
	}
	m.ClassifierRequests.WithLabelValues("ok").Inc()
	m.ClassifierLatency.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	if _, err := p.dispatcher.SendReply(ctx, conv.ID, reply, "ai"); err != nil {
		return err
	}

	if persona != nil && persona.RedirectURL != "" && strings.Contains(reply, persona.RedirectURL) {
		if err := p.store.MarkRedirectSent(ctx, conv.ID); err != nil {
			log.Printf("⚠️ Could not mark redirect sent for conversation %s: %v", conv.ID, err)
		}
	}

	return p.store.SetCursor(ctx, conv.ID, pending.ID)
}

// pendingFanMessage picks the newest fan message that arrived after the
// cursor. With no cursor yet, only a conversation whose latest message is
// from a fan is answered, so enabling the responder never replies over an
// operator or re-answers history.
func pendingFanMessage(msgs []store.Message, cursor string) *store.Message {
	if len(msgs) == 0 {
		return nil
	}

	last := msgs[len(msgs)-1]
	if last.SenderType != "fan" {
		return nil
	}
	if cursor != "" && last.ID == cursor {
		return nil
	}
	return &last
}

// recentTurns builds the bounded context window of turns preceding the
// message being answered.
func recentTurns(msgs []store.Message, beforeID string) []classifier.Turn {
	turns := []classifier.Turn{}
	for _, msg := range msgs {
		if msg.ID == beforeID {
			break
		}
		if msg.SenderType == "system" {
			continue
		}
		turns = append(turns, classifier.Turn{Role: msg.SenderType, Content: msg.Content})
	}
	return turns
}
