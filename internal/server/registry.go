package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/safespace/narratives/internal/convo"
	"github.com/safespace/narratives/internal/history"
)

// ConversationState tracks a single live conversation: its engine, the
// event fan-out, and the pump goroutine bridging the two.
type ConversationState struct {
	ID          string
	Engine      *convo.Engine
	Broadcaster *Broadcaster
	StartedAt   time.Time

	mu       sync.Mutex
	archived bool
}

// Pump forwards engine events to the broadcaster until the engine
// closes, archiving the conversation each time an evaluation lands.
// Runs on its own goroutine for the life of the conversation.
func (cs *ConversationState) Pump(store *history.Store, logger *slog.Logger) {
	defer cs.Broadcaster.Close()
	for ev := range cs.Engine.Events() {
		cs.Broadcaster.Send(ev)
		if ev.Kind == convo.EventEvaluationReady && store != nil {
			cs.archive(store, logger)
		}
	}
}

func (cs *ConversationState) archive(store *history.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Save(ctx, history.FromEngine(cs.Engine)); err != nil {
		logger.Warn("archive conversation failed", "conversation", cs.ID, "err", err)
		return
	}
	cs.mu.Lock()
	cs.archived = true
	cs.mu.Unlock()
}

// Status summarizes the conversation for the HTTP API.
func (cs *ConversationState) Status() ConversationStatus {
	scn := cs.Engine.Scenario()
	return ConversationStatus{
		ID:         cs.ID,
		ScenarioID: scn.ID,
		NPCName:    scn.NPCName,
		Goal:       scn.Goal,
		State:      string(cs.Engine.State()),
		Streaming:  cs.Engine.Streaming(),
		Loading:    cs.Engine.Loading(),
		Ended:      cs.Engine.Ended(),
		StartedAt:  cs.StartedAt,
		Turns:      cs.Engine.Turns(),
		Signals:    cs.Engine.Signals(),
		Evaluation: cs.Engine.Evaluation(),
	}
}

// ConversationRegistry tracks every conversation owned by this server.
type ConversationRegistry struct {
	mu            sync.RWMutex
	conversations map[string]*ConversationState
}

func NewConversationRegistry() *ConversationRegistry {
	return &ConversationRegistry{conversations: make(map[string]*ConversationState)}
}

func (r *ConversationRegistry) Register(cs *ConversationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conversations[cs.ID]; exists {
		return fmt.Errorf("conversation %s already exists", cs.ID)
	}
	r.conversations[cs.ID] = cs
	return nil
}

func (r *ConversationRegistry) Get(id string) (*ConversationState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.conversations[id]
	return cs, ok
}

func (r *ConversationRegistry) List() []*ConversationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConversationState, 0, len(r.conversations))
	for _, cs := range r.conversations {
		out = append(out, cs)
	}
	return out
}

// CloseAll shuts every engine down, releasing their event channels.
func (r *ConversationRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cs := range r.conversations {
		cs.Engine.Close()
	}
}
