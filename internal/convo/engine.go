package convo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/safespace/narratives/internal/llm"
	"github.com/safespace/narratives/internal/scenario"
)

type State string

const (
	StateIdle                  State = "IDLE"
	StateAwaitingFirstResponse State = "AWAITING_FIRST_RESPONSE"
	StateReady                 State = "READY"
	StateStreaming             State = "STREAMING"
	StateEnded                 State = "ENDED"
)

type EventKind string

const (
	EventConversationStart EventKind = "CONVERSATION_START"
	EventTurnAppended      EventKind = "TURN_APPENDED"
	EventAssistantDelta    EventKind = "ASSISTANT_DELTA"
	EventAssistantDone     EventKind = "ASSISTANT_DONE"
	EventStreamCancelled   EventKind = "STREAM_CANCELLED"
	EventChatFailed        EventKind = "CHAT_FAILED"
	EventSignalsUpdated    EventKind = "SIGNALS_UPDATED"
	EventSignalGain        EventKind = "SIGNAL_GAIN"
	EventConversationEnded EventKind = "CONVERSATION_ENDED"
	EventEvaluationReady   EventKind = "EVALUATION_READY"
)

// Event is one observable engine occurrence, consumed by presentation
// collaborators (CLI, HTTP/SSE). Delivery is best-effort: slow consumers
// lose events, the engine never blocks on them.
type Event struct {
	Kind           EventKind      `json:"kind"`
	Timestamp      time.Time      `json:"ts"`
	ConversationID string         `json:"conversation_id"`
	Data           map[string]any `json:"data,omitempty"`
}

type Config struct {
	// StreamModel handles in-conversation turns; EvalModel handles the
	// intro and the final evaluation call. The temperatures are pointers
	// because 0 is a valid explicit setting, distinct from unset.
	StreamModel       string
	EvalModel         string
	StreamTemperature *float64
	EvalTemperature   *float64

	// AutoEndUserTurns is the user-turn count that, once exceeded after an
	// assistant response completes, schedules end-of-conversation.
	AutoEndUserTurns int
	AutoEndDelay     time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.StreamModel) == "" {
		c.StreamModel = "openai/gpt-oss-120b"
	}
	if strings.TrimSpace(c.EvalModel) == "" {
		c.EvalModel = "z-ai/glm-4.5-air:free"
	}
	if c.StreamTemperature == nil {
		v := 0.3
		c.StreamTemperature = &v
	}
	if c.EvalTemperature == nil {
		v := 0.7
		c.EvalTemperature = &v
	}
	if c.AutoEndUserTurns <= 0 {
		c.AutoEndUserTurns = 4
	}
	if c.AutoEndDelay <= 0 {
		c.AutoEndDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var (
	ErrNotStarted = errors.New("conversation not started")
	ErrStarted    = errors.New("conversation already started")
	ErrBusy       = errors.New("a response is already streaming")
	ErrEnded      = errors.New("conversation has ended")
	ErrEmptyInput = errors.New("input is empty")
)

const startInstruction = "Start the conversation naturally based on the scenario."

// streamHandle represents one in-flight request: the turn it writes into
// and the cancel func for its transport. Detaching the handle (cancel,
// end) makes late fragments and completion no-ops.
type streamHandle struct {
	turnID string
	cancel context.CancelFunc
}

// Engine is the turn orchestrator: it owns the transcript, sequences
// user/assistant turns through the streaming client, keeps the live
// signals current, and drives the final evaluation.
type Engine struct {
	id        string
	cfg       Config
	client    *llm.Client
	scn       scenario.Scenario
	evaluator *Evaluator
	logger    *slog.Logger

	events chan Event

	mu               sync.Mutex
	state            State
	transcript       *Transcript
	signals          LiveSignals
	evaluation       *Evaluation
	handle           *streamHandle
	ended            bool
	evaluating       bool
	autoEndScheduled bool
	autoEndTimer     *time.Timer
	closed           bool
}

func NewEngine(client *llm.Client, scn scenario.Scenario, cfg Config) (*Engine, error) {
	if client == nil {
		return nil, errors.New("llm client is nil")
	}
	cfg.applyDefaults()
	e := &Engine{
		id:         ulid.Make().String(),
		cfg:        cfg,
		client:     client,
		scn:        scn,
		logger:     cfg.Logger.With("conversation", ""),
		events:     make(chan Event, 256),
		state:      StateIdle,
		transcript: NewTranscript(),
	}
	e.logger = cfg.Logger.With("conversation", e.id, "scenario", scn.ID)
	e.evaluator = NewEvaluator(client, cfg.EvalModel, *cfg.EvalTemperature, e.logger)
	return e, nil
}

func (e *Engine) ID() string                  { return e.id }
func (e *Engine) Scenario() scenario.Scenario { return e.scn }
func (e *Engine) Events() <-chan Event        { return e.events }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Streaming reports whether a completion request is in flight.
func (e *Engine) Streaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

// Loading reports whether the engine is waiting on the upstream service,
// either streaming a response or evaluating.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil || e.evaluating
}

func (e *Engine) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

// Turns returns a read-only snapshot of the transcript.
func (e *Engine) Turns() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.Turns()
}

// Fingerprint is the transcript's current content digest.
func (e *Engine) Fingerprint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.Fingerprint()
}

func (e *Engine) Signals() LiveSignals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signals
}

// Evaluation returns the current evaluation, or nil before end-of-conversation.
func (e *Engine) Evaluation() *Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evaluation == nil {
		return nil
	}
	ev := *e.evaluation
	return &ev
}

// Start transitions Idle -> AwaitingFirstResponse: appends the synthetic
// opening user turn and an empty assistant placeholder, then begins
// streaming the counterpart's opening line. Returns immediately; progress
// arrives on Events.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrStarted
	}
	e.state = StateAwaitingFirstResponse
	e.emit(EventConversationStart, map[string]any{
		"scenario": e.scn.ID,
		"npc_name": e.scn.NPCName,
		"goal":     e.scn.Goal,
	})
	e.appendTurnLocked(llm.RoleUser, startInstruction)
	return e.beginStreamLocked(ctx)
}

// Submit appends the user's text and begins streaming the reply.
// Submissions while streaming or after end are rejected, never queued.
func (e *Engine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.ended:
		return ErrEnded
	case e.state == StateIdle:
		return ErrNotStarted
	case e.handle != nil:
		return ErrBusy
	}
	e.state = StateStreaming
	e.appendTurnLocked(llm.RoleUser, text)
	return e.beginStreamLocked(ctx)
}

// Cancel aborts the in-flight stream, if any. The target turn keeps
// exactly the fragments that arrived before cancellation; the engine is
// immediately Ready again. Cancelling is not an error and is never
// reported as one.
func (e *Engine) Cancel() {
	e.mu.Lock()
	handle := e.handle
	if handle == nil {
		e.mu.Unlock()
		return
	}
	e.handle = nil
	e.transcript.Seal(handle.turnID)
	e.state = StateReady
	e.emit(EventStreamCancelled, map[string]any{"turn_id": handle.turnID})
	e.recomputeSignalsLocked()
	e.mu.Unlock()

	handle.cancel()
}

// End terminates the conversation and evaluates it. Idempotent: a second
// call returns the existing evaluation without re-running anything. An
// in-flight stream is cancelled first; its partial text stays in the
// transcript.
func (e *Engine) End(ctx context.Context) (Evaluation, error) {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return Evaluation{}, ErrNotStarted
	}
	if e.ended {
		ev := e.evaluation
		e.mu.Unlock()
		if ev != nil {
			return *ev, nil
		}
		// End is still evaluating on another goroutine.
		return FallbackEvaluation(), nil
	}
	e.ended = true
	if e.autoEndTimer != nil {
		e.autoEndTimer.Stop()
		e.autoEndTimer = nil
	}
	handle := e.handle
	if handle != nil {
		e.handle = nil
		e.transcript.Seal(handle.turnID)
	}
	e.state = StateEnded
	e.evaluating = true
	e.emit(EventConversationEnded, map[string]any{"user_turns": e.transcript.UserTurnCount()})
	snapshot := e.transcript.Clone()
	e.mu.Unlock()

	if handle != nil {
		handle.cancel()
	}

	ev := e.evaluator.Evaluate(ctx, e.scn, snapshot)

	e.mu.Lock()
	e.evaluation = &ev
	e.evaluating = false
	e.emit(EventEvaluationReady, evaluationData(ev))
	e.mu.Unlock()
	return ev, nil
}

// EvaluateAgain re-runs the evaluator on an ended conversation. The
// transcript is not mutated; a fresh Evaluation replaces the old one.
func (e *Engine) EvaluateAgain(ctx context.Context) (Evaluation, error) {
	e.mu.Lock()
	if !e.ended {
		e.mu.Unlock()
		return Evaluation{}, errors.New("conversation has not ended")
	}
	e.evaluating = true
	snapshot := e.transcript.Clone()
	e.mu.Unlock()

	ev := e.evaluator.Evaluate(ctx, e.scn, snapshot)

	e.mu.Lock()
	e.evaluation = &ev
	e.evaluating = false
	e.emit(EventEvaluationReady, evaluationData(ev))
	e.mu.Unlock()
	return ev, nil
}

// Close releases the engine: cancels any in-flight stream and closes the
// event channel. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	handle := e.handle
	e.handle = nil
	if e.autoEndTimer != nil {
		e.autoEndTimer.Stop()
		e.autoEndTimer = nil
	}
	e.mu.Unlock()

	if handle != nil {
		handle.cancel()
	}
	close(e.events)
}

func (e *Engine) appendTurnLocked(role llm.Role, text string) {
	turn := e.transcript.Append(role, text)
	e.emit(EventTurnAppended, map[string]any{
		"turn_id": turn.ID,
		"role":    string(turn.Role),
		"text":    turn.Text,
	})
	e.recomputeSignalsLocked()
}

// beginStreamLocked opens the assistant placeholder turn and launches the
// streaming request. Exactly one stream is in flight at a time; callers
// have already checked e.handle == nil.
func (e *Engine) beginStreamLocked(ctx context.Context) error {
	turn, err := e.transcript.AppendOpen(llm.RoleAssistant)
	if err != nil {
		return err
	}
	e.emit(EventTurnAppended, map[string]any{
		"turn_id": turn.ID,
		"role":    string(turn.Role),
		"text":    "",
	})

	// The stream must survive the caller's request scope (an HTTP submit
	// returns before its reply finishes streaming); only Cancel/End/Close
	// abort it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &streamHandle{turnID: turn.ID, cancel: cancel}
	e.handle = handle

	msgs := e.transcript.messagesExcluding(e.scn.SystemPrompt(), turn.ID)
	go e.runStream(streamCtx, handle, msgs)
	return nil
}

func (e *Engine) runStream(ctx context.Context, handle *streamHandle, msgs []llm.Message) {
	req := llm.Request{
		Model:       e.cfg.StreamModel,
		Temperature: *e.cfg.StreamTemperature,
		Messages:    msgs,
	}
	st, err := e.client.Stream(ctx, req)
	if err != nil {
		e.finishStream(handle, err)
		return
	}
	defer st.Close()

	var streamErr error
	for ev := range st.Events() {
		switch ev.Type {
		case llm.StreamEventTextDelta:
			e.appendFragment(handle, ev.Delta)
		case llm.StreamEventError:
			streamErr = ev.Err
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}
	e.finishStream(handle, streamErr)
}

// appendFragment commits one streamed fragment to the open turn, in
// arrival order. Fragments that race a cancellation are dropped: the turn
// keeps exactly what arrived before the cancel.
func (e *Engine) appendFragment(handle *streamHandle, delta string) {
	if delta == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != handle {
		return
	}
	if err := e.transcript.Grow(handle.turnID, delta); err != nil {
		return
	}
	e.emit(EventAssistantDelta, map[string]any{"turn_id": handle.turnID, "delta": delta})
	e.recomputeSignalsLocked()
}

func (e *Engine) finishStream(handle *streamHandle, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != handle {
		// Detached by Cancel or End; everything already settled.
		return
	}
	e.handle = nil
	e.transcript.Seal(handle.turnID)

	if llm.IsCancelled(err) {
		// Not an error: keep partial text, return to Ready quietly.
		e.state = StateReady
		e.emit(EventStreamCancelled, map[string]any{"turn_id": handle.turnID})
		return
	}
	if err != nil {
		e.logger.Warn("chat stream failed", "turn_id", handle.turnID, "err", err)
		// A configuration failure on the opening turn means the
		// conversation never effectively started.
		var ce *llm.ConfigurationError
		if errors.As(err, &ce) && e.state == StateAwaitingFirstResponse {
			e.state = StateIdle
		} else {
			e.state = StateReady
		}
		e.emit(EventChatFailed, map[string]any{"turn_id": handle.turnID, "error": err.Error()})
		return
	}

	e.state = StateReady
	text := ""
	for _, t := range e.transcript.turns {
		if t.ID == handle.turnID {
			text = t.Text
			break
		}
	}
	e.emit(EventAssistantDone, map[string]any{"turn_id": handle.turnID, "text": text})
	e.recomputeSignalsLocked()
	e.maybeScheduleAutoEndLocked()
}

// maybeScheduleAutoEndLocked schedules end-of-conversation once the user
// turn count crosses the threshold. Exactly one evaluation is scheduled
// per conversation; the timer is dropped if the user ends it first.
func (e *Engine) maybeScheduleAutoEndLocked() {
	if e.ended || e.autoEndScheduled {
		return
	}
	if e.transcript.UserTurnCount() <= e.cfg.AutoEndUserTurns {
		return
	}
	e.autoEndScheduled = true
	e.autoEndTimer = time.AfterFunc(e.cfg.AutoEndDelay, func() {
		if _, err := e.End(context.Background()); err != nil && !errors.Is(err, ErrNotStarted) {
			e.logger.Warn("auto end failed", "err", err)
		}
	})
}

func (e *Engine) recomputeSignalsLocked() {
	cur := ScoreTranscript(e.transcript.turns)
	if cur == e.signals {
		return
	}
	gains := GainsBetween(e.signals, cur)
	e.signals = cur
	e.emit(EventSignalsUpdated, map[string]any{
		"trust":   cur.Trust,
		"rapport": cur.Rapport,
		"risk":    cur.Risk,
	})
	for _, g := range gains {
		e.emit(EventSignalGain, map[string]any{"signal": g.Signal, "delta": g.Delta})
	}
}

// emit delivers an event best-effort: dropped if the consumer is slow,
// recovered if it races Close.
func (e *Engine) emit(kind EventKind, data map[string]any) {
	if e == nil || e.events == nil || e.closed {
		return
	}
	ev := Event{
		Kind:           kind,
		Timestamp:      time.Now().UTC(),
		ConversationID: e.id,
		Data:           data,
	}
	defer func() { _ = recover() }()
	select {
	case e.events <- ev:
	default:
	}
}

func evaluationData(ev Evaluation) map[string]any {
	data := map[string]any{
		"success":  ev.Success,
		"feedback": ev.Feedback,
		"summary":  ev.Summary,
	}
	if ev.Score != nil {
		data["score"] = *ev.Score
	}
	return data
}
