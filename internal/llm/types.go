package llm

import (
	"fmt"
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message. The engine deals in plain text only.
type Message struct {
	Role    Role
	Content string
}

func System(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Request is a single chat-completion call. Temperature is always sent;
// zero is a valid value for deterministic output.
type Request struct {
	Model       string
	Provider    string
	Temperature float64
	Messages    []Message
}

// Validate enforces the message shape the engine guarantees: exactly one
// system message, first, followed by user/assistant messages in order.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "request model is empty"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "request has no messages"}
	}
	systems := 0
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem:
			systems++
			if i != 0 {
				return &ConfigurationError{Message: fmt.Sprintf("system message at position %d, must be first", i)}
			}
		case RoleUser, RoleAssistant:
		default:
			return &ConfigurationError{Message: fmt.Sprintf("unknown role %q at position %d", m.Role, i)}
		}
	}
	if systems != 1 {
		return &ConfigurationError{Message: fmt.Sprintf("request must contain exactly one system message, got %d", systems)}
	}
	return nil
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the full result of a completion call, streaming or not.
type Response struct {
	ID       string
	Model    string
	Provider string
	Message  Message
	Finish   string
	Usage    Usage
}

func (r Response) Text() string { return r.Message.Content }

type StreamEventType string

const (
	StreamEventStreamStart StreamEventType = "STREAM_START"
	StreamEventTextDelta   StreamEventType = "TEXT_DELTA"
	StreamEventFinish      StreamEventType = "FINISH"
	StreamEventError       StreamEventType = "ERROR"
)

// StreamEvent is one incremental item of a streaming response. Delta is set
// for TEXT_DELTA, Response for FINISH, Err for ERROR.
type StreamEvent struct {
	Type     StreamEventType
	Delta    string
	Response *Response
	Err      error
}

// Stream delivers events in arrival order. Close aborts the underlying
// transport; closing a finished stream is a no-op.
type Stream interface {
	Events() <-chan StreamEvent
	Close()
}

// ChanStream is the channel-backed Stream used by adapters and test fakes.
// The producing goroutine calls Send/CloseSend; consumers range over
// Events() and may Close() at any time to cancel.
type ChanStream struct {
	ch     chan StreamEvent
	cancel func()

	closeOnce sync.Once
	sendOnce  sync.Once
}

func NewChanStream(cancel func()) *ChanStream {
	return &ChanStream{
		ch:     make(chan StreamEvent, 64),
		cancel: cancel,
	}
}

func (s *ChanStream) Events() <-chan StreamEvent { return s.ch }

// Send delivers an event, blocking until the consumer accepts it. Sending
// on a stream whose sender side is closed panics, so producers must call
// CloseSend exactly once, after the final event.
func (s *ChanStream) Send(ev StreamEvent) {
	s.ch <- ev
}

func (s *ChanStream) CloseSend() {
	s.sendOnce.Do(func() { close(s.ch) })
}

func (s *ChanStream) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
