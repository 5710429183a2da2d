package server

import (
	"testing"
	"time"

	"github.com/safespace/narratives/internal/convo"
)

func ev(kind convo.EventKind) convo.Event {
	return convo.Event{Kind: kind, Timestamp: time.Now().UTC(), ConversationID: "c1"}
}

func TestBroadcasterReplaysHistoryToLateSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Send(ev(convo.EventConversationStart))
	b.Send(ev(convo.EventTurnAppended))

	events, _, unsub := b.Subscribe()
	defer unsub()

	got := []convo.Event{<-events, <-events}
	if got[0].Kind != convo.EventConversationStart || got[1].Kind != convo.EventTurnAppended {
		t.Fatalf("replay = %v, %v", got[0].Kind, got[1].Kind)
	}

	// Live events follow the replay.
	b.Send(ev(convo.EventAssistantDelta))
	select {
	case e := <-events:
		if e.Kind != convo.EventAssistantDelta {
			t.Fatalf("live event = %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("live event never arrived")
	}
}

func TestBroadcasterDropsSlowClients(t *testing.T) {
	b := NewBroadcaster()
	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	// Fill the subscriber's buffer without consuming.
	for i := 0; i < 300; i++ {
		b.Send(ev(convo.EventAssistantDelta))
	}

	// The channel must eventually close (client dropped), and the done
	// channel must stay open: the conversation itself is not finished.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					t.Fatal("done channel closed on a slow-client drop")
				default:
				}
				return
			}
		case <-deadline:
			t.Fatal("slow client never dropped")
		}
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	_, doneCh, unsub := b.Subscribe()
	defer unsub()

	b.Send(ev(convo.EventConversationEnded))
	b.Close()
	b.Close() // idempotent

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}

	// Subscribing after close still replays history.
	replay, _, _ := b.Subscribe()
	e, ok := <-replay
	if !ok || e.Kind != convo.EventConversationEnded {
		t.Fatalf("post-close replay = %v ok=%v", e.Kind, ok)
	}
	if _, ok := <-replay; ok {
		t.Fatal("post-close channel should be closed after replay")
	}

	// Sends after close are dropped.
	b.Send(ev(convo.EventAssistantDelta))
	if len(b.History()) != 1 {
		t.Fatalf("history = %d events, want 1", len(b.History()))
	}
}
