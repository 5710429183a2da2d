package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func collectSSE(t *testing.T, input string) []SSEEvent {
	t.Helper()
	var out []SSEEvent
	err := ParseSSE(context.Background(), strings.NewReader(input), func(ev SSEEvent) error {
		out = append(out, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("ParseSSE: %v", err)
	}
	return out
}

func TestParseSSEFrames(t *testing.T) {
	input := "data: one\n\ndata: two\n\n"
	events := collectSSE(t, input)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if string(events[0].Data) != "one" || string(events[1].Data) != "two" {
		t.Fatalf("unexpected data: %q, %q", events[0].Data, events[1].Data)
	}
}

func TestParseSSEMultilineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	events := collectSSE(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0].Data) != "line1\nline2" {
		t.Fatalf("got %q", events[0].Data)
	}
}

func TestParseSSEEventNamesAndComments(t *testing.T) {
	input := ": keepalive\nevent: done\ndata: {}\n\n"
	events := collectSSE(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Event != "done" || string(events[0].Data) != "{}" {
		t.Fatalf("got event=%q data=%q", events[0].Event, events[0].Data)
	}
}

func TestParseSSEFlushesFinalFrameWithoutBlankLine(t *testing.T) {
	events := collectSSE(t, "data: tail\n")
	if len(events) != 1 || string(events[0].Data) != "tail" {
		t.Fatalf("got %v", events)
	}
}

func TestParseSSECancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ParseSSE(ctx, strings.NewReader("data: a\n\n"), func(SSEEvent) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestParseSSECallbackErrorStopsParsing(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := ParseSSE(context.Background(), strings.NewReader("data: a\n\ndata: b\n\n"), func(SSEEvent) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if calls != 1 {
		t.Fatalf("callback called %d times, want 1", calls)
	}
}
