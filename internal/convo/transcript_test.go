package convo

import (
	"strings"
	"testing"

	"github.com/safespace/narratives/internal/llm"
)

func TestTranscriptAppendAndRender(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi there")
	tr.Append(llm.RoleAssistant, "hey!")

	if tr.Len() != 2 {
		t.Fatalf("len = %d", tr.Len())
	}
	want := "user: hi there\nassistant: hey!"
	if got := tr.Render(); got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestTranscriptOpenTurnLifecycle(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")

	turn, err := tr.AppendOpen(llm.RoleAssistant)
	if err != nil {
		t.Fatalf("AppendOpen: %v", err)
	}
	if _, err := tr.AppendOpen(llm.RoleAssistant); err == nil {
		t.Fatal("second open turn must be rejected")
	}

	if err := tr.Grow(turn.ID, "Hel"); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := tr.Grow(turn.ID, "lo"); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := tr.Grow("other", "x"); err == nil {
		t.Fatal("growing a non-open turn must fail")
	}

	tr.Seal(turn.ID)
	if err := tr.Grow(turn.ID, "!"); err == nil {
		t.Fatal("growing a sealed turn must fail")
	}
	// Sealing again is a no-op.
	tr.Seal(turn.ID)

	turns := tr.Turns()
	if turns[1].Text != "Hello" {
		t.Fatalf("open turn text = %q", turns[1].Text)
	}
}

func TestTranscriptTurnsReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")
	turns := tr.Turns()
	turns[0].Text = "mutated"
	if tr.Turns()[0].Text != "hi" {
		t.Fatal("Turns must return an independent copy")
	}
}

func TestTranscriptUserTurnCount(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "a")
	tr.Append(llm.RoleAssistant, "b")
	tr.Append(llm.RoleUser, "c")
	if n := tr.UserTurnCount(); n != 2 {
		t.Fatalf("user turns = %d", n)
	}
}

func TestTranscriptMessagesPrependSystemPrompt(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")
	tr.Append(llm.RoleAssistant, "hello")

	msgs := tr.Messages("persona")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "persona" {
		t.Fatalf("first message = %+v", msgs[0])
	}
}

func TestTranscriptMessagesExcludingOpenTurn(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")
	open, _ := tr.AppendOpen(llm.RoleAssistant)

	msgs := tr.messagesExcluding("persona", open.ID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want system+user only", len(msgs))
	}
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant {
			t.Fatal("open placeholder must not be sent upstream")
		}
	}
}

func TestTranscriptFingerprintTracksContent(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")
	a := tr.Fingerprint()
	if a != tr.Fingerprint() {
		t.Fatal("fingerprint must be stable without mutation")
	}
	tr.Append(llm.RoleAssistant, "hello")
	b := tr.Fingerprint()
	if a == b {
		t.Fatal("fingerprint must change when the transcript changes")
	}
	if len(a) != 32 || strings.ToLower(a) != a {
		t.Fatalf("fingerprint should be 32 lowercase hex chars, got %q", a)
	}
}

func TestTranscriptCloneIsIndependent(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hi")
	clone := tr.Clone()
	tr.Append(llm.RoleAssistant, "hello")
	if clone.Len() != 1 {
		t.Fatalf("clone len = %d, want 1", clone.Len())
	}
}
