package convo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/safespace/narratives/internal/llm"
)

// Turn is one utterance. Role never changes after creation; Text grows
// only while the turn is the transcript's single open streaming turn.
type Turn struct {
	ID        string    `json:"id"`
	Role      llm.Role  `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript is the append-only ordered turn log. It is plain data: the
// Engine owns it and serializes all access, so there is no lock here.
type Transcript struct {
	turns  []Turn
	openID string
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a closed turn with the given text.
func (t *Transcript) Append(role llm.Role, text string) Turn {
	turn := Turn{
		ID:        ulid.Make().String(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	t.turns = append(t.turns, turn)
	return turn
}

var errTurnOpen = errors.New("transcript already has an open turn")

// AppendOpen adds an empty turn that subsequent Grow calls write into.
// At most one turn is open at any time.
func (t *Transcript) AppendOpen(role llm.Role) (Turn, error) {
	if t.openID != "" {
		return Turn{}, errTurnOpen
	}
	turn := t.Append(role, "")
	t.openID = turn.ID
	return turn, nil
}

// Grow appends a streamed fragment to the open turn.
func (t *Transcript) Grow(id, fragment string) error {
	if id == "" || id != t.openID {
		return fmt.Errorf("turn %s is not open for streaming", id)
	}
	for i := range t.turns {
		if t.turns[i].ID == id {
			t.turns[i].Text += fragment
			return nil
		}
	}
	return fmt.Errorf("turn %s not found", id)
}

// Seal closes the open turn, making it immutable. Sealing a turn that is
// not open is a no-op.
func (t *Transcript) Seal(id string) {
	if id == t.openID {
		t.openID = ""
	}
}

func (t *Transcript) Len() int { return len(t.turns) }

// Turns returns a copy of the turn log.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// WithoutSystem returns the turns with system turns filtered out, in order.
func (t *Transcript) WithoutSystem() []Turn {
	out := make([]Turn, 0, len(t.turns))
	for _, turn := range t.turns {
		if turn.Role == llm.RoleSystem {
			continue
		}
		out = append(out, turn)
	}
	return out
}

func (t *Transcript) UserTurnCount() int {
	n := 0
	for _, turn := range t.turns {
		if turn.Role == llm.RoleUser {
			n++
		}
	}
	return n
}

// Render produces the "role: text" line form used in evaluator prompts,
// excluding system turns.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, turn := range t.WithoutSystem() {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Messages converts the transcript to a chat request message list with the
// given system prompt first and system turns dropped.
func (t *Transcript) Messages(systemPrompt string) []llm.Message {
	out := make([]llm.Message, 0, len(t.turns)+1)
	out = append(out, llm.System(systemPrompt))
	for _, turn := range t.WithoutSystem() {
		out = append(out, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	return out
}

// messagesExcluding builds the chat request message list while a turn is
// still open: the open placeholder turn is skipped so the request carries
// only completed utterances.
func (t *Transcript) messagesExcluding(systemPrompt, turnID string) []llm.Message {
	out := make([]llm.Message, 0, len(t.turns)+1)
	out = append(out, llm.System(systemPrompt))
	for _, turn := range t.WithoutSystem() {
		if turn.ID == turnID {
			continue
		}
		out = append(out, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	return out
}

// Clone returns an independent snapshot of the transcript.
func (t *Transcript) Clone() *Transcript {
	return &Transcript{turns: t.Turns(), openID: t.openID}
}

// Fingerprint is a stable blake3 digest of the turn log, used as an
// archive key and in logs.
func (t *Transcript) Fingerprint() string {
	h := blake3.New()
	for _, turn := range t.turns {
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
