package server

import (
	"time"

	"github.com/safespace/narratives/internal/convo"
)

// StartConversationRequest is the POST /conversations request body.
type StartConversationRequest struct {
	// ScenarioID selects a registered scenario. Required.
	ScenarioID string `json:"scenario_id"`
}

// SubmitMessageRequest is the POST /conversations/{id}/messages body.
type SubmitMessageRequest struct {
	Text string `json:"text"`
}

// ConversationStatus is returned by GET /conversations/{id}.
type ConversationStatus struct {
	ID         string            `json:"id"`
	ScenarioID string            `json:"scenario_id"`
	NPCName    string            `json:"npc_name"`
	Goal       string            `json:"goal"`
	State      string            `json:"state"`
	Streaming  bool              `json:"streaming"`
	Loading    bool              `json:"loading"`
	Ended      bool              `json:"ended"`
	StartedAt  time.Time         `json:"started_at"`
	Turns      []convo.Turn      `json:"turns"`
	Signals    convo.LiveSignals `json:"signals"`
	Evaluation *convo.Evaluation `json:"evaluation,omitempty"`
}

// ConversationSummary is one row of GET /conversations.
type ConversationSummary struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
