package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/safespace/narratives/internal/llm"
	"github.com/safespace/narratives/internal/scenario"
)

// Evaluation is the final structured verdict on a conversation. Score is
// nil when the upstream response could not be reduced to a number.
type Evaluation struct {
	Success  bool     `json:"success"`
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
	Summary  string   `json:"summary"`
}

// FallbackEvaluation is returned whenever the evaluator request fails or
// its output cannot be recovered. Evaluation failure is never fatal.
func FallbackEvaluation() Evaluation {
	return Evaluation{
		Success:  false,
		Score:    nil,
		Feedback: "Unable to evaluate conversation.",
		Summary:  "Technical error occurred during evaluation.",
	}
}

// Evaluator scores a finished conversation with one non-streaming chat
// call and best-effort JSON recovery.
type Evaluator struct {
	client      *llm.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

func NewEvaluator(client *llm.Client, model string, temperature float64, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, model: model, temperature: temperature, logger: logger}
}

const evaluationTrigger = "Please evaluate this conversation."

func evaluationPrompt(scn scenario.Scenario, transcript *Transcript) string {
	return fmt.Sprintf(`You are an AI evaluator for sexual health education scenarios.

Scenario Type: %s
User Goal: %s

Conversation History:
%s

Please evaluate this conversation and provide:
1. Success: Did the user demonstrate good sexual health communication? (true/false)
2. Score: Rate the conversation from 1-100 based on:
   - Clear communication about boundaries and consent
   - Discussion of safety and protection
   - Respectful dialogue
   - Appropriate health considerations
3. Feedback: Specific areas where the user did well and areas for improvement
4. Summary: Brief overview of the conversation's key points

Respond in this exact JSON format:
{
  "success": boolean,
  "score": number,
  "feedback": "detailed feedback here",
  "summary": "conversation summary here"
}`, scn.ID, scn.Goal, transcript.Render())
}

// Evaluate never returns an error: any failure collapses to the fixed
// fallback Evaluation so the surrounding conversation stays usable.
func (e *Evaluator) Evaluate(ctx context.Context, scn scenario.Scenario, transcript *Transcript) Evaluation {
	req := llm.Request{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []llm.Message{
			llm.System(evaluationPrompt(scn, transcript)),
			llm.User(evaluationTrigger),
		},
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		e.logger.Warn("evaluation request failed",
			"scenario", scn.ID,
			"transcript", transcript.Fingerprint(),
			"err", err)
		return FallbackEvaluation()
	}

	parsed := ExtractJSONObject(resp.Text())
	if parsed == nil {
		e.logger.Warn("evaluation response had no recoverable JSON object",
			"scenario", scn.ID,
			"transcript", transcript.Fingerprint())
		return FallbackEvaluation()
	}
	score, ok := numberFrom(parsed["score"])
	if !ok {
		e.logger.Warn("evaluation response score is not a number", "scenario", scn.ID)
		return FallbackEvaluation()
	}
	score = clamp(score, 0, 100)
	return Evaluation{
		Success:  truthy(parsed["success"]),
		Score:    &score,
		Feedback: stringFrom(parsed["feedback"]),
		Summary:  stringFrom(parsed["summary"]),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func numberFrom(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(x), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(strings.TrimSpace(x), "true")
	case float64:
		return x != 0
	}
	return false
}

func stringFrom(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
