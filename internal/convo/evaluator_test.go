package convo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/safespace/narratives/internal/llm"
	"github.com/safespace/narratives/internal/scenario"
)

func testScenario() scenario.Scenario {
	return scenario.Scenario{
		ID:      "college-party",
		NPCName: "Alex",
		Goal:    "Practice discussing safety, consent, and responsible decision-making at parties",
	}
}

func evalTranscript() *Transcript {
	tr := NewTranscript()
	tr.Append(llm.RoleUser, "hey")
	tr.Append(llm.RoleAssistant, "hey yourself")
	return tr
}

func runEvaluation(t *testing.T, content string, err error) (Evaluation, *fakeAdapter) {
	t.Helper()
	fake := newFakeAdapter()
	fake.completeFn = func(llm.Request) (llm.Response, error) {
		if err != nil {
			return llm.Response{}, err
		}
		return llm.Response{Message: llm.Assistant(content)}, nil
	}
	ev := NewEvaluator(newTestClient(fake), "eval-model", 0.7, nil)
	return ev.Evaluate(context.Background(), testScenario(), evalTranscript()), fake
}

func TestEvaluateParsesCleanJSON(t *testing.T) {
	got, fake := runEvaluation(t, `{"success": true, "score": 85, "feedback": "well done", "summary": "good talk"}`, nil)
	if !got.Success {
		t.Fatal("success = false")
	}
	if got.Score == nil || *got.Score != 85 {
		t.Fatalf("score = %v", got.Score)
	}
	if got.Feedback != "well done" || got.Summary != "good talk" {
		t.Fatalf("got %+v", got)
	}

	req := fake.completeReqs[0]
	if req.Model != "eval-model" || req.Temperature != 0.7 {
		t.Fatalf("request model=%q temp=%v", req.Model, req.Temperature)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, testScenario().Goal) {
		t.Fatal("prompt missing scenario goal")
	}
	if !strings.Contains(prompt, "user: hey") || !strings.Contains(prompt, "assistant: hey yourself") {
		t.Fatal("prompt missing rendered transcript")
	}
	if req.Messages[1].Content != "Please evaluate this conversation." {
		t.Fatalf("trigger message = %q", req.Messages[1].Content)
	}
}

func TestEvaluateRecoversFencedJSON(t *testing.T) {
	got, _ := runEvaluation(t, "Here's my evaluation:\n```json\n{\"success\": false, \"score\": 40, \"feedback\": \"f\", \"summary\": \"s\"}\n```", nil)
	if got.Success || got.Score == nil || *got.Score != 40 {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateCoercesStringFields(t *testing.T) {
	got, _ := runEvaluation(t, `{"success": "true", "score": "92", "feedback": "f", "summary": "s"}`, nil)
	if !got.Success {
		t.Fatal("string \"true\" should coerce to success")
	}
	if got.Score == nil || *got.Score != 92 {
		t.Fatalf("score = %v", got.Score)
	}
}

func TestEvaluateClampsScore(t *testing.T) {
	got, _ := runEvaluation(t, `{"success": true, "score": 150, "feedback": "f", "summary": "s"}`, nil)
	if got.Score == nil || *got.Score != 100 {
		t.Fatalf("score = %v, want clamped to 100", got.Score)
	}
	got, _ = runEvaluation(t, `{"success": false, "score": -3, "feedback": "f", "summary": "s"}`, nil)
	if got.Score == nil || *got.Score != 0 {
		t.Fatalf("score = %v, want clamped to 0", got.Score)
	}
}

func TestEvaluateFallsBackOnMissingScore(t *testing.T) {
	got, _ := runEvaluation(t, `{"success": true, "feedback": "f", "summary": "s"}`, nil)
	if got != FallbackEvaluation() {
		t.Fatalf("got %+v, want fallback", got)
	}
}

func TestEvaluateFallsBackOnUnparseableOutput(t *testing.T) {
	for _, content := range []string{
		"I'm sorry, I can't evaluate that.",
		`[1, 2, 3]`,
		"",
	} {
		got, _ := runEvaluation(t, content, nil)
		if got != FallbackEvaluation() {
			t.Fatalf("content %q: got %+v, want fallback", content, got)
		}
	}
}

func TestEvaluateFallsBackOnRequestError(t *testing.T) {
	got, _ := runEvaluation(t, "", errors.New("upstream down"))
	if got != FallbackEvaluation() {
		t.Fatalf("got %+v, want fallback", got)
	}
	if got.Feedback != "Unable to evaluate conversation." {
		t.Fatalf("feedback = %q", got.Feedback)
	}
	if got.Summary != "Technical error occurred during evaluation." {
		t.Fatalf("summary = %q", got.Summary)
	}
}
