package convo

import (
	"testing"

	"github.com/safespace/narratives/internal/llm"
)

func userTurn(text string) Turn      { return Turn{Role: llm.RoleUser, Text: text} }
func assistantTurn(text string) Turn { return Turn{Role: llm.RoleAssistant, Text: text} }

func TestScoreEmptyTranscript(t *testing.T) {
	got := ScoreTranscript(nil)
	if got != (LiveSignals{}) {
		t.Fatalf("got %+v, want zeros", got)
	}
}

func TestTrustCountsUserTurnsOnly(t *testing.T) {
	// Assistant mentions of trust keywords must not move the score.
	got := ScoreTranscript([]Turn{assistantTurn("let's talk about consent and condoms")})
	if got.Trust != 0 {
		t.Fatalf("trust = %d, want 0", got.Trust)
	}

	// Two distinct keywords over a denominator of 10.
	got = ScoreTranscript([]Turn{userTurn("I want to talk about consent and using a condom")})
	if got.Trust != 20 {
		t.Fatalf("trust = %d, want 20", got.Trust)
	}
}

func TestTrustCountsKeywordOnce(t *testing.T) {
	got := ScoreTranscript([]Turn{userTurn("condom condom condom")})
	if got.Trust != 10 {
		t.Fatalf("trust = %d, want 10 (one distinct keyword)", got.Trust)
	}
}

func TestRapportAndRiskCountAllTurns(t *testing.T) {
	turns := []Turn{
		userTurn("thank you, I appreciate that"),
		assistantTurn("I understand"),
	}
	got := ScoreTranscript(turns)
	// thank, appreciate, understand: 3 of 6.
	if got.Rapport != 50 {
		t.Fatalf("rapport = %d, want 50", got.Rapport)
	}

	turns = []Turn{
		assistantTurn("come to the party tonight, have a drink"),
	}
	got = ScoreTranscript(turns)
	// party, tonight, drink: 3 of 6.
	if got.Risk != 50 {
		t.Fatalf("risk = %d, want 50", got.Risk)
	}
}

func TestScoringIsCaseInsensitiveSubstring(t *testing.T) {
	got := ScoreTranscript([]Turn{userTurn("CONSENT matters")})
	if got.Trust != 10 {
		t.Fatalf("trust = %d, want 10", got.Trust)
	}
	// Substring containment: "unsafely" hits "unsafe".
	got = ScoreTranscript([]Turn{userTurn("acting unsafely")})
	if got.Risk != 17 {
		t.Fatalf("risk = %d, want 17", got.Risk)
	}
}

func TestSafetyLanguageOutscoresCasualAgreement(t *testing.T) {
	opener := assistantTurn("So, you in for tonight?")
	careful := ScoreTranscript([]Turn{opener, userTurn("I want to make sure we're both safe and comfortable")})
	casual := ScoreTranscript([]Turn{opener, userTurn("sure, sounds fun")})
	if careful.Trust <= casual.Trust {
		t.Fatalf("trust: careful=%d casual=%d, want careful higher", careful.Trust, casual.Trust)
	}
}

func TestScoresAreCappedAt100(t *testing.T) {
	turns := []Turn{
		userTurn("thank appreciate understand comfortable respect listen care feel glad"),
		assistantTurn("drunk alcohol drink party unprotected no condom unsafe random tonight"),
	}
	got := ScoreTranscript(turns)
	if got.Rapport != 100 {
		t.Fatalf("rapport = %d, want 100", got.Rapport)
	}
	if got.Risk != 100 {
		t.Fatalf("risk = %d, want 100", got.Risk)
	}
}

func TestScoreIsRecomputedNotAccumulated(t *testing.T) {
	turns := []Turn{userTurn("consent")}
	a := ScoreTranscript(turns)
	b := ScoreTranscript(turns)
	if a != b {
		t.Fatalf("same transcript must score identically: %+v vs %+v", a, b)
	}
}

func TestGainsBetween(t *testing.T) {
	prev := LiveSignals{Trust: 10, Rapport: 50, Risk: 40}

	gains := GainsBetween(prev, LiveSignals{Trust: 30, Rapport: 50, Risk: 20})
	if len(gains) != 2 {
		t.Fatalf("gains = %v", gains)
	}
	if gains[0].Signal != "trust" || gains[0].Delta != 20 {
		t.Fatalf("gains[0] = %+v", gains[0])
	}
	// Risk going down is a gain.
	if gains[1].Signal != "risk" || gains[1].Delta != 20 {
		t.Fatalf("gains[1] = %+v", gains[1])
	}

	// Negative movement is not a gain.
	if g := GainsBetween(prev, LiveSignals{Trust: 5, Rapport: 40, Risk: 60}); len(g) != 0 {
		t.Fatalf("gains = %v, want none", g)
	}
	if g := GainsBetween(prev, prev); len(g) != 0 {
		t.Fatalf("gains = %v, want none", g)
	}
}
