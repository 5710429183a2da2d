package convo

import (
	"math"
	"strings"

	"github.com/safespace/narratives/internal/llm"
)

// LiveSignals are the heuristic scores derived from the transcript after
// every mutation. They are recomputed from scratch, never persisted.
type LiveSignals struct {
	Trust   int `json:"trust"`
	Rapport int `json:"rapport"`
	Risk    int `json:"risk"`
}

// Keyword matching is deliberately case-insensitive substring containment,
// not word matching: "unsafely" counts toward "unsafe". Do not tokenize.
var (
	trustKeywords   = []string{"consent", "boundary", "boundaries", "protection", "condom", "sti", "testing", "safe", "comfort", "birth control"}
	rapportKeywords = []string{"thank", "appreciate", "understand", "comfortable", "respect", "listen", "care", "feel", "glad"}
	riskKeywords    = []string{"drunk", "alcohol", "drink", "party", "unprotected", "no condom", "unsafe", "random", "tonight"}
)

// ScoreTranscript computes all three signals. Trust looks at user turns
// only; rapport and risk look at the whole transcript.
func ScoreTranscript(turns []Turn) LiveSignals {
	var user, all strings.Builder
	for _, t := range turns {
		text := strings.ToLower(t.Text)
		all.WriteString(text)
		all.WriteByte(' ')
		if t.Role == llm.RoleUser {
			user.WriteString(text)
			user.WriteByte(' ')
		}
	}
	userText := user.String()
	allText := all.String()

	trustHits := countDistinct(userText, trustKeywords)
	trustDenom := len(trustKeywords)
	if trustDenom < 4 {
		trustDenom = 4
	}
	rapportHits := countDistinct(allText, rapportKeywords)
	riskHits := countDistinct(allText, riskKeywords)

	return LiveSignals{
		Trust:   normalize(trustHits, trustDenom),
		Rapport: normalize(rapportHits, 6),
		Risk:    normalize(riskHits, 6),
	}
}

func countDistinct(text string, keywords []string) int {
	hits := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits++
		}
	}
	return hits
}

func normalize(hits, denom int) int {
	v := int(math.Round(float64(hits) / float64(denom) * 100))
	if v > 100 {
		v = 100
	}
	return v
}

// Gain is one positive movement between two signal snapshots: trust or
// rapport went up, or risk went down. Gains are presentation sugar; each
// is reported once and discarded.
type Gain struct {
	Signal string `json:"signal"`
	Delta  int    `json:"delta"`
}

// GainsBetween derives the positive deltas from prev to cur.
func GainsBetween(prev, cur LiveSignals) []Gain {
	var out []Gain
	if d := cur.Trust - prev.Trust; d > 0 {
		out = append(out, Gain{Signal: "trust", Delta: d})
	}
	if d := cur.Rapport - prev.Rapport; d > 0 {
		out = append(out, Gain{Signal: "rapport", Delta: d})
	}
	if d := prev.Risk - cur.Risk; d > 0 {
		out = append(out, Gain{Signal: "risk", Delta: d})
	}
	return out
}
