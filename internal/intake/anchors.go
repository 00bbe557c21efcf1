package intake

import (
	"strings"

	"leadgate/internal/snapshot"
)

// Strategy is the enrichment strategy picked for a turn.
type Strategy string

const (
	// StrategyDirect: strong deterministic signals; the sampled model vote
	// will near-certainly agree with the extraction.
	StrategyDirect Strategy = "direct"
	// StrategyParallel: mixed signals, worth the sampled model vote.
	StrategyParallel Strategy = "parallel"
	// StrategyPassthrough: no extractable signal; the turn skips the model
	// fan-out and goes straight to the cheaper stages.
	StrategyPassthrough Strategy = "passthrough"
)

const (
	directThreshold   = 0.80
	parallelThreshold = 0.60
)

// Thematic anchor words that raise extraction confidence when present.
var anchorWords = map[string][]string{
	"email": {"email", "e-mail", "mail"},
	"id":    {"id", "conta", "login", "número da conta"},
}

// Analysis is the anchor-scored read of one message.
type Analysis struct {
	Strategy   Strategy
	Confidence float64
	Triggers   []string
}

// Analyze scores the message with cheap deterministic signals: extracted
// candidates, anchor words and prior agreements. No model call is made.
func Analyze(message string, cands snapshot.Candidates, snap *snapshot.Snapshot) Analysis {
	msg := strings.ToLower(message)

	score := 0.0
	var triggers []string

	if cands.Email != "" {
		score += 0.4
		triggers = append(triggers, "email_detected")
	}
	if cands.NyrionID != "" {
		score += 0.5
		triggers = append(triggers, "broker_id_detected")
	}
	for anchor, words := range anchorWords {
		for _, w := range words {
			if strings.Contains(msg, w) {
				score += 0.2
				triggers = append(triggers, "anchor_"+anchor)
				break
			}
		}
	}
	if snap != nil && snap.Agreements["wants_test"] {
		score += 0.3
		triggers = append(triggers, "active_interest")
	}
	if score > 1.0 {
		score = 1.0
	}

	a := Analysis{Strategy: StrategyPassthrough, Confidence: score, Triggers: triggers}
	switch {
	case score >= directThreshold:
		a.Strategy = StrategyDirect
	case score >= parallelThreshold:
		a.Strategy = StrategyParallel
	}
	return a
}
