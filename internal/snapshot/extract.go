package snapshot

import (
	"regexp"
	"strings"
)

// Candidate evidence extracted deterministically from message text. These are
// weak signals: they enter the snapshot only through Merge with a low
// confidence, so a verified fact is never clobbered by a regex hit.
var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe    = regexp.MustCompile(`\+?[\d\s\-()]{10,}`)
	nyrionIDRe = regexp.MustCompile(`\b[0-9]{6,12}\b`)
)

// Confidence assigned to regex-derived candidates.
const candidateConfidence = 0.35

// Candidates holds raw evidence extracted from one message.
type Candidates struct {
	Email    string
	Phone    string
	NyrionID string
	Intent   string // "teste", "deposito", "duvida" or ""
}

// ExtractCandidates scans message text for anchored evidence.
func ExtractCandidates(text string) Candidates {
	var c Candidates
	if text == "" {
		return c
	}

	lower := strings.ToLower(text)

	if emails := emailRe.FindAllString(text, -1); len(emails) > 0 {
		c.Email = emails[len(emails)-1]
	}
	if phones := phoneRe.FindAllString(text, -1); len(phones) > 0 {
		c.Phone = strings.TrimSpace(phones[len(phones)-1])
	}
	if ids := nyrionIDRe.FindAllString(text, -1); len(ids) > 0 {
		c.NyrionID = ids[len(ids)-1]
	}

	switch {
	case containsAny(lower, "quero", "teste", "testar", "liberar"):
		c.Intent = "teste"
	case containsAny(lower, "deposito", "depósito", "depositar", "valor"):
		c.Intent = "deposito"
	case containsAny(lower, "ajuda", "como", "dúvida", "duvida", "?"):
		c.Intent = "duvida"
	}

	return c
}

// Facts converts candidates into mergeable partial facts.
func (c Candidates) Facts() PartialFacts {
	facts := PartialFacts{}
	if c.NyrionID != "" {
		facts["accounts.nyrion"] = Fact{Value: "candidato", Confidence: candidateConfidence, Source: "extract"}
	}
	if c.Intent == "teste" {
		facts["agreements.wants_test"] = Fact{Value: true, Confidence: candidateConfidence, Source: "extract"}
	}
	return facts
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
