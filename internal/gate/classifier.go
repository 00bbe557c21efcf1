package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"leadgate/internal/llm"
	"leadgate/internal/snapshot"
)

// Polarity is the interpreted direction of a confirmation reply.
type Polarity string

const (
	PolarityYes     Polarity = "yes"
	PolarityNo      Polarity = "no"
	PolarityOther   Polarity = "other"
	PolarityUnknown Polarity = "unknown"
)

const (
	// SourceShort marks an exact-match short reply ("sim", "não", "ok").
	SourceShort = "deterministic_short"
	// SourceLLM marks a classification produced by the language model.
	SourceLLM = "llm"
	// SourceFallback marks the deterministic phrase-table fallback.
	SourceFallback = "fallback"
)

const (
	shortConfidence        = 0.95
	strongPhraseConfidence = 0.85
	weakPhraseConfidence   = 0.75
)

type classification struct {
	Polarity   Polarity
	Confidence float64
	Source     string
	Reason     string
}

// Exact short replies seen in PT-BR lead conversations. Matched against the
// whole normalized message, never as substrings.
var (
	shortYes = []string{"sim", "s", "yes", "y", "ok", "👍", "✅", "claro", "pode ser", "beleza"}
	shortNo  = []string{"não", "nao", "n", "no", "nope", "impossível", "não dá", "não da", "negativo"}
	// Deferrals resolve as "other": the lead answered, but neither yes nor no.
	shortOther = []string{"depois", "talvez", "mais tarde", "agora não", "vou ver", "deixa eu pensar"}
)

// Phrase tables for the deterministic fallback. Negatives are checked first
// so "não quero" never matches the affirmative "quero". Single words match
// on word boundaries; multi-word phrases match as substrings.
var (
	// Hedged replies are no-matches, not hard negatives: "não sei se
	// consigo hoje" must pass through instead of setting facts.
	uncertainPhrases = []string{"não sei", "nao sei", "não tenho certeza", "nao tenho certeza", "sei lá", "sei la"}

	strongNo  = []string{"não", "nao"}
	weakNo    = []string{"impossível", "não dá", "não da", "negativo"}
	strongYes = []string{"sim", "consigo", "posso"}
	weakYes   = []string{"quero", "aceito", "pode", "vamos", "claro", "certeza", "ok", "beleza", "perfeito", "vou"}
)

func normalizeMessage(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isShortResponse reports whether the message is short enough for the exact
// short-reply tables to be meaningful.
func isShortResponse(text string) bool {
	msg := normalizeMessage(text)
	if msg == "" {
		return false
	}
	return len(strings.Fields(msg)) <= 3
}

// classifyShort resolves exact short replies with near-certain confidence.
func classifyShort(text string) (classification, bool) {
	msg := normalizeMessage(text)
	for _, r := range shortYes {
		if msg == r {
			return classification{PolarityYes, shortConfidence, SourceShort, "short_yes_response"}, true
		}
	}
	for _, r := range shortNo {
		if msg == r {
			return classification{PolarityNo, shortConfidence, SourceShort, "short_no_response"}, true
		}
	}
	for _, r := range shortOther {
		if msg == r {
			return classification{PolarityOther, 0.90, SourceShort, "short_other_response"}, true
		}
	}
	return classification{}, false
}

// matchesPhrase matches multi-word phrases as substrings and single words
// on word boundaries, so "não sei se consigo" contains the word "não" but
// "funcionando" never matches "nao".
func matchesPhrase(msg, phrase string) bool {
	if strings.ContainsRune(phrase, ' ') {
		return strings.Contains(msg, phrase)
	}
	for _, f := range strings.Fields(msg) {
		if strings.Trim(f, ".,!?;:") == phrase {
			return true
		}
	}
	return false
}

// classifyPhrases is the deterministic fallback: phrase matching over the
// tables, hedges and negation before anything affirmative.
func classifyPhrases(text string) (classification, bool) {
	msg := normalizeMessage(text)
	if msg == "" {
		return classification{}, false
	}
	for _, p := range uncertainPhrases {
		if matchesPhrase(msg, p) {
			return classification{}, false
		}
	}
	for _, p := range strongNo {
		if matchesPhrase(msg, p) {
			return classification{PolarityNo, strongPhraseConfidence, SourceFallback, "deterministic_match: no"}, true
		}
	}
	for _, p := range weakNo {
		if matchesPhrase(msg, p) {
			return classification{PolarityNo, weakPhraseConfidence, SourceFallback, "deterministic_match: no"}, true
		}
	}
	for _, p := range strongYes {
		if matchesPhrase(msg, p) {
			return classification{PolarityYes, strongPhraseConfidence, SourceFallback, "deterministic_match: yes"}, true
		}
	}
	for _, p := range weakYes {
		if matchesPhrase(msg, p) {
			return classification{PolarityYes, weakPhraseConfidence, SourceFallback, "deterministic_match: yes"}, true
		}
	}
	return classification{}, false
}

const classifierSystemPrompt = `Você é um especialista em interpretar respostas de confirmação em português brasileiro.

Analise se a mensagem do usuário é uma resposta de confirmação (sim/não) para a pergunta pendente.

Regras:
- Só confirme se a mensagem for claramente uma resposta sim/não.
- "sim", "consigo", "posso", "quero", "aceito" = yes
- "não", "não consigo", "não posso", "não quero" = no
- Adiamentos ("depois", "mais tarde") = other
- Frases ambíguas ou perguntas = unknown

Responda APENAS com JSON:
{"matches": bool, "polarity": "yes"|"no"|"other"|"unknown", "confidence": 0.0-1.0, "reason": "justificativa curta"}`

type llmVerdict struct {
	Matches    bool    `json:"matches"`
	Polarity   string  `json:"polarity"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// classifyLLM asks the model whether the message answers the pending
// question. The caller bounds the call with a context deadline.
func classifyLLM(ctx context.Context, provider llm.Provider, model, message, promptText string, history []string, snap *snapshot.Snapshot) (classification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "MENSAGEM ATUAL: %q\n\n", message)
	if promptText != "" {
		fmt.Fprintf(&b, "PERGUNTA PENDENTE: %q\n\n", promptText)
	}
	if len(history) > 0 {
		tail := history
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		fmt.Fprintf(&b, "CONTEXTO RECENTE: %s\n\n", strings.Join(tail, " | "))
	}
	if snap != nil && len(snap.Agreements) > 0 {
		fmt.Fprintf(&b, "ACORDOS: %v\n", snap.Agreements)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifierSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return classification{}, fmt.Errorf("classifying confirmation: %w", err)
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(resp.Content), &verdict); err != nil {
		return classification{}, fmt.Errorf("parsing classifier verdict: %w", err)
	}
	if !verdict.Matches {
		return classification{Polarity: PolarityUnknown, Source: SourceLLM, Reason: verdict.Reason}, nil
	}
	polarity := Polarity(verdict.Polarity)
	switch polarity {
	case PolarityYes, PolarityNo, PolarityOther, PolarityUnknown:
	default:
		return classification{}, fmt.Errorf("classifier returned invalid polarity %q", verdict.Polarity)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return classification{}, fmt.Errorf("classifier returned invalid confidence %v", verdict.Confidence)
	}
	return classification{
		Polarity:   polarity,
		Confidence: verdict.Confidence,
		Source:     SourceLLM,
		Reason:     verdict.Reason,
	}, nil
}
