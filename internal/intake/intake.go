// Package intake interprets a raw inbound message: a sampled LLM
// classification of intent plus a cheap anchor-based confidence score used
// to pick an enrichment strategy.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"leadgate/internal/llm"
	"leadgate/internal/snapshot"
)

// DefaultSamples is the self-consistency fan-out width.
const DefaultSamples = 3

// DefaultSampleTimeout bounds one classification sample.
const DefaultSampleTimeout = 2 * time.Second

// IntentOther is the vote outcome when no majority exists.
const IntentOther = "other"

// Sample is one model vote: the interpreted intent and, optionally, a
// catalog automation the model proposes for this turn.
type Sample struct {
	Intent     string  `json:"intent"`
	Automation string  `json:"automation"`
	Confidence float64 `json:"confidence"`
}

// Result is the majority-voted classification.
type Result struct {
	Intent     string
	Automation string
	// Agreement is the winning vote's share of the valid samples, in [0,1].
	Agreement   float64
	Samples     int
	Abstentions int
}

// Majority reports whether the winning vote had a strict majority of the
// valid samples. An even split is not a majority.
func (r *Result) Majority() bool {
	return r.Agreement > 0.5
}

// Classifier runs self-consistency sampling against the model provider.
type Classifier struct {
	provider llm.Provider
	model    string
	samples  int
	timeout  time.Duration
}

// NewClassifier builds a classifier. samples <= 0 and timeout <= 0 fall back
// to the defaults.
func NewClassifier(provider llm.Provider, model string, samples int, timeout time.Duration) *Classifier {
	if samples <= 0 {
		samples = DefaultSamples
	}
	if timeout <= 0 {
		timeout = DefaultSampleTimeout
	}
	return &Classifier{provider: provider, model: model, samples: samples, timeout: timeout}
}

const intakeSystemPrompt = `Você classifica mensagens de leads interessados em um robô de trading.

Responda APENAS com JSON:
{"intent": "deposito"|"conta"|"teste"|"duvida"|"other", "automation": "id da automação sugerida ou vazio", "confidence": 0.0-1.0}`

// Classify fans out N parallel samples and takes a majority vote over the
// (intent, automation) pair. A failed sample is an abstention; only when
// every sample fails does Classify return an error.
func (c *Classifier) Classify(ctx context.Context, message string, snap *snapshot.Snapshot) (*Result, error) {
	votes := make([]*Sample, c.samples)

	var g errgroup.Group
	for i := 0; i < c.samples; i++ {
		g.Go(func() error {
			sampleCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			s, err := c.sample(sampleCtx, message, snap)
			if err != nil {
				log.Printf("intake: sample %d abstained: %v", i, err)
				return nil
			}
			votes[i] = s
			return nil
		})
	}
	g.Wait()

	return tally(votes)
}

func (c *Classifier) sample(ctx context.Context, message string, snap *snapshot.Snapshot) (*Sample, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "MENSAGEM: %q\n", message)
	if snap != nil {
		if len(snap.Agreements) > 0 {
			fmt.Fprintf(&b, "ACORDOS: %v\n", snap.Agreements)
		}
		if status, ok := snap.Deposit["status"]; ok && status != snapshot.StatusUnknown {
			fmt.Fprintf(&b, "DEPÓSITO: %s\n", status)
		}
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: intakeSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: 0.7,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var s Sample
	if err := json.Unmarshal([]byte(resp.Content), &s); err != nil {
		return nil, fmt.Errorf("parsing sample: %w", err)
	}
	if s.Intent == "" {
		return nil, errors.New("sample missing intent")
	}
	return &s, nil
}

// tally counts votes keyed by (intent, automation). Ties go to the vote seen
// first, but a tie never reaches majority so the caller treats it as "other"
// anyway.
func tally(votes []*Sample) (*Result, error) {
	r := &Result{Samples: len(votes)}

	type voteKey struct{ intent, automation string }
	counts := make(map[voteKey]int)
	order := make([]voteKey, 0, len(votes))
	valid := 0
	for _, v := range votes {
		if v == nil {
			r.Abstentions++
			continue
		}
		valid++
		k := voteKey{v.Intent, v.Automation}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	if valid == 0 {
		return nil, errors.New("all classification samples failed")
	}

	var top voteKey
	best := 0
	for _, k := range order {
		if counts[k] > best {
			top, best = k, counts[k]
		}
	}

	r.Agreement = float64(best) / float64(valid)
	if !r.Majority() {
		r.Intent = IntentOther
		return r, nil
	}
	r.Intent = top.intent
	r.Automation = top.automation
	return r, nil
}
