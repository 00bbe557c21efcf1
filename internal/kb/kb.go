package kb

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"leadgate/internal/llm"
	"leadgate/internal/vectordb"
)

// ErrNoAnswer means the knowledge base holds nothing relevant; the caller
// degrades to its generic message.
var ErrNoAnswer = errors.New("no relevant knowledge found")

// minSimilarity discards matches too weak to answer from.
const minSimilarity = 0.2

const answerLimit = 3

// KB indexes markdown documents and answers questions from them.
type KB struct {
	store    vectordb.VectorStore
	provider llm.Provider
	model    string
}

// New builds a KB over the vector store. provider may be nil; answers then
// always use the top-snippet fallback.
func New(store vectordb.VectorStore, provider llm.Provider, model string) *KB {
	return &KB{store: store, provider: provider, model: model}
}

// Answer is one resolved KB response.
type Answer struct {
	Text  string
	Topic string
	// Synthesized is false when the answer is a verbatim snippet.
	Synthesized bool
}

// IndexDocument splits one markdown file by heading and replaces its
// snippets in the store. The topic is the file's base name.
func (k *KB) IndexDocument(ctx context.Context, source string, content []byte) (int, error) {
	topic := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	sections := SplitMarkdown(content)
	if len(sections) == 0 {
		return 0, nil
	}

	if err := k.store.DeleteBySource(ctx, source); err != nil {
		return 0, fmt.Errorf("clearing stale snippets for %s: %w", source, err)
	}

	now := time.Now()
	docs := make([]vectordb.Document, 0, len(sections))
	for i, s := range sections {
		body := s.Content
		if s.Heading != "" {
			body = s.Heading + "\n\n" + s.Content
		}
		docs = append(docs, vectordb.Document{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Content: body,
			Metadata: vectordb.DocumentMetadata{
				Source:      source,
				Topic:       topic,
				Heading:     s.Heading,
				Section:     i,
				ContentHash: contentHash(s.Content),
				LastUpdated: now,
			},
		})
	}
	if err := k.store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("indexing %s: %w", source, err)
	}
	return len(docs), nil
}

// Query returns the ranked snippets for a question.
func (k *KB) Query(ctx context.Context, question string, limit int) ([]vectordb.SearchResult, error) {
	return k.store.Search(ctx, question, limit, nil)
}

// Respond answers a question from the indexed snippets. The LLM synthesizes
// when available; any model failure degrades to the best snippet verbatim.
func (k *KB) Respond(ctx context.Context, question string) (*Answer, error) {
	results, err := k.Query(ctx, question, answerLimit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Similarity < minSimilarity {
		return nil, ErrNoAnswer
	}

	top := results[0]
	if k.provider != nil {
		text, err := k.synthesize(ctx, question, results)
		if err == nil {
			return &Answer{Text: text, Topic: top.Document.Metadata.Topic, Synthesized: true}, nil
		}
		log.Printf("kb: answer synthesis failed, using top snippet: %v", err)
	}
	return &Answer{Text: top.Document.Content, Topic: top.Document.Metadata.Topic}, nil
}

const synthesisSystemPrompt = `Você responde dúvidas de leads usando APENAS os trechos da base de conhecimento fornecidos.

Regras:
- Responda em português brasileiro, em tom amigável e direto.
- Não invente informações que não estejam nos trechos.
- Se os trechos não respondem a pergunta, diga que vai verificar e retornar.`

func (k *KB) synthesize(ctx context.Context, question string, results []vectordb.SearchResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "PERGUNTA: %s\n\nTRECHOS:\n", question)
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- trecho %d (%s) ---\n%s\n", i+1, r.Document.Metadata.Source, r.Document.Content)
	}

	resp, err := k.provider.Complete(ctx, llm.CompletionRequest{
		Model: k.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty synthesis")
	}
	return text, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum[:8])
}
