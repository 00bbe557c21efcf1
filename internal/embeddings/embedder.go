package embeddings

import "context"

// Embedder turns text into vectors for the knowledge base. Indexing embeds
// snippet batches once at startup; query time embeds a single lead message.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector width this embedder produces. The
	// knowledge base rejects a store whose collection was built with a
	// different width.
	Dimensions() int

	// Name identifies the backing model, used in the audit trail.
	Name() string
}
