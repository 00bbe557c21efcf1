package vectordb

import "context"

// VectorStore defines the interface for storing and searching knowledge-base
// snippets by embeddings.
type VectorStore interface {
	// AddDocuments adds or updates snippets in the store.
	AddDocuments(ctx context.Context, docs []Document) error

	// Search performs a semantic search using the query text.
	Search(ctx context.Context, query string, limit int, filter *SearchFilter) ([]SearchResult, error)

	// DeleteBySource removes all snippets that came from the given file.
	DeleteBySource(ctx context.Context, source string) error

	// Persist saves the store's data to the given directory.
	Persist(ctx context.Context, dir string) error

	// Load restores the store's data from the given directory.
	Load(ctx context.Context, dir string) error

	// Count returns the total number of snippets in the store.
	Count() int
}
