package vectordb

import "time"

// Document is one knowledge-base snippet stored and searched by embedding.
type Document struct {
	ID       string
	Content  string
	Metadata DocumentMetadata
}

// DocumentMetadata holds structured information about a snippet.
type DocumentMetadata struct {
	// Source is the path of the markdown file the snippet came from.
	Source string
	// Topic is the KB topic the file belongs to (usually its base name).
	Topic string
	// Heading is the section heading the snippet sits under, if any.
	Heading string
	// Section is the snippet's position within its source file.
	Section     int
	ContentHash string
	LastUpdated time.Time
}

// SearchResult pairs a snippet with its similarity score.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// SearchFilter narrows search results by metadata fields.
type SearchFilter struct {
	Topic  *string
	Source *string
}
