package domain

import "errors"

// Errors shared across the ingestion and retrieval pipeline.
// Callers match them with errors.Is; producers wrap them with context.
var (
	// ErrUnsupportedFormat indicates a document type the extractor cannot read.
	// Batch callers skip the file and continue.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrUndecodableText indicates plain text that is neither UTF-8 nor the legacy fallback encoding.
	ErrUndecodableText = errors.New("text could not be decoded")

	// ErrInvalidSplitConfig indicates chunk size/overlap values that violate 0 <= overlap < size.
	ErrInvalidSplitConfig = errors.New("invalid split config")

	// ErrIndexUnavailable indicates the vector store cannot be reached, opened or
	// is left unusable after a failed reset. Fatal for ingest and query.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrEmbedderMismatch indicates an index opened with an embedder other than the one it was built with.
	ErrEmbedderMismatch = errors.New("embedder does not match index")

	// ErrGeneration indicates a transport, timeout or service failure of the language model.
	ErrGeneration = errors.New("generation failed")

	// ErrInvalidInput indicates malformed or missing input.
	ErrInvalidInput = errors.New("invalid input")
)
