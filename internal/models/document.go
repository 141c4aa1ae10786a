package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPayload = errors.New("invalid chunk payload")

// ChunkPayload is the metadata stored alongside each chunk vector.
type ChunkPayload struct {
	TenantID    string `json:"tenant_id"`
	SourceName  string `json:"source_name"`
	Text        string `json:"text"`
	ChunkIndex  int    `json:"chunk_index"`
	ChunkTotal  int    `json:"chunk_total"`
	Description string `json:"description"`
	SizeBytes   int64  `json:"size_bytes"`
	Kind        string `json:"kind"`
}

func (p ChunkPayload) Validate() error {
	switch {
	case p.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", ErrInvalidPayload)
	case p.SourceName == "":
		return fmt.Errorf("%w: missing source name", ErrInvalidPayload)
	case strings.TrimSpace(p.Text) == "":
		return fmt.Errorf("%w: empty text", ErrInvalidPayload)
	case p.ChunkTotal <= 0 || p.ChunkIndex < 0 || p.ChunkIndex >= p.ChunkTotal:
		return fmt.Errorf("%w: chunk %d of %d", ErrInvalidPayload, p.ChunkIndex, p.ChunkTotal)
	case p.SizeBytes < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidPayload)
	}
	return nil
}

// DocumentSummary is one source file as seen through its stored chunks.
type DocumentSummary struct {
	Filename    string `json:"filename"`
	Chunks      int    `json:"chunks"`
	Description string `json:"description"`
	SizeBytes   int64  `json:"size_bytes"`
}

// DocumentListing is the per-tenant projection over stored points.
type DocumentListing struct {
	TenantID       string            `json:"tenant_id"`
	Namespace      string            `json:"namespace"`
	Documents      []DocumentSummary `json:"documents"`
	TotalDocuments int               `json:"total_documents"`
	TotalChunks    int               `json:"total_chunks"`
	Error          string            `json:"error,omitempty"`
}
