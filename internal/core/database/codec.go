package db

import (
	"encoding/json"
	"fmt"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw []byte) ([]string, error) {
	tags := []string{}
	if len(raw) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func encodeMetadata(m models.ChunkMetadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode chunk metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw []byte) (models.ChunkMetadata, error) {
	var m models.ChunkMetadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return m, nil
}

// checkDimensions rejects a chunk batch before any row is written if a
// vector does not match the index width.
func checkDimensions(chunks []models.DocumentChunk, dim int) error {
	if dim <= 0 {
		return nil
	}
	for i := range chunks {
		if n := len(chunks[i].Embedding); n != dim {
			return core.NewDimensionError(dim, n, chunks[i].Position)
		}
	}
	return nil
}
