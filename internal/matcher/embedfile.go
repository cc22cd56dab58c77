package matcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ExpectedPoses is the number of pose vectors the enrollment step produces per student.
// Files with fewer or more poses are accepted.
const ExpectedPoses = 3

// ErrEmptyEmbeddingFile is returned for files that parse but hold no vectors.
var ErrEmptyEmbeddingFile = errors.New("embedding file contains no vectors")

type embeddingFile struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// LoadEmbeddingFile reads the pose vectors written by enrollment. Two JSON layouts are accepted:
// a bare array of vectors, or an object with an "embeddings" array.
func LoadEmbeddingFile(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedding file: %w", err)
	}
	return parseEmbeddings(data)
}

func parseEmbeddings(data []byte) ([][]float32, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyEmbeddingFile
	}

	var vectors [][]float32
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &vectors); err != nil {
			return nil, fmt.Errorf("decode embedding array: %w", err)
		}
	case '{':
		var f embeddingFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode embedding object: %w", err)
		}
		vectors = f.Embeddings
	default:
		return nil, fmt.Errorf("unrecognized embedding file format")
	}

	if len(vectors) == 0 {
		return nil, ErrEmptyEmbeddingFile
	}
	return vectors, nil
}
