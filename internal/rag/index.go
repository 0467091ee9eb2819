package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/medical-decision-assistant/internal/domain"
)

// IndexFileName is the index file name inside the knowledge base directory.
const IndexFileName = "index.json"

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// IndexedPassage is a passage together with its embedding.
type IndexedPassage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Page      string    `json:"page,omitempty"`
	Embedding []float64 `json:"embedding"`
}

type indexFile struct {
	Model     string           `json:"model"`
	Dimension int              `json:"dimension"`
	Passages  []IndexedPassage `json:"passages"`
}

// LocalIndex is an in-memory vector index loaded from a JSON file.
type LocalIndex struct {
	model     string
	dimension int
	passages  []IndexedPassage
	vectors   []*mat.VecDense
	norms     []float64
}

// NewLocalIndex validates passages and precomputes their norms.
func NewLocalIndex(model string, passages []IndexedPassage) (*LocalIndex, error) {
	idx := &LocalIndex{
		model:    model,
		passages: passages,
		vectors:  make([]*mat.VecDense, len(passages)),
		norms:    make([]float64, len(passages)),
	}

	for i, p := range passages {
		if len(p.Embedding) == 0 {
			return nil, fmt.Errorf("passage %q has no embedding", p.ID)
		}
		if idx.dimension == 0 {
			idx.dimension = len(p.Embedding)
		} else if len(p.Embedding) != idx.dimension {
			return nil, fmt.Errorf("passage %q has dimension %d, expected %d", p.ID, len(p.Embedding), idx.dimension)
		}
		idx.vectors[i] = mat.NewVecDense(len(p.Embedding), p.Embedding)
		idx.norms[i] = floats.Norm(p.Embedding, 2)
	}

	return idx, nil
}

// LoadIndex reads an index file. A missing file returns ErrNotFound.
func LoadIndex(path string) (*LocalIndex, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NotFoundf("index file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var file indexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}

	idx, err := NewLocalIndex(file.Model, file.Passages)
	if err != nil {
		return nil, fmt.Errorf("invalid index %s: %w", path, err)
	}
	if file.Dimension != 0 && idx.dimension != 0 && file.Dimension != idx.dimension {
		return nil, fmt.Errorf("invalid index %s: declared dimension %d, found %d", path, file.Dimension, idx.dimension)
	}
	return idx, nil
}

// Save writes the index as JSON, creating parent directories.
func (idx *LocalIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	raw, err := json.Marshal(indexFile{Model: idx.model, Dimension: idx.dimension, Passages: idx.passages})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// Len returns the number of passages.
func (idx *LocalIndex) Len() int {
	return len(idx.passages)
}

// Model returns the embedding model the index was built with.
func (idx *LocalIndex) Model() string {
	return idx.model
}

// Dimension returns the embedding dimension, or 0 for an empty index.
func (idx *LocalIndex) Dimension() int {
	return idx.dimension
}

// Search returns the topK passages by cosine similarity, best first.
func (idx *LocalIndex) Search(query []float64, topK int) ([]Passage, error) {
	if len(idx.passages) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.dimension)
	}

	q := mat.NewVecDense(len(query), query)
	qNorm := floats.Norm(query, 2)

	type scored struct {
		i     int
		score float64
	}
	results := make([]scored, len(idx.passages))
	for i, v := range idx.vectors {
		score := 0.0
		if qNorm > 0 && idx.norms[i] > 0 {
			score = mat.Dot(q, v) / (qNorm * idx.norms[i])
		}
		results[i] = scored{i: i, score: score}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})
	if topK > len(results) {
		topK = len(results)
	}

	out := make([]Passage, 0, topK)
	for _, r := range results[:topK] {
		p := idx.passages[r.i]
		out = append(out, Passage{ID: p.ID, Text: p.Text, Source: p.Source, Page: p.Page, Score: r.score})
	}
	return out, nil
}

// VectorRetriever embeds the question and searches a LocalIndex.
type VectorRetriever struct {
	embedder Embedder
	index    *LocalIndex
}

// NewVectorRetriever creates a retriever over index.
func NewVectorRetriever(embedder Embedder, index *LocalIndex) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, index: index}
}

// Retrieve implements Retriever.
func (r *VectorRetriever) Retrieve(ctx context.Context, question string, topK int) ([]Passage, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return r.index.Search(vec, topK)
}
