package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
)

// keywordEmbedder maps text onto a fixed vocabulary, one dimension per word.
type keywordEmbedder struct {
	vocabulary []string
	calls      int
	err        error
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	vec := make([]float64, len(k.vocabulary))
	for i, word := range k.vocabulary {
		vec[i] = float64(strings.Count(text, word))
	}
	return vec, nil
}

func testPassages() []IndexedPassage {
	return []IndexedPassage{
		{ID: "a", Text: "高血压", Source: "htn", Embedding: []float64{1, 0, 0}},
		{ID: "b", Text: "糖尿病", Source: "dm", Embedding: []float64{0, 1, 0}},
		{ID: "c", Text: "高血压合并糖尿病", Source: "htn", Page: "12", Embedding: []float64{1, 1, 0}},
	}
}

func TestLocalIndex_Search(t *testing.T) {
	idx, err := NewLocalIndex("test", testPassages())
	require.NoError(t, err)

	// Act
	results, err := idx.Search([]float64{1, 0.2, 0}, 2)

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "12", results[1].Page)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 0.9806, results[0].Score, 0.001)
}

func TestLocalIndex_SearchEdgeCases(t *testing.T) {
	idx, err := NewLocalIndex("test", testPassages())
	require.NoError(t, err)

	all, err := idx.Search([]float64{0, 1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = idx.Search([]float64{1, 0}, 1)
	assert.Error(t, err)

	zero, err := idx.Search([]float64{0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero[0].Score)

	empty, err := NewLocalIndex("test", nil)
	require.NoError(t, err)
	results, err := empty.Search([]float64{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewLocalIndex_DimensionMismatch(t *testing.T) {
	passages := testPassages()
	passages[1].Embedding = []float64{1, 1}

	_, err := NewLocalIndex("test", passages)
	assert.ErrorContains(t, err, "dimension")
}

func TestLocalIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb", IndexFileName)
	idx, err := NewLocalIndex(DefaultEmbeddingModel, testPassages())
	require.NoError(t, err)

	require.NoError(t, idx.Save(path))
	loaded, err := LoadIndex(path)
	require.NoError(t, err)

	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, 3, loaded.Dimension())
	assert.Equal(t, DefaultEmbeddingModel, loaded.Model())
}

func TestLoadIndex_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadIndex(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadIndex(bad)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestVectorRetriever_Retrieve(t *testing.T) {
	idx, err := NewLocalIndex("test", testPassages())
	require.NoError(t, err)
	embedder := &keywordEmbedder{vocabulary: []string{"高血压", "糖尿病", "冠心病"}}

	results, err := NewVectorRetriever(embedder, idx).Retrieve(context.Background(), "糖尿病饮食", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	embedder.err = errors.New("quota exceeded")
	_, err = NewVectorRetriever(embedder, idx).Retrieve(context.Background(), "糖尿病饮食", 1)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestCachedEmbedder(t *testing.T) {
	inner := &keywordEmbedder{vocabulary: []string{"高血压"}}
	cached, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(ctx, "高血压")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	_, _ = cached.Embed(ctx, "b")
	_, _ = cached.Embed(ctx, "c")
	assert.Equal(t, 2, cached.Len())

	// evicted entries are embedded again
	_, _ = cached.Embed(ctx, "高血压")
	assert.Equal(t, 4, inner.calls)

	inner.err = errors.New("boom")
	_, err = cached.Embed(ctx, "new text")
	assert.Error(t, err)
	assert.Equal(t, 2, cached.Len())
}
