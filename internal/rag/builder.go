package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultChunkSize is the passage size in runes used by the index builder.
const DefaultChunkSize = 500

// IndexBuilder embeds plain-text guideline files into a LocalIndex.
type IndexBuilder struct {
	embedder  Embedder
	model     string
	chunkSize int
	logger    *logrus.Logger
}

// NewIndexBuilder creates a builder. chunkSize <= 0 uses DefaultChunkSize.
func NewIndexBuilder(embedder Embedder, model string, chunkSize int, logger *logrus.Logger) *IndexBuilder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &IndexBuilder{embedder: embedder, model: model, chunkSize: chunkSize, logger: logger}
}

// BuildFromDir indexes every .txt and .md file under dir.
func (b *IndexBuilder) BuildFromDir(ctx context.Context, dir string) (*LocalIndex, error) {
	var passages []IndexedPassage

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for i, chunk := range ChunkText(string(raw), b.chunkSize) {
			vec, err := b.embedder.Embed(ctx, chunk)
			if err != nil {
				return fmt.Errorf("failed to embed %s chunk %d: %w", source, i, err)
			}
			passages = append(passages, IndexedPassage{
				ID:        fmt.Sprintf("%s#%d", source, i),
				Text:      chunk,
				Source:    source,
				Embedding: vec,
			})
		}

		b.logger.WithFields(logrus.Fields{
			"file":     path,
			"passages": len(passages),
		}).Info("Indexed guideline file")
		return nil
	})
	if err != nil {
		return nil, err
	}

	return NewLocalIndex(b.model, passages)
}

// ChunkText splits text on blank lines and packs paragraphs into chunks of at
// most size runes. Paragraphs longer than size are split.
func ChunkText(text string, size int) []string {
	var chunks []string
	var current []rune

	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		runes := []rune(strings.TrimSpace(para))
		if len(runes) == 0 {
			continue
		}
		if len(current) > 0 && len(current)+1+len(runes) > size {
			flush()
		}
		for len(runes) > size {
			current = append(current, runes[:size]...)
			flush()
			runes = runes[size:]
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, runes...)
	}
	flush()

	return chunks
}
