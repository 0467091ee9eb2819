package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/rag"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the guideline vector index",
	}

	var (
		dir       string
		output    string
		chunkSize int
	)
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Embed the .txt and .md guideline files into the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			cfg := manager.GetConfig()
			if dir == "" {
				dir = cfg.RAG.KnowledgeBasePath
			}
			if output == "" {
				output = manager.IndexPath()
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fmt.Errorf("knowledge base directory not found: %s", dir)
			}

			client, err := rag.NewOpenAIClient(cfg.LLM, logger)
			if err != nil {
				return err
			}

			model := cfg.LLM.EmbeddingModel
			if model == "" {
				model = rag.DefaultEmbeddingModel
			}
			index, err := rag.NewIndexBuilder(client, model, chunkSize, logger).BuildFromDir(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if index.Len() == 0 {
				return errors.New("no .txt or .md files found in " + dir)
			}

			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return fmt.Errorf("failed to create index directory: %w", err)
			}
			if err := index.Save(output); err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"passages":  index.Len(),
				"dimension": index.Dimension(),
				"path":      output,
			}).Info("Index built")
			return nil
		},
	}
	buildCmd.Flags().StringVarP(&dir, "dir", "d", "", "Guideline directory (default rag.knowledge_base_path)")
	buildCmd.Flags().StringVarP(&output, "output", "o", "", "Index file (default rag.knowledge_base_path/rag.index_file)")
	buildCmd.Flags().IntVar(&chunkSize, "chunk-size", rag.DefaultChunkSize, "Passage size in characters")
	cmd.AddCommand(buildCmd)

	return cmd
}
