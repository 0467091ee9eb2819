package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/statistics"
	"github.com/medical-decision-assistant/internal/terminology"
)

func termsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "Inspect the medical terminology table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List synonym groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := terminology.NewNormalizer(nil)
			if err != nil {
				return err
			}
			for _, g := range n.Groups() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", g.Canonical, strings.Join(g.Synonyms, "、"))
			}
			return nil
		},
	})

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the terminology table as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := terminology.NewNormalizer(nil)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return n.ExportJSON(cmd.OutOrStdout())
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer file.Close()
			if err := n.ExportJSON(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d terms to %s\n", n.Len(), output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "normalize <term>",
		Short: "Show the standard name of a term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := terminology.NewNormalizer(nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"term":     args[0],
				"standard": n.Normalize(args[0]),
				"synonyms": n.Synonyms(args[0]),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "expand <query>",
		Short: "Annotate a question with standard terms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := terminology.NewNormalizer(nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n.ExpandQuery(strings.Join(args, " ")))
			return nil
		},
	})

	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Case statistics",
	}

	var dimension, file string
	insulinCmd := &cobra.Command{
		Use:   "insulin",
		Short: "Insulin status distribution from the diabetes case workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			path := file
			if path == "" {
				path = manager.GetConfig().Data.DiabetesExcel
			}
			stats, err := statistics.NewInsulinAnalyzer(path, logger).Analyze(dimension)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	insulinCmd.Flags().StringVarP(&dimension, "dimension", "d", "gender", "Grouping: gender, age, height or weight")
	insulinCmd.Flags().StringVarP(&file, "file", "f", "", "Workbook path (default data.diabetes_excel)")
	cmd.AddCommand(insulinCmd)

	return cmd
}
