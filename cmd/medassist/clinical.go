package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/app"
	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/rag"
)

// parseLabs turns name=value pairs into a panel.
func parseLabs(pairs []string) (domain.LabPanel, error) {
	panel := make(domain.LabPanel, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid lab %q, expected name=value", pair)
		}
		panel = append(panel, domain.LabEntry{Name: name, Value: domain.TextValue(strings.TrimSpace(value))})
	}
	return panel, nil
}

func diagnoseCmd() *cobra.Command {
	var (
		symptoms  []string
		labs      []string
		patientID string
	)

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run a differential diagnosis and print the report",
		Example: `  medassist diagnose --symptom 头晕 --symptom 胸闷 --lab 收缩压=165 --lab 舒张压=100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			panel, err := parseLabs(labs)
			if err != nil {
				return err
			}
			if len(symptoms) == 0 && len(panel) == 0 {
				return errors.New("at least one --symptom or --lab is required")
			}

			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			application, err := app.New(cmd.Context(), manager.GetConfig(), manager.IndexPath(), logger)
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.Deps.Diagnosis.GenerateDiagnosisReport(cmd.Context(), patientID, symptoms, panel)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&symptoms, "symptom", "s", nil, "Presenting symptom (repeatable)")
	cmd.Flags().StringArrayVarP(&labs, "lab", "l", nil, "Lab reading as name=value (repeatable)")
	cmd.Flags().StringVarP(&patientID, "patient", "p", "", "Patient ID for the history boost")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		patientID string
		noSafety  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the guideline knowledge base and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			application, err := app.New(ctx, manager.GetConfig(), manager.IndexPath(), logger)
			if err != nil {
				return err
			}
			defer application.Close()

			engine := application.Engine()
			if engine == nil {
				return domain.ErrEngineUnavailable
			}

			question := strings.Join(args, " ")
			if patientID != "" {
				if summary := application.Deps.Tools.PatientContext(ctx, patientID); summary != "" {
					question = rag.WithContext(question, []rag.KV{{Key: "患者信息", Value: summary}})
				}
			}

			stream, err := engine.QueryStream(ctx, question)
			if err != nil {
				return err
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			var full strings.Builder
			for {
				chunk, err := stream.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				full.WriteString(chunk)
				fmt.Fprint(out, chunk)
			}

			if !noSafety {
				for _, chunk := range application.Deps.Safety.StreamFooter(full.String()) {
					fmt.Fprint(out, chunk)
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&patientID, "patient", "p", "", "Patient whose summary is added to the question")
	cmd.Flags().BoolVar(&noSafety, "no-safety", false, "Skip the safety footer")
	return cmd
}
