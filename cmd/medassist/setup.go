package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/config"
	"github.com/medical-decision-assistant/internal/setup"
)

func setupCmd() *cobra.Command {
	var clientConfig string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the lite MCP server with a desktop MCP client",
	}
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "Client config file (default: platform claude_desktop_config.json)")

	resolve := func() (string, error) {
		if clientConfig != "" {
			return clientConfig, nil
		}
		return setup.DefaultClientConfigPath()
	}

	var opts setup.Options
	registerCmd := &cobra.Command{
		Use:   "client",
		Short: "Add or update the server entry in the client config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if opts.PatientsFile != "" {
				if opts.PatientsFile, err = filepath.Abs(opts.PatientsFile); err != nil {
					return err
				}
			}

			entry, err := setup.Register(path, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %s in %s\n", setup.ServerName, path)
			fmt.Fprintf(out, "Server binary: %s\n", entry.Command)
			fmt.Fprintln(out, "Restart the client to load the new configuration.")
			return nil
		},
	}
	registerCmd.Flags().StringVar(&opts.BinaryPath, "binary", "", "Path to mcp-server-lite (default: search PATH and ./bin)")
	registerCmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "Data directory passed as MEDASSIST_DATA_DIR")
	registerCmd.Flags().StringVar(&opts.PatientsFile, "patients-file", "", "Patient dataset passed as MEDASSIST_PATIENTS_FILE")
	registerCmd.Flags().StringVar(&opts.KnowledgeBase, "knowledge-base", "", "Knowledge base passed as MEDASSIST_KNOWLEDGE_BASE")
	cmd.AddCommand(registerCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered and its files exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			status, err := setup.GetStatus(path, config.DefaultLiteConfig().DataDir)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	})

	return cmd
}
