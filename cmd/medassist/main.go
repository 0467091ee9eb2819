// Command medassist is the operator CLI for the medical decision assistant.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "medassist",
		Short:        "Medical decision assistant for hypertension and diabetes care",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: search ./, ./config, /etc/medassist)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(termsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(diagnoseCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration and builds a logger. Command
// output goes to stdout, so console logging is sent to stderr.
func loadConfig() (*config.Manager, *logrus.Logger, io.Closer, error) {
	manager, err := config.NewManagerFromFile(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, closer, err := config.NewLoggerTo(manager.GetConfig().Logging, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	return manager, logger, closer, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
