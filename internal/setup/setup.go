// Package setup registers the lite MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// ServerName is the key the assistant is registered under.
const ServerName = "medical-decision-assistant"

// BinaryName is the lite server executable.
const BinaryName = "mcp-server-lite"

// ClientConfig is the desktop client's configuration file structure.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server entry.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options describe the server entry to write.
type Options struct {
	BinaryPath    string
	DataDir       string
	PatientsFile  string
	KnowledgeBase string
}

// Env returns the environment the server entry is launched with.
func (o Options) Env() map[string]string {
	env := make(map[string]string)
	if o.DataDir != "" {
		env["MEDASSIST_DATA_DIR"] = o.DataDir
	}
	if o.PatientsFile != "" {
		env["MEDASSIST_PATIENTS_FILE"] = o.PatientsFile
	}
	if o.KnowledgeBase != "" {
		env["MEDASSIST_KNOWLEDGE_BASE"] = o.KnowledgeBase
	}
	return env
}

// DefaultClientConfigPath returns the platform location of the desktop
// client's claude_desktop_config.json.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads configPath. A missing file yields an empty config.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &ClientConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ClientConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}
	return &config, nil
}

// SaveClientConfig writes config to configPath, creating its directory.
func SaveClientConfig(configPath string, config *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the assistant's entry in configPath. Other
// servers in the file are left untouched.
func Register(configPath string, opts Options) (*MCPServerConfig, error) {
	config, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		if binaryPath, err = FindBinary(); err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{Command: binaryPath, Env: opts.Env()}
	config.MCPServers[ServerName] = entry

	if err := SaveClientConfig(configPath, config); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindBinary looks for the lite server on PATH and in the usual build
// locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	for _, loc := range []string{
		"./" + BinaryName,
		"./bin/" + BinaryName,
		filepath.Join(home, ".local", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	} {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary '%s' not found in common locations", BinaryName)
}

// Status is the registration state of the assistant.
type Status struct {
	ConfigPath string   `json:"config_path"`
	Registered bool     `json:"registered"`
	Command    string   `json:"command,omitempty"`
	DataDir    string   `json:"data_dir,omitempty"`
	Servers    []string `json:"servers"`
	Issues     []string `json:"issues"`
}

// GetStatus inspects configPath. defaultDataDir is reported when the entry
// does not override MEDASSIST_DATA_DIR.
func GetStatus(configPath, defaultDataDir string) (*Status, error) {
	config, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: configPath, DataDir: defaultDataDir, Issues: []string{}}
	for name := range config.MCPServers {
		status.Servers = append(status.Servers, name)
	}
	sort.Strings(status.Servers)

	entry, ok := config.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, ServerName+" is not registered")
		return status, nil
	}

	status.Registered = true
	status.Command = entry.Command
	if info, err := os.Stat(entry.Command); err != nil {
		status.Issues = append(status.Issues, "server binary not found: "+entry.Command)
	} else if info.Mode()&0111 == 0 {
		status.Issues = append(status.Issues, "server binary is not executable: "+entry.Command)
	}

	if dir, ok := entry.Env["MEDASSIST_DATA_DIR"]; ok {
		status.DataDir = dir
	}
	if status.DataDir != "" {
		if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
			status.Issues = append(status.Issues, "data directory will be created on first run: "+status.DataDir)
		}
	}
	if file, ok := entry.Env["MEDASSIST_PATIENTS_FILE"]; ok {
		if _, err := os.Stat(file); err != nil {
			status.Issues = append(status.Issues, "patients file not found: "+file)
		}
	}
	return status, nil
}
