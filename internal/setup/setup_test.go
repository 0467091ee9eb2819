package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_PreservesOtherServers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "Claude", "claude_desktop_config.json")
	require.NoError(t, SaveClientConfig(configPath, &ClientConfig{
		MCPServers: map[string]MCPServerConfig{"other": {Command: "/bin/other"}},
	}))

	// Act
	entry, err := Register(configPath, Options{
		BinaryPath:   "/opt/medassist/mcp-server-lite",
		DataDir:      "/data/medassist",
		PatientsFile: "/data/patients.json",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "/opt/medassist/mcp-server-lite", entry.Command)

	config, err := LoadClientConfig(configPath)
	require.NoError(t, err)
	assert.Len(t, config.MCPServers, 2)
	assert.Equal(t, "/bin/other", config.MCPServers["other"].Command)
	assert.Equal(t, map[string]string{
		"MEDASSIST_DATA_DIR":      "/data/medassist",
		"MEDASSIST_PATIENTS_FILE": "/data/patients.json",
	}, config.MCPServers[ServerName].Env)
}

func TestLoadClientConfig_Missing(t *testing.T) {
	config, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.json"))

	require.NoError(t, err)
	assert.Empty(t, config.MCPServers)
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := LoadClientConfig(path)

	assert.Error(t, err)
}

func TestGetStatus(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "claude_desktop_config.json")

	status, err := GetStatus(configPath, dir)
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.NotEmpty(t, status.Issues)

	binary := filepath.Join(dir, BinaryName)
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))
	_, err = Register(configPath, Options{BinaryPath: binary, DataDir: dir})
	require.NoError(t, err)

	status, err = GetStatus(configPath, "")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, binary, status.Command)
	assert.Equal(t, dir, status.DataDir)
	assert.Empty(t, status.Issues)
	assert.Equal(t, []string{ServerName}, status.Servers)
}
