package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server_url = "https://server.example:8000"
compensator_url = "https://compensator.example:8001"
project_id = "proj-1"
username = "alice"
token = "tok-1"
inquiry_period = "2s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://server.example:8000", cfg.ServerURL)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 2*time.Second, cfg.InquiryPeriod)

	// Unset durations fall back to the defaults.
	assert.Equal(t, defInquiryTimeout, cfg.InquiryTimeout)
	assert.Equal(t, defUploadTimeout, cfg.UploadTimeout)
	assert.Equal(t, defDownloadTimeout, cfg.DownloadTimeout)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing server URL",
			content: "project_id = \"proj-1\"\nusername = \"alice\"\ntoken = \"tok-1\"\n",
		},
		{
			name:    "missing project id",
			content: "server_url = \"http://localhost:8000\"\nusername = \"alice\"\ntoken = \"tok-1\"\n",
		},
		{
			name:    "missing username",
			content: "server_url = \"http://localhost:8000\"\nproject_id = \"proj-1\"\ntoken = \"tok-1\"\n",
		},
		{
			name:    "missing token",
			content: "server_url = \"http://localhost:8000\"\nproject_id = \"proj-1\"\nusername = \"alice\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
