package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("TWITCH_CHANNEL", "#SomeChannel")
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("KICK_CHATROOM_ID", "1234")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	req.NoError(err)

	req.True(cfg.Twitch.Enabled())
	req.Equal("somechannel", cfg.Twitch.NormalizedChannel())
	req.True(cfg.Kick.Enabled())
	req.Equal(1234, cfg.Kick.ChatroomID)
	req.False(cfg.YouTube.Enabled())
	req.False(cfg.Joystick.Enabled())

	req.Equal("3000", cfg.Server.Port)
	req.Equal("http://localhost:3000", cfg.Server.PublicURL)
	req.Equal("eb1d5f283081a78b932c", cfg.Kick.PusherKey)
	req.Equal("us2", cfg.Kick.PusherCluster)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	req := require.New(t)
	path := writeConfig(t, `
server:
  port: "8080"
  public_url: https://chat.example.com/
youtube:
  api_key: file-key
  video_id: abc
joystick:
  client_id: jid
  client_secret: jsecret
  access_token: file-token
`)
	t.Setenv("JOYSTICK_ACCESS_TOKEN", "env-token")

	cfg, err := Load(path)
	req.NoError(err)

	req.Equal("8080", cfg.Server.Port)
	req.Equal("https://chat.example.com", cfg.Server.PublicURL)
	req.True(cfg.YouTube.Enabled())
	req.Equal("file-key", cfg.YouTube.APIKey)
	req.True(cfg.Joystick.Enabled())
	req.Equal("env-token", cfg.Joystick.AccessToken)
}

func TestLoad_ArchiveDefaultsAndValidation(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(writeConfig(t, "archive:\n  enabled: true\n"))
	req.NoError(err)
	req.Equal(100, cfg.Archive.Recorder.BufferSize)
	req.Equal(60, cfg.Archive.Recorder.RotateMinutes)
	req.Equal(100, cfg.Archive.Recorder.RotateMegabytes)
	req.Equal("./data", cfg.Archive.Recorder.OutputDir)
	req.Equal(3, cfg.Archive.Uploader.MaxRetries)

	_, err = Load(writeConfig(t, "archive:\n  enabled: true\n  s3:\n    bucket: logs\n"))
	req.ErrorContains(err, "region")

	_, err = Load(writeConfig(t, "archive:\n  enabled: true\n  s3:\n    bucket: logs\n    region: us-east-1\n    access_key_id: AK\n"))
	req.ErrorContains(err, "secret_access_key")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "twitch: [unclosed"))
	require.ErrorContains(t, err, "parse config file")
}
