package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Kick     KickConfig     `yaml:"kick"`
	Joystick JoystickConfig `yaml:"joystick"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds the HTTP surface configuration
type ServerConfig struct {
	Port      string `yaml:"port" env:"PORT"`
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"` // Base URL shown in authorization notices
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"` // Overlay files served at /
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Channel      string `yaml:"channel" env:"TWITCH_CHANNEL"`
	ClientID     string `yaml:"client_id" env:"TWITCH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"TWITCH_CLIENT_SECRET"`
	AccessToken  string `yaml:"access_token" env:"TWITCH_ACCESS_TOKEN"`
	RefreshToken string `yaml:"refresh_token" env:"TWITCH_REFRESH_TOKEN"`
	BotUsername  string `yaml:"bot_username" env:"TWITCH_BOT_USERNAME"`
}

// YouTubeConfig holds YouTube live chat configuration
type YouTubeConfig struct {
	APIKey  string `yaml:"api_key" env:"YOUTUBE_API_KEY"`
	VideoID string `yaml:"video_id" env:"YOUTUBE_LIVE_VIDEO_ID"`
}

// KickConfig holds Kick configuration
type KickConfig struct {
	ChannelName   string `yaml:"channel_name" env:"KICK_CHANNEL_NAME"`
	ChatroomID    int    `yaml:"chatroom_id" env:"KICK_CHATROOM_ID"` // 0 means resolve via API
	PusherKey     string `yaml:"pusher_key" env:"KICK_PUSHER_KEY"`
	PusherCluster string `yaml:"pusher_cluster" env:"KICK_PUSHER_CLUSTER"`
}

// JoystickConfig holds Joystick configuration
type JoystickConfig struct {
	ClientID     string `yaml:"client_id" env:"JOYSTICK_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"JOYSTICK_CLIENT_SECRET"`
	AccessToken  string `yaml:"access_token" env:"JOYSTICK_ACCESS_TOKEN"`
	RefreshToken string `yaml:"refresh_token" env:"JOYSTICK_REFRESH_TOKEN"`
}

// ArchiveConfig holds the optional transcript archive configuration
type ArchiveConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ARCHIVE_ENABLED"`
	Recorder RecorderConfig `yaml:"recorder"`
	S3       S3Config       `yaml:"s3"`
	Uploader UploaderConfig `yaml:"uploader"`
}

// RecorderConfig holds recorder configuration
type RecorderConfig struct {
	OutputDir       string `yaml:"output_dir" env:"ARCHIVE_OUTPUT_DIR"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"S3_BUCKET"`
	Region          string `yaml:"region" env:"S3_REGION"`
	RoleARN         string `yaml:"role_arn" env:"AWS_ROLE_ARN"`                               // Assumed through STS when set
	TokenFile       string `yaml:"web_identity_token_file" env:"AWS_WEB_IDENTITY_TOKEN_FILE"` // OIDC token for RoleARN
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`                      // Static credentials
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`              // Static credentials
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`                                // For S3-compatible services
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// Enabled reports whether Twitch has enough configuration to run
func (c TwitchConfig) Enabled() bool {
	return c.Channel != "" && c.ClientID != "" && c.ClientSecret != ""
}

// NormalizedChannel returns the channel name lower-cased without a leading '#'
func (c TwitchConfig) NormalizedChannel() string {
	return strings.TrimPrefix(strings.ToLower(c.Channel), "#")
}

// Enabled reports whether YouTube has enough configuration to run
func (c YouTubeConfig) Enabled() bool {
	return c.APIKey != "" && c.VideoID != ""
}

// Enabled reports whether Kick has enough configuration to run
func (c KickConfig) Enabled() bool {
	return c.ChannelName != "" || c.ChatroomID > 0
}

// Enabled reports whether Joystick has enough configuration to run
func (c JoystickConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load loads configuration from a YAML file, then applies environment
// overrides. A missing file is not an error: the service can run from
// environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "3000"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:" + c.Server.Port
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")

	if c.Kick.PusherKey == "" {
		c.Kick.PusherKey = "eb1d5f283081a78b932c"
	}
	if c.Kick.PusherCluster == "" {
		c.Kick.PusherCluster = "us2"
	}

	if c.Archive.Recorder.BufferSize == 0 {
		c.Archive.Recorder.BufferSize = 100
	}
	if c.Archive.Recorder.RotateMinutes == 0 {
		c.Archive.Recorder.RotateMinutes = 60
	}
	if c.Archive.Recorder.RotateMegabytes == 0 {
		c.Archive.Recorder.RotateMegabytes = 100
	}
	if c.Archive.Recorder.OutputDir == "" {
		c.Archive.Recorder.OutputDir = "./data"
	}
	if c.Archive.Uploader.MaxRetries == 0 {
		c.Archive.Uploader.MaxRetries = 3
	}
}

// validate only checks the archive: an unconfigured platform is not an
// error, it simply does not start.
func (c *Config) validate() error {
	if !c.Archive.Enabled || c.Archive.S3.Bucket == "" {
		return nil
	}
	if c.Archive.S3.Region == "" {
		return fmt.Errorf("archive.s3.region is required when archive.s3.bucket is set")
	}
	if c.Archive.S3.AccessKeyID != "" && c.Archive.S3.SecretAccessKey == "" {
		return fmt.Errorf("archive.s3.secret_access_key is required when using access_key_id")
	}
	return nil
}
