package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	OutputDir      string `env:"OUTPUT_DIR" envDefault:"./outputs"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"67108864"`

	WhisperURL     string        `env:"WHISPER_URL,required"`
	WhisperModel   string        `env:"WHISPER_MODEL"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
	Language       string        `env:"LANGUAGE"`

	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	YTDLPPath  string `env:"YTDLP_PATH" envDefault:"yt-dlp"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"scribe"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"scribe/transcriptions"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"transcripts"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// MQTTEnabled reports whether completion events should be published.
func (c *Config) MQTTEnabled() bool { return c.MQTTBrokerURL != "" }

// S3Enabled reports whether the artifact mirror should run.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	OutputDir  string
	WhisperURL string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// WHISPER_URL is required from the environment unless the CLI
	// override supplies it.
	if overrides.WhisperURL != "" {
		os.Setenv("WHISPER_URL", overrides.WhisperURL)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}

	return cfg, nil
}
