package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Vector  VectorConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	EmbedModel   string
	ChatModel    string
	WhisperModel string
	CaptionModel string
}

// VectorConfig selects the vector index backend. When URL is empty the
// embedded SQLite index is used; otherwise a chroma-style sidecar at URL.
type VectorConfig struct {
	URL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		OpenAI: OpenAIConfig{
			BaseURL:      "https://api.openai.com/v1",
			EmbedModel:   "text-embedding-3-small",
			ChatModel:    "gpt-4o-mini",
			WhisperModel: "whisper-1",
			CaptionModel: "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "secondbrain")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "secondbrain")
}

// Load reads configuration from defaults, an optional .env file in the
// working directory, and SECONDBRAIN_* environment variables (highest
// precedence). It does not require an API key; only the server does, so
// client commands can load addresses without one.
func Load() (Config, error) {
	// Missing .env is fine; env vars may come from the real environment.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// RequireAPIKey reports an error when no OpenAI API key is configured.
func (c Config) RequireAPIKey() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("missing required config: OpenAI API key. Set SECONDBRAIN_OPENAI_API_KEY (or OPENAI_API_KEY)")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.OpenAI.APIKey, "SECONDBRAIN_OPENAI_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "SECONDBRAIN_OPENAI_BASE_URL")
	setString(&cfg.OpenAI.EmbedModel, "SECONDBRAIN_EMBED_MODEL")
	setString(&cfg.OpenAI.ChatModel, "SECONDBRAIN_CHAT_MODEL")
	setString(&cfg.OpenAI.WhisperModel, "SECONDBRAIN_WHISPER_MODEL")
	setString(&cfg.OpenAI.CaptionModel, "SECONDBRAIN_CAPTION_MODEL")
	setString(&cfg.Vector.URL, "SECONDBRAIN_VECTOR_URL", "CHROMA_URL")
	setString(&cfg.Storage.DataDir, "SECONDBRAIN_DATA_DIR")
	setString(&cfg.Log.Level, "SECONDBRAIN_LOG_LEVEL")
	setInt(&cfg.Server.Port, "SECONDBRAIN_PORT", "PORT")
	setInt(&cfg.Server.MCPPort, "SECONDBRAIN_MCP_PORT")
}

// setString assigns the first non-empty environment variable among keys.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
			return
		}
	}
}
