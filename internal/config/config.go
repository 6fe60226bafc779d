package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration, loaded from environment variables
// and an optional config file.
type Config struct {
	// Telegram
	TelegramToken string

	// Ollama (optional, resolves free text the grammar can't)
	OllamaURL   string
	OllamaModel string

	// Server
	Port int // 0 disables the HTTP API

	// Mixing
	WorkDir       string
	OutputFormat  string // mp3, wav, opus
	MaxMixes      int    // concurrent mixes
	QueueSize     int    // mixes waiting beyond the running ones
	SessionTTL    time.Duration
	MaxUploadSize int64 // bytes

	// yt-dlp
	YTDLPCookies string
}

var defaults = map[string]any{
	"TELEGRAM_BOT_TOKEN":   "",
	"OLLAMA_URL":           "http://localhost:11434",
	"OLLAMA_MODEL":         "qwen3:8b",
	"HTTP_PORT":            8080,
	"WORK_DIR":             filepath.Join(os.TempDir(), "stereosplit"),
	"OUTPUT_FORMAT":        "mp3",
	"MAX_CONCURRENT_MIXES": 2,
	"MIX_QUEUE_SIZE":       16,
	"SESSION_TTL":          600, // seconds
	"YTDLP_COOKIES":        "",
	"MAX_UPLOAD_MB":        50,
}

// Load reads configuration with sane defaults. Values come from, in order of
// precedence: environment, a .env file in the working directory, then the
// config file at path (skipped when path is empty).
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	r := reader{v}
	cfg := Config{
		TelegramToken: r.str("TELEGRAM_BOT_TOKEN"),
		OllamaURL:     r.str("OLLAMA_URL"),
		OllamaModel:   r.str("OLLAMA_MODEL"),
		Port:          r.num("HTTP_PORT"),
		WorkDir:       r.str("WORK_DIR"),
		OutputFormat:  strings.ToLower(r.str("OUTPUT_FORMAT")),
		MaxMixes:      r.num("MAX_CONCURRENT_MIXES"),
		QueueSize:     r.num("MIX_QUEUE_SIZE"),
		SessionTTL:    time.Duration(r.num("SESSION_TTL")) * time.Second,
		YTDLPCookies:  r.str("YTDLP_COOKIES"),
		MaxUploadSize: int64(r.num("MAX_UPLOAD_MB")) << 20,
	}
	return cfg, nil
}

// reader applies the fallback rules on top of viper: empty strings and
// unparsable numbers fall back to the default.
type reader struct {
	v *viper.Viper
}

func (r reader) str(key string) string {
	if s := r.v.GetString(key); s != "" {
		return s
	}
	return fmt.Sprint(defaults[key])
}

func (r reader) num(key string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(r.v.GetString(key))); err == nil {
		return n
	}
	return defaults[key].(int)
}
