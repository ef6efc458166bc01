// Package config loads process-wide settings from the environment.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LogLevel is one of DEBUG, INFO, WARNING, ERROR.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Fixed domain constants (§6.8). These are not configurable.
const (
	SampleRateClient = 16000
	SampleRateSTT    = 24000
	FrameDurationMS  = 20
	FrameSamplesClient = SampleRateClient * FrameDurationMS / 1000 // 320
	FrameSamplesSTT    = SampleRateSTT * FrameDurationMS / 1000    // 480
	BytesPerSample     = 2

	AudioQueueCapacity = 200

	AggregationTimeout      = 800 * time.Millisecond
	AggregationWordThreshold = 12
	HintRateLimit           = 2000 * time.Millisecond

	MaxHintPoints    = 3
	MaxContextTokens = 2000

	LastContextUtterances = 2
	GlobalContextMaxChars = 500
	HistorySize           = 20

	RetrievalChunkMaxChars = 1000
	RetrievalChunkOverlap  = 100
	RetrievalFileTopKeywords  = 50
	RetrievalChunkTopKeywords = 20
	RetrievalQueryTopKeywords = 10
	RetrievalTopK             = 3

	CompletionTimeout = 30 * time.Second
)

// Settings holds the process's environment-derived configuration. Mirrors
// the field set of the Python Settings(BaseSettings) it was distilled from.
type Settings struct {
	OpenAIAPIKey string `mapstructure:"openai_api_key" validate:"required"`

	OllamaBaseURL string `mapstructure:"ollama_base_url"`
	OllamaModel   string `mapstructure:"ollama_model"`

	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`

	LogLevel LogLevel `mapstructure:"log_level" validate:"oneof=DEBUG INFO WARNING ERROR"`

	DebugSaveAudio bool   `mapstructure:"debug_save_audio"`
	DebugAudioPath string `mapstructure:"debug_audio_path"`
}

// Load reads settings from .env (if present) and the environment, applying
// defaults and validating required fields.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3.1:8b")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8010)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("debug_save_audio", false)
	v.SetDefault("debug_audio_path", "./debug_audio")

	for _, key := range []string{
		"openai_api_key", "ollama_base_url", "ollama_model",
		"server_host", "server_port", "log_level",
		"debug_save_audio", "debug_audio_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&settings); err != nil {
		return nil, fmt.Errorf("config: invalid settings: %w", err)
	}

	return &settings, nil
}
