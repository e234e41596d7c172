// Package config handles application configuration.
//
// Values come, in rising priority, from defaults, an optional YAML file,
// VOXBRIDGE_* environment variables (plus the well-known provider key
// variables) and command-line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go.aimuz.me/voxbridge/lang"
	"go.aimuz.me/voxbridge/llm"
	"go.aimuz.me/voxbridge/translate"
)

const (
	appName        = "voxbridge"
	configFileName = "config.yaml"
	envPrefix      = "VOXBRIDGE"
)

// Strategy names accepted in Transcription.Strategies.
const (
	StrategyStreaming  = "streaming"
	StrategyBatch      = "batch"
	StrategyLocal      = "local"
	StrategyRecognizer = "recognizer"
)

var strategyNames = []string{StrategyStreaming, StrategyBatch, StrategyLocal, StrategyRecognizer}

// Config represents the application configuration.
type Config struct {
	Groq          ProviderConfig      `mapstructure:"groq"`
	Together      ProviderConfig      `mapstructure:"together"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Session       SessionConfig       `mapstructure:"session"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Cache         CacheConfig         `mapstructure:"cache"`
}

// ProviderConfig configures one translation provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"` // Default model, also used on failover

	// TranslateURL, when set, sends translations to this JSON endpoint
	// instead of calling the chat completion API directly.
	TranslateURL string `mapstructure:"translate_url"`
	// CheckURL, when set, validates the credential with GET -> {valid, error}.
	CheckURL string `mapstructure:"check_url"`
}

// TranscriptionConfig configures speech recognition.
type TranscriptionConfig struct {
	Strategies []string `mapstructure:"strategies"` // Priority order

	NegotiateURL string `mapstructure:"negotiate_url"` // Streaming session endpoint
	APIKey       string `mapstructure:"api_key"`       // Bearer token for negotiation

	WhisperBaseURL string `mapstructure:"whisper_base_url"`
	WhisperAPIKey  string `mapstructure:"whisper_api_key"`
	WhisperModel   string `mapstructure:"whisper_model"`

	WhisperBin       string `mapstructure:"whisper_bin"`
	WhisperModelPath string `mapstructure:"whisper_model_path"`

	ChunkDuration time.Duration `mapstructure:"chunk_duration"`
	VAD           bool          `mapstructure:"vad"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// SessionConfig holds the initial session settings.
type SessionConfig struct {
	InputLanguage    string        `mapstructure:"input_language"`
	OutputLanguage   string        `mapstructure:"output_language"`
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	AutoSpeak        bool          `mapstructure:"auto_speak"`
	DetectLanguage   bool          `mapstructure:"detect_language"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	BannerTTL        time.Duration `mapstructure:"banner_ttl"`
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"`
}

// SpeechConfig configures spoken output.
type SpeechConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Command []string `mapstructure:"command"` // e.g. [espeak-ng, -v, "{voice}", "{text}"]
	Voices  []string `mapstructure:"voices"`  // Locale codes the command can speak
}

// CacheConfig configures the translation cache.
type CacheConfig struct {
	Dir string `mapstructure:"dir"` // Empty keeps the cache in memory
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Groq: ProviderConfig{
			BaseURL: llm.GroqBaseURL,
			Model:   translate.DefaultModel(translate.Groq),
		},
		Together: ProviderConfig{
			BaseURL: llm.TogetherBaseURL,
			Model:   translate.DefaultModel(translate.Together),
		},
		Transcription: TranscriptionConfig{
			Strategies:    []string{StrategyStreaming, StrategyBatch, StrategyLocal},
			WhisperModel:  "whisper-1",
			ChunkDuration: 5 * time.Second,
			IdleTimeout:   120 * time.Second,
			MaxAttempts:   4,
			RetryDelay:    2 * time.Second,
		},
		Session: SessionConfig{
			InputLanguage:    lang.DefaultInputLocale,
			OutputLanguage:   lang.DefaultOutputLanguage,
			Provider:         string(translate.Groq),
			Model:            translate.DefaultModel(translate.Groq),
			AutoSpeak:        true,
			SettleDelay:      100 * time.Millisecond,
			BannerTTL:        3 * time.Second,
			TranslateTimeout: 30 * time.Second,
		},
		Speech: SpeechConfig{
			Enabled: true,
		},
	}
}

// Load reads the configuration into v and returns it. path may be empty, in
// which case config.yaml is looked up in the working directory and the user
// config directory; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindWellKnownEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(configFileName, filepath.Ext(configFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks language codes, provider ids and strategy names.
func (c *Config) Validate() error {
	var errs []error
	if !lang.IsInputLocale(c.Session.InputLanguage) {
		errs = append(errs, fmt.Errorf("session.input_language: unsupported locale %q", c.Session.InputLanguage))
	}
	if !lang.IsOutputLanguage(c.Session.OutputLanguage) {
		errs = append(errs, fmt.Errorf("session.output_language: unsupported language %q", c.Session.OutputLanguage))
	}
	if _, err := translate.ParseProviderID(c.Session.Provider); err != nil {
		errs = append(errs, fmt.Errorf("session.provider: %w", err))
	}
	for _, s := range c.Transcription.Strategies {
		if !slices.Contains(strategyNames, s) {
			errs = append(errs, fmt.Errorf("transcription.strategies: unknown strategy %q", s))
		}
	}
	if c.Transcription.MaxAttempts < 1 {
		errs = append(errs, errors.New("transcription.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Provider returns the settings of provider id.
func (c *Config) Provider(id translate.ProviderID) ProviderConfig {
	switch id {
	case translate.Together:
		return c.Together
	default:
		return c.Groq
	}
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Helper functions

// applyDefaults replaces zero values that the config file may have blanked.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Groq.BaseURL == "" {
		c.Groq.BaseURL = def.Groq.BaseURL
	}
	if c.Groq.Model == "" {
		c.Groq.Model = def.Groq.Model
	}
	if c.Together.BaseURL == "" {
		c.Together.BaseURL = def.Together.BaseURL
	}
	if c.Together.Model == "" {
		c.Together.Model = def.Together.Model
	}
	if len(c.Transcription.Strategies) == 0 {
		c.Transcription.Strategies = def.Transcription.Strategies
	}
	if c.Transcription.ChunkDuration == 0 {
		c.Transcription.ChunkDuration = def.Transcription.ChunkDuration
	}
	if c.Transcription.RetryDelay == 0 {
		c.Transcription.RetryDelay = def.Transcription.RetryDelay
	}
	if c.Session.Model == "" {
		c.Session.Model = translate.DefaultModel(translate.ProviderID(c.Session.Provider))
	}
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("groq.base_url", def.Groq.BaseURL)
	v.SetDefault("groq.model", def.Groq.Model)
	v.SetDefault("groq.api_key", "")
	v.SetDefault("groq.translate_url", "")
	v.SetDefault("groq.check_url", "")
	v.SetDefault("together.base_url", def.Together.BaseURL)
	v.SetDefault("together.model", def.Together.Model)
	v.SetDefault("together.api_key", "")
	v.SetDefault("together.translate_url", "")
	v.SetDefault("together.check_url", "")

	v.SetDefault("transcription.strategies", def.Transcription.Strategies)
	v.SetDefault("transcription.negotiate_url", "")
	v.SetDefault("transcription.api_key", "")
	v.SetDefault("transcription.whisper_base_url", "")
	v.SetDefault("transcription.whisper_api_key", "")
	v.SetDefault("transcription.whisper_model", def.Transcription.WhisperModel)
	v.SetDefault("transcription.whisper_bin", "")
	v.SetDefault("transcription.whisper_model_path", "")
	v.SetDefault("transcription.chunk_duration", def.Transcription.ChunkDuration)
	v.SetDefault("transcription.vad", false)
	v.SetDefault("transcription.idle_timeout", def.Transcription.IdleTimeout)
	v.SetDefault("transcription.max_attempts", def.Transcription.MaxAttempts)
	v.SetDefault("transcription.retry_delay", def.Transcription.RetryDelay)

	v.SetDefault("session.input_language", def.Session.InputLanguage)
	v.SetDefault("session.output_language", def.Session.OutputLanguage)
	v.SetDefault("session.provider", def.Session.Provider)
	v.SetDefault("session.model", "")
	v.SetDefault("session.auto_speak", def.Session.AutoSpeak)
	v.SetDefault("session.detect_language", false)
	v.SetDefault("session.settle_delay", def.Session.SettleDelay)
	v.SetDefault("session.banner_ttl", def.Session.BannerTTL)
	v.SetDefault("session.translate_timeout", def.Session.TranslateTimeout)

	v.SetDefault("speech.enabled", def.Speech.Enabled)
	v.SetDefault("speech.command", []string{})
	v.SetDefault("speech.voices", []string{})

	v.SetDefault("cache.dir", "")
}

// bindWellKnownEnv lets the usual provider variables fill the keys.
func bindWellKnownEnv(v *viper.Viper) {
	v.BindEnv("groq.api_key", envPrefix+"_GROQ_API_KEY", "GROQ_API_KEY")
	v.BindEnv("together.api_key", envPrefix+"_TOGETHER_API_KEY", "TOGETHER_API_KEY")
	v.BindEnv("transcription.whisper_api_key", envPrefix+"_TRANSCRIPTION_WHISPER_API_KEY", "OPENAI_API_KEY")
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}
