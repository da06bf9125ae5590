// Package config reads murmur's settings from viper into typed structs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"node.town/murmur/llm"
	"node.town/murmur/stt"
)

var ErrInvalid = errors.New("invalid config")

type Deepgram struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	InterimResults bool   `mapstructure:"interim_results"`
	SmartFormat    bool   `mapstructure:"smart_format"`
	FillerWords    bool   `mapstructure:"filler_words"`
	Punctuate      bool   `mapstructure:"punctuate"`
	EndpointingMs  int    `mapstructure:"endpointing_ms"`
	UtteranceEndMs int    `mapstructure:"utterance_end_ms"`
}

type Audio struct {
	Device           string        `mapstructure:"device"`
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	Timeslice        time.Duration `mapstructure:"timeslice"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
}

type Session struct {
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	CaptionExpiry     time.Duration `mapstructure:"caption_expiry"`
}

type Completion struct {
	Provider      string        `mapstructure:"provider"`
	CredentialURL string        `mapstructure:"credential_url"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
	Ordering      string        `mapstructure:"ordering"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type Server struct {
	Addr             string `mapstructure:"addr"`
	Embedded         bool   `mapstructure:"embedded"`
	CompletionAPIKey string `mapstructure:"completion_api_key"`
	DeepgramAPIKey   string `mapstructure:"deepgram_api_key"`
	MaxUploadBytes   int64  `mapstructure:"max_upload_bytes"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Deepgram   Deepgram   `mapstructure:"deepgram"`
	Audio      Audio      `mapstructure:"audio"`
	Session    Session    `mapstructure:"session"`
	Completion Completion `mapstructure:"completion"`
	Server     Server     `mapstructure:"server"`
	Log        Log        `mapstructure:"log"`
}

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// SetDefaults installs every key with its default so that AutomaticEnv can
// see it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	dg := stt.DefaultOptions()
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.base_url", stt.DeepgramBaseURL)
	v.SetDefault("deepgram.model", dg.Model)
	v.SetDefault("deepgram.language", dg.Language)
	v.SetDefault("deepgram.interim_results", dg.InterimResults)
	v.SetDefault("deepgram.smart_format", dg.SmartFormat)
	v.SetDefault("deepgram.filler_words", dg.FillerWords)
	v.SetDefault("deepgram.punctuate", dg.Punctuate)
	v.SetDefault("deepgram.endpointing_ms", dg.Endpointing)
	v.SetDefault("deepgram.utterance_end_ms", dg.UtteranceEndMs)

	v.SetDefault("audio.device", "")
	v.SetDefault("audio.sample_rate", dg.Format.SampleRate)
	v.SetDefault("audio.channels", dg.Format.Channels)
	v.SetDefault("audio.timeslice", 250*time.Millisecond)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.echo_cancellation", true)

	v.SetDefault("session.keepalive_interval", 10*time.Second)
	v.SetDefault("session.caption_expiry", 3*time.Second)

	v.SetDefault("completion.provider", ProviderGroq)
	v.SetDefault("completion.credential_url", "http://127.0.0.1:8787/api/groq")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.base_url", llm.GroqBaseURL)
	v.SetDefault("completion.model", llm.DefaultModel)
	v.SetDefault("completion.system_prompt", llm.DefaultSystemPrompt)
	v.SetDefault("completion.ordering", string(llm.Arrival))
	v.SetDefault("completion.timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.embedded", true)
	v.SetDefault("server.completion_api_key", "")
	v.SetDefault("server.deepgram_api_key", "")
	v.SetDefault("server.max_upload_bytes", 64<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "murmur.log")
}

// providerEnv names each completion provider's conventional key variable.
var providerEnv = map[string]string{
	ProviderGroq:   "GROQ_API_KEY",
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGemini: "GEMINI_API_KEY",
}

// BindEnv maps the conventional provider variables onto config keys. The
// completion key variables land under provider.<name> and only the one for
// the selected provider is used, see Load.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("server.deepgram_api_key", "DEEPGRAM_API_KEY")
	for provider, env := range providerEnv {
		v.BindEnv("provider."+provider, env)
	}
}

func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.providerKey(v.GetString("provider." + c.Completion.Provider))
	return &c, nil
}

// providerKey fills the unset completion key from the selected provider's
// environment variable. Gemini keys are used directly; the others are served
// at /api/groq.
func (c *Config) providerKey(key string) {
	if key == "" {
		return
	}
	if c.Completion.Provider == ProviderGemini {
		if c.Completion.APIKey == "" {
			c.Completion.APIKey = key
		}
		return
	}
	if c.Server.CompletionAPIKey == "" {
		c.Server.CompletionAPIKey = key
	}
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Completion.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		problems = append(problems,
			fmt.Sprintf("completion.provider %q", c.Completion.Provider))
	}
	if _, err := llm.ParseOrdering(c.Completion.Ordering); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Audio.SampleRate <= 0 {
		problems = append(problems, "audio.sample_rate must be positive")
	}
	if c.Audio.Channels <= 0 {
		problems = append(problems, "audio.channels must be positive")
	}
	if c.Audio.Timeslice <= 0 {
		problems = append(problems, "audio.timeslice must be positive")
	}
	if c.Session.KeepAliveInterval <= 0 {
		problems = append(problems, "session.keepalive_interval must be positive")
	}
	if c.Session.CaptionExpiry <= 0 {
		problems = append(problems, "session.caption_expiry must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SessionOptions returns the live transcription parameters.
func (c *Config) SessionOptions() stt.Options {
	opts := stt.DefaultOptions()
	opts.Model = c.Deepgram.Model
	opts.Language = c.Deepgram.Language
	opts.InterimResults = c.Deepgram.InterimResults
	opts.SmartFormat = c.Deepgram.SmartFormat
	opts.FillerWords = c.Deepgram.FillerWords
	opts.Punctuate = c.Deepgram.Punctuate
	opts.Endpointing = c.Deepgram.EndpointingMs
	opts.UtteranceEndMs = c.Deepgram.UtteranceEndMs
	opts.Format.SampleRate = c.Audio.SampleRate
	opts.Format.Channels = c.Audio.Channels
	return opts
}

func (c *Config) DispatcherConfig() llm.DispatcherConfig {
	ordering, _ := llm.ParseOrdering(c.Completion.Ordering)
	return llm.DispatcherConfig{
		SystemPrompt: c.Completion.SystemPrompt,
		Ordering:     ordering,
		Timeout:      c.Completion.Timeout,
	}
}

// Endpoint returns the base URL and model for the configured provider,
// substituting the provider's own defaults where the Groq ones are still set.
func (c *Config) Endpoint() (baseURL, model string) {
	baseURL, model = c.Completion.BaseURL, c.Completion.Model
	switch c.Completion.Provider {
	case ProviderOpenAI:
		if baseURL == llm.GroqBaseURL {
			baseURL = llm.OpenAIBaseURL
		}
		if model == llm.DefaultModel {
			model = llm.DefaultOpenAIModel
		}
	case ProviderGemini:
		baseURL = ""
		if model == llm.DefaultModel {
			model = llm.DefaultGeminiModel
		}
	}
	return baseURL, model
}
