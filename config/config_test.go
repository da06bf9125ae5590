package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"node.town/murmur/llm"
	"node.town/murmur/stt"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	opts := c.SessionOptions()
	want := stt.DefaultOptions()
	if opts.Model != "nova-2" || opts.Language != "en-US" {
		t.Errorf("model/language = %s/%s, want nova-2/en-US", opts.Model, opts.Language)
	}
	if opts.UtteranceEndMs != 3000 || !opts.InterimResults || !opts.SmartFormat || !opts.FillerWords {
		t.Errorf("session options = %+v, want the deepgram defaults", opts)
	}
	if opts.Format != want.Format {
		t.Errorf("format = %+v, want %+v", opts.Format, want.Format)
	}
	if c.Session.KeepAliveInterval != 10*time.Second {
		t.Errorf("keepalive = %v, want 10s", c.Session.KeepAliveInterval)
	}
	if c.Session.CaptionExpiry != 3*time.Second {
		t.Errorf("caption expiry = %v, want 3s", c.Session.CaptionExpiry)
	}
	if c.Audio.Timeslice != 250*time.Millisecond {
		t.Errorf("timeslice = %v, want 250ms", c.Audio.Timeslice)
	}
	if c.DispatcherConfig().Ordering != llm.Arrival {
		t.Errorf("ordering = %s, want arrival", c.DispatcherConfig().Ordering)
	}
	if c.DispatcherConfig().SystemPrompt != llm.DefaultSystemPrompt {
		t.Error("system prompt is not the default")
	}
	if !c.Server.Embedded || c.Server.Addr != ":8787" || c.Server.MaxUploadBytes != 64<<20 {
		t.Errorf("server = %+v", c.Server)
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("COMPLETION_ORDERING", "latest")
	t.Setenv("SESSION_CAPTION_EXPIRY", "5s")

	c, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Deepgram.APIKey != "dg-key" || c.Server.DeepgramAPIKey != "dg-key" {
		t.Errorf("deepgram keys = %q/%q", c.Deepgram.APIKey, c.Server.DeepgramAPIKey)
	}
	if c.Server.CompletionAPIKey != "groq-key" {
		t.Errorf("completion key = %q, want groq-key", c.Server.CompletionAPIKey)
	}
	if c.DispatcherConfig().Ordering != llm.Latest {
		t.Errorf("ordering = %s, want latest", c.DispatcherConfig().Ordering)
	}
	if c.Session.CaptionExpiry != 5*time.Second {
		t.Errorf("caption expiry = %v, want 5s", c.Session.CaptionExpiry)
	}
}

func TestProviderKeyFromEnvironment(t *testing.T) {
	tests := []struct {
		provider   string
		completion string
		server     string
	}{
		{ProviderGroq, "", "groq-key"},
		{ProviderOpenAI, "", "openai-key"},
		{ProviderGemini, "gemini-key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Setenv("GROQ_API_KEY", "groq-key")
			t.Setenv("OPENAI_API_KEY", "openai-key")
			t.Setenv("GEMINI_API_KEY", "gemini-key")
			t.Setenv("COMPLETION_PROVIDER", tt.provider)

			c, err := Load(newViper())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if c.Completion.APIKey != tt.completion {
				t.Errorf("completion.api_key = %q, want %q", c.Completion.APIKey, tt.completion)
			}
			if c.Server.CompletionAPIKey != tt.server {
				t.Errorf("server.completion_api_key = %q, want %q", c.Server.CompletionAPIKey, tt.server)
			}
		})
	}

	t.Run("configured key wins", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "groq-key")
		v := newViper()
		v.Set("server.completion_api_key", "from-file")

		c, err := Load(v)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if c.Server.CompletionAPIKey != "from-file" {
			t.Errorf("server.completion_api_key = %q, want from-file", c.Server.CompletionAPIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
		want string
	}{
		{"provider", "completion.provider", "mystery", "completion.provider"},
		{"ordering", "completion.ordering", "random", "random"},
		{"timeslice", "audio.timeslice", 0, "audio.timeslice"},
		{"sample rate", "audio.sample_rate", -1, "audio.sample_rate"},
		{"keepalive", "session.keepalive_interval", 0, "session.keepalive_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.val)

			_, err := Load(v)

			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		provider  string
		wantURL   string
		wantModel string
	}{
		{ProviderGroq, llm.GroqBaseURL, llm.DefaultModel},
		{ProviderOpenAI, llm.OpenAIBaseURL, llm.DefaultOpenAIModel},
		{ProviderGemini, "", llm.DefaultGeminiModel},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			v := newViper()
			v.Set("completion.provider", tt.provider)
			c, err := Load(v)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			url, model := c.Endpoint()

			if url != tt.wantURL || model != tt.wantModel {
				t.Errorf("Endpoint() = %q, %q; want %q, %q", url, model, tt.wantURL, tt.wantModel)
			}
		})
	}

	t.Run("explicit model kept", func(t *testing.T) {
		v := newViper()
		v.Set("completion.provider", ProviderOpenAI)
		v.Set("completion.model", "gpt-4o")
		c, err := Load(v)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if _, model := c.Endpoint(); model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", model)
		}
	})
}
