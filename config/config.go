package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm/anthropic"
	"github.com/qiangli/mychat/llm/gemini"
	"github.com/qiangli/mychat/llm/ollama"
	"github.com/qiangli/mychat/llm/openai"
	"github.com/qiangli/mychat/prompt"
)

const DefaultRequestTimeout = 60 * time.Second

// EnvPrefix applies to keys without an explicit binding, e.g. MYCHAT_PROVIDER.
const EnvPrefix = "mychat"

// Settings is the effective configuration, built once at startup and handed
// to adapter constructors by value.
type Settings struct {
	OpenAI    api.ProviderConfig `yaml:"openai"`
	DeepSeek  api.ProviderConfig `yaml:"deepseek"`
	Ollama    api.ProviderConfig `yaml:"ollama"`
	Anthropic api.ProviderConfig `yaml:"anthropic"`
	Gemini    api.ProviderConfig `yaml:"gemini"`

	// applied to every provider
	RequestTimeout time.Duration `yaml:"-"`

	// file the settings were read from, if any
	ConfigFile string `yaml:"-"`
}

type binding struct {
	key  string
	envs []string
}

// environment variable names per settings key, in lookup order
var bindings = []binding{
	{"openai.api_key", []string{"OPENAI_API_KEY"}},
	{"openai.base_url", []string{"OPENAI_BASE_URL"}},
	{"openai.model", []string{"OPENAI_MODEL"}},

	{"deepseek.api_key", []string{"DEEPSEEK_API_KEY"}},
	{"deepseek.base_url", []string{"DEEPSEEK_URL"}},
	{"deepseek.model", []string{"DEEPSEEK_MODEL"}},

	{"ollama.api_key", []string{"OLLAMA_TOKEN"}},
	{"ollama.base_url", []string{"OLLAMA_URL"}},
	{"ollama.model", []string{"OLLAMA_MODEL"}},

	{"anthropic.api_key", []string{"ANTHROPIC_API_KEY"}},
	{"anthropic.base_url", []string{"ANTHROPIC_BASE_URL"}},
	{"anthropic.model", []string{"ANTHROPIC_MODEL"}},

	{"gemini.api_key", []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}},
	{"gemini.base_url", []string{"GEMINI_URL"}},
	{"gemini.model", []string{"GEMINI_MODEL"}},

	{"request_timeout", []string{"REQUEST_TIMEOUT"}},
}

// New returns a viper instance bound to the environment. Each caller gets its
// own instance.
func New() *viper.Viper {
	v := viper.New()
	for _, b := range bindings {
		args := append([]string{b.key}, b.envs...)
		v.BindEnv(args...)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		OpenAI: api.ProviderConfig{
			ApiKeyEnv: openai.ApiKeyEnv,
			BaseUrl:   openai.DefaultBaseUrl,
			Model:     openai.DefaultModel,
		},
		DeepSeek: api.ProviderConfig{
			ApiKeyEnv: openai.DeepSeekApiKeyEnv,
			BaseUrl:   openai.DeepSeekDefaultBaseUrl,
			Model:     openai.DeepSeekDefaultModel,
		},
		Ollama: api.ProviderConfig{
			ApiKeyEnv: ollama.ApiKeyEnv,
			BaseUrl:   ollama.DefaultBaseUrl,
			Model:     ollama.DefaultModel,
		},
		Anthropic: api.ProviderConfig{
			ApiKeyEnv:    anthropic.ApiKeyEnv,
			BaseUrl:      anthropic.DefaultBaseUrl,
			Model:        anthropic.DefaultModel,
			SystemPrompt: prompt.System,
		},
		Gemini: api.ProviderConfig{
			ApiKeyEnv: gemini.ApiKeyEnv,
			BaseUrl:   gemini.DefaultBaseUrl,
			Model:     gemini.DefaultModel,
		},
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Load reads the optional config file into v and returns the effective
// settings. The file may be YAML or a dotenv file. Environment variables
// take precedence over the file, and the file over the defaults.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		if err := readFile(v, file); err != nil {
			return nil, err
		}
	}

	var s Settings
	s.ConfigFile = file
	s.OpenAI = provider(v, "openai")
	s.DeepSeek = provider(v, "deepseek")
	s.Ollama = provider(v, "ollama")
	s.Anthropic = provider(v, "anthropic")
	s.Gemini = provider(v, "gemini")

	timeout, err := ParseTimeout(v.GetString("request_timeout"))
	if err != nil {
		return nil, &api.ConfigurationError{Message: "invalid REQUEST_TIMEOUT", Cause: err}
	}
	s.RequestTimeout = timeout

	if err := mergo.Merge(&s, Defaults()); err != nil {
		return nil, errors.Wrap(err, "failed to apply default settings")
	}
	return &s, nil
}

func provider(v *viper.Viper, name string) api.ProviderConfig {
	return api.ProviderConfig{
		ApiKey:       api.Secret(v.GetString(name + ".api_key")),
		BaseUrl:      v.GetString(name + ".base_url"),
		Model:        v.GetString(name + ".model"),
		SystemPrompt: v.GetString(name + ".system_prompt"),
	}
}

func isDotenv(file string) bool {
	base := filepath.Base(file)
	ext := filepath.Ext(base)
	return base == ".env" || ext == ".env" || ext == ".dotenv"
}

func readFile(v *viper.Viper, file string) error {
	if _, err := os.Stat(file); err != nil {
		return &api.ConfigurationError{Message: fmt.Sprintf("config file %q", file), Cause: err}
	}
	if !isDotenv(file) {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return &api.ConfigurationError{Message: fmt.Sprintf("failed to read config file %q", file), Cause: err}
		}
		return nil
	}

	// dotenv files use the environment variable names; map them onto the
	// nested keys below the environment in precedence
	d := viper.New()
	d.SetConfigFile(file)
	d.SetConfigType("env")
	if err := d.ReadInConfig(); err != nil {
		return &api.ConfigurationError{Message: fmt.Sprintf("failed to read dotenv file %q", file), Cause: err}
	}
	m := make(map[string]any)
	for _, b := range bindings {
		for _, env := range b.envs {
			if val := d.GetString(strings.ToLower(env)); val != "" {
				setNested(m, b.key, val)
				break
			}
		}
	}
	if err := v.MergeConfigMap(m); err != nil {
		return errors.Wrapf(err, "failed to merge dotenv file %q", file)
	}
	return nil
}

func setNested(m map[string]any, key, val string) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := m[p].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[p] = sub
		}
		m = sub
	}
	m[parts[len(parts)-1]] = val
}

// ParseTimeout accepts whole seconds ("60") or a duration ("1m30s").
// An empty value yields the default.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRequestTimeout, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, errors.Wrapf(err, "timeout %q", s)
		}
	}
	if d <= 0 {
		return 0, errors.Errorf("timeout must be positive: %q", s)
	}
	return d, nil
}

// Provider returns a copy of the configuration for key with the shared
// request timeout applied.
func (r *Settings) Provider(key string) (*api.ProviderConfig, error) {
	var c *api.ProviderConfig
	switch strings.ToLower(key) {
	case openai.Provider:
		c = r.OpenAI.Clone()
	case openai.DeepSeekProvider:
		c = r.DeepSeek.Clone()
	case ollama.Provider:
		c = r.Ollama.Clone()
	case anthropic.Provider:
		c = r.Anthropic.Clone()
	case gemini.Provider:
		c = r.Gemini.Clone()
	default:
		return nil, api.NewConfigurationError(key, fmt.Sprintf("no settings for provider %q", key))
	}
	if c.Timeout == 0 {
		c.Timeout = r.RequestTimeout
	}
	return c, nil
}

// WriteYAML writes the effective settings with credentials redacted.
func (r *Settings) WriteYAML(w io.Writer) error {
	out := struct {
		Settings       `yaml:",inline"`
		RequestTimeout string `yaml:"request_timeout"`
	}{
		Settings:       *r,
		RequestTimeout: r.RequestTimeout.String(),
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "failed to write settings")
	}
	return enc.Close()
}
