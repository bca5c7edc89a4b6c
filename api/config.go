package api

import (
	"fmt"
	"time"
)

// ProviderConfig is bound once when an adapter is constructed.
type ProviderConfig struct {
	// credential, optional for the local daemon
	ApiKey Secret `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// name of the environment variable the credential is expected in,
	// used in error messages only
	ApiKeyEnv string `mapstructure:"-" yaml:"-"`

	BaseUrl string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model   string        `mapstructure:"model" yaml:"model,omitempty"`
	Timeout time.Duration `mapstructure:"-" yaml:"timeout,omitempty"`

	// default system prompt for backends that take it as a top-level field
	SystemPrompt string `mapstructure:"system_prompt" yaml:"-"`
}

func (r *ProviderConfig) String() string {
	return fmt.Sprintf("model: %s base_url: %s api_key: %s timeout: %s", r.Model, r.BaseUrl, r.ApiKey, r.Timeout)
}

// Clone returns a copy so callers cannot mutate a bound configuration.
func (r *ProviderConfig) Clone() *ProviderConfig {
	if r == nil {
		return &ProviderConfig{}
	}
	c := *r
	return &c
}
