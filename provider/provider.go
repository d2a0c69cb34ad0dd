package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Provider is the interface for LLM backends.
type Provider interface {
	// Complete sends a single-shot completion request.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a completion request and returns its event stream.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// Name returns the provider name.
	Name() string

	// DefaultModel returns the model used when the request leaves Model empty.
	DefaultModel() string

	// SupportedModels returns the models this provider accepts.
	SupportedModels() []string

	// ContextWindow returns the context window size in tokens for a model,
	// or 0 if unknown.
	ContextWindow(model string) int

	// Cost returns the USD cost of a single call's token usage.
	Cost(model string, inputTokens, outputTokens int) float64
}

// Constructor builds a provider for the given credentials and defaults.
type Constructor func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider

// Registration defines metadata and constructor for a provider.
type Registration struct {
	Models      []string
	EnvKey      string
	EnvBase     string
	Constructor Constructor
}

var providerRegistry = map[string]Registration{}

// Register registers provider metadata and constructor. Called from init()
// in each provider implementation file.
func Register(name string, reg Registration) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	reg.EnvKey = strings.TrimSpace(reg.EnvKey)
	reg.EnvBase = strings.TrimSpace(reg.EnvBase)
	providerRegistry[name] = reg
}

// SupportedProviders returns all registered provider names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedModels returns the models a registered provider accepts.
func SupportedModels(providerName string) []string {
	reg, ok := providerRegistry[providerName]
	if !ok {
		return nil
	}
	out := make([]string, len(reg.Models))
	copy(out, reg.Models)
	return out
}

// ValidateModel checks that a model is valid for a provider.
func ValidateModel(providerName, model string) error {
	reg, ok := providerRegistry[providerName]
	if !ok {
		return errors.New("unknown provider: " + providerName)
	}
	if model == "" {
		return nil
	}
	for _, m := range reg.Models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not supported by provider %s", model, providerName)
}

// Credentials holds API access settings for one provider.
type Credentials struct {
	APIKey  string
	APIBase string
}

// Factory creates providers by name from configured credentials, falling
// back to the environment variables declared at registration.
type Factory struct {
	creds       map[string]Credentials
	maxTokens   int
	temperature float64
}

// NewFactory creates a provider factory.
func NewFactory(creds map[string]Credentials, maxTokens int, temperature float64) *Factory {
	if creds == nil {
		creds = map[string]Credentials{}
	}
	return &Factory{creds: creds, maxTokens: maxTokens, temperature: temperature}
}

// Create builds the named provider for the given model.
func (f *Factory) Create(name, model string) (Provider, error) {
	reg, ok := providerRegistry[name]
	if !ok {
		return nil, errors.New("unknown provider: " + name)
	}
	if err := ValidateModel(name, model); err != nil {
		return nil, err
	}

	cred := f.creds[name]
	apiKey := strings.TrimSpace(cred.APIKey)
	if apiKey == "" && reg.EnvKey != "" {
		apiKey = strings.TrimSpace(os.Getenv(reg.EnvKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %s (set %s)", name, reg.EnvKey)
	}
	apiBase := strings.TrimSpace(cred.APIBase)
	if apiBase == "" && reg.EnvBase != "" {
		apiBase = strings.TrimSpace(os.Getenv(reg.EnvBase))
	}

	return reg.Constructor(apiKey, apiBase, model, f.maxTokens, f.temperature), nil
}
