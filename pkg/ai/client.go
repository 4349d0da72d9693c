package ai

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey is returned by ClientProvider when no key is configured.
var ErrMissingAPIKey = errors.New("openai api key is not configured")

// ClientConfig configures the shared OpenAI client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// ClientProvider owns the process-wide OpenAI client. The client is built on
// first use; a configuration error is returned on every call afterwards.
type ClientProvider struct {
	cfg ClientConfig

	once   sync.Once
	client *openai.Client
	err    error
}

// NewClientProvider stores the configuration without contacting OpenAI.
func NewClientProvider(cfg ClientConfig) *ClientProvider {
	return &ClientProvider{cfg: cfg}
}

// Client returns the shared client, initialising it exactly once.
func (p *ClientProvider) Client() (*openai.Client, error) {
	p.once.Do(func() {
		key := strings.TrimSpace(p.cfg.APIKey)
		if key == "" {
			p.err = ErrMissingAPIKey
			return
		}

		config := openai.DefaultConfig(key)
		if p.cfg.BaseURL != "" {
			config.BaseURL = strings.TrimRight(p.cfg.BaseURL, "/")
		}
		if p.cfg.HTTPClient != nil {
			config.HTTPClient = p.cfg.HTTPClient
		}
		p.client = openai.NewClientWithConfig(config)
	})
	return p.client, p.err
}
