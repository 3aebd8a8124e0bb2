package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Ollama generates text through an Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates a client for model. An empty host falls back to OLLAMA_HOST.
func NewOllama(host, model string) (*Ollama, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("llm: parse host: %w", err)
		}
		hostURL = u
	}
	return &Ollama{
		client: api.NewClient(hostURL, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements Client by collecting the streamed response.
func (o *Ollama) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	req := api.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: options,
	}

	var sb strings.Builder
	err := o.client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := sb.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("llm: ollama generate: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.New("llm: ollama returned an empty response")
	}
	return sb.String(), nil
}
