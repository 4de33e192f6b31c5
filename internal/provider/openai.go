package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Remote is one OpenAI-compatible hosted backend bound to a single API key.
// A provider with several keys becomes several Remote instances, so the
// dispatcher's rotation covers key rotation for free.
type Remote struct {
	name   string
	model  string
	client *openai.Client
}

// NewRemote builds a hosted backend for one (provider, key) pair.
func NewRemote(name, baseURL, model, apiKey string) *Remote {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Remote{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (r *Remote) Name() string {
	return r.name + "/" + r.model
}

// Generate sends one chat completion request.
func (r *Remote) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("request %s completion: %w", r.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(r.name + " returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Healthy issues a model list call; callers bound it with a short context.
func (r *Remote) Healthy(ctx context.Context) bool {
	_, err := r.client.ListModels(ctx)
	return err == nil
}
