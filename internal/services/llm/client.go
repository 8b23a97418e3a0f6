package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Completer sends one system+user exchange and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client dispatches completions to the configured provider.
type Client struct {
	cfg config.LLMConfig
}

func NewClient(cfg *config.LLMConfig) *Client {
	return &Client{cfg: *cfg}
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	logger.Debug().Str("provider", c.cfg.Provider).Str("model", c.cfg.Model).Msg("[LLM] completion request")

	switch c.cfg.Provider {
	case "anthropic":
		return c.callAnthropic(ctx, system, prompt)
	case "ollama":
		return c.callOllama(ctx, system, prompt)
	case "gemini":
		return c.callGemini(ctx, system, prompt)
	case "azure":
		return c.callAzure(ctx, system, prompt)
	default:
		// openai and other OpenAI-compatible services
		return c.callOpenAI(ctx, system, prompt)
	}
}

func (c *Client) callOpenAI(ctx context.Context, system, prompt string) (string, error) {
	clientConfig := openai.DefaultConfig(c.cfg.APIKey)
	if c.cfg.BaseURL != "" {
		clientConfig.BaseURL = c.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// callAzure uses Model as the deployment name.
func (c *Client) callAzure(ctx context.Context, system, prompt string) (string, error) {
	client := openai.NewClientWithConfig(openai.DefaultAzureConfig(c.cfg.APIKey, c.cfg.BaseURL))

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("Azure OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from Azure OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) callAnthropic(ctx context.Context, system, prompt string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(c.cfg.APIKey))

	model := c.cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

func (c *Client) callOllama(ctx context.Context, system, prompt string) (string, error) {
	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := c.cfg.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:  model,
		Stream: &stream,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

func (c *Client) callGemini(ctx context.Context, system, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: c.cfg.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}

	model := c.cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(system+"\n\n"+prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
