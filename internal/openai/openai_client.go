package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"yomu/internal/config"
)

const systemMessage = "You are a news summarizer."

// The article text is the only substitution. The 200 character limit is an
// instruction to the model; the result is never truncated here.
const promptTemplate = `## 記事要約プロンプト
あなたのタスクは与えられた記事を要約することです。記事の内容を理解し、200文字以内で箇条書きにせずに要約してください

- **主要なポイント**: 記事の重要な点を簡潔に説明。
- **結論**: 記事の結論やまとめ。
- **背景情報**: 記事が書かれた背景や文脈。
- **具体例**: 記事中の具体的な例やデータ。

この記事の要約では、以上の点に注意してまとめてください。

## 要約対象のテキスト
{{.Article}}

## 要約
`

var prompt = template.Must(template.New("prompt").Parse(promptTemplate))

// UpstreamError means the completion service failed or returned nothing usable.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "summarizer upstream: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client condenses article text through a chat-completion deployment.
type Client struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewClient builds a summarizer for the configured provider. For Azure the
// deployment name is used for every request; for OpenAI it is the model name.
func NewClient(cfg config.OpenAIConfig, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	var clientCfg goopenai.ClientConfig
	switch cfg.Provider {
	case "azure":
		clientCfg = goopenai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Deployment
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	case "openai":
		clientCfg = goopenai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientCfg.BaseURL = cfg.Endpoint
		}
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:         goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Deployment,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Summarize returns a condensed version of text. Empty input returns an
// empty result without calling the service.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	userMessage, err := BuildPrompt(text)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Sending summarization request",
		zap.String("model", c.model),
		zap.Int("prompt_length_chars", len(userMessage)))

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: goopenai.ChatMessageRoleUser, Content: userMessage},
		},
		N:           1,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &UpstreamError{Err: errors.New("completion returned empty content")}
	}

	c.logger.Debug("Summary generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

// BuildPrompt renders the user message for article.
func BuildPrompt(article string) (string, error) {
	var buf bytes.Buffer
	if err := prompt.Execute(&buf, struct{ Article string }{article}); err != nil {
		return "", fmt.Errorf("internal error: failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
