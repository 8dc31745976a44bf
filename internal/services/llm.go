package services

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alym00sa/hira/internal/config"
	apperrors "github.com/alym00sa/hira/internal/errors"
)

// ChatMessage 对话消息，role取system/user/assistant
type ChatMessage struct {
	Role    string
	Content string
}

// LLMClient 对话模型客户端抽象，测试中可替换
type LLMClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	Model() string
	Ready() bool
}

// openAIChatClient 基于OpenAI Chat Completions的默认实现
type openAIChatClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIChatClient 创建对话客户端，API密钥为空时返回不可用客户端
func NewOpenAIChatClient(cfg config.AIConfig) LLMClient {
	c := &openAIChatClient{
		model:       cfg.ChatModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	if cfg.OpenAIAPIKey != "" {
		c.client = openai.NewClient(cfg.OpenAIAPIKey)
	}
	return c
}

func (c *openAIChatClient) Model() string {
	return c.model
}

func (c *openAIChatClient) Ready() bool {
	return c.client != nil
}

func (c *openAIChatClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.client == nil {
		return "", apperrors.NewSystemError("openai api key not configured")
	}

	request := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	response, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", apperrors.NewSystemError("chat completion failed").WithCause(err)
	}
	if len(response.Choices) == 0 {
		return "", apperrors.NewSystemError("chat completion returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}
