package knowledge

import (
	"context"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

// Embedder 文本向量化依赖，摄取与查询路径共用同一实现。
// 维度在构造时固定，向量存储据此建集合
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 未配置向量化后端时的占位实现。
// 任何调用都失败，由检索引擎降级为无上下文结果
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, apperrors.NewExternalServiceError("embedding provider not configured", nil)
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

// defaultEmbeddingModel 未指定模型时的缺省选择
const defaultEmbeddingModel = "text-embedding-3-small"

// openAIEmbeddingDims 各模型的输出维度，未收录的模型按small处理
var openAIEmbeddingDims = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// openAIEmbedder 基于OpenAI Embedding API的实现。
// 请求串行化，分块批次内的embedding不并发打到接口上
type openAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	inflight   sync.Mutex
}

// NewOpenAIEmbedder 创建向量化器，API密钥为空时退化为NoopEmbedder
func NewOpenAIEmbedder(apiKey, model string) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if model == "" {
		model = defaultEmbeddingModel
	}

	dims, ok := openAIEmbeddingDims[model]
	if !ok {
		dims = openAIEmbeddingDims[defaultEmbeddingModel]
	}

	return &openAIEmbedder{
		client:     openai.NewClient(apiKey),
		model:      model,
		dimensions: dims,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput, "embedding text is empty")
	}

	e.inflight.Lock()
	defer e.inflight.Unlock()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, apperrors.NewExternalServiceError("embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.NewExternalServiceError("embedding response contained no vectors", nil)
	}

	embedding := resp.Data[0].Embedding
	vector := make([]float32, len(embedding))
	copy(vector, embedding)
	return vector, nil
}

func (e *openAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *openAIEmbedder) Ready() bool {
	return e.client != nil
}
