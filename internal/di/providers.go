package di

import (
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/alym00sa/hira/internal/config"
	"github.com/alym00sa/hira/internal/knowledge"
	"github.com/alym00sa/hira/internal/logger"
	"github.com/alym00sa/hira/internal/relay"
	"github.com/alym00sa/hira/internal/services"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	// 注册日志器
	if err := container.Provide(func() *zap.Logger {
		return logger.GetLogger()
	}); err != nil {
		return err
	}

	// 注册向量化器
	if err := container.Provide(func(cfg *config.Config) knowledge.Embedder {
		if cfg.AI.OpenAIAPIKey == "" {
			return &knowledge.NoopEmbedder{}
		}
		return knowledge.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.AI.EmbeddingModel)
	}); err != nil {
		return err
	}

	// 注册向量存储，按配置选择后端
	if err := container.Provide(func(cfg *config.Config, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
		return NewVectorStore(cfg.Knowledge.VectorStore, embedder)
	}); err != nil {
		return err
	}

	// 注册分块器与文档处理器
	if err := container.Provide(func(cfg *config.Config) (*knowledge.Chunker, error) {
		return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap, cfg.Knowledge.MinChunkLength)
	}); err != nil {
		return err
	}
	if err := container.Provide(knowledge.NewProcessor); err != nil {
		return err
	}

	// 注册检索引擎
	if err := container.Provide(func(store knowledge.VectorStore, processor *knowledge.Processor, cfg *config.Config, log *zap.Logger) *knowledge.RAGEngine {
		return knowledge.NewRAGEngine(store, processor, cfg.Knowledge.TopK, cfg.Knowledge.SimilarityThreshold, log)
	}); err != nil {
		return err
	}

	// 注册对话模型客户端与文本问答服务
	if err := container.Provide(func(cfg *config.Config) services.LLMClient {
		return services.NewOpenAIChatClient(cfg.AI)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(engine *knowledge.RAGEngine, llm services.LLMClient, cfg *config.Config, log *zap.Logger) *services.ChatService {
		return services.NewChatService(engine, llm, cfg.Relay, log)
	}); err != nil {
		return err
	}

	// 注册语音转发服务器
	if err := container.Provide(func(cfg *config.Config, engine *knowledge.RAGEngine, log *zap.Logger) *relay.Server {
		return relay.NewServer(cfg, engine, nil, log)
	}); err != nil {
		return err
	}

	return nil
}

// NewVectorStore 按provider创建向量存储后端
func NewVectorStore(cfg config.VectorStoreConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return knowledge.NewMemoryVectorStore(embedder), nil
	case "qdrant":
		return knowledge.NewQdrantVectorStore(embedder, knowledge.QdrantOptions{
			Endpoint:   cfg.Qdrant.Endpoint,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			UseTLS:     cfg.Qdrant.UseTLS,
		})
	case "milvus":
		return knowledge.NewMilvusVectorStore(embedder, knowledge.MilvusOptions{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			Collection: cfg.Milvus.Collection,
			Database:   cfg.Milvus.Database,
			UseTLS:     cfg.Milvus.TLS,
		})
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}
