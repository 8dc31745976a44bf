package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Knowledge KnowledgeConfig
	Relay     RelayConfig
}

type ServerConfig struct {
	Host string
	Port string
	Env  string
}

type AIConfig struct {
	OpenAIAPIKey   string
	RealtimeURL    string
	RealtimeModel  string
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
}

type KnowledgeConfig struct {
	ChunkSize           int
	ChunkOverlap        int
	MinChunkLength      int
	TopK                int
	SimilarityThreshold float64
	VectorStore         VectorStoreConfig
}

type VectorStoreConfig struct {
	Provider string // memory | qdrant | milvus
	Qdrant   QdrantConfig
	Milvus   MilvusConfig
}

type QdrantConfig struct {
	Endpoint   string
	APIKey     string
	Collection string
	UseTLS     bool
}

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	TLS        bool
}

type RelayConfig struct {
	AssistantName        string
	Voice                string
	ToolName             string
	WakeGreetings        []string
	WakeNames            []string
	TranscriptBufferSize int
	TranscriptContext    int
	MaxHistoryTurns      int
	ToolResultMaxRunes   int
	ToolResultMaxSources int
	RetrievalTimeoutSec  int
	Instructions         string
}

// defaultInstructions HiRA语音助手的基础系统提示词
const defaultInstructions = `You are HiRA (Human Rights Assistant), a voice AI specializing in human rights-based approaches.

IMPORTANT CONTEXT: You are in a live meeting. Use the recent conversation context provided to understand what's being discussed.

When someone asks you a question (they will say "Hey HiRA" followed by their question):
1. Use the search_knowledge_base function to find relevant information
2. Consider both the search results AND the meeting context
3. Give a BRIEF, conversational response (2-3 sentences for voice)
4. Mention a source if helpful

Be warm, professional, and concise - this is voice, not text!`

var AppConfig *Config

func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8765")
	viper.SetDefault("server.env", "development")

	// AI配置
	viper.SetDefault("ai.realtime_url", "wss://api.openai.com/v1/realtime")
	viper.SetDefault("ai.realtime_model", "gpt-4o-realtime-preview-2024-12-17")
	viper.SetDefault("ai.chat_model", "gpt-4o-mini")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.max_tokens", 2000)
	viper.SetDefault("ai.temperature", 0.7)

	// 知识库配置
	viper.SetDefault("knowledge.chunk_size", 1000)
	viper.SetDefault("knowledge.chunk_overlap", 200)
	viper.SetDefault("knowledge.min_chunk_length", 50)
	viper.SetDefault("knowledge.top_k", 5)
	viper.SetDefault("knowledge.similarity_threshold", 0.3)
	viper.SetDefault("knowledge.vector_store.provider", "memory")
	viper.SetDefault("knowledge.vector_store.qdrant.endpoint", "http://localhost:6333")
	viper.SetDefault("knowledge.vector_store.qdrant.collection", "hira_chunks")
	viper.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("knowledge.vector_store.milvus.collection", "hira_chunks")
	viper.SetDefault("knowledge.vector_store.milvus.database", "default")

	// 转发服务配置
	viper.SetDefault("relay.assistant_name", "HiRA")
	viper.SetDefault("relay.voice", "shimmer")
	viper.SetDefault("relay.tool_name", "search_knowledge_base")
	viper.SetDefault("relay.wake_greetings", []string{"hey", "hi", "hello"})
	viper.SetDefault("relay.wake_names", []string{"hira", "hera", "hiera"})
	viper.SetDefault("relay.transcript_buffer_size", 50)
	viper.SetDefault("relay.transcript_context", 10)
	viper.SetDefault("relay.max_history_turns", 10)
	viper.SetDefault("relay.tool_result_max_runes", 500)
	viper.SetDefault("relay.tool_result_max_sources", 2)
	viper.SetDefault("relay.retrieval_timeout_sec", 10)
	viper.SetDefault("relay.instructions", defaultInstructions)

	// 环境变量覆盖
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// OPENAI_API_KEY 是该密钥最常见的环境变量形式
	viper.BindEnv("ai.openai_api_key", "AI_OPENAI_API_KEY", "OPENAI_API_KEY")

	// 可选配置文件
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		AI: AIConfig{
			OpenAIAPIKey:   viper.GetString("ai.openai_api_key"),
			RealtimeURL:    viper.GetString("ai.realtime_url"),
			RealtimeModel:  viper.GetString("ai.realtime_model"),
			ChatModel:      viper.GetString("ai.chat_model"),
			EmbeddingModel: viper.GetString("ai.embedding_model"),
			MaxTokens:      viper.GetInt("ai.max_tokens"),
			Temperature:    viper.GetFloat64("ai.temperature"),
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:           viper.GetInt("knowledge.chunk_size"),
			ChunkOverlap:        viper.GetInt("knowledge.chunk_overlap"),
			MinChunkLength:      viper.GetInt("knowledge.min_chunk_length"),
			TopK:                viper.GetInt("knowledge.top_k"),
			SimilarityThreshold: viper.GetFloat64("knowledge.similarity_threshold"),
			VectorStore: VectorStoreConfig{
				Provider: viper.GetString("knowledge.vector_store.provider"),
				Qdrant: QdrantConfig{
					Endpoint:   viper.GetString("knowledge.vector_store.qdrant.endpoint"),
					APIKey:     viper.GetString("knowledge.vector_store.qdrant.api_key"),
					Collection: viper.GetString("knowledge.vector_store.qdrant.collection"),
					UseTLS:     viper.GetBool("knowledge.vector_store.qdrant.use_tls"),
				},
				Milvus: MilvusConfig{
					Address:    viper.GetString("knowledge.vector_store.milvus.address"),
					Username:   viper.GetString("knowledge.vector_store.milvus.username"),
					Password:   viper.GetString("knowledge.vector_store.milvus.password"),
					Collection: viper.GetString("knowledge.vector_store.milvus.collection"),
					Database:   viper.GetString("knowledge.vector_store.milvus.database"),
					TLS:        viper.GetBool("knowledge.vector_store.milvus.tls"),
				},
			},
		},
		Relay: RelayConfig{
			AssistantName:        viper.GetString("relay.assistant_name"),
			Voice:                viper.GetString("relay.voice"),
			ToolName:             viper.GetString("relay.tool_name"),
			WakeGreetings:        viper.GetStringSlice("relay.wake_greetings"),
			WakeNames:            viper.GetStringSlice("relay.wake_names"),
			TranscriptBufferSize: viper.GetInt("relay.transcript_buffer_size"),
			TranscriptContext:    viper.GetInt("relay.transcript_context"),
			MaxHistoryTurns:      viper.GetInt("relay.max_history_turns"),
			ToolResultMaxRunes:   viper.GetInt("relay.tool_result_max_runes"),
			ToolResultMaxSources: viper.GetInt("relay.tool_result_max_sources"),
			RetrievalTimeoutSec:  viper.GetInt("relay.retrieval_timeout_sec"),
			Instructions:         viper.GetString("relay.instructions"),
		},
	}

	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap (%d) must be smaller than knowledge.chunk_size (%d)",
			cfg.Knowledge.ChunkOverlap, cfg.Knowledge.ChunkSize)
	}

	AppConfig = cfg
	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	return AppConfig
}
