package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, LoadConfig())
	cfg := GetAppConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8765", cfg.Server.Port)

	assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 50, cfg.Knowledge.MinChunkLength)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
	assert.InDelta(t, 0.3, cfg.Knowledge.SimilarityThreshold, 1e-9)
	assert.Equal(t, "memory", cfg.Knowledge.VectorStore.Provider)

	assert.Equal(t, "HiRA", cfg.Relay.AssistantName)
	assert.Equal(t, "shimmer", cfg.Relay.Voice)
	assert.Equal(t, "search_knowledge_base", cfg.Relay.ToolName)
	assert.Equal(t, []string{"hey", "hi", "hello"}, cfg.Relay.WakeGreetings)
	assert.Equal(t, []string{"hira", "hera", "hiera"}, cfg.Relay.WakeNames)
	assert.Equal(t, 50, cfg.Relay.TranscriptBufferSize)
	assert.Equal(t, 10, cfg.Relay.MaxHistoryTurns)
	assert.NotEmpty(t, cfg.Relay.Instructions)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("RELAY_VOICE", "alloy")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	require.NoError(t, LoadConfig())
	cfg := GetAppConfig()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "alloy", cfg.Relay.Voice)
	assert.Equal(t, "sk-test", cfg.AI.OpenAIAPIKey)
}

func TestLoadConfigAPIKeyNamespacedEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	// ai.前缀的规范形式同样生效
	t.Setenv("AI_OPENAI_API_KEY", "sk-namespaced")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "sk-namespaced", GetAppConfig().AI.OpenAIAPIKey)
}

func TestLoadConfigRejectsOverlapNotSmallerThanChunkSize(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("KNOWLEDGE_CHUNK_SIZE", "100")
	t.Setenv("KNOWLEDGE_CHUNK_OVERLAP", "100")

	assert.Error(t, LoadConfig())
}
