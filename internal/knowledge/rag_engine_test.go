package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

func newTestEngine(t *testing.T, embedder Embedder, threshold float64) (*RAGEngine, VectorStore) {
	t.Helper()
	chunker, err := NewChunker(1000, 200, 10)
	require.NoError(t, err)
	store := NewMemoryVectorStore(embedder)
	return NewRAGEngine(store, NewProcessor(chunker), 5, threshold, nil), store
}

func TestIngestDocumentValidation(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeEmbedder(), 0.3)
	ctx := context.Background()

	// scope缺省为user，user必须有owner
	_, err := engine.IngestDocument(ctx, Document{Filename: "f.txt", Text: "some content here"})
	assert.Error(t, err)

	// 非法scope
	_, err = engine.IngestDocument(ctx, Document{Filename: "f.txt", Scope: "team", Text: "x"})
	assert.Error(t, err)

	// 缺少文件名
	_, err = engine.IngestDocument(ctx, Document{Scope: ScopeCore, Text: "x"})
	assert.Error(t, err)
}

func TestIngestDocumentAndStats(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeEmbedder(), 0.3)
	ctx := context.Background()

	text := strings.Repeat("Human rights principles apply universally. ", 60)
	result, err := engine.IngestDocument(ctx, Document{
		Filename: "principles.txt",
		Scope:    ScopeCore,
		Text:     text,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.DocumentID)
	assert.Greater(t, result.ChunkCount, 1)
	assert.Len(t, result.ChunkIDs, result.ChunkCount)

	userResult, err := engine.IngestDocument(ctx, Document{
		Filename: "notes.txt",
		Scope:    ScopeUser,
		Owner:    "alice",
		Text:     "Alice's private notes about the upcoming review session.",
	})
	require.NoError(t, err)

	stats, err := engine.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount+userResult.ChunkCount, stats.TotalChunks)
	assert.Equal(t, result.ChunkCount, stats.CoreChunks)

	userStats, err := engine.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, userResult.ChunkCount, userStats.UserChunks)
	assert.Equal(t, stats.TotalChunks, userStats.TotalChunks)
}

func TestIngestEmptyDocumentProducesNoChunks(t *testing.T) {
	engine, store := newTestEngine(t, newFakeEmbedder(), 0.3)
	ctx := context.Background()

	result, err := engine.IngestDocument(ctx, Document{
		Filename: "empty.txt",
		Scope:    ScopeCore,
		Text:     "",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunkCount)

	count, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRetrieveContextThreshold(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.set("what is due process", []float32{1, 0, 0, 0})
	// 相似度约0.99，高于阈值
	embedder.set("Due process requires notice and a fair hearing before deprivation.", []float32{0.95, 0.1, 0, 0})
	// 相似度0，低于阈值，必须被剔除
	embedder.set("Grocery list: milk, eggs, bread and some fresh fruit too.", []float32{0, 1, 0, 0})

	engine, _ := newTestEngine(t, embedder, 0.3)
	ctx := context.Background()

	_, err := engine.IngestDocument(ctx, Document{
		Filename: "law.txt",
		Scope:    ScopeCore,
		Text:     "Due process requires notice and a fair hearing before deprivation.",
	})
	require.NoError(t, err)
	_, err = engine.IngestDocument(ctx, Document{
		Filename: "groceries.txt",
		Scope:    ScopeCore,
		Text:     "Grocery list: milk, eggs, bread and some fresh fruit too.",
	})
	require.NoError(t, err)

	retrieved, err := engine.RetrieveContext(ctx, "what is due process", "", 0)
	require.NoError(t, err)
	require.Len(t, retrieved.Chunks, 1)
	assert.Contains(t, retrieved.Chunks[0].Content, "Due process")
	assert.Greater(t, retrieved.Chunks[0].Similarity, 0.3)
}

func TestBuildContextPromptFormatting(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.set("query", []float32{1, 0, 0, 0})
	embedder.set("[Page 7] The right to a fair trial is fundamental.", []float32{0.9, 0.1, 0, 0})

	engine, _ := newTestEngine(t, embedder, 0.3)
	ctx := context.Background()

	_, err := engine.IngestDocument(ctx, Document{
		Filename: "trial.pdf",
		Scope:    ScopeCore,
		Text:     "[Page 7] The right to a fair trial is fundamental.",
	})
	require.NoError(t, err)

	result := engine.BuildContextPrompt(ctx, "query", "", 0)
	require.True(t, result.HasContext)
	assert.Contains(t, result.Context, "[From trial.pdf, Page 7]:")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "trial.pdf", result.Sources[0].Filename)
	assert.Equal(t, 7, result.Sources[0].PageNumber)
	assert.Equal(t, ScopeCore, result.Sources[0].Scope)
}

func TestBuildContextPromptEmptyAndDegraded(t *testing.T) {
	// 空索引：哨兵文本，HasContext为false
	engine, _ := newTestEngine(t, newFakeEmbedder(), 0.3)
	result := engine.BuildContextPrompt(context.Background(), "anything", "", 0)
	assert.False(t, result.HasContext)
	assert.Equal(t, NoContextSentinel, result.Context)
	assert.Empty(t, result.Sources)

	// 存储不可用：降级为同样的无上下文结果，不向上抛错
	engine, _ = newTestEngine(t, &failingEmbedder{}, 0.3)
	result = engine.BuildContextPrompt(context.Background(), "anything", "", 0)
	assert.False(t, result.HasContext)
	assert.Equal(t, NoContextSentinel, result.Context)
}

func TestRetrieveContextUnavailableError(t *testing.T) {
	engine, _ := newTestEngine(t, &failingEmbedder{}, 0.3)

	_, err := engine.RetrieveContext(context.Background(), "query", "", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetrievalUnavailable(err))
}

func TestDeleteDocument(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeEmbedder(), 0.3)
	ctx := context.Background()

	result, err := engine.IngestDocument(ctx, Document{
		Filename: "notes.txt",
		Scope:    ScopeUser,
		Owner:    "alice",
		Text:     "Some notes long enough to survive the minimum chunk length.",
	})
	require.NoError(t, err)

	// 他人无法删除alice的文档
	err = engine.DeleteDocument(ctx, result.DocumentID, "bob")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, engine.DeleteDocument(ctx, result.DocumentID, "alice"))

	// 再次删除同一文档报NotFound
	err = engine.DeleteDocument(ctx, result.DocumentID, "alice")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "абв...", truncateRunes("абвгд", 3))
}
