package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/alym00sa/hira/internal/errors"
	"github.com/alym00sa/hira/internal/metrics"
)

// NoContextSentinel 检索无结果时返回的固定上下文，调用方视为正常结果
const NoContextSentinel = "No relevant information found in the knowledge base."

// excerptMaxRunes 引用摘录长度上限
const excerptMaxRunes = 200

// RetrievedChunk 命中阈值的检索分块
type RetrievedChunk struct {
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Similarity float64       `json:"similarity"`
	Rank       int           `json:"rank"`
}

// RetrievalResult 检索结果集
type RetrievalResult struct {
	Chunks     []RetrievedChunk `json:"chunks"`
	TotalFound int              `json:"total_found"`
	Query      string           `json:"query"`
}

// Source 引用信息，用于结果展示
type Source struct {
	Filename   string  `json:"filename"`
	Scope      Scope   `json:"scope"`
	PageNumber int     `json:"page_number,omitempty"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

// ContextResult 拼装后的上下文。HasContext为false时Context为固定提示语
type ContextResult struct {
	Context    string   `json:"context"`
	Sources    []Source `json:"sources"`
	HasContext bool     `json:"has_context"`
	ChunkCount int      `json:"chunk_count"`
}

// IngestResult 文档摄取结果
type IngestResult struct {
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	ChunkCount int      `json:"chunk_count"`
	ChunkIDs   []string `json:"chunk_ids"`
	Scope      Scope    `json:"scope"`
	Owner      string   `json:"owner,omitempty"`
}

// Stats 知识库统计
type Stats struct {
	TotalChunks int `json:"total_chunks"`
	CoreChunks  int `json:"core_chunks"`
}

// UserStats 单用户统计
type UserStats struct {
	Owner       string `json:"owner"`
	UserChunks  int    `json:"user_chunks"`
	TotalChunks int    `json:"total_chunks"`
}

// RAGEngine 检索编排引擎：摄取（分块→索引）与查询（索引→过滤→拼装）。
// 自身无状态，不持有长生命周期锁，并发安全由VectorStore保证
type RAGEngine struct {
	store     VectorStore
	processor *Processor
	topK      int
	threshold float64
	logger    *zap.Logger
}

// NewRAGEngine 创建检索引擎
func NewRAGEngine(store VectorStore, processor *Processor, topK int, threshold float64, logger *zap.Logger) *RAGEngine {
	if topK <= 0 {
		topK = defaultQueryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGEngine{
		store:     store,
		processor: processor,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
	}
}

// IngestDocument 摄取文档：分块后写入向量存储。
// 索引部分失败时回滚已写入的分块，保证摄取结果要么完整可见要么不可见
func (e *RAGEngine) IngestDocument(ctx context.Context, doc Document) (*IngestResult, error) {
	processed, err := e.processor.Process(doc)
	if err != nil {
		return nil, err
	}

	var chunkIDs []string
	if processed.ChunkCount > 0 {
		chunkIDs, err = e.store.Add(ctx, processed.Chunks, processed.Metadata)
		if err != nil {
			// 非原子后端可能留下部分分块，按文档ID清除
			if _, rollbackErr := e.store.DeleteByDocument(ctx, processed.DocumentID, ""); rollbackErr != nil {
				e.logger.Warn("ingest rollback failed",
					zap.String("document_id", processed.DocumentID),
					zap.Error(rollbackErr))
			}
			return nil, fmt.Errorf("index document %s: %w", processed.DocumentID, err)
		}
		metrics.ChunksIndexed.Add(float64(len(chunkIDs)))
	}

	e.logger.Info("document ingested",
		zap.String("document_id", processed.DocumentID),
		zap.String("filename", processed.Filename),
		zap.String("scope", string(processed.Scope)),
		zap.Int("chunks", processed.ChunkCount))

	return &IngestResult{
		DocumentID: processed.DocumentID,
		Filename:   processed.Filename,
		ChunkCount: processed.ChunkCount,
		ChunkIDs:   chunkIDs,
		Scope:      processed.Scope,
		Owner:      processed.Owner,
	}, nil
}

// RetrieveContext 检索并按相似度阈值过滤。
// 相似度为 1 - 余弦距离，低于阈值的结果在这里被硬性剔除
func (e *RAGEngine) RetrieveContext(ctx context.Context, query string, owner string, limit int) (*RetrievalResult, error) {
	if limit <= 0 {
		limit = e.topK
	}

	results, err := e.store.Query(ctx, QueryRequest{
		Text:        query,
		Limit:       limit,
		Owner:       owner,
		IncludeCore: true,
	})
	if err != nil {
		return nil, apperrors.NewRetrievalUnavailableError(err)
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for i, result := range results {
		similarity := 1 - result.Distance
		if similarity < e.threshold {
			continue
		}
		chunks = append(chunks, RetrievedChunk{
			Content:    result.Content,
			Metadata:   result.Metadata,
			Similarity: similarity,
			Rank:       i + 1,
		})
	}

	return &RetrievalResult{
		Chunks:     chunks,
		TotalFound: len(chunks),
		Query:      query,
	}, nil
}

// BuildContextPrompt 构建带出处标注的上下文。检索失败在这里就地降级为
// 无上下文结果，不向会话层传播错误
func (e *RAGEngine) BuildContextPrompt(ctx context.Context, query string, owner string, limit int) *ContextResult {
	retrieved, err := e.RetrieveContext(ctx, query, owner, limit)
	if err != nil {
		e.logger.Warn("retrieval degraded to empty context",
			zap.String("query", query),
			zap.Error(err))
		metrics.RetrievalsTotal.WithLabelValues("error").Inc()
		return &ContextResult{
			Context:    NoContextSentinel,
			Sources:    []Source{},
			HasContext: false,
		}
	}

	if len(retrieved.Chunks) == 0 {
		metrics.RetrievalsTotal.WithLabelValues("empty").Inc()
		return &ContextResult{
			Context:    NoContextSentinel,
			Sources:    []Source{},
			HasContext: false,
		}
	}

	parts := make([]string, 0, len(retrieved.Chunks))
	sources := make([]Source, 0, len(retrieved.Chunks))
	for _, chunk := range retrieved.Chunks {
		meta := chunk.Metadata

		pageInfo := ""
		if meta.PageNumber > 0 {
			pageInfo = fmt.Sprintf(", Page %d", meta.PageNumber)
		}
		parts = append(parts, fmt.Sprintf("[From %s%s]:\n%s\n", meta.Filename, pageInfo, chunk.Content))

		sources = append(sources, Source{
			Filename:   meta.Filename,
			Scope:      meta.Scope,
			PageNumber: meta.PageNumber,
			Similarity: chunk.Similarity,
			Excerpt:    truncateRunes(chunk.Content, excerptMaxRunes),
		})
	}

	metrics.RetrievalsTotal.WithLabelValues("hit").Inc()
	return &ContextResult{
		Context:    strings.Join(parts, "\n---\n"),
		Sources:    sources,
		HasContext: true,
		ChunkCount: len(retrieved.Chunks),
	}
}

// DeleteDocument 删除文档的全部分块。owner限定时仅删除该用户的user scope
// 分块，core文档与其他用户的文档不受影响
func (e *RAGEngine) DeleteDocument(ctx context.Context, documentID string, owner string) error {
	removed, err := e.store.DeleteByDocument(ctx, documentID, owner)
	if err != nil {
		return err
	}
	if removed == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("document %s", documentID))
	}

	e.logger.Info("document deleted",
		zap.String("document_id", documentID),
		zap.Int("chunks_removed", removed))
	return nil
}

// GetStats 获取知识库统计
func (e *RAGEngine) GetStats(ctx context.Context) (*Stats, error) {
	total, err := e.store.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	core, err := e.store.Count(ctx, &CountFilter{Scope: ScopeCore})
	if err != nil {
		return nil, err
	}
	return &Stats{TotalChunks: total, CoreChunks: core}, nil
}

// GetUserStats 获取单用户统计
func (e *RAGEngine) GetUserStats(ctx context.Context, owner string) (*UserStats, error) {
	total, err := e.store.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Count(ctx, &CountFilter{Scope: ScopeUser, Owner: owner})
	if err != nil {
		return nil, err
	}
	return &UserStats{Owner: owner, UserChunks: user, TotalChunks: total}, nil
}

// truncateRunes 按rune截断并追加省略号
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
