package knowledge

import (
	"context"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

// Scope 文档隔离层级
type Scope string

const (
	// ScopeCore 共享核心知识库，所有会话可见
	ScopeCore Scope = "core"
	// ScopeUser 用户私有文档，仅owner可见
	ScopeUser Scope = "user"
)

// Valid 检查scope取值
func (s Scope) Valid() bool {
	return s == ScopeCore || s == ScopeUser
}

// ChunkMetadata 分块元数据，与向量一起存储
type ChunkMetadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Scope      Scope  `json:"scope"`
	Owner      string `json:"owner,omitempty"`
	PageNumber int    `json:"page_number,omitempty"` // 0表示无页码
}

// QueryRequest 向量检索请求
type QueryRequest struct {
	Text        string
	Limit       int
	Owner       string // 设置后包含该用户的user scope分块
	IncludeCore bool   // 是否包含core scope分块
}

// SearchResult 检索结果，Distance为余弦距离（越小越相似）
type SearchResult struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
	Distance float64
}

// CountFilter 计数过滤条件，nil表示统计全部
type CountFilter struct {
	Scope Scope
	Owner string
}

// VectorStore 向量存储抽象。Add整体成功或整体失败；
// Query支持多读并发，Add/Delete串行化写入
type VectorStore interface {
	Add(ctx context.Context, texts []string, metas []ChunkMetadata) ([]string, error)
	Query(ctx context.Context, req QueryRequest) ([]SearchResult, error)
	DeleteByDocument(ctx context.Context, documentID string, owner string) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	Count(ctx context.Context, filter *CountFilter) (int, error)
	Ready() bool
}

// defaultQueryLimit 未指定limit时的默认top-k
const defaultQueryLimit = 5

// validateMetadatas 在任何写入前校验全部元数据，保证Add的all-or-nothing语义
func validateMetadatas(texts []string, metas []ChunkMetadata) error {
	if len(texts) != len(metas) {
		return apperrors.NewValidationError(apperrors.ErrCodeInvalidInput,
			"texts and metadatas length mismatch")
	}
	for _, meta := range metas {
		if !meta.Scope.Valid() {
			return apperrors.NewInvalidScopeError(string(meta.Scope))
		}
		if meta.Scope == ScopeUser && meta.Owner == "" {
			return apperrors.NewMissingOwnerError()
		}
	}
	return nil
}

// matchesFilter 检查元数据是否命中计数过滤条件
func matchesFilter(meta ChunkMetadata, filter *CountFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Scope != "" && meta.Scope != filter.Scope {
		return false
	}
	if filter.Owner != "" && meta.Owner != filter.Owner {
		return false
	}
	return true
}
