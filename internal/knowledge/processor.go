package knowledge

import (
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

// Document 摄取请求的原始文档。文本抽取（PDF解析等）由上游协作方完成，
// 分页来源的文本以 [Page N] 标记携带页码
type Document struct {
	ID       string
	Filename string
	Scope    Scope
	Owner    string
	Text     string
}

// ProcessedDocument 处理结果：分块文本与逐块元数据
type ProcessedDocument struct {
	DocumentID string
	Filename   string
	Chunks     []string
	Metadata   []ChunkMetadata
	ChunkCount int
	Scope      Scope
	Owner      string
}

// Processor 文档处理管线：校验、分块、构造元数据
type Processor struct {
	chunker *Chunker
}

// NewProcessor 创建文档处理器
func NewProcessor(chunker *Chunker) *Processor {
	return &Processor{chunker: chunker}
}

// Process 将文档处理为分块与元数据。user scope必须携带owner
func (p *Processor) Process(doc Document) (*ProcessedDocument, error) {
	if doc.Scope == "" {
		doc.Scope = ScopeUser
	}
	if !doc.Scope.Valid() {
		return nil, apperrors.NewInvalidScopeError(string(doc.Scope))
	}
	if doc.Scope == ScopeUser && doc.Owner == "" {
		return nil, apperrors.NewMissingOwnerError()
	}
	if strings.TrimSpace(doc.Filename) == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput, "filename is required")
	}

	documentID := doc.ID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	chunks := p.chunker.Split(doc.Text)

	texts := make([]string, 0, len(chunks))
	metas := make([]ChunkMetadata, 0, len(chunks))
	for _, chunk := range chunks {
		meta := ChunkMetadata{
			DocumentID: documentID,
			Filename:   doc.Filename,
			ChunkIndex: chunk.Index,
			ChunkCount: len(chunks),
			Scope:      doc.Scope,
			Owner:      doc.Owner,
		}
		if page, ok := extractPageNumber(chunk.Text); ok {
			meta.PageNumber = page
		}
		texts = append(texts, chunk.Text)
		metas = append(metas, meta)
	}

	return &ProcessedDocument{
		DocumentID: documentID,
		Filename:   doc.Filename,
		Chunks:     texts,
		Metadata:   metas,
		ChunkCount: len(chunks),
		Scope:      doc.Scope,
		Owner:      doc.Owner,
	}, nil
}
