package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	UseTLS     bool
	Timeout    time.Duration
}

// milvusVectorStore 基于Milvus的向量存储，scope/owner为标量字段参与表达式过滤
type milvusVectorStore struct {
	milvusClient client.Client
	embedder     Embedder
	collection   string
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(embedder Embedder, opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "hira_chunks"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		embedder:     embedder,
		collection:   opts.Collection,
	}, nil
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "Knowledge chunks with core/user scope isolation",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "filename",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "chunk_count",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "scope",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "16"},
			},
			{
				Name:       "owner",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "page_number",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.embedder.Dimensions())},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		index, err = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// escapeExpr 转义表达式中的字符串值
func escapeExpr(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// filterExpr 构造scope/owner/document_id过滤表达式
func filterExpr(scope Scope, owner string, documentID string) string {
	var parts []string
	if scope != "" {
		parts = append(parts, fmt.Sprintf(`scope == "%s"`, escapeExpr(string(scope))))
	}
	if owner != "" {
		parts = append(parts, fmt.Sprintf(`owner == "%s"`, escapeExpr(owner)))
	}
	if documentID != "" {
		parts = append(parts, fmt.Sprintf(`document_id == "%s"`, escapeExpr(documentID)))
	}
	return strings.Join(parts, " && ")
}

func (s *milvusVectorStore) Add(ctx context.Context, texts []string, metas []ChunkMetadata) ([]string, error) {
	if err := validateMetadatas(texts, metas); err != nil {
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	n := len(texts)
	ids := make([]string, 0, n)
	documentIDs := make([]string, 0, n)
	filenames := make([]string, 0, n)
	chunkIndexes := make([]int64, 0, n)
	chunkCounts := make([]int64, 0, n)
	scopes := make([]string, 0, n)
	owners := make([]string, 0, n)
	pageNumbers := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)

	for i, text := range texts {
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		meta := metas[i]
		ids = append(ids, uuid.NewString())
		documentIDs = append(documentIDs, meta.DocumentID)
		filenames = append(filenames, meta.Filename)
		chunkIndexes = append(chunkIndexes, int64(meta.ChunkIndex))
		chunkCounts = append(chunkCounts, int64(meta.ChunkCount))
		scopes = append(scopes, string(meta.Scope))
		owners = append(owners, meta.Owner)
		pageNumbers = append(pageNumbers, int64(meta.PageNumber))
		vectors = append(vectors, embedding)
	}

	// 单次insert写入整批分块
	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("chunk_count", chunkCounts),
		entity.NewColumnVarChar("scope", scopes),
		entity.NewColumnVarChar("owner", owners),
		entity.NewColumnInt64("page_number", pageNumbers),
		entity.NewColumnVarChar("content", texts),
		entity.NewColumnFloatVector("vector", s.embedder.Dimensions(), vectors),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return nil, fmt.Errorf("milvus flush failed: %w", err)
	}
	return ids, nil
}

func (s *milvusVectorStore) Query(ctx context.Context, req QueryRequest) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Owner != "" && req.IncludeCore:
		core, err := s.search(ctx, queryVec, limit, filterExpr(ScopeCore, "", ""))
		if err != nil {
			return nil, err
		}
		user, err := s.search(ctx, queryVec, limit, filterExpr(ScopeUser, req.Owner, ""))
		if err != nil {
			return nil, err
		}
		merged := append(core, user...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Distance < merged[j].Distance
		})
		if len(merged) > limit {
			merged = merged[:limit]
		}
		return merged, nil
	case req.Owner != "":
		return s.search(ctx, queryVec, limit, filterExpr(ScopeUser, req.Owner, ""))
	default:
		return s.search(ctx, queryVec, limit, filterExpr(ScopeCore, "", ""))
	}
}

var milvusOutputFields = []string{"document_id", "filename", "chunk_index", "chunk_count", "scope", "owner", "page_number", "content"}

func (s *milvusVectorStore) search(ctx context.Context, vector []float32, limit int, expr string) ([]SearchResult, error) {
	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		expr,
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchResult{}, nil
	}

	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	columns := make(map[string]entity.Column, len(result.Fields))
	for _, field := range result.Fields {
		columns[field.Name()] = field
	}

	varcharAt := func(name string, i int) string {
		if col, ok := columns[name].(*entity.ColumnVarChar); ok && i < len(col.Data()) {
			return col.Data()[i]
		}
		return ""
	}
	int64At := func(name string, i int) int64 {
		if col, ok := columns[name].(*entity.ColumnInt64); ok && i < len(col.Data()) {
			return col.Data()[i]
		}
		return 0
	}

	results := make([]SearchResult, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		results = append(results, SearchResult{
			ID:      id,
			Content: varcharAt("content", i),
			Metadata: ChunkMetadata{
				DocumentID: varcharAt("document_id", i),
				Filename:   varcharAt("filename", i),
				ChunkIndex: int(int64At("chunk_index", i)),
				ChunkCount: int(int64At("chunk_count", i)),
				Scope:      Scope(varcharAt("scope", i)),
				Owner:      varcharAt("owner", i),
				PageNumber: int(int64At("page_number", i)),
			},
			// COSINE metric下score为相似度，转为距离
			Distance: 1 - score,
		})
	}
	return results, nil
}

func (s *milvusVectorStore) DeleteByDocument(ctx context.Context, documentID string, owner string) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	var expr string
	if owner != "" {
		expr = filterExpr(ScopeUser, owner, documentID)
	} else {
		expr = filterExpr("", "", documentID)
	}

	removed, err := s.countExpr(ctx, expr)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, fmt.Errorf("milvus delete failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return 0, fmt.Errorf("milvus flush failed: %w", err)
	}
	return removed, nil
}

func (s *milvusVectorStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, fmt.Sprintf(`"%s"`, escapeExpr(id)))
	}
	expr := fmt.Sprintf("id in [%s]", strings.Join(quoted, ", "))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func (s *milvusVectorStore) Count(ctx context.Context, filter *CountFilter) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	expr := ""
	if filter != nil {
		expr = filterExpr(filter.Scope, filter.Owner, "")
	}
	return s.countExpr(ctx, expr)
}

func (s *milvusVectorStore) countExpr(ctx context.Context, expr string) (int, error) {
	rs, err := s.milvusClient.Query(ctx, s.collection, nil, expr, []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("milvus count failed: %w", err)
	}
	for _, col := range rs {
		if intCol, ok := col.(*entity.ColumnInt64); ok && len(intCol.Data()) > 0 {
			return int(intCol.Data()[0]), nil
		}
	}
	return 0, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil || s.embedder == nil || !s.embedder.Ready() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
