package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	Collection string
	UseTLS     bool
	Timeout    time.Duration
}

// qdrantVectorStore 基于Qdrant HTTP API的向量存储。
// scope/owner/document_id作为payload字段参与过滤
type qdrantVectorStore struct {
	client     *http.Client
	embedder   Embedder
	endpoint   string
	apiKey     string
	collection string
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(embedder Embedder, opts QdrantOptions) (VectorStore, error) {
	if opts.Endpoint == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}
	if opts.Collection == "" {
		opts.Collection = "hira_chunks"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorStore{
		client:     &http.Client{Timeout: timeout},
		embedder:   embedder,
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
	}, nil
}

func (s *qdrantVectorStore) ensureCollection(ctx context.Context) error {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		return nil
	}
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.embedder.Dimensions(),
			"distance": "Cosine",
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s failed: %s", s.collection, resp.Status)
	}
	return nil
}

func chunkPayload(text string, meta ChunkMetadata) map[string]interface{} {
	payload := map[string]interface{}{
		"content":     text,
		"document_id": meta.DocumentID,
		"filename":    meta.Filename,
		"chunk_index": meta.ChunkIndex,
		"chunk_count": meta.ChunkCount,
		"scope":       string(meta.Scope),
	}
	if meta.Owner != "" {
		payload["owner"] = meta.Owner
	}
	if meta.PageNumber > 0 {
		payload["page_number"] = meta.PageNumber
	}
	return payload
}

func metadataFromPayload(payload map[string]interface{}) (string, ChunkMetadata) {
	meta := ChunkMetadata{}
	content := ""
	if v, ok := payload["content"].(string); ok {
		content = v
	}
	if v, ok := payload["document_id"].(string); ok {
		meta.DocumentID = v
	}
	if v, ok := payload["filename"].(string); ok {
		meta.Filename = v
	}
	if v, ok := payload["chunk_index"].(float64); ok {
		meta.ChunkIndex = int(v)
	}
	if v, ok := payload["chunk_count"].(float64); ok {
		meta.ChunkCount = int(v)
	}
	if v, ok := payload["scope"].(string); ok {
		meta.Scope = Scope(v)
	}
	if v, ok := payload["owner"].(string); ok {
		meta.Owner = v
	}
	if v, ok := payload["page_number"].(float64); ok {
		meta.PageNumber = int(v)
	}
	return content, meta
}

func (s *qdrantVectorStore) Add(ctx context.Context, texts []string, metas []ChunkMetadata) ([]string, error) {
	if err := validateMetadatas(texts, metas); err != nil {
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	points := make([]map[string]interface{}, 0, len(texts))
	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		ids = append(ids, id)
		points = append(points, map[string]interface{}{
			"id":      id,
			"vector":  embedding,
			"payload": chunkPayload(text, metas[i]),
		})
	}

	// 单次upsert写入整批分块
	resp, err := s.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", s.collection),
		map[string]interface{}{"points": points})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(raw))
	}
	return ids, nil
}

// scopeFilter 构造scope/owner过滤条件
func scopeFilter(scope Scope, owner string, documentID string) map[string]interface{} {
	must := []map[string]interface{}{}
	if scope != "" {
		must = append(must, map[string]interface{}{
			"key": "scope", "match": map[string]interface{}{"value": string(scope)},
		})
	}
	if owner != "" {
		must = append(must, map[string]interface{}{
			"key": "owner", "match": map[string]interface{}{"value": owner},
		})
	}
	if documentID != "" {
		must = append(must, map[string]interface{}{
			"key": "document_id", "match": map[string]interface{}{"value": documentID},
		})
	}
	return map[string]interface{}{"must": must}
}

func (s *qdrantVectorStore) Query(ctx context.Context, req QueryRequest) ([]SearchResult, error) {
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
		core, err := s.search(ctx, queryVec, limit, scopeFilter(ScopeCore, "", ""))
		if err != nil {
			return nil, err
		}
		user, err := s.search(ctx, queryVec, limit, scopeFilter(ScopeUser, req.Owner, ""))
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
		return s.search(ctx, queryVec, limit, scopeFilter(ScopeUser, req.Owner, ""))
	default:
		return s.search(ctx, queryVec, limit, scopeFilter(ScopeCore, "", ""))
	}
}

func (s *qdrantVectorStore) search(ctx context.Context, vector []float32, limit int, filter map[string]interface{}) ([]SearchResult, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"filter":       filter,
		"with_payload": true,
		"with_vectors": false,
	}

	resp, err := s.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		content, meta := metadataFromPayload(item.Payload)
		results = append(results, SearchResult{
			ID:       fmt.Sprintf("%v", item.ID),
			Content:  content,
			Metadata: meta,
			// Qdrant余弦score为相似度，转为距离
			Distance: 1 - item.Score,
		})
	}
	return results, nil
}

func (s *qdrantVectorStore) DeleteByDocument(ctx context.Context, documentID string, owner string) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	var filter map[string]interface{}
	if owner != "" {
		filter = scopeFilter(ScopeUser, owner, documentID)
	} else {
		filter = scopeFilter("", "", documentID)
	}

	// 先统计命中数，便于上层区分not-found
	removed, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	resp, err := s.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection),
		map[string]interface{}{"filter": filter})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("qdrant delete failed: %s %s", resp.Status, string(raw))
	}
	return removed, nil
}

func (s *qdrantVectorStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	resp, err := s.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection),
		map[string]interface{}{"points": ids})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant delete failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorStore) Count(ctx context.Context, filter *CountFilter) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	var qf map[string]interface{}
	if filter != nil {
		qf = scopeFilter(filter.Scope, filter.Owner, "")
	}
	return s.count(ctx, qf)
}

func (s *qdrantVectorStore) count(ctx context.Context, filter map[string]interface{}) (int, error) {
	body := map[string]interface{}{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	resp, err := s.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/count", s.collection), body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("qdrant count failed: %s %s", resp.Status, string(raw))
	}

	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, err
	}
	return countResp.Result.Count, nil
}

func (s *qdrantVectorStore) Ready() bool {
	return s.client != nil && s.embedder != nil && s.embedder.Ready()
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
