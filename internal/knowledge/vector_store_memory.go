package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryEntry struct {
	id        string
	embedding []float32
	text      string
	meta      ChunkMetadata
}

// memoryVectorStore 内存向量存储，暴力余弦距离检索。
// 读写锁保证查询要么看到文档摄取前、要么看到摄取后的完整状态
type memoryVectorStore struct {
	mu       sync.RWMutex
	embedder Embedder
	entries  []memoryEntry
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore(embedder Embedder) VectorStore {
	return &memoryVectorStore{embedder: embedder}
}

func (s *memoryVectorStore) Add(ctx context.Context, texts []string, metas []ChunkMetadata) ([]string, error) {
	if err := validateMetadatas(texts, metas); err != nil {
		return nil, err
	}

	// 先在锁外完成全部embedding，任何一条失败则整体不提交
	added := make([]memoryEntry, 0, len(texts))
	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		added = append(added, memoryEntry{
			id:        id,
			embedding: embedding,
			text:      text,
			meta:      metas[i],
		})
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.entries = append(s.entries, added...)
	s.mu.Unlock()

	return ids, nil
}

func (s *memoryVectorStore) Query(ctx context.Context, req QueryRequest) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	queryVec, err := s.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case req.Owner != "" && req.IncludeCore:
		// core与user分别检索后按距离归并，不做scope优先级的并列打破
		core := s.search(queryVec, limit, func(m ChunkMetadata) bool {
			return m.Scope == ScopeCore
		})
		user := s.search(queryVec, limit, func(m ChunkMetadata) bool {
			return m.Scope == ScopeUser && m.Owner == req.Owner
		})
		merged := append(core, user...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Distance < merged[j].Distance
		})
		if len(merged) > limit {
			merged = merged[:limit]
		}
		return merged, nil

	case req.Owner != "":
		return s.search(queryVec, limit, func(m ChunkMetadata) bool {
			return m.Scope == ScopeUser && m.Owner == req.Owner
		}), nil

	default:
		return s.search(queryVec, limit, func(m ChunkMetadata) bool {
			return m.Scope == ScopeCore
		}), nil
	}
}

// search 在持有读锁的前提下执行一次过滤检索，结果按距离升序
func (s *memoryVectorStore) search(queryVec []float32, limit int, match func(ChunkMetadata) bool) []SearchResult {
	results := make([]SearchResult, 0, limit)
	for _, entry := range s.entries {
		if !match(entry.meta) {
			continue
		}
		results = append(results, SearchResult{
			ID:       entry.id,
			Content:  entry.text,
			Metadata: entry.meta,
			Distance: cosineDistance(queryVec, entry.embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *memoryVectorStore) DeleteByDocument(ctx context.Context, documentID string, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		drop := entry.meta.DocumentID == documentID
		if owner != "" {
			// owner限定删除仅触及该用户的user scope分块
			drop = drop && entry.meta.Scope == ScopeUser && entry.meta.Owner == owner
		}
		if drop {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed, nil
}

func (s *memoryVectorStore) DeleteByIDs(ctx context.Context, ids []string) error {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, entry := range s.entries {
		if _, ok := idSet[entry.id]; ok {
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return nil
}

func (s *memoryVectorStore) Count(ctx context.Context, filter *CountFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if matchesFilter(entry.meta, filter) {
			count++
		}
	}
	return count, nil
}

func (s *memoryVectorStore) Ready() bool {
	return s.embedder != nil && s.embedder.Ready()
}

// cosineDistance 余弦距离，1 - cos(a, b)，零向量距离视为1
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
