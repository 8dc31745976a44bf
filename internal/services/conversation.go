package services

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxHistoryTurns 每个对话保留的最大轮数
const DefaultMaxHistoryTurns = 10

// Turn 一轮问答
type Turn struct {
	Question string
	Answer   string
}

// History 单个对话的有界历史，超出上限时淘汰最旧的轮次。
// 仅存内存，随会话/进程生命周期销毁
type History struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
}

// NewHistory 创建对话历史
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxHistoryTurns
	}
	return &History{maxTurns: maxTurns}
}

// Append 追加一轮问答
func (h *History) Append(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, Turn{Question: question, Answer: answer})
	if len(h.turns) > h.maxTurns {
		h.turns = h.turns[len(h.turns)-h.maxTurns:]
	}
}

// Turns 返回历史轮次的拷贝，从旧到新
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Render 将历史渲染为与转写上下文一致的"speaker: text"格式
func (h *History) Render(assistantName string) string {
	if assistantName == "" {
		assistantName = "Assistant"
	}

	turns := h.Turns()
	lines := make([]string, 0, len(turns)*2)
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("User: %s", turn.Question))
		lines = append(lines, fmt.Sprintf("%s: %s", assistantName, turn.Answer))
	}
	return strings.Join(lines, "\n")
}

// Len 当前轮数
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// ConversationStore 按对话ID管理历史，各对话相互隔离
type ConversationStore struct {
	mu       sync.Mutex
	byID     map[string]*History
	maxTurns int
}

// NewConversationStore 创建对话存储
func NewConversationStore(maxTurns int) *ConversationStore {
	return &ConversationStore{
		byID:     make(map[string]*History),
		maxTurns: maxTurns,
	}
}

// Get 获取或创建指定对话的历史
func (s *ConversationStore) Get(conversationID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.byID[conversationID]
	if !ok {
		history = NewHistory(s.maxTurns)
		s.byID[conversationID] = history
	}
	return history
}

// Clear 清除指定对话的历史
func (s *ConversationStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, conversationID)
}
