package relay

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTranscriptBufferSize 转写缓冲区默认容量
	DefaultTranscriptBufferSize = 50
	// DefaultTranscriptContext 默认携带的上下文条数
	DefaultTranscriptContext = 10
)

// TranscriptItem 一条会议转写记录
type TranscriptItem struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// TranscriptBuffer 会话级转写环形缓冲区，满后淘汰最旧条目。
// 两个转发循环并发读写，内部加锁
type TranscriptBuffer struct {
	mu       sync.Mutex
	items    []TranscriptItem
	capacity int
	wake     *regexp.Regexp
}

// NewTranscriptBuffer 创建转写缓冲区，唤醒词由问候词与名字别名组成
func NewTranscriptBuffer(capacity int, greetings, names []string) *TranscriptBuffer {
	if capacity <= 0 {
		capacity = DefaultTranscriptBufferSize
	}
	if len(greetings) == 0 {
		greetings = []string{"hey", "hi", "hello"}
	}
	if len(names) == 0 {
		names = []string{"hira", "hera", "hiera"}
	}

	// 整词匹配，避免命中"hiraeth"这类包含别名的词
	pattern := fmt.Sprintf(`(?i)\b(%s)\s+(%s)\b`,
		strings.Join(quoteAll(greetings), "|"),
		strings.Join(quoteAll(names), "|"))

	return &TranscriptBuffer{
		items:    make([]TranscriptItem, 0, capacity),
		capacity: capacity,
		wake:     regexp.MustCompile(pattern),
	}
}

func quoteAll(words []string) []string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(w))))
	}
	return quoted
}

// Add 追加一条转写，超出容量时淘汰最旧的
func (b *TranscriptBuffer) Add(speaker, text string) TranscriptItem {
	item := TranscriptItem{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if len(b.items) > b.capacity {
		b.items = b.items[len(b.items)-b.capacity:]
	}
	return item
}

// DetectWake 检查文本是否包含唤醒词，命中时返回其后的问题部分
func (b *TranscriptBuffer) DetectWake(text string) (bool, string) {
	loc := b.wake.FindStringIndex(text)
	if loc == nil {
		return false, ""
	}
	// 唤醒词后紧跟的标点不属于问题本身
	question := strings.TrimLeft(text[loc[1]:], ",.!?;: ")
	return true, strings.TrimSpace(question)
}

// Context 渲染最近n条转写，格式为"speaker: text"，从旧到新
func (b *TranscriptBuffer) Context(n int) string {
	if n <= 0 {
		n = DefaultTranscriptContext
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := len(b.items) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(b.items)-start)
	for _, item := range b.items[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", item.Speaker, item.Text))
	}
	return strings.Join(lines, "\n")
}

// Len 当前缓冲条数
func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
