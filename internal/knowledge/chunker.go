package knowledge

import (
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 文本分块器，在句子边界处切分出带重叠的文本块
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	minLength    int
}

// 句子终止边界，按优先级无关的方式取最靠后的一个
var sentenceBoundaries = []string{". ", ".\n", "! ", "? "}

// boundaryRatio 边界回退下限，低于窗口的70%不在边界处截断
const boundaryRatio = 0.7

// NewChunker 创建分块器，overlap必须严格小于chunkSize
func NewChunker(chunkSize, overlap, minLength int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput, "chunk size must be positive")
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput,
			"chunk overlap must be smaller than chunk size")
	}
	if minLength < 0 {
		minLength = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		minLength:    minLength,
	}, nil
}

// Split 将文本切分为多个chunk，结果对相同输入和参数是确定的
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0

	for start < len(runes) {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		// 非最终窗口尝试在句子边界处截断
		if end < len(runes) {
			if cut := lastSentenceBoundary(runes[start:end]); cut > int(float64(c.chunkSize)*boundaryRatio) {
				end = start + cut
			}
		}

		chunkText := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(chunkText)) >= c.minLength {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  chunkText,
			})
		}

		if end == len(runes) {
			break
		}
		// 边界截断可能短于overlap，此时从截断处继续，保证窗口严格前移
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	// 重新编号，min-length过滤后保持索引稠密
	for i := range chunks {
		chunks[i].Index = i
	}

	return chunks
}

// lastSentenceBoundary 从窗口末尾向前查找最近的句子终止边界，
// 返回截断位置（含标点），未找到返回-1
func lastSentenceBoundary(window []rune) int {
	s := string(window)
	best := -1
	for _, boundary := range sentenceBoundaries {
		if idx := strings.LastIndex(s, boundary); idx > best {
			best = idx
		}
	}
	if best < 0 {
		return -1
	}
	// 字节偏移转rune偏移，包含标点符号本身
	return len([]rune(s[:best])) + 1
}

var pageMarkerPattern = regexp.MustCompile(`\[Page (\d+)\]`)

// extractPageNumber 从分块文本中提取页码标记（分页来源的文本带 [Page N] 标记）
func extractPageNumber(text string) (int, bool) {
	match := pageMarkerPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	page, err := strconv.Atoi(match[1])
	if err != nil || page <= 0 {
		return 0, false
	}
	return page, true
}
