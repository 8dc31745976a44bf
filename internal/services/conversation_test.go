package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)

	for i := 0; i < 5; i++ {
		h.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := h.Turns()
	require.Len(t, turns, 3)
	// 最旧的轮次被淘汰，顺序保持从旧到新
	assert.Equal(t, "q2", turns[0].Question)
	assert.Equal(t, "q4", turns[2].Question)
	assert.Equal(t, "a4", turns[2].Answer)
}

func TestHistoryRender(t *testing.T) {
	h := NewHistory(10)
	h.Append("what is HRBA", "A human rights-based approach.")
	h.Append("give an example", "Participation in policy design.")

	rendered := h.Render("HiRA")
	assert.Equal(t,
		"User: what is HRBA\nHiRA: A human rights-based approach.\nUser: give an example\nHiRA: Participation in policy design.",
		rendered)

	// 空名字回退为Assistant
	assert.Contains(t, h.Render(""), "Assistant: A human rights-based approach.")

	// 空历史渲染为空串
	assert.Equal(t, "", NewHistory(10).Render("HiRA"))
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := NewHistory(100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.Append(fmt.Sprintf("q%d", n), fmt.Sprintf("a%d", n))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, h.Len())
}

func TestConversationStoreIsolation(t *testing.T) {
	store := NewConversationStore(10)

	a := store.Get("conv-a")
	b := store.Get("conv-b")
	a.Append("question", "answer")

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())

	// 同一ID返回同一历史
	assert.Same(t, a, store.Get("conv-a"))

	store.Clear("conv-a")
	assert.Equal(t, 0, store.Get("conv-a").Len())
}
