package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alym00sa/hira/internal/config"
	apperrors "github.com/alym00sa/hira/internal/errors"
	"github.com/alym00sa/hira/internal/knowledge"
)

// ChatRequest 文本渠道的一次提问
type ChatRequest struct {
	Message        string
	ConversationID string
	Owner          string
}

// ChatResponse 回答与出处。ConversationID用于后续轮次续接同一会话
type ChatResponse struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversation_id"`
	Sources        []knowledge.Source `json:"sources"`
	HasContext     bool               `json:"has_context"`
	Model          string             `json:"model"`
}

// ChatService 文本问答服务。与语音转发共用同一检索引擎，
// 每个conversation ID维护独立的有界问答历史
type ChatService struct {
	engine        *knowledge.RAGEngine
	llm           LLMClient
	conversations *ConversationStore
	assistantName string
	instructions  string
	logger        *zap.Logger
}

// NewChatService 创建文本问答服务
func NewChatService(engine *knowledge.RAGEngine, llm LLMClient, cfg config.RelayConfig, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		engine:        engine,
		llm:           llm,
		conversations: NewConversationStore(cfg.MaxHistoryTurns),
		assistantName: cfg.AssistantName,
		instructions:  cfg.Instructions,
		logger:        logger.Named("chat"),
	}
}

// ProcessMessage 检索知识库并生成回答。检索失败时降级为无上下文回答而不中断请求
func (s *ChatService) ProcessMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput, "message is required")
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	history := s.conversations.Get(conversationID)

	result := s.engine.BuildContextPrompt(ctx, message, req.Owner, 0)

	answer, err := s.llm.Complete(ctx, s.buildMessages(message, history, result))
	if err != nil {
		s.logger.Error("chat completion failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return nil, err
	}

	history.Append(message, answer)
	s.logger.Info("chat answered",
		zap.String("conversation_id", conversationID),
		zap.Bool("has_context", result.HasContext),
		zap.Int("sources", len(result.Sources)))

	return &ChatResponse{
		Message:        answer,
		ConversationID: conversationID,
		Sources:        result.Sources,
		HasContext:     result.HasContext,
		Model:          s.llm.Model(),
	}, nil
}

// ClearConversation 清除指定会话的历史
func (s *ChatService) ClearConversation(conversationID string) {
	s.conversations.Clear(conversationID)
}

// buildMessages 组装系统提示词、近期轮次与当前问题
func (s *ChatService) buildMessages(message string, history *History, result *knowledge.ContextResult) []ChatMessage {
	var prompt strings.Builder
	prompt.WriteString(s.instructions)
	prompt.WriteString("\n\nKNOWLEDGE BASE CONTEXT:\n")
	prompt.WriteString(result.Context)

	if rendered := history.Render(s.assistantName); rendered != "" {
		prompt.WriteString("\n\nRECENT CONVERSATION:\n")
		prompt.WriteString(rendered)
	}

	return []ChatMessage{
		{Role: "system", Content: prompt.String()},
		{Role: "user", Content: message},
	}
}

// Ready 文本渠道是否可用
func (s *ChatService) Ready() bool {
	return s.llm != nil && s.llm.Ready()
}

// Describe 服务概览，用于健康检查输出
func (s *ChatService) Describe() string {
	return fmt.Sprintf("chat service (assistant=%s, llm_ready=%t)", s.assistantName, s.Ready())
}
