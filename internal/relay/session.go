package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alym00sa/hira/internal/config"
	apperrors "github.com/alym00sa/hira/internal/errors"
	"github.com/alym00sa/hira/internal/knowledge"
	"github.com/alym00sa/hira/internal/metrics"
	"github.com/alym00sa/hira/internal/services"
)

// State 会话状态机：CONNECTING → BRIDGED → CLOSING → CLOSED
type State int32

const (
	StateConnecting State = iota
	StateBridged
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBridged:
		return "bridged"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn 双工消息连接抽象，*websocket.Conn满足该接口，测试中可替换
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ContextBuilder 检索上下文构建依赖（RAGEngine实现）
type ContextBuilder interface {
	BuildContextPrompt(ctx context.Context, query string, owner string, limit int) *knowledge.ContextResult
}

// toolCallResultLimit 工具调用检索的top-k，语音回复只需要很少的上下文
const toolCallResultLimit = 3

// meetingContextItems 工具结果附带的会议上下文条数
const meetingContextItems = 5

// Session 单个客户端与上游模型之间的双工桥接。
// 两个方向各一个转发循环，只共享转写缓冲、对话历史与检索引擎
type Session struct {
	id         string
	client     Conn
	upstream   Conn
	engine     ContextBuilder
	transcript *TranscriptBuffer
	history    *services.History
	events     EventTypes
	cfg        config.RelayConfig
	owner      string
	logger     *zap.Logger

	state      atomic.Int32
	clientMu   sync.Mutex
	upstreamMu sync.Mutex

	// 唤醒后等待回答的未完成问题
	pendingMu       sync.Mutex
	pendingQuestion string
}

// NewSession 创建会话。调用方已完成两侧连接的握手；
// owner为空时检索仅覆盖core知识库
func NewSession(client, upstream Conn, engine ContextBuilder, cfg config.RelayConfig, owner string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		id:         uuid.NewString(),
		client:     client,
		upstream:   upstream,
		engine:     engine,
		transcript: NewTranscriptBuffer(cfg.TranscriptBufferSize, cfg.WakeGreetings, cfg.WakeNames),
		history:    services.NewHistory(cfg.MaxHistoryTurns),
		events:     OpenAIRealtimeEvents(),
		cfg:        cfg,
		owner:      owner,
	}
	s.logger = logger.With(zap.String("session_id", s.id))
	s.state.Store(int32(StateConnecting))
	return s
}

// SetEventTypes 替换上游事件词汇表（供应商协议可注入）
func (s *Session) SetEventTypes(events EventTypes) {
	s.events = events
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// Transcript 会话的转写缓冲区
func (s *Session) Transcript() *TranscriptBuffer {
	return s.transcript
}

// History 会话的问答历史
func (s *Session) History() *services.History {
	return s.history
}

// Run 运行两个转发循环直到任意一侧断开。任意一侧关闭都会
// 立即关闭另一侧连接以解除阻塞读，缓冲数据随会话丢弃
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(int32(StateBridged))
	metrics.ActiveSessions.Inc()
	s.logger.Info("session bridged")

	defer func() {
		s.state.Store(int32(StateClosed))
		metrics.ActiveSessions.Dec()
		s.logger.Info("session closed",
			zap.Int("transcript_items", s.transcript.Len()),
			zap.Int("history_turns", s.history.Len()))
	}()

	g, ctx := errgroup.WithContext(ctx)

	// 任一循环退出或外部取消时，关闭两侧连接解除另一循环的阻塞读
	g.Go(func() error {
		<-ctx.Done()
		s.state.Store(int32(StateClosing))
		s.client.Close()
		s.upstream.Close()
		return nil
	})

	g.Go(func() error {
		return s.clientToUpstream()
	})
	g.Go(func() error {
		return s.upstreamToClient()
	})

	err := g.Wait()
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("disconnect").Inc()
	} else {
		metrics.SessionsTotal.WithLabelValues("closed").Inc()
	}
	return err
}

// clientToUpstream 客户端→上游循环。session配置事件被改写，其余按序透传
func (s *Session) clientToUpstream() error {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			s.logger.Debug("client read ended", zap.Error(err))
			return apperrors.NewClientDisconnectError(err)
		}

		if messageType == websocket.TextMessage {
			event, perr := ParseEvent(data)
			if perr != nil {
				// 畸形消息丢弃，会话继续
				s.logger.Warn("dropping malformed client event", zap.Error(perr))
				metrics.EventsDropped.Inc()
				continue
			}

			if event.Type == s.events.SessionUpdate {
				rewritten, rerr := s.rewriteSessionUpdate(data)
				if rerr != nil {
					s.logger.Warn("dropping unrewritable session update", zap.Error(rerr))
					metrics.EventsDropped.Inc()
					continue
				}
				data = rewritten
				s.logger.Debug("session update rewritten",
					zap.Int("transcript_items", s.transcript.Len()))
			}
		}

		if err := s.writeUpstream(messageType, data); err != nil {
			return apperrors.NewUpstreamDisconnectError(err)
		}
		metrics.EventsRelayed.WithLabelValues("client_to_upstream").Inc()
	}
}

// upstreamToClient 上游→客户端循环。转写事件喂入缓冲区，
// 知识检索工具调用被拦截处理，其余按序透传
func (s *Session) upstreamToClient() error {
	for {
		messageType, data, err := s.upstream.ReadMessage()
		if err != nil {
			s.logger.Debug("upstream read ended", zap.Error(err))
			return apperrors.NewUpstreamDisconnectError(err)
		}

		if messageType == websocket.TextMessage {
			event, perr := ParseEvent(data)
			if perr != nil {
				s.logger.Warn("dropping malformed upstream event", zap.Error(perr))
				metrics.EventsDropped.Inc()
				continue
			}

			switch event.Type {
			case s.events.TranscriptionCompleted:
				s.onTranscription(event)

			case s.events.ResponseDone:
				s.onResponseDone(event)

			case s.events.FunctionCallArgumentsDone:
				call := event.FunctionCall()
				if call.Name == s.cfg.ToolName {
					// 工具调用对客户端不可见，在这里就地应答
					s.handleToolCall(call)
					continue
				}
			}
		}

		if err := s.writeClient(messageType, data); err != nil {
			return apperrors.NewClientDisconnectError(err)
		}
		metrics.EventsRelayed.WithLabelValues("upstream_to_client").Inc()
	}
}

// onTranscription 记录用户转写并做不阻塞转发的唤醒词检测
func (s *Session) onTranscription(event *Event) {
	text := event.Transcript()
	if text == "" {
		return
	}
	s.transcript.Add("User", text)

	if matched, question := s.transcript.DetectWake(text); matched {
		s.logger.Info("wake word detected", zap.String("question", question))
		s.pendingMu.Lock()
		s.pendingQuestion = question
		s.pendingMu.Unlock()
	}
}

// onResponseDone 记录助手回答，完成未结的问答轮
func (s *Session) onResponseDone(event *Event) {
	texts := event.AssistantTexts()
	if len(texts) == 0 {
		return
	}
	for _, text := range texts {
		s.transcript.Add(s.cfg.AssistantName, text)
	}

	s.pendingMu.Lock()
	question := s.pendingQuestion
	s.pendingQuestion = ""
	s.pendingMu.Unlock()

	if question != "" {
		s.history.Append(question, texts[0])
	}
}

// rewriteSessionUpdate 改写session配置事件：工具列表、工具选择策略、
// 音色与系统指令以转发服务的配置为准，客户端设置不参与合并
func (s *Session) rewriteSessionUpdate(data []byte) ([]byte, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}

	session, ok := event["session"].(map[string]interface{})
	if !ok {
		session = map[string]interface{}{}
	}

	session["tools"] = KnowledgeTools(s.cfg.ToolName)
	session["tool_choice"] = "auto"
	session["voice"] = s.cfg.Voice

	instructions := s.cfg.Instructions
	if s.transcript.Len() > 0 {
		instructions += "\n\nRECENT MEETING CONTEXT:\n" + s.transcript.Context(s.cfg.TranscriptContext)
	}
	session["instructions"] = instructions

	event["session"] = session
	return json.Marshal(event)
}

// toolCallOutput 发送给上游的工具结果载荷
type toolCallOutput struct {
	Context        string   `json:"context"`
	Sources        []string `json:"sources"`
	MeetingContext string   `json:"meeting_context"`
}

// handleToolCall 执行检索并应答被拦截的工具调用。检索失败也必须
// 回复空结果，悬空的工具调用会让上游模型卡住
func (s *Session) handleToolCall(call FunctionCall) {
	metrics.ToolCallsIntercepted.Inc()

	query := ""
	var args struct {
		Query string `json:"query"`
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			s.logger.Warn("tool call arguments unparseable", zap.Error(err))
		}
		query = args.Query
	}

	output := toolCallOutput{
		Context:        "No information found in knowledge base",
		Sources:        []string{},
		MeetingContext: s.transcript.Context(meetingContextItems),
	}

	if query != "" && s.engine != nil {
		timeout := time.Duration(s.cfg.RetrievalTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		result := s.engine.BuildContextPrompt(ctx, query, s.owner, toolCallResultLimit)
		cancel()

		if result.HasContext {
			maxRunes := s.cfg.ToolResultMaxRunes
			if maxRunes <= 0 {
				maxRunes = 500
			}
			text := result.Context
			if runes := []rune(text); len(runes) > maxRunes {
				text = string(runes[:maxRunes])
			}
			output.Context = text

			maxSources := s.cfg.ToolResultMaxSources
			if maxSources <= 0 {
				maxSources = 2
			}
			for _, source := range result.Sources {
				if len(output.Sources) >= maxSources {
					break
				}
				output.Sources = append(output.Sources, source.Filename)
			}
		}
	}

	payload, err := json.Marshal(output)
	if err != nil {
		payload = []byte(`{"context":"No information found in knowledge base","sources":[]}`)
	}

	response := map[string]interface{}{
		"type": s.events.ItemCreate,
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": call.CallID,
			"output":  string(payload),
		},
	}
	if err := s.writeUpstreamJSON(response); err != nil {
		s.logger.Warn("tool output write failed", zap.Error(err))
		return
	}
	// 工具结果已就位，指示上游继续生成
	if err := s.writeUpstreamJSON(map[string]interface{}{"type": s.events.ResponseCreate}); err != nil {
		s.logger.Warn("response create write failed", zap.Error(err))
		return
	}

	s.logger.Info("tool call answered",
		zap.String("call_id", call.CallID),
		zap.String("query", query),
		zap.Int("sources", len(output.Sources)))
}

func (s *Session) writeUpstream(messageType int, data []byte) error {
	s.upstreamMu.Lock()
	defer s.upstreamMu.Unlock()
	return s.upstream.WriteMessage(messageType, data)
}

func (s *Session) writeUpstreamJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeUpstream(websocket.TextMessage, data)
}

func (s *Session) writeClient(messageType int, data []byte) error {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return s.client.WriteMessage(messageType, data)
}
