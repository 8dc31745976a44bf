package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alym00sa/hira/internal/config"
	apperrors "github.com/alym00sa/hira/internal/errors"
	"github.com/alym00sa/hira/internal/metrics"
)

// Dialer 上游连接拨号抽象，测试中可替换为内存管道
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// openAIDialer 连接OpenAI Realtime接口的默认拨号器
type openAIDialer struct {
	url    string
	model  string
	apiKey string
}

func (d *openAIDialer) Dial(ctx context.Context) (Conn, error) {
	target, err := url.Parse(d.url)
	if err != nil {
		return nil, err
	}
	query := target.Query()
	query.Set("model", d.model)
	target.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{"realtime"},
	}
	conn, _, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Server 语音转发服务的HTTP入口。每个websocket升级对应一个Session
type Server struct {
	cfg      *config.Config
	engine   ContextBuilder
	dialer   Dialer
	upgrader websocket.Upgrader
	logger   *zap.Logger
	server   *http.Server
}

// NewServer 创建转发服务器。dialer为nil时使用配置中的OpenAI地址
func NewServer(cfg *config.Config, engine ContextBuilder, dialer Dialer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialer == nil {
		dialer = &openAIDialer{
			url:    cfg.AI.RealtimeURL,
			model:  cfg.AI.RealtimeModel,
			apiKey: cfg.AI.OpenAIAPIKey,
		}
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		dialer: dialer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 浏览器客户端来源不固定，鉴权在上游完成
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("relay"),
	}
}

// Handler 路由：/ws/relay 转发入口，/healthz 存活探针，/metrics 指标
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/relay", s.handleRelay)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start 启动HTTP服务并阻塞直到ctx取消，随后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay server listening", zap.String("addr", addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("relay server shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}

// handleRelay 升级客户端连接、拨号上游并桥接双方。
// 上游凭证缺失时立即以策略违规码关闭，绝不半桥接
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if s.cfg.AI.OpenAIAPIKey == "" {
		s.logger.Error("relay refused: upstream api key not configured")
		client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "upstream credentials not configured"))
		client.Close()
		metrics.SessionsTotal.WithLabelValues("refused").Inc()
		return
	}

	dialCtx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	upstream, err := s.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		s.logger.Error("upstream dial failed", zap.Error(err))
		client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"))
		client.Close()
		metrics.SessionsTotal.WithLabelValues("refused").Inc()
		return
	}

	owner := ownerFromRequest(r)
	session := NewSession(client, upstream, s.engine, s.cfg.Relay, owner, s.logger)
	s.logger.Info("relay session starting",
		zap.String("session_id", session.ID()),
		zap.String("owner", owner),
		zap.String("remote", r.RemoteAddr))

	// 断开属于会话正常生命周期，按错误码区分哪一侧先退出
	if err := session.Run(context.Background()); err != nil {
		appErr := apperrors.GetAppError(err)
		s.logger.Info("relay session ended",
			zap.String("session_id", session.ID()),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}
}

// ownerFromRequest 从查询参数提取用户标识，匿名会话仅能检索core知识库
func ownerFromRequest(r *http.Request) string {
	if owner := strings.TrimSpace(r.URL.Query().Get("user_id")); owner != "" {
		return owner
	}
	return ""
}
