package server

// ============================================================================
// HTTP 狀態 / 命令 API
// 職責：
//   GET  /status            最新狀態文件（尚無文件時 503）
//   POST /command           送出一則文字命令，回傳處理後的狀態
//   GET  /ws                以 WebSocket 推送每一份狀態文件
//   GET  /registration/qr   註冊網址的 QR code（PNG）
//   GET  /metrics           Prometheus 指標（啟用時）
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/controller"
	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Backend HTTP 與 gRPC 服務需要的控制器功能
type Backend interface {
	Latest() []byte
	Snapshot() types.StatusSnapshot
	Submit(ctx context.Context, in command.Input) error
	Subscribe(buffer int) (<-chan []byte, func())
}

// HTTPConfig HTTP 伺服器設定
type HTTPConfig struct {
	Addr            string
	RegistrationURL string // QR code 內容的基底網址
	Metrics         bool   // 是否掛上 /metrics
	CommandTimeout  time.Duration
}

// HTTPServer 狀態 / 命令 API
type HTTPServer struct {
	cfg     HTTPConfig
	backend Backend
	router  *gin.Engine
	log     *zap.Logger
}

// NewHTTPServer 建立 HTTP 伺服器與路由
func NewHTTPServer(backend Backend, cfg HTTPConfig, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.RegistrationURL == "" {
		cfg.RegistrationURL = "https://www.sparkprint.io/register"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &HTTPServer{cfg: cfg, backend: backend, router: router, log: log}
	s.setupRoutes()
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/status", s.statusHandler)
	s.router.POST("/command", s.commandHandler)
	s.router.GET("/ws", s.websocketHandler)
	s.router.GET("/registration/qr", s.qrHandler)
	if s.cfg.Metrics {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Handler 回傳路由，供測試或嵌入其他伺服器
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run 監聽並服務，直到 ctx 結束
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *HTTPServer) statusHandler(c *gin.Context) {
	doc := s.backend.Latest()
	if doc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status not available yet"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *HTTPServer) commandHandler(c *gin.Context) {
	line, err := readCommand(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in, err := command.Parse(line)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.CommandTimeout)
	defer cancel()

	err = s.backend.Submit(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrEventRejected), errors.Is(err, controller.ErrIgnored):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, controller.ErrQueueFull), errors.Is(err, controller.ErrStopped),
		errors.Is(err, controller.ErrNotStarted), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.log.Info("command accepted", zap.String("command", in.Text))
	state, _ := registry.LookupState(s.backend.Snapshot().State)
	c.JSON(http.StatusOK, gin.H{"command": in.Text, "state": state})
}

// readCommand 接受 JSON {"command": "..."} 或純文字內容
func readCommand(c *gin.Context) (string, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
		if strings.TrimSpace(req.Command) == "" {
			return "", errors.New("missing command")
		}
		return req.Command, nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4096))
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(body))
	if line == "" {
		return "", errors.New("missing command")
	}
	return line, nil
}

func (s *HTTPServer) qrHandler(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code parameter is required"})
		return
	}

	target := s.cfg.RegistrationURL + "?code=" + url.QueryEscape(code)
	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *HTTPServer) websocketHandler(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	docs, cancel := s.backend.Subscribe(16)
	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, docs, closed)
	cancel()
}

// readPump 只處理 pong 與關閉；連線結束時關閉 closed
func (s *HTTPServer) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("WebSocket closed", zap.Error(err))
			}
			return
		}
	}
}

// writePump 先送出最新的文件，再轉送每一份新文件
func (s *HTTPServer) writePump(conn *websocket.Conn, docs <-chan []byte, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	if doc := s.backend.Latest(); doc != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, doc); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case doc, ok := <-docs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, doc); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
