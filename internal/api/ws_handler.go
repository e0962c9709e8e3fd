package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/auth"
	"cvforge/internal/document"
	"cvforge/internal/editor"
)

// WsHandler 负责 WebSocket 鉴权、编辑会话命令与通知转发。
// 每条连接持有一个 editor.Session，历史只活在连接生命周期内。
type WsHandler struct {
	redisClient    redis.UniversalClient
	authService    *auth.AuthService
	store          *document.Store
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient redis.UniversalClient, authService *auth.AuthService, store *document.Store, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		authService:    authService,
		store:          store,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// wsConn 串行化对底层连接的写入：命令回复与通知转发来自不同协程。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) WriteRaw(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return w.conn.WriteControl(messageType, data, deadline)
}

type wsCommand struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	ResumeID uint            `json:"resume_id,omitempty"`
	Patch    *document.Patch `json:"patch,omitempty"`
}

type wsStateMessage struct {
	Type       string             `json:"type"`
	Event      string             `json:"event,omitempty"`
	CanUndo    bool               `json:"can_undo"`
	CanRedo    bool               `json:"can_redo"`
	Zoom       int                `json:"zoom"`
	Preview    bool               `json:"preview"`
	Saving     bool               `json:"saving"`
	HistoryLen int                `json:"history_len"`
	Cursor     int                `json:"cursor"`
	Document   *document.Snapshot `json:"document,omitempty"`
}

type wsErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HandleConnection 升级连接并启动读写循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer rawConn.Close()

	conn := &wsConn{conn: rawConn}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
	)

	userIDCh := make(chan uint, 1)
	errCh := make(chan error, 1)

	go h.readLoop(ctx, conn, userIDCh, errCh, cancel, baseLog)

	var userID uint
	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket authentication failed", slog.Any("error", err))
		}
		return
	case userID = <-userIDCh:
	}

	userLog := baseLog.With(slog.Uint64("user_id", uint64(userID)))
	go h.subscribeLoop(ctx, conn, userID, errCh, cancel, userLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			userLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			userLog.Info("websocket connection closed")
		}
	}
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *wsConn,
	userIDCh chan<- uint,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	var session *editor.Session

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			writeClose(conn, websocket.ClosePolicyViolation, "invalid payload")
			errCh <- fmt.Errorf("decode payload: %w", err)
			cancel()
			return
		}

		if session == nil {
			if cmd.Type != "auth" || cmd.Token == "" {
				writeClose(conn, websocket.ClosePolicyViolation, "auth required")
				errCh <- fmt.Errorf("invalid auth message")
				cancel()
				return
			}

			claims, err := h.authService.ValidateToken(cmd.Token)
			if err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
				errCh <- fmt.Errorf("validate token: %w", err)
				cancel()
				return
			}
			if claims.TokenType != "access" {
				writeClose(conn, websocket.ClosePolicyViolation, "access token required")
				errCh <- fmt.Errorf("invalid token type: %s", claims.TokenType)
				cancel()
				return
			}
			if claims.MustChangePassword {
				writeClose(conn, websocket.ClosePolicyViolation, "password change required")
				errCh <- fmt.Errorf("password change required")
				cancel()
				return
			}

			session = editor.NewSession(claims.UserID, h.store, h.store, log)
			userIDCh <- claims.UserID
			log.Info("websocket authenticated", slog.Uint64("user_id", uint64(claims.UserID)))
			continue
		}

		h.dispatch(ctx, conn, session, cmd, log)
	}
}

// dispatch 执行一条编辑命令并回送会话状态。
// 越界的 undo/redo 与越界缩放是静默 no-op，客户端以回送的状态为准。
func (h *WsHandler) dispatch(ctx context.Context, conn *wsConn, session *editor.Session, cmd wsCommand, log *slog.Logger) {
	var cmdErr error

	switch cmd.Type {
	case "load":
		if cmd.ResumeID == 0 {
			cmdErr = errors.New("resume_id required")
			break
		}
		cmdErr = session.Load(ctx, cmd.ResumeID)
	case "merge":
		if cmd.Patch == nil {
			cmdErr = errors.New("patch required")
			break
		}
		cmdErr = session.Merge(*cmd.Patch)
	case "undo":
		session.Undo()
	case "redo":
		session.Redo()
	case "zoom_in":
		session.ZoomIn()
	case "zoom_out":
		session.ZoomOut()
	case "toggle_preview":
		session.TogglePreview()
	case "save":
		cmdErr = session.Save(ctx)
	default:
		cmdErr = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if cmdErr != nil {
		log.Info("editor command failed",
			slog.String("command", cmd.Type),
			slog.Any("error", cmdErr),
		)
		if err := conn.WriteJSON(wsErrorMessage{Type: "error", Message: wsErrorText(cmdErr)}); err != nil {
			log.Warn("write error reply failed", slog.Any("error", err))
		}
		return
	}

	if err := conn.WriteJSON(h.stateMessage(session, cmd.Type)); err != nil {
		log.Warn("write state reply failed", slog.Any("error", err))
	}
}

func (h *WsHandler) stateMessage(session *editor.Session, event string) wsStateMessage {
	msg := wsStateMessage{
		Type:       "state",
		Event:      event,
		CanUndo:    session.CanUndo(),
		CanRedo:    session.CanRedo(),
		Zoom:       session.ZoomLevel(),
		Preview:    session.PreviewMode(),
		Saving:     session.Saving(),
		HistoryLen: session.HistoryLen(),
		Cursor:     session.Cursor(),
	}

	// save 与纯视图命令不回传文档，省掉一次全量序列化。
	switch event {
	case "load", "merge", "undo", "redo":
		if snap, err := session.Current(); err == nil {
			msg.Document = &snap
		}
	}
	return msg
}

// wsErrorText 把内部错误翻成对客户端稳定的错误串。
func wsErrorText(err error) string {
	switch {
	case errors.Is(err, editor.ErrSaveInFlight):
		return "save already in flight"
	case errors.Is(err, editor.ErrNotLoaded):
		return "document not loaded"
	default:
		return err.Error()
	}
}

func writeClose(conn *wsConn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *wsConn,
	userID uint,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := fmt.Sprintf("user_notify:%d", userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}

			log.Info("forwarding message to client", slog.String("channel", channel))
			if err := conn.WriteRaw([]byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
