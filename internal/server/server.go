package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/api"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/auth"
	c "github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/relay"
)

const maxConnections = 10000

type Server struct {
	engine         *gin.Engine
	httpServer     *http.Server
	hub            *relay.Hub
	upgrader       websocket.Upgrader
	cookieName     string
	connOptions    connection.Options
	maxMessageSize int64
	sem            chan struct{}
}

func New(config c.Config, hub *relay.Hub, handler *api.Handler, uploadDir string) *Server {
	if !config.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:         gin.New(),
		hub:            hub,
		cookieName:     config.Auth.CookieName,
		maxMessageSize: config.Relay.MaxMessageSize,
		sem:            make(chan struct{}, maxConnections),
		connOptions: connection.Options{
			SendBuffer:   config.Relay.SendBuffer,
			WriteTimeout: config.Relay.WriteTimeoutDuration(),
		},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(config.HTTP.AllowedOrigins),
	}

	s.engine.Use(gin.Recovery(), requestLogger(), api.CORS(config.HTTP.AllowedOrigins))
	s.engine.GET("/ws", s.handleWebSocket)
	if uploadDir != "" {
		s.engine.Static("/uploads", uploadDir)
	}
	handler.Register(s.engine)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(config.AppPort),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.DebugF("%s %s -> %d (%v)", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleWebSocket(ctx *gin.Context) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warn("Connection limit reached, rejecting websocket upgrade")
		ctx.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer func() { <-s.sem }()

	ws, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.WarnF("Fail to upgrade websocket from %s, details: %v", ctx.Request.RemoteAddr, err)
		return
	}

	handler := &ConnectionHandler{
		ws:             ws,
		conn:           connection.NewConnection(ws, s.connOptions),
		hub:            s.hub,
		credential:     auth.CredentialFromRequest(ctx.Request, s.cookieName),
		maxMessageSize: s.maxMessageSize,
	}
	logger.DebugF("[%s] Accepted websocket from %s", handler.conn.ID, ctx.Request.RemoteAddr)
	handler.handleConnection()
}

// StartServer blocks until the listener fails or the server is shut down.
func (s *Server) StartServer() error {
	logger.InfoF("Chat relay listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ServerCloseCallback struct {
	server *Server
}

func NewServerCloseCallback(server *Server) *ServerCloseCallback {
	return &ServerCloseCallback{server: server}
}

func (sc *ServerCloseCallback) Invoke(ctx context.Context) error {
	logger.Info("Stopping HTTP server")
	return sc.server.httpServer.Shutdown(ctx)
}
