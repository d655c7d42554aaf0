// Package gateway exposes the HTTP and WebSocket surface: the bridge link that
// carries messages in and out, plus the management API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/engine"
	"github.com/mcastell/convo/internal/export"
	"github.com/mcastell/convo/internal/flow"
	"github.com/mcastell/convo/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageHandler is the pipeline entry point behind the gateway.
type MessageHandler interface {
	HandleInbound(ctx context.Context, msg engine.Inbound) error
	PendingTurns() int
}

// AdminStore is the persistence surface of the management API.
type AdminStore interface {
	GlobalActive(ctx context.Context) (bool, error)
	SetGlobalActive(ctx context.Context, active bool) error
	UserActive(ctx context.Context, phone string) (bool, error)
	SetUserActive(ctx context.Context, phone string, active bool) error
	Messages(ctx context.Context, phone string) ([]store.HistoryEntry, error)
	SaveFlow(ctx context.Context, def flow.Definition) error
	Ping(ctx context.Context) error
}

// Server is the convo gateway server.
type Server struct {
	Handler MessageHandler
	Admin   AdminStore
	Conns   *ConnManager
	Zone    *time.Location
	httpSrv *http.Server
	startAt time.Time
}

// NewServer wires the gateway. The ConnManager is shared with the outbound
// transport so replies reach the same bridge sockets.
func NewServer(handler MessageHandler, admin AdminStore, conns *ConnManager, zone *time.Location) *Server {
	if conns == nil {
		conns = NewConnManager()
	}
	return &Server{
		Handler: handler,
		Admin:   admin,
		Conns:   conns,
		Zone:    zone,
		startAt: time.Now(),
	}
}

// Start begins listening for connections and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	addr := fmt.Sprintf(":%d", config.Get().Gateway.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	slog.Info("convo gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.ginHealth)
	router.GET("/ws", s.ginWebSocket)
	s.registerAPIRoutes(router)
	return router
}

func (s *Server) registerAPIRoutes(router *gin.Engine) {
	api := router.Group("/v1", s.apiAuthMiddleware())
	api.POST("/messages", s.ginMessages)
	api.POST("/simulate", s.ginSimulate)
	api.GET("/status", s.ginStatus)
	api.GET("/state", s.ginState)
	api.POST("/activation", s.ginActivation)
	api.GET("/export/:phone", s.ginExport)
	api.PUT("/flows", s.ginSaveFlow)
}

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if !s.authenticate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"bridges": s.Conns.BridgeCount(),
		"clients": s.Conns.ClientCount(),
	})
}

// ginMessages accepts an inbound message over HTTP, for bridges that cannot
// hold a WebSocket open.
func (s *Server) ginMessages(c *gin.Context) {
	var msg engine.Inbound
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if msg.From == "" || msg.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and text required"})
		return
	}
	if err := s.Handler.HandleInbound(c.Request.Context(), msg); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// ginSimulate injects a synthetic customer message, mainly for trying flows
// without a phone at hand. A message ID is generated so dedup never drops it.
func (s *Server) ginSimulate(c *gin.Context) {
	var msg engine.Inbound
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if msg.From == "" || msg.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and text required"})
		return
	}
	msg.MessageID = "sim_" + uuid.NewString()
	msg.FromSelf = false
	if err := s.Handler.HandleInbound(c.Request.Context(), msg); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "messageId": msg.MessageID})
}

func (s *Server) ginStatus(c *gin.Context) {
	ctx := c.Request.Context()
	global, err := s.Admin.GlobalActive(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"globalActive": global,
		"pendingTurns": s.Handler.PendingTurns(),
		"storeHealthy": s.Admin.Ping(ctx) == nil,
		"bridges":      s.Conns.BridgeCount(),
	})
}

func (s *Server) ginState(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}
	ctx := c.Request.Context()
	global, err := s.Admin.GlobalActive(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	user, err := s.Admin.UserActive(ctx, phone)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"phone":        phone,
		"globalActive": global,
		"userActive":   user,
		"active":       global && user,
	})
}

type activationParams struct {
	Scope  string `json:"scope"` // "global" | "user"
	Phone  string `json:"phone,omitempty"`
	Active bool   `json:"active"`
}

func (s *Server) ginActivation(c *gin.Context) {
	var body activationParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	ctx := c.Request.Context()
	switch body.Scope {
	case "global":
		if err := s.Admin.SetGlobalActive(ctx, body.Active); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	case "user":
		if body.Phone == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required for user scope"})
			return
		}
		if err := s.Admin.SetUserActive(ctx, body.Phone, body.Active); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "scope must be global or user"})
		return
	}

	slog.Info("activation changed", "scope", body.Scope, "phone", body.Phone, "active", body.Active)
	c.JSON(http.StatusOK, gin.H{"scope": body.Scope, "phone": body.Phone, "active": body.Active})
}

func (s *Server) ginExport(c *gin.Context) {
	phone := c.Param("phone")
	entries, err := s.Admin.Messages(c.Request.Context(), phone)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := export.FileName(phone, time.Now())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, entries, s.Zone); err != nil {
		slog.Error("history export failed", "phone", phone, "error", err)
	}
}

func (s *Server) ginSaveFlow(c *gin.Context) {
	var def flow.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if def.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	if def.Name == flow.AppointmentFlow {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reserved flow name"})
		return
	}
	if err := s.Admin.SaveFlow(c.Request.Context(), def); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": def.Name})
}

func (s *Server) ginWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	connID := fmt.Sprintf("conn_%d", time.Now().UnixNano())
	conn := &Conn{
		ID:          connID,
		WS:          ws,
		ConnectedAt: time.Now(),
	}

	// First message must be a connect request
	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read connect frame", "error", err)
		return
	}
	if frame.Method != "connect" {
		conn.Send(ResErr(frame.ID, "HANDSHAKE_REQUIRED", "first message must be a connect request"))
		return
	}

	var connectParams ConnectParams
	if err := json.Unmarshal(frame.Params, &connectParams); err != nil {
		conn.Send(ResErr(frame.ID, "INVALID_PARAMS", "invalid connect params"))
		return
	}

	if !s.authenticate(connectParams.Token) {
		conn.Send(ResErr(frame.ID, "AUTH_FAILED", "invalid token"))
		return
	}

	conn.Role = connectParams.Role
	conn.Channel = connectParams.Channel
	if conn.Role == RoleBridge && conn.Channel == "" {
		conn.Channel = ChannelWhatsApp
	}
	s.Conns.Add(conn)
	defer s.Conns.Remove(connID)

	slog.Info("connection established", "id", connID, "role", conn.Role, "channel", conn.Channel)

	conn.Send(ResOK(frame.ID, map[string]any{
		"connId":   connID,
		"protocol": 1,
	}))

	// Message loop
	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			slog.Debug("connection closed", "id", connID, "error", err)
			return
		}

		if frame.Type != "req" {
			continue
		}

		if frame.Method != "inbound.message" {
			conn.Send(ResErr(frame.ID, "UNKNOWN_METHOD", "use HTTP /v1 for management; only inbound.message is supported over WebSocket"))
			continue
		}

		go func(f Frame) {
			var msg engine.Inbound
			if err := json.Unmarshal(f.Params, &msg); err != nil {
				conn.Send(ResErr(f.ID, "INVALID_PARAMS", "invalid message params"))
				return
			}
			if err := s.Handler.HandleInbound(context.Background(), msg); err != nil {
				conn.Send(ResErr(f.ID, "ERROR", err.Error()))
				return
			}
			conn.Send(ResOK(f.ID, map[string]any{"accepted": true}))
		}(frame)
	}
}

func (s *Server) authenticate(token string) bool {
	expected := config.Get().Gateway.Auth.Token
	if expected == "" {
		return true // no auth configured
	}
	return token == expected
}
