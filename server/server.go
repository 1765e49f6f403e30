// Package server exposes chat sessions to a browser UI over HTTP: streamed
// replies as SSE, history, a WebSocket update feed and a parse endpoint.
package server

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Desarso/crmstream/models"
	"github.com/Desarso/crmstream/render"
	"github.com/Desarso/crmstream/sessions"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/structured"
)

// NewConversation is the path id that asks the server to assign one.
const NewConversation = "new"

// Server is the relay between browser clients and the chat backend.
type Server struct {
	Manager    *sessions.Manager
	Store      stores.MessageStore
	BackendURL string
	Render     render.Options
	Logger     *log.Logger

	upgrader websocket.Upgrader
}

// NewServer creates a relay serving the sessions of manager.
func NewServer(manager *sessions.Manager) *Server {
	return &Server{
		Manager: manager,
		Store:   manager.Store,
		Render:  render.DefaultOptions(),
		Logger:  log.New(os.Stdout, "[SERVER] ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithBackendURL records the backend address reported by the health check.
func (s *Server) WithBackendURL(url string) *Server {
	s.BackendURL = url
	return s
}

// WithLogger sets the server logger.
func (s *Server) WithLogger(logger *log.Logger) *Server {
	if logger != nil {
		s.Logger = logger
	}
	return s
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)

	r := router.Group("/api/v1")
	r.POST("/chat/stream/:conversationID", s.chatStream)
	r.GET("/chat/history/:conversationID", s.chatHistory)
	r.GET("/chat/ws/:conversationID", s.chatWebSocket)
	r.GET("/chat/conversations", s.listConversations)
	r.DELETE("/chat/conversations/:conversationID", s.deleteConversation)
	r.POST("/parse", s.parse)

	return router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.Logger.Printf("Server starting on %s", addr)
	return s.Router().Run(addr)
}

func conversationID(c *gin.Context) string {
	id := c.Param("conversationID")
	if id == NewConversation {
		return uuid.NewString()
	}
	return id
}

func (s *Server) chatStream(c *gin.Context) {
	var req models.Relay_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Error_Response{Detail: err.Error()})
		return
	}

	id := conversationID(c)
	session := s.Manager.Get(id, req.Customer_ID)

	ctx := c.Request.Context()
	updates, unsubscribe, err := session.SendAsync(ctx, req.Message)
	if errors.Is(err, sessions.ErrGenerationInFlight) {
		c.JSON(http.StatusConflict, models.Error_Response{Detail: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Error_Response{Detail: err.Error()})
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Conversation-ID", id)

	writer := &GinSSEWriter{Context: c}
	if err := session.RelaySSE(ctx, updates, writer); err != nil {
		s.Logger.Printf("Stream for %s ended early: %v", id, err)
	}
}

func (s *Server) chatHistory(c *gin.Context) {
	id := c.Param("conversationID")

	if session, ok := s.Manager.Lookup(id); ok {
		c.JSON(http.StatusOK, models.History_Response{History: session.History()})
		return
	}

	h := stores.History{ConversationID: id, Messages: []stores.ChatMessage{}}
	if s.Store != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		msgs, err := s.Store.FetchHistory(id, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.Error_Response{Detail: err.Error()})
			return
		}
		h.Messages = append(h.Messages, msgs...)
	}
	c.JSON(http.StatusOK, models.History_Response{History: stores.SanitizeLoaded(h)})
}

func (s *Server) listConversations(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusOK, models.Conversations_Response{Conversations: []stores.ConversationInfo{}})
		return
	}
	convs, err := s.Store.ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.Error_Response{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Conversations_Response{Conversations: convs})
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("conversationID")
	if session, ok := s.Manager.Lookup(id); ok && session.Busy() {
		c.JSON(http.StatusConflict, models.Error_Response{Detail: sessions.ErrGenerationInFlight.Error()})
		return
	}
	if s.Store != nil {
		if err := s.Store.DeactivateConversation(id); err != nil {
			c.JSON(http.StatusNotFound, models.Error_Response{Detail: err.Error()})
			return
		}
	}
	s.Manager.Forget(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) parse(c *gin.Context) {
	var req models.Parse_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Error_Response{Detail: err.Error()})
		return
	}

	info := structured.Parse(req.Content)
	if info == nil {
		c.JSON(http.StatusOK, models.Parse_Response{})
		return
	}
	view := render.Project(info, s.Render, nil)
	c.JSON(http.StatusOK, models.Parse_Response{Structured: info, View: &view})
}

func (s *Server) health(c *gin.Context) {
	resp := models.Health_Response{Status: "ok", Backend: s.BackendURL}
	if s.Store != nil {
		resp.Store = "ok"
		if err := s.Store.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}
