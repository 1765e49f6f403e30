package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Desarso/crmstream/models"
	"github.com/Desarso/crmstream/sessions"
)

// GinSSEWriter implements SSEWriter for Gin context
type GinSSEWriter struct {
	Context *gin.Context
}

func (w *GinSSEWriter) WriteSSE(event string, data any) error {
	w.Context.SSEvent(event, data)
	return nil
}

func (w *GinSSEWriter) WriteSSEError(err error) error {
	w.Context.SSEvent(sessions.SSEError, gin.H{"message": err.Error()})
	return nil
}

func (w *GinSSEWriter) Flush() {
	w.Context.Writer.Flush()
}

// chatWebSocket streams every update of a conversation to the client. The
// client may send Relay_Request frames to start a turn.
func (s *Server) chatWebSocket(c *gin.Context) {
	id := c.Param("conversationID")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logger := log.New(s.Logger.Writer(), fmt.Sprintf("[WS %s] ", id), log.LstdFlags)

	session := s.Manager.Get(id, nil)
	writer := &sessions.WebSocketWriter{Conn: conn, Logger: logger, StartTime: time.Now()}
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			var req models.Relay_Request
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Printf("WebSocket error: %v", err)
				}
				return
			}
			go func() {
				err := session.Send(ctx, req.Message)
				if errors.Is(err, sessions.ErrGenerationInFlight) || (err != nil && !isStreamError(err)) {
					if werr := writer.WriteError(err.Error()); werr != nil {
						logger.Printf("Error writing WebSocket error: %v", werr)
					}
				}
			}()
		}
	}()

	if err := session.RelayWebSocket(ctx, updates, writer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("WebSocket relay ended: %v", err)
	}
	logger.Printf("WebSocket session %s ended", id)
}

// Stream failures already reach the client as an error update.
func isStreamError(err error) bool {
	var streamErr *sessions.StreamError
	return errors.As(err, &streamErr)
}
