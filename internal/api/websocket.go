package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"genx-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are the bus events mirrored to websocket clients.
var streamTopics = []events.Event{
	events.EventSignalValidated,
	events.EventSignalQueued,
	events.EventSignalSent,
	events.EventSignalRejected,
	events.EventAgentConnected,
	events.EventAgentIdentified,
	events.EventAgentDisconnected,
	events.EventTradeResult,
	events.EventAccountStatus,
	events.EventRiskAlert,
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeMany(streamTopics, 100)
	defer unsub()

	for msg := range stream {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
