package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Print payloads may carry base64 logos.
	maxMessageSize = 4 << 20
)

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(conn)
	n := s.hub.add(cl)
	s.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()), zap.Int("clients", n))

	// Every client starts with a snapshot of the bridge.
	s.reply(cl, s.status())

	go s.writePump(cl)
	go s.readPump(cl)
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(cl *client) {
	defer func() {
		n := s.hub.remove(cl)
		cl.conn.Close()
		s.log.Info("client disconnected", zap.Int("clients", n))
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(cl, msg)
	}
}

// reply sends ev to one client.
func (s *Server) reply(cl *client, ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}
	if !cl.enqueue(data) {
		s.log.Debug("reply dropped", zap.String("event", ev.EventName()))
	}
}

// drain broadcasts every bus event until the subscription ends.
func (s *Server) drain(ch <-chan protocol.Event) {
	defer close(s.drained)
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
			continue
		}
		s.hub.Broadcast(data)
	}
}
