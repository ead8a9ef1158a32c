// Package ws is the websocket transport: one connection per user, one
// writer goroutine per connection, all game logic delegated to the world
// and the action pipeline.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"worldloom.ai/internal/protocol"
	"worldloom.ai/internal/sim/pipeline"
	"worldloom.ai/internal/sim/world"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	sendQueue    = 64
)

type Server struct {
	world *world.World
	pipe  *pipeline.Pipeline
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, p *pipeline.Pipeline, logger *log.Logger) *Server {
	return &Server{
		world: w,
		pipe:  p,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// connSink adapts the per-connection outbound queue to the world's Sink.
// Send never blocks; a full queue is treated as a dead connection and the
// session gets reaped.
type connSink struct {
	out    chan []byte
	cancel context.CancelFunc
	once   sync.Once
}

func (s *connSink) Send(b []byte) error {
	select {
	case s.out <- b:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (s *connSink) Close() {
	s.once.Do(s.cancel)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sink := &connSink{out: make(chan []byte, sendQueue), cancel: cancel}

		// Writer goroutine. A write failure tears the connection down; the
		// session is reaped on the next send attempt.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sink.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		userID := strings.TrimSpace(r.URL.Query().Get("userId"))
		_, known := s.world.User(userID)

		u, _, err := s.world.Connect(userID, sink)
		if err != nil {
			return
		}
		userID = u.ID

		s.world.Send(userID, protocol.IdentityMsg{
			Type:      protocol.TypeIdentity,
			UserID:    u.ID,
			Nickname:  u.Nickname,
			Timestamp: stamp(),
		})
		s.world.Send(userID, protocol.InitPositionMsg{
			Type:      protocol.TypeInitPosition,
			X:         u.X,
			Y:         u.Y,
			Z:         u.Z,
			Timestamp: stamp(),
		})
		if !known {
			s.world.GrantWelcomeKit(userID)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.dispatch(ctx, userID, msg)
		}

		s.world.Disconnect(userID)
		s.pipe.Forget(userID)
	}
}

func (s *Server) dispatch(ctx context.Context, userID string, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.world.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      protocol.ErrBadRequest,
			Content:   "Messages must be JSON objects with a type field.",
			Timestamp: stamp(),
		})
		return
	}

	switch base.Type {
	case protocol.TypeSetNickname:
		var m protocol.SetNicknameMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if _, _, err := s.world.ClaimName(userID, strings.TrimSpace(m.Value)); err != nil {
			s.world.Send(userID, protocol.ErrorMsg{
				Type:      protocol.TypeError,
				Code:      protocol.ErrNameTaken,
				Content:   err.Error(),
				Timestamp: stamp(),
			})
		}

	case protocol.TypeChat:
		var m protocol.ChatMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if strings.TrimSpace(m.Content) == "" {
			return
		}
		s.world.HandleCommand(userID, "/say "+m.Content)

	case protocol.TypeCommand:
		var m protocol.CommandMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			return
		}
		if strings.HasPrefix(content, "/") {
			s.world.HandleCommand(userID, content)
			return
		}
		// Free-text actions run the full decision pipeline off the reader
		// goroutine so a slow decision never stalls the connection. The
		// run is detached from the connection context: a disconnect must
		// not abort an in-flight action, only drop its undeliverable
		// result.
		go s.pipe.Run(context.WithoutCancel(ctx), userID, m)

	default:
		s.world.Send(userID, protocol.ErrorMsg{
			Type:      protocol.TypeError,
			Code:      protocol.ErrBadRequest,
			Content:   "Unknown message type " + base.Type + ".",
			Timestamp: stamp(),
		})
	}
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }
