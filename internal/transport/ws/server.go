package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"campsite.sim/internal/protocol"
	"campsite.sim/internal/sim/site"
)

// Site is the part of the tick loop the edit channel needs.
type Site interface {
	Submit(e site.Edit) error
	Info() site.Info
}

// Server accepts operator connections and forwards their edits to the site.
// Each EDIT is answered by exactly one RESULT or ERROR carrying its ref.
type Server struct {
	site Site
	log  *log.Logger

	// EditsPerSecond bounds each connection's edit rate. Zero disables it.
	EditsPerSecond float64
	EditBurst      int
	// ResultTimeout is how long to wait for the loop to apply an edit.
	ResultTimeout time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(s Site, logger *log.Logger) *Server {
	return &Server{
		site:           s,
		log:            logger,
		EditsPerSecond: 50,
		EditBurst:      100,
		ResultTimeout:  10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid, out := s.handshake(conn)
		if sid == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.EditsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.EditsPerSecond), max(s.EditBurst, 1))
		}

		var pending sync.WaitGroup
		// Reader loop.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeEdit {
				s.reply(ctx, out, protocol.NewError("", protocol.ErrProtoBadRequest, "expected EDIT"))
				continue
			}
			em, err := protocol.DecodeEdit(msg)
			if err != nil {
				s.reply(ctx, out, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if em.ProtocolVersion != protocol.Version {
				s.reply(ctx, out, protocol.NewError(em.Ref, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			if limiter != nil && !limiter.Allow() {
				s.reply(ctx, out, protocol.NewError(em.Ref, protocol.ErrRateLimit, "too many edits"))
				continue
			}

			resp := make(chan site.EditResult, 1)
			em.Edit.Resp = resp
			if err := s.site.Submit(em.Edit); err != nil {
				code := protocol.ErrInternal
				if errors.Is(err, site.ErrInboxFull) {
					code = protocol.ErrSiteBusy
				}
				s.reply(ctx, out, protocol.NewError(em.Ref, code, err.Error()))
				continue
			}
			pending.Add(1)
			go func(ref string) {
				defer pending.Done()
				t := time.NewTimer(s.ResultTimeout)
				defer t.Stop()
				select {
				case res := <-resp:
					s.reply(ctx, out, protocol.NewResult(ref, res))
				case <-t.C:
					s.reply(ctx, out, protocol.NewError(ref, protocol.ErrStale, "no result before timeout"))
				case <-ctx.Done():
				}
			}(em.Ref)
		}

		cancel()
		pending.Wait()
		<-writerDone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.logf("edit session %s closed", sid)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.Client == "" {
		hello.Client = "client"
	}

	maxQ := hello.MaxInFlight
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}
	out = make(chan []byte, maxQ)

	sessionID = fmt.Sprintf("E%d", s.nextID.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Site:            s.site.Info(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	s.logf("edit session %s opened by %q", sessionID, hello.Client)
	return sessionID, out
}

// reply queues v for the writer. Replies are never dropped while the
// connection is open, since each one answers a specific edit.
func (s *Server) reply(ctx context.Context, out chan<- []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logf("marshal reply: %v", err)
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
