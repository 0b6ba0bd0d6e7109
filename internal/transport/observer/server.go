package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"campsite.sim/internal/observerproto"
	"campsite.sim/internal/sim/site"
)

// Site is the part of the tick loop the observer stream needs.
type Site interface {
	Info() site.Info
	ObserverJoin() chan<- site.ObserverJoinRequest
	ObserverSubscribe() chan<- site.ObserverSubscribeRequest
	ObserverLeave() chan<- string
}

type Server struct {
	site Site
	log  *log.Logger

	// SubscribeEvery is the minimum spacing of layer changes per connection.
	SubscribeEvery time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(s Site, logger *log.Logger) *Server {
	return &Server{
		site:           s,
		log:            logger,
		SubscribeEvery: 250 * time.Millisecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Site:            s.site.Info(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 8)
		dataOut := make(chan []byte, 64)

		joinReq := site.ObserverJoinRequest{
			SessionID: sid,
			TickOut:   tickOut,
			DataOut:   dataOut,
			Layers:    sub.Layers,
		}
		select {
		case s.site.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.site.ObserverLeave() <- sid:
			default:
				// Loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-dataOut:
					if !ok {
						writeErr <- nil
						return
					}
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				case b, ok := <-tickOut:
					if !ok {
						writeErr <- nil
						return
					}
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow throttled SUBSCRIBE updates.
		limiter := rate.NewLimiter(rate.Every(s.SubscribeEvery), 1)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok || !limiter.Allow() {
				continue
			}
			req := site.ObserverSubscribeRequest{SessionID: sid, Layers: sub.Layers}
			select {
			case s.site.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
