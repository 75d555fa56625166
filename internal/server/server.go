// Package server exposes the bridge over WebSocket: one session route that
// relays bytes between a browser test harness and the peripheral, plus the
// health probe and the diagnostic HTTP routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/lifecycle"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

// Server is the WebSocket session server.
type Server struct {
	bridge *lifecycle.Bridge
	ring   *logring.Buffer
	cfg    config.ServerConfig
	log    *slog.Logger

	httpSrv    *http.Server
	boundAddr  string
	httpRoutes []httpRoute
	startTime  time.Time
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// New creates a session server for the given bridge.
func New(bridge *lifecycle.Bridge, ring *logring.Buffer, cfg config.ServerConfig, log *slog.Logger) *Server {
	return &Server{
		bridge: bridge,
		ring:   ring,
		cfg:    cfg,
		log:    log,
	}
}

// RegisterHTTPRoute adds a handler to the server's mux. Must be called
// before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.Handler) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Start begins accepting sessions. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSession)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics", s.handlePrometheus)
	for _, route := range s.httpRoutes {
		mux.Handle(route.pattern, route.handler)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.startTime = time.Now()

	s.httpSrv = &http.Server{Handler: mux}
	s.log.Info("bridge server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// handleSession upgrades a session request, validates the selector,
// claims the bridge and relays frames until either side closes.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser harnesses run from throwaway test origins; this server
		// binds to loopback and carries no credentials.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	q := r.URL.Query()
	if q.Get("probe") != "" {
		s.writeProbe(r.Context(), ws)
		return
	}

	sel := transport.Selector{
		Device:  q.Get("device"),
		Service: q.Get("service"),
		Write:   q.Get("write"),
		Notify:  q.Get("notify"),
	}

	sc := &sessionConn{
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
		log:    s.log,
	}

	sess, err := s.bridge.Open(r.Context(), sel, lifecycle.SessionEvents{
		OnData: func(data []byte) {
			sc.send(Frame{Type: FrameData, Data: data})
		},
		OnDisconnected: func() {
			sc.send(Frame{Type: FrameDisconnected})
		},
	})
	if err != nil {
		// Rejections are always delivered as an error frame, never a bare
		// close, so the client can read the reason and decide to retry.
		wctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		_ = wsjson.Write(wctx, ws, Frame{Type: FrameError, Error: err.Error()})
		cancel()
		ws.Close(websocket.StatusNormalClosure, "rejected")
		return
	}
	defer sess.Close()

	go sc.writeLoop()
	defer sc.close(websocket.StatusNormalClosure, "")

	sc.send(Frame{Type: FrameConnected, Device: sess.Device()})
	s.log.Info("session opened", "device", sess.Device(), "remote", r.RemoteAddr)

	s.readLoop(r.Context(), sc, sess)
	s.log.Info("session closed", "remote", r.RemoteAddr)
}

func (s *Server) readLoop(ctx context.Context, sc *sessionConn, sess *lifecycle.Session) {
	var limiter *rate.Limiter
	if s.cfg.DataRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.DataRateLimit), s.cfg.DataRateBurst)
	}

	for {
		var frame Frame
		if err := wsjson.Read(ctx, sc.ws, &frame); err != nil {
			return // connection closed or context done
		}

		if frame.Type != FrameData {
			s.ring.Warnf("ignoring inbound %q frame", frame.Type)
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := sess.Send(frame.Data); err != nil {
			sc.send(Frame{Type: FrameError, Error: err.Error()})
			return
		}
	}
}

// writeProbe answers the health query flag: a health frame, then a
// server-side close, without touching the connection mutex.
func (s *Server) writeProbe(ctx context.Context, ws *websocket.Conn) {
	st := s.bridge.Status()
	free := st.Free
	frame := Frame{
		Type:      FrameHealth,
		Status:    "ok",
		Free:      &free,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = wsjson.Write(wctx, ws, frame)
	ws.Close(websocket.StatusNormalClosure, "probe")
}

// sessionConn serializes outbound frames through a single writer
// goroutine, so bridge callbacks never write to the socket concurrently.
type sessionConn struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func (c *sessionConn) send(frame Frame) {
	select {
	case c.sendCh <- frame:
	case <-c.done:
	default:
		c.log.Warn("dropped frame for slow session", "type", frame.Type)
	}
}

func (c *sessionConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *sessionConn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close(code, reason)
	})
}
