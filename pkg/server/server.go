// Package server is the transport shell: it owns the HTTP listener the
// OneBot gateway connects to (reverse WebSocket at /ws), dispatches each
// inbound frame to the router on its own goroutine, and exposes the debug
// endpoints that exercise the capability clients directly.
package server

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ZXZCAT/bot-worker/pkg/config"
	"github.com/ZXZCAT/bot-worker/pkg/history"
	"github.com/ZXZCAT/bot-worker/pkg/logger"
	"github.com/ZXZCAT/bot-worker/pkg/onebot"
	"github.com/ZXZCAT/bot-worker/pkg/router"
)

type Server struct {
	addr     string
	router   *router.Router
	ai       router.Capabilities
	upgrader websocket.Upgrader

	httpServer *http.Server

	// frames tracks in-flight per-frame tasks; Shutdown waits on it before
	// tearing down connections.
	frames sync.WaitGroup

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func New(cfg config.GatewayConfig, rt *router.Router, ai router.Capabilities) *Server {
	s := &Server{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		router: rt,
		ai:     ai,
		upgrader: websocket.Upgrader{
			// The gateway is trusted by deployment, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/test-chat", s.handleTestChat)
	mux.HandleFunc("/test-draw", s.handleTestDraw)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	return s
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown, like net/http.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	logger.InfoCF("server", "Listening", map[string]any{"addr": s.addr})
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting work, waits for all in-flight frame tasks, then
// closes remaining gateway connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.frames.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.WarnC("server", "Shutdown deadline reached with frame tasks still running")
	}

	s.mu.Lock()
	for c := range s.conns {
		c.close()
	}
	s.conns = make(map[*wsConn]struct{})
	s.mu.Unlock()

	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "botworker is running")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("server", "WebSocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	wc := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[wc] = struct{}{}
	s.mu.Unlock()

	logger.InfoCF("server", "Gateway connected", map[string]any{"remote": r.RemoteAddr})
	s.readLoop(wc)

	s.mu.Lock()
	delete(s.conns, wc)
	s.mu.Unlock()
	wc.close()
	logger.InfoCF("server", "Gateway disconnected", map[string]any{"remote": r.RemoteAddr})
}

// readLoop receives frames until the connection dies. Each frame becomes one
// independent task; slow backend calls never block the next frame.
func (s *Server) readLoop(wc *wsConn) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			logger.DebugCF("server", "WebSocket read ended", map[string]any{
				"error": err.Error(),
			})
			return
		}

		s.frames.Add(1)
		go func(frame []byte) {
			defer s.frames.Done()
			s.router.HandleFrame(context.Background(), frame, wc)
		}(data)
	}
}

func (s *Server) handleTestChat(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("msg")
	if msg == "" {
		msg = "你好"
	}

	reply := s.ai.ChatComplete(r.Context(), []history.Turn{
		{Role: history.RoleUser, Content: msg},
	})

	w.Header().Set("Content-Type", "text/html;charset=utf-8")
	fmt.Fprintf(w, "<pre>%s</pre>", html.EscapeString(reply))
}

func (s *Server) handleTestDraw(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		prompt = "a cute cat"
	}

	b64, ok := s.ai.GenerateImage(r.Context(), prompt)
	if !ok {
		http.Error(w, "image generation returned no data", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><body><img src="data:image/png;base64,%s" style="max-width:100%%"></body></html>`, b64)
}

// wsConn wraps one gateway connection. Writes are serialized: frame tasks
// complete concurrently and would otherwise interleave on the socket.
type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex
}

// Send implements router.Sender.
func (c *wsConn) Send(_ context.Context, action *onebot.Action) error {
	data, err := action.Marshal()
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}
