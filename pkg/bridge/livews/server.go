// Package livews pushes decoded samples to websocket clients as JSON, one
// record per sample batch, for live plotting during a recording.
package livews

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"verity/pkg/engine"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 20 * time.Second
	sendBuffer   = 128
)

// SampleMsg is the wire record: one decoded batch from one stream.
type SampleMsg struct {
	Stream string `json:"stream"`
	// ReceivedAt is host wall-clock time in RFC3339Nano; timestamps inside
	// the samples stay in device-epoch microseconds.
	ReceivedAt string      `json:"received_at"`
	Samples    []SampleRow `json:"samples"`
}

type SampleRow struct {
	TimestampUS int64   `json:"timestamp_us"`
	Values      []int64 `json:"values"`
}

type Server struct {
	addr     string
	hub      *engine.Hub
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	streams map[string]struct{}
	once    sync.Once
}

func NewServer(addr string, hub *engine.Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		addr: addr,
		hub:  hub,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run serves until the context ends. It consumes one hub subscription and
// fans records out to every connected client, dropping per-client when a
// client cannot keep up.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			s.closeClients()
			return nil
		case err := <-errc:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		case record, ok := <-sub:
			if !ok {
				return nil
			}
			s.broadcast(record)
		}
	}
}

func (s *Server) broadcast(record engine.Record) {
	if len(record.Samples) == 0 {
		return
	}
	msg := SampleMsg{
		Stream:     record.Stream.String(),
		ReceivedAt: record.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Samples:    make([]SampleRow, 0, len(record.Samples)),
	}
	for _, sample := range record.Samples {
		msg.Samples = append(msg.Samples, SampleRow{
			TimestampUS: sample.TimestampUS,
			Values:      sample.Values,
		})
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorw("marshal sample message", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.wants(msg.Stream) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client: drop this record for it rather than stall
			// the pipeline.
		}
	}
}

// handleWS upgrades the connection. An optional ?streams=ppg,acc query
// restricts which streams the client receives; the default is all of them.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade", "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if raw := r.URL.Query().Get("streams"); raw != "" {
		c.streams = make(map[string]struct{})
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.streams[name] = struct{}{}
			}
		}
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Infow("client connected", "remote", conn.RemoteAddr().String())

	go s.writePump(c)
	go s.readPump(c)
}

func (c *client) wants(stream string) bool {
	if c.streams == nil {
		return true
	}
	_, ok := c.streams[stream]
	return ok
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.dropClient(c)

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages; the feed is one-way. It exists to
// notice closes and to service control frames.
func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
