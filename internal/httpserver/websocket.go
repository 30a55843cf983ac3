package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/skobkin/hwtelemetry/internal/api"
)

const wsOutboundQueue = 8

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFromContext(r.Context())
	if s.deps.Sampler == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	if !s.reserveWS() {
		s.wsRejected.Add(1)
		logger.Warn("websocket client limit reached", "max", s.maxWSClients)
		http.Error(w, "too many websocket clients", http.StatusServiceUnavailable)
		return
	}
	defer s.wsActive.Add(-1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		logger.Warn("websocket accept failed", "err", err)
		return
	}
	s.wsTotal.Add(1)
	connID := s.wsConnIDs.Add(1)
	logger = logger.With("ws_conn", connID)
	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := newWSOutbound(wsOutboundQueue, func() { s.wsDropped.Add(1) })
	defer out.close()

	// Hello is queued before the stream starts so it is always first.
	hello := api.NewHelloMessage(int(s.cfg.SampleInterval/time.Millisecond), map[string]bool{
		"archive":    s.cfg.Archive.Enable,
		"prometheus": s.cfg.EnablePrometheus,
	})
	if payload, err := json.Marshal(hello); err == nil {
		out.push(payload)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		s.wsWriter(ctx, conn, out, logger)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.readMessages(ctx, conn, out, logger)
	}()
	go func() {
		defer wg.Done()
		s.streamSnapshots(ctx, out)
	}()

	<-ctx.Done()
	wg.Wait()

	closeWebsocket(conn, logger)
	logger.Info("websocket disconnected")
}

func (s *Server) streamSnapshots(ctx context.Context, out *wsOutbound) {
	snapshots, unsubscribe := s.deps.Sampler.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(api.NewSnapshotMessage(snap))
			if err != nil {
				continue
			}
			out.push(payload)
		}
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out *wsOutbound, logger *slog.Logger) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		typ, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger.Debug("websocket read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg api.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushError(out, "invalid message")
			continue
		}
		switch msg.Type {
		case "ping":
			if payload, err := json.Marshal(api.PongMessage{Type: "pong"}); err == nil {
				out.push(payload)
			}
		default:
			s.pushError(out, "unknown message type")
		}
	}
}

func (s *Server) pushError(out *wsOutbound, message string) {
	payload, err := json.Marshal(api.ErrorMessage{Type: "error", Message: message})
	if err == nil {
		out.push(payload)
	}
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, out *wsOutbound, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-out.ready():
		}
		for _, payload := range out.drain() {
			writeCtx := ctx
			var cancel context.CancelFunc
			if s.cfg.WS.WriteTimeout > 0 {
				writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
			}
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
			s.wsSent.Add(1)
		}
	}
}

// reserveWS claims a client slot, failing when the limit is reached.
func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}
	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// originPatterns converts configured origins into host patterns accepted by
// websocket.Accept. An empty list keeps same-origin only.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}

func closeWebsocket(conn *websocket.Conn, logger *slog.Logger) {
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && websocket.CloseStatus(err) == -1 {
		logger.Debug("websocket close", "err", err)
	}
}

// wsOutbound is a bounded queue that drops the oldest payload when full.
type wsOutbound struct {
	mu      sync.Mutex
	queue   [][]byte
	limit   int
	signal  chan struct{}
	onDrop  func()
	stopped bool
}

func newWSOutbound(limit int, onDrop func()) *wsOutbound {
	return &wsOutbound{limit: limit, signal: make(chan struct{}, 1), onDrop: onDrop}
}

func (o *wsOutbound) push(payload []byte) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	if len(o.queue) >= o.limit {
		o.queue = o.queue[1:]
		if o.onDrop != nil {
			o.onDrop()
		}
	}
	o.queue = append(o.queue, payload)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *wsOutbound) ready() <-chan struct{} {
	return o.signal
}

func (o *wsOutbound) drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.queue
	o.queue = nil
	return batch
}

func (o *wsOutbound) close() {
	o.mu.Lock()
	o.stopped = true
	o.queue = nil
	o.mu.Unlock()
}
