package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"relay/cmd/identity/ids"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/ingest"
	"relay/cmd/internal/threads"
	v1 "relay/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// Subprotocol is offered during the handshake. Clients may omit it.
const Subprotocol = "relay.realtime.v1"

// Authenticator verifies access tokens.
type Authenticator interface {
	VerifyAccess(token string, now time.Time) (session.AccessClaims, error)
}

// ThreadAuthorizer resolves a thread owned by the caller.
type ThreadAuthorizer interface {
	Authorize(ctx context.Context, userID, threadID string) (threads.Thread, error)
}

// Ingestor persists chat frames and produces assistant replies.
type Ingestor interface {
	Submit(ctx context.Context, in ingest.SubmitInput) (ingest.Message, error)
	Cancel(threadID, clientMessageID string) bool
}

// Gateway is the websocket entrypoint mounted at /ws/{thread_id}.
//
// Authentication and thread ownership are settled before the upgrade, so
// rejected handshakes get a plain HTTP status.
type Gateway struct {
	cfg    Config
	log    *slog.Logger
	reg    *Registry
	auth   Authenticator
	guard  ThreadAuthorizer
	ingest Ingestor
	origin originPolicy
	now    func() time.Time
}

// NewGateway wires a gateway onto an owned registry.
func NewGateway(cfg Config, reg *Registry, auth Authenticator, guard ThreadAuthorizer, in Ingestor, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueue < MinSendQueue {
		cfg.SendQueue = MinSendQueue
	}
	return &Gateway{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		auth:   auth,
		guard:  guard,
		ingest: in,
		origin: newOriginPolicy(cfg.AllowedOrigins, cfg.OriginRequired),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origin.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, err := g.auth.VerifyAccess(accessToken(r), g.now())
	if err != nil {
		g.log.Info("ws.reject.unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	threadID := threadIDFrom(r)
	if _, err := g.guard.Authorize(r.Context(), claims.UserID, threadID); err != nil {
		if errors.Is(err, threads.ErrNotFound) {
			g.log.Info("ws.reject.not_found", "user_id", claims.UserID, "thread_id", threadID)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		g.log.Error("ws.reject.authorize_fail", "user_id", claims.UserID, "thread_id", threadID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.origin.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	ws.SetReadLimit(g.cfg.MaxFrameBytes)

	c := NewConn(ids.New(), claims.UserID, threadID, g.cfg.SendQueue)
	s := &wsSession{gw: g, ws: ws, c: c, inflight: make(map[string]struct{})}
	s.run(r.Context())
}

// accessToken prefers the Authorization header; browsers cannot set it on
// a websocket handshake, so ?token= is accepted too.
func accessToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func threadIDFrom(r *http.Request) string {
	if id := r.PathValue("thread_id"); id != "" {
		return strings.TrimSpace(id)
	}
	return strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/ ")
}

// wsSession is the per-connection state. The request goroutine dispatches
// commands; a reader, a writer and a heartbeat run alongside it.
type wsSession struct {
	gw *Gateway
	ws *websocket.Conn
	c  *Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.Mutex
	inflight map[string]struct{}
	subs     sync.WaitGroup
}

func (s *wsSession) run(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	defer s.cancel()

	log := s.gw.log.With("connection_id", s.c.ID, "user_id", s.c.UserID, "thread_id", s.c.ThreadID)
	log.Info("ws.open")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(log)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeat(log)
	}()

	s.gw.reg.Admit(s.c.ThreadID, s.c)

	cmds := make(chan v1.Inbound, commandQueue)
	go s.readLoop(log, cmds)

	for in := range cmds {
		s.dispatch(log, in)
	}

	s.shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}

	subsDone := make(chan struct{})
	go func() {
		s.subs.Wait()
		close(subsDone)
	}()
	select {
	case <-subsDone:
	case <-time.After(closeGrace):
	}
	log.Info("ws.close")
}

// shutdown is idempotent. The connection leaves its room before it is
// closed, and generations it started are canceled.
func (s *wsSession) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.gw.reg.Remove(s.c.ThreadID, s.c)
		s.c.Close()

		s.mu.Lock()
		keys := make([]string, 0, len(s.inflight))
		for k := range s.inflight {
			keys = append(keys, k)
		}
		s.mu.Unlock()
		for _, k := range keys {
			s.gw.ingest.Cancel(s.c.ThreadID, k)
		}

		_ = s.ws.Close(code, reason)
		s.cancel()
	})
}

func (s *wsSession) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.c.Done():
			// Evicted by the registry, or shut down elsewhere.
			s.shutdown(websocket.StatusPolicyViolation, "slow consumer")
			return
		case f := <-s.c.Send():
			if err := s.write(f); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *wsSession) write(f v1.Frame) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.gw.cfg.WriteTimeout)
	defer cancel()
	return s.ws.Write(ctx, websocket.MessageText, f)
}

func (s *wsSession) heartbeat(log *slog.Logger) {
	t := time.NewTicker(s.gw.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.c.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, s.gw.cfg.HeartbeatTimeout)
			err := s.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Info("ws.ping.fail", "failures", failures, "err", err)
			if failures >= s.gw.cfg.MaxPingFailures {
				s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (s *wsSession) readLoop(log *slog.Logger, cmds chan<- v1.Inbound) {
	defer close(cmds)

	cfg := s.gw.cfg
	lim := rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateEvents)), cfg.RateEvents)

	for {
		ctx, cancel := context.WithTimeout(s.ctx, cfg.ReadIdle)
		typ, data, err := s.ws.Read(ctx)
		cancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				s.shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				s.shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				s.shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if !lim.Allow() {
			log.Warn("ws.rate_limited")
			s.fail(websocket.StatusPolicyViolation, v1.NewError(v1.CodeRateLimited, "too many events"))
			return
		}
		if typ != websocket.MessageText {
			s.sendError(v1.CodeUnsupportedFrame, "only text frames are accepted")
			continue
		}

		in, err := v1.DecodeInbound(data)
		switch {
		case errors.Is(err, v1.ErrInvalidJSON):
			s.sendError(v1.CodeInvalidJSON, "invalid JSON")
			continue
		case errors.Is(err, v1.ErrUnknownType):
			s.sendError(v1.CodeUnknownType, fmt.Sprintf("unsupported type: %q", in.Type))
			continue
		}

		select {
		case cmds <- in:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *wsSession) dispatch(log *slog.Logger, in v1.Inbound) {
	switch in.Type {
	case v1.TypePing:
		s.send(v1.PongFrame{Type: v1.TypePong, TS: s.gw.now()})

	case v1.TypeCancel:
		if in.ClientMessageID == "" {
			s.sendError(v1.CodeMissingDedupKey, "client_message_id is required")
			return
		}
		if !s.gw.ingest.Cancel(s.c.ThreadID, in.ClientMessageID) {
			log.Debug("ws.cancel.idle", "client_message_id", in.ClientMessageID)
		}

	case v1.TypeChat, v1.TypeTyping, v1.TypeRead:
		f, err := in.Relay(s.c.UserID, s.c.ID)
		if err != nil {
			log.Error("ws.encode.fail", "type", in.Type, "err", err)
			s.sendError(v1.CodeServerError, "internal error")
			return
		}
		s.gw.reg.Broadcast(s.c.ThreadID, f)

		if in.Type == v1.TypeChat && in.ClientMessageID != "" && strings.TrimSpace(in.Content) != "" {
			s.submit(log, in.ClientMessageID, in.Content)
		}
	}
}

// submit runs ingestion off the dispatcher and streams its progress to the
// room. A key already in flight on this connection is ignored.
func (s *wsSession) submit(log *slog.Logger, key, content string) {
	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()

	s.subs.Add(1)
	go func() {
		defer s.subs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		reply, err := s.gw.ingest.Submit(s.ctx, ingest.SubmitInput{
			ThreadID:        s.c.ThreadID,
			UserID:          s.c.UserID,
			Content:         content,
			ClientMessageID: key,
			OnGenerating: func(ingest.Message) {
				s.broadcast(v1.NewStatus(v1.StateGenerating, key, ""))
			},
			OnDelta: func(delta string) {
				s.broadcast(v1.NewStatus(v1.StateStreaming, key, delta))
			},
		})

		switch {
		case err == nil:
			s.broadcast(messageFrame(reply))
		case s.ctx.Err() != nil && errors.Is(err, context.Canceled):
			// Connection went away while waiting.
		case errors.Is(err, ingest.ErrCanceled):
			s.broadcast(v1.NewStatus(v1.StateCanceled, key, ""))
		case errors.Is(err, ingest.ErrInvalidContent), errors.Is(err, ingest.ErrMissingDedupKey):
			s.sendError(v1.CodeInvalidContent, err.Error())
		case errors.Is(err, threads.ErrNotFound):
			s.sendError(v1.CodeNotFound, "thread not found")
		default:
			log.Error("ws.ingest.fail", "client_message_id", key, "err", err)
			s.broadcast(v1.NewStatus(v1.StateFailed, key, ""))
		}
	}()
}

func messageFrame(m ingest.Message) v1.MessageFrame {
	f := v1.MessageFrame{
		Type:       v1.TypeChat,
		SenderType: string(m.SenderType),
		MessageID:  m.ID,
		ThreadID:   m.ThreadID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if m.ParentMessageID != nil {
		f.ParentMessageID = *m.ParentMessageID
	}
	if m.ResponseToClientMessageID != nil {
		f.ResponseToClientMessageID = *m.ResponseToClientMessageID
	}
	return f
}

func (s *wsSession) broadcast(v any) {
	f, err := v1.Encode(v)
	if err != nil {
		s.gw.log.Error("ws.encode.fail", "err", err)
		return
	}
	s.gw.reg.Broadcast(s.c.ThreadID, f)
}

// send queues a frame for this connection only. A full queue drops it.
func (s *wsSession) send(v any) {
	f, err := v1.Encode(v)
	if err != nil {
		s.gw.log.Error("ws.encode.fail", "err", err)
		return
	}
	_ = s.c.enqueue(f)
}

func (s *wsSession) sendError(code, msg string) {
	s.send(v1.NewError(code, msg))
}

// fail writes a final error frame directly and closes the connection.
func (s *wsSession) fail(code websocket.StatusCode, e v1.ErrorFrame) {
	if f, err := v1.Encode(e); err == nil {
		_ = s.write(f)
	}
	s.shutdown(code, e.Code)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
