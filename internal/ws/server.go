// Package ws binds websocket connections to the realtime coordinator.
package ws

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/registry"
)

// LocalIdentity is the fiber locals key under which the upgrade handler
// stores the authenticated registry.Identity.
const LocalIdentity = "identity"

type Config struct {
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	RateLimitPerSec int
	RateBurst       int
	Limits          protocol.Limits
}

// Core is the part of the coordinator the transport drives.
type Core interface {
	Connect(ctx context.Context, id registry.Identity, sink registry.Sink) (*registry.Session, error)
	Disconnect(ctx context.Context, connID string) error
	Handle(ctx context.Context, connID string, cmd protocol.Command) error
}

type Server struct {
	core Core
	conf Config
	log  *zap.SugaredLogger
}

func NewServer(core Core, conf Config, log *zap.SugaredLogger) *Server {
	if conf.PingInterval <= 0 {
		conf.PingInterval = 25 * time.Second
	}
	if conf.WriteDeadline <= 0 {
		conf.WriteDeadline = 10 * time.Second
	}
	if conf.MaxMessageSize <= 0 {
		conf.MaxMessageSize = 64 * 1024
	}
	return &Server{core: core, conf: conf, log: log}
}

func (s *Server) HandleWS() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		id, ok := conn.Locals(LocalIdentity).(registry.Identity)
		if !ok {
			_ = conn.Close()
			return
		}
		c := newConnection(conn, s.conf.SendBuffer)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess, err := s.core.Connect(ctx, id, c)
		if err != nil {
			s.log.Warnw("connect rejected", "user_id", id.UserID, "error", err)
			_ = conn.Close()
			return
		}
		connID := sess.ConnectionID
		defer func() {
			if err := s.core.Disconnect(context.Background(), connID); err != nil {
				s.log.Warnw("disconnect", "connection_id", connID, "error", err)
			}
			_ = c.Close()
		}()

		go c.writePump(s.conf)
		in := s.newInbound(c, connID)
		if err := c.readPump(s.conf, func(raw []byte) { in.handle(ctx, raw) }); err != nil {
			s.log.Infow("connection dropped", "connection_id", connID, "error", err)
		}
	}
}

// inbound is the per-connection dispatcher: rate limit, parse, run, reply on failure.
type inbound struct {
	s       *Server
	sink    registry.Sink
	connID  string
	limiter *rate.Limiter
}

func (s *Server) newInbound(sink registry.Sink, connID string) *inbound {
	lim := rate.Inf
	if s.conf.RateLimitPerSec > 0 {
		lim = rate.Limit(s.conf.RateLimitPerSec)
	}
	burst := s.conf.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &inbound{s: s, sink: sink, connID: connID, limiter: rate.NewLimiter(lim, burst)}
}

func (in *inbound) handle(ctx context.Context, raw []byte) {
	if !in.limiter.Allow() {
		in.reject("", apperr.ErrRateLimited)
		return
	}
	cmd, ref, err := protocol.Parse(raw, in.s.conf.Limits)
	if err == nil {
		err = in.s.core.Handle(ctx, in.connID, cmd)
	}
	if err != nil {
		in.reject(ref, err)
	}
}

// reject reports err to the originating connection only.
func (in *inbound) reject(ref string, err error) {
	code := apperr.CodeOf(err)
	metrics.Rejected.WithLabelValues(code).Inc()
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindTransient:
		in.s.log.Errorw("command failed", "connection_id", in.connID, "code", code, "error", err)
	default:
		in.s.log.Debugw("command rejected", "connection_id", in.connID, "code", code, "error", err)
	}
	frame, encErr := protocol.Encode(protocol.EventError, protocol.Error{
		Message: apperr.PublicMessage(err),
		Code:    code,
		Ref:     ref,
	})
	if encErr != nil {
		return
	}
	if err := in.sink.Send(frame); err != nil {
		in.s.log.Warnw("error frame dropped", "connection_id", in.connID, "error", err)
	}
}
