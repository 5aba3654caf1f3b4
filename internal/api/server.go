// Package api exposes the realtime service over HTTP: health, metrics, the
// websocket upgrade and the server side broadcast and query endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/coordinator"
	"github.com/fathima-sithara/realtime-service/internal/media"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

const maxListLimit = 200

type TokenValidator interface {
	Validate(token string) (registry.Identity, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Options switch on the optional endpoints and middleware.
type Options struct {
	// Uploads enables POST /v1/rooms/:room_id/attachments.
	Uploads *media.Service
	// Limiter throttles the broadcast endpoints per caller.
	Limiter RateLimiter
}

type Server struct {
	co      *coordinator.Coordinator
	jv      TokenValidator
	uploads *media.Service
	limiter RateLimiter
	log     *zap.SugaredLogger
}

func NewServer(co *coordinator.Coordinator, wsrv *ws.Server, jv TokenValidator, opts Options, log *zap.SugaredLogger) *fiber.App {
	conf := fiber.Config{DisableStartupMessage: true}
	if opts.Uploads != nil {
		conf.BodyLimit = int(opts.Uploads.MaxBytes()) + 1<<20
	}
	app := fiber.New(conf)
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	s := &Server{co: co, jv: jv, uploads: opts.Uploads, limiter: opts.Limiter, log: log}

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1")
	api.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		id, err := jv.Validate(c.Query("token"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(ws.LocalIdentity, id)
		return c.Next()
	})
	api.Get("/ws", websocket.New(wsrv.HandleWS()))

	protected := api.Group("", s.jwtAuth)
	protected.Get("/online", s.online)
	protected.Get("/presence/:user_id", s.presence)
	protected.Get("/rooms/:room_id/members", s.roomMembers)
	protected.Get("/rooms/:room_id/messages", s.roomMessages)
	protected.Post("/rooms/:room_id/broadcast", s.requireRole(auth.RoleService), s.rateLimit, s.broadcast(coordinator.ScopeRoom, "room_id"))
	protected.Post("/users/:user_id/broadcast", s.requireRole(auth.RoleService), s.rateLimit, s.broadcast(coordinator.ScopeUser, "user_id"))
	protected.Get("/documents/:document_id/collaborators", s.documentCollaborators)
	protected.Get("/documents/:document_id/versions", s.documentVersions)
	if s.uploads != nil {
		protected.Post("/rooms/:room_id/attachments", s.uploadAttachment)
	}

	return app
}

func (s *Server) jwtAuth(c *fiber.Ctx) error {
	token, err := auth.ParseBearerToken(c.Get("Authorization"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
	}
	id, err := s.jv.Validate(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	c.Locals(ws.LocalIdentity, id)
	return c.Next()
}

func (s *Server) requireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !caller(c).HasRole(role) {
			return s.fail(c, apperr.ErrServiceOnly)
		}
		return c.Next()
	}
}

func caller(c *fiber.Ctx) registry.Identity {
	id, _ := c.Locals(ws.LocalIdentity).(registry.Identity)
	return id
}

// rateLimit lets requests through when the limiter itself fails.
func (s *Server) rateLimit(c *fiber.Ctx) error {
	if s.limiter == nil {
		return c.Next()
	}
	id := caller(c)
	ok, err := s.limiter.Allow(c.UserContext(), "broadcast:"+id.UserID)
	if err != nil {
		s.log.Warnw("rate limiter unavailable", "user_id", id.UserID, "error", err)
		return c.Next()
	}
	if !ok {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
	}
	return c.Next()
}

func (s *Server) online(c *fiber.Ctx) error {
	return success(c, s.co.GetOnlineUsers())
}

func (s *Server) presence(c *fiber.Ctx) error {
	p, err := s.co.Presence(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return success(c, p)
}

func (s *Server) roomMembers(c *fiber.Ctx) error {
	members, err := s.co.RoomMembersFor(c.UserContext(), caller(c).UserID, c.Params("room_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return success(c, members)
}

func (s *Server) roomMessages(c *fiber.Ctx) error {
	msgs, err := s.co.History(c.UserContext(), caller(c).UserID, c.Params("room_id"), listLimit(c))
	if err != nil {
		return s.fail(c, err)
	}
	return success(c, msgs)
}

func (s *Server) documentCollaborators(c *fiber.Ctx) error {
	collabs, err := s.co.DocumentCollaboratorsFor(c.UserContext(), caller(c).UserID, c.Params("document_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return success(c, collabs)
}

func (s *Server) documentVersions(c *fiber.Ctx) error {
	vs, err := s.co.Versions(c.UserContext(), caller(c).UserID, c.Params("document_id"), listLimit(c))
	if err != nil {
		return s.fail(c, err)
	}
	return success(c, vs)
}

type broadcastRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) broadcast(scope, param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req broadcastRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		if strings.TrimSpace(req.Event) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event required"})
		}
		n, err := s.co.Broadcast(coordinator.BroadcastCommand{
			Scope:   scope,
			ID:      c.Params(param),
			Event:   req.Event,
			Payload: req.Payload,
		})
		if err != nil {
			return s.fail(c, err)
		}
		return success(c, fiber.Map{"delivered": n})
	}
}

// uploadAttachment takes multipart field "file" and returns the attachment
// the client then references from send_message.
func (s *Server) uploadAttachment(c *fiber.Ctx) error {
	id := caller(c)
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file missing"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot open file"})
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.uploads.MaxBytes()+1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot read file"})
	}
	att, err := s.uploads.Upload(c.UserContext(), id.UserID, c.Params("room_id"), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success", "data": att})
}

func listLimit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", 50)
	if n <= 0 || n > maxListLimit {
		n = 50
	}
	return n
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"status": "success", "data": data})
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		status = fiber.StatusUnauthorized
	case apperr.KindAuthorization:
		status = fiber.StatusForbidden
	case apperr.KindValidation:
		status = fiber.StatusBadRequest
	case apperr.KindNotFound:
		status = fiber.StatusNotFound
	case apperr.KindConflict:
		status = fiber.StatusConflict
	case apperr.KindTransient:
		status = fiber.StatusServiceUnavailable
	}
	if status >= fiber.StatusInternalServerError {
		s.log.Errorw("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)})
}
