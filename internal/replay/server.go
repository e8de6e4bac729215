package replay

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/sjson"

	"github.com/finops/cli/internal/config"
)

// keepAliveInterval paces the comments sent on held streams.
const keepAliveInterval = time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server plays a Script over HTTP.
type Server struct {
	script *Script
	logger *log.Logger
	app    *fiber.App

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

type sessionRecord struct {
	ID        string   `json:"session_id"`
	CreatedAt string   `json:"created_at"`
	Status    string   `json:"status"`
	Files     []string `json:"files,omitempty"`

	HasSettlement bool `json:"has_settlement"`
	HasOpenNew    bool `json:"has_open_new"`
	HasReconcile  bool `json:"has_reconcile"`
}

// NewServer creates a replay server for script.
func NewServer(script *Script, opts ...Option) *Server {
	s := &Server{
		script:   script,
		logger:   log.Default(),
		sessions: make(map[string]*sessionRecord),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

// App returns the fiber application, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("replay server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server. Held streams end at their next keep-alive.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	api := s.app.Group(config.CashReportPrefix)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "mode": "replay"})
	})
	s.app.Get("/api/auth/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": "replay", "email": "replay@localhost", "entity": "Replay Ltd"})
	})

	for _, kind := range []string{KindUpload, KindSettlement, KindOpenNew} {
		api.Get("/"+kind+"-progress/:id", s.stream(kind))
	}

	api.Get("/sessions", s.listSessions)
	api.Post("/sessions/:id/upload", s.upload)
	api.Post("/sessions/:id/settlement", s.action(KindSettlement))
	api.Post("/sessions/:id/open-new", s.action(KindOpenNew))
	api.Post("/sessions/:id/reconcile", s.action("reconcile"))
	api.Get("/sessions/:id/settlement/preview", s.preview(KindSettlement))
	api.Get("/sessions/:id/open-new/preview", s.preview(KindOpenNew))
	api.Get("/sessions/:id/status", s.status)
	api.Get("/sessions/:id/download", s.download)
	api.Post("/sessions/:id/reset", s.reset)
	api.Delete("/sessions/:id", s.remove)
}

// errorHandler renders errors the way the backend does: {"detail": "..."}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}

// stream serves the scripted frames of one kind as server-sent events.
// Every frame is stamped with the requested session id.
func (s *Server) stream(kind string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, ok := s.script.Streams[kind]
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("no %s stream in replay script", kind))
		}
		id := c.Params("id")

		frames := make([][]byte, 0, len(st.Frames))
		for i := range st.Frames {
			frame, err := st.frame(i)
			if err != nil {
				return err
			}
			if frame, err = sjson.SetBytes(frame, "session_id", id); err != nil {
				return err
			}
			frames = append(frames, frame)
		}
		delay := st.delay(s.script.Delay)
		logger := s.logger.With("stream", kind, "session", id)

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			logger.Debug("replaying stream", "frames", len(frames))
			fmt.Fprint(w, ": replay\n\n")
			if w.Flush() != nil {
				return
			}
			for i, frame := range frames {
				if i > 0 && delay > 0 {
					time.Sleep(delay)
				}
				fmt.Fprintf(w, "data: %s\n\n", frame)
				if err := w.Flush(); err != nil {
					logger.Debug("client went away", "sent", i)
					return
				}
			}
			for st.Hold {
				time.Sleep(keepAliveInterval)
				fmt.Fprint(w, ": keep-alive\n\n")
				if w.Flush() != nil {
					return
				}
			}
		})
		return nil
	}
}

func (s *Server) touch(id string) *sessionRecord {
	rec, ok := s.sessions[id]
	if !ok {
		rec = &sessionRecord{ID: id, CreatedAt: time.Now().UTC().Format(time.RFC3339), Status: "created"}
		s.sessions[id] = rec
	}
	return rec
}

// respond waits the scripted REST delay, then sends the scripted failure or
// result of action.
func (s *Server) respond(c *fiber.Ctx, action string, result []byte) error {
	if s.script.RESTDelay > 0 {
		time.Sleep(s.script.RESTDelay)
	}
	if f, ok := s.script.Failures[action]; ok {
		return fiber.NewError(f.Status, f.Detail)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(result)
}

func (s *Server) upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "expected multipart form with files")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "No files uploaded")
	}

	s.mu.Lock()
	rec := s.touch(c.Params("id"))
	for _, fh := range files {
		rec.Files = append(rec.Files, fh.Filename)
	}
	sort.Strings(rec.Files)
	rec.Status = "ready"
	s.mu.Unlock()

	result := s.script.result(KindUpload)
	if _, ok := s.script.Results[KindUpload]; !ok {
		result, _ = sjson.SetBytes(result, "files_processed", len(files))
	}
	return s.respond(c, KindUpload, result)
}

func (s *Server) action(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.mu.Lock()
		rec := s.touch(c.Params("id"))
		s.mu.Unlock()

		err := s.respond(c, action, s.script.result(action))
		if err == nil {
			s.mu.Lock()
			switch action {
			case KindSettlement:
				rec.HasSettlement = true
			case KindOpenNew:
				rec.HasOpenNew = true
			default:
				rec.HasReconcile = true
			}
			s.mu.Unlock()
		}
		return err
	}
}

func (s *Server) preview(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		body, _ := sjson.SetRawBytes([]byte(`{"preview":true}`), "result", s.script.result(action))
		return c.Send(body)
	}
}

func (s *Server) status(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[c.Params("id")]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	}
	return c.JSON(rec)
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return c.JSON(fiber.Map{"sessions": list, "count": len(list)})
}

func (s *Server) download(c *fiber.Ctx) error {
	id := c.Params("id")
	body := s.script.Download
	if body == "" {
		body = "session_id,status\n" + id + ",replayed\n"
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="cash-report-%s.csv"`, id))
	c.Set(fiber.HeaderContentType, "text/csv")
	return c.SendString(body)
}

func (s *Server) reset(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[c.Params("id")]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	}
	*rec = sessionRecord{ID: rec.ID, CreatedAt: rec.CreatedAt, Status: "created"}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) remove(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Params("id")
	if _, ok := s.sessions[id]; !ok {
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	}
	delete(s.sessions, id)
	return c.SendStatus(fiber.StatusNoContent)
}
