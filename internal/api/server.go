// Package api serves the browser: the /ws command channel, the /status probe
// and a small read-only REST surface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/job"
	"github.com/thereceipt/posbridge/internal/platform"
	"github.com/thereceipt/posbridge/internal/protocol"
)

// Registry is the device table as the server uses it.
type Registry interface {
	Printers() []device.LogicalDevice
	SetDisplayName(id, name string) error
	AddNetwork(host string, port int) (device.LogicalDevice, error)
	Forget(id string) error
}

// Jobs accepts print jobs and reports recent ones.
type Jobs interface {
	Submit(req job.Request) error
	Jobs() []job.Job
	Get(id string) (job.Job, bool)
}

// Discovery runs a discovery cycle on demand.
type Discovery interface {
	RunOnce(ctx context.Context) ([]device.LogicalDevice, error)
}

// Scanners reports whether any scanner session is open.
type Scanners interface {
	Active() bool
}

// Deps are the collaborators of a Server. Scanners, Notifier and Keyboard
// may be nil.
type Deps struct {
	Version   string
	Registry  Registry
	Jobs      Jobs
	Discovery Discovery
	Scanners  Scanners
	Notifier  platform.Notifier
	Keyboard  platform.Keyboard
	Bus       *events.Bus
	Log       *zap.Logger
}

// Server is the bridge's HTTP and WebSocket front end.
type Server struct {
	Deps

	router   *gin.Engine
	srv      *http.Server
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	drained     chan struct{}
}

// NewServer builds the router and starts forwarding bus events to clients.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(requestLogger(log.Named("http")), gin.Recovery(), corsMiddleware())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Deps:   deps,
		router: router,
		hub:    NewHub(),
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge only listens on localhost and any local page may
			// drive it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		drained: make(chan struct{}),
	}
	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()

	ch, unsubscribe := deps.Bus.Subscribe(sendBuffer)
	s.unsubscribe = unsubscribe
	go s.drain(ch)

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/ws", s.handleWebSocket)

	s.router.GET("/printers", s.handleGetPrinters)
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/jobs/:id", s.handleGetJob)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.hub.Count()
}

func (s *Server) status() protocol.Status {
	scanner := s.Scanners != nil && s.Scanners.Active()
	return protocol.NewStatus(s.Version, s.Registry.Printers(), scanner)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleGetPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, protocol.NewPrinters(s.Registry.Printers()))
}

func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.Jobs.Jobs()})
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, ok := s.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("listening", zap.String("addr", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects every client and stops
// forwarding events.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.srv.Shutdown(ctx)

	s.unsubscribe()
	select {
	case <-s.drained:
	case <-ctx.Done():
	}
	s.hub.CloseAll()
	return err
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs each request through zap. Upgraded connections are
// logged when the handshake completes.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			log.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Debug("request", fields...)
	}
}
