package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	shutdownTimeout = 5 * time.Second
)

// Controller is the part of app.Controller exposed over HTTP.
type Controller interface {
	Snapshot() app.Snapshot
	Press()
	Release()
	Reset()
	LastResult() (transmit.Result, bool)
	Subscribe() (<-chan app.Event, func())
}

// Formats reports codec support for GET /api/formats.
type Formats interface {
	SupportMatrix() []format.Support
	RecommendedFormat() format.AudioFormat
}

type Config struct {
	Listen     string
	Controller Controller
	Formats    Formats
	Logger     zerolog.Logger
}

// Server is the local control API: press and release over HTTP plus a
// websocket stream of controller events.
type Server struct {
	listen  string
	ctrl    Controller
	formats Formats
	log     zerolog.Logger
	engine  *gin.Engine

	upgrader websocket.Upgrader
}

func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		listen:  cfg.Listen,
		ctrl:    cfg.Controller,
		formats: cfg.Formats,
		log:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	api := engine.Group("/api")
	{
		api.GET("/status", s.status)
		api.POST("/press", sameOrigin(), s.press)
		api.POST("/release", sameOrigin(), s.release)
		api.POST("/reset", sameOrigin(), s.reset)
		api.GET("/formats", s.listFormats)
		api.GET("/last-response", s.lastResponse)
		api.GET("/events", s.events)
	}
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.listen).Msg("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("API request")
	}
}

// sameOrigin rejects requests a browser sent on behalf of another site.
// Clients that are not browsers send no Origin and pass.
func sameOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		if strings.EqualFold(r.Header.Get("Sec-Fetch-Site"), "cross-site") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cross-site request"})
			return
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}
		u, err := url.Parse(origin)
		if err != nil || !strings.EqualFold(u.Host, r.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cross-origin request"})
			return
		}
		c.Next()
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) press(c *gin.Context) {
	s.ctrl.Press()
	c.JSON(http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) release(c *gin.Context) {
	s.ctrl.Release()
	c.JSON(http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) reset(c *gin.Context) {
	s.ctrl.Reset()
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) listFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recommended": s.formats.RecommendedFormat(),
		"formats":     s.formats.SupportMatrix(),
	})
}

func (s *Server) lastResponse(c *gin.Context) {
	res, ok := s.ctrl.LastResult()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no upload has completed yet"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// events streams controller events as JSON text frames. The first frame is
// the current snapshot.
func (s *Server) events(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go s.readPump(conn, done)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	hello := app.Event{Type: app.EventStatusChanged, Time: time.Now(), Snapshot: s.ctrl.Snapshot()}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and closes done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
