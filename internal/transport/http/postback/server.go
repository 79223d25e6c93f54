// Package postback implements the small HTTP receiver the broker redirects
// to after login. It holds the one-time exchange code until the bot
// collects it.
package postback

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"kitebot/internal/logger"
)

// defaultCodeTTL bounds how long a captured code is served before it is
// treated as expired. Broker-side codes die within a few minutes anyway.
const defaultCodeTTL = 5 * time.Minute

type capturedCode struct {
	value      string
	receivedAt time.Time
	collected  bool
}

// Server is the postback receiver.
type Server struct {
	engine  *gin.Engine
	nowFn   func() time.Time
	codeTTL time.Duration

	mu   sync.Mutex
	code *capturedCode

	startedAt time.Time
}

func NewServer(codeTTL time.Duration) *Server {
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		nowFn:     time.Now,
		codeTTL:   codeTTL,
		startedAt: time.Now(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/postback", s.handleCapture)
	s.engine.GET("/redirect", s.handleCapture)
	s.engine.POST("/redirect", s.handleCapture)
	s.engine.GET("/get_token", s.handleGetToken)
	s.engine.GET("/clear_token", s.handleClearToken)
	s.engine.POST("/clear_token", s.handleClearToken)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("postback receiver listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleCapture accepts the broker redirect. The code arrives as the
// request_token query or form parameter.
func (s *Server) handleCapture(c *gin.Context) {
	token := c.Query("request_token")
	if token == "" {
		token = c.PostForm("request_token")
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing request_token"})
		return
	}

	s.mu.Lock()
	s.code = &capturedCode{value: token, receivedAt: s.nowFn()}
	s.mu.Unlock()

	logger.Infof("captured exchange code from %s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Login captured. You can close this window.",
	})
}

// handleGetToken serves the captured code exactly once. 404 means nothing
// captured yet, 410 means the code aged out or was already collected.
func (s *Server) handleGetToken(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.code == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no token captured"})
		return
	}
	age := s.nowFn().Sub(s.code.receivedAt)
	if s.code.collected || age > s.codeTTL {
		c.JSON(http.StatusGone, gin.H{"error": "token expired"})
		return
	}

	s.code.collected = true
	c.JSON(http.StatusOK, gin.H{
		"request_token": s.code.value,
		"age_seconds":   int(age.Seconds()),
	})
}

func (s *Server) handleClearToken(c *gin.Context) {
	s.mu.Lock()
	s.code = nil
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := gin.H{
		"uptime_seconds": int(s.nowFn().Sub(s.startedAt).Seconds()),
		"has_token":      false,
	}
	if s.code != nil {
		age := s.nowFn().Sub(s.code.receivedAt)
		status["has_token"] = !s.code.collected && age <= s.codeTTL
		status["token_age_seconds"] = int(age.Seconds())
		status["collected"] = s.code.collected
	}
	c.JSON(http.StatusOK, status)
}
