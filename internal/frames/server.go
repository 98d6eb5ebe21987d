package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxFrameSize = 32 << 20

	// formOverhead bounds the multipart framing and the cameraId field.
	formOverhead    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Server exposes a Service over HTTP.
type Server struct {
	service *Service
	logger  *zap.Logger

	// frameLimit is the largest accepted frame in bytes.
	frameLimit int64
}

// NewServer creates a Server for service.
func NewServer(service *Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{service: service, logger: logger, frameLimit: maxFrameSize}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	// Requests are capped below this, so multipart parts never spill to
	// temporary files.
	router.MaxMultipartMemory = s.requestLimit()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/analyze/", s.handleAnalyze)
	return router
}

// handleAnalyze serves POST /analyze/ with a multipart "file" and a
// "cameraId" form field. Frames larger than frameLimit are rejected with
// 413 instead of being truncated.
func (s *Server) handleAnalyze(c *gin.Context) {
	if c.Request.ContentLength > s.requestLimit() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": s.tooLargeDetail()})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.requestLimit())
	if err := c.Request.ParseMultipartForm(s.requestLimit()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": s.tooLargeDetail()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "expected a multipart form with cameraId and file"})
		return
	}

	cameraID := c.PostForm("cameraId")
	if cameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "cameraId is required"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}
	if fh.Size > s.frameLimit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": s.tooLargeDetail()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "cannot read file"})
		return
	}
	defer func() { _ = f.Close() }()

	frame, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "cannot read file"})
		return
	}

	result, err := s.service.Analyze(c.Request.Context(), cameraID, fh.Filename, frame)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": "detection failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) requestLimit() int64 {
	return s.frameLimit + formOverhead
}

func (s *Server) tooLargeDetail() string {
	return fmt.Sprintf("file exceeds %d bytes", s.frameLimit)
}

// loggingMiddleware logs one line per request with its outcome.
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("errors", errs))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request handled", fields...)
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight frames finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	s.logger.Info("server shutdown complete")
	return nil
}
