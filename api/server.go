// Package api is the HTTP surface of the service: frame upload, detector
// passthrough, scheduler stats and the live code stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	adhoc "QrScanServer/Adhoc"
	"QrScanServer/frame"
	iface "QrScanServer/interface"
	"QrScanServer/logger"
	"QrScanServer/scheduler"
	"QrScanServer/sink"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultMaxUpload = 20 * 1024 * 1024

// FrameSubmitter is the part of the scheduler the API drives.
type FrameSubmitter interface {
	Submit(frame iface.Frame)
	Stats() scheduler.Stats
}

type Server struct {
	sched     FrameSubmitter
	recent    *sink.Recent
	hub       *Hub
	detector  iface.Detector
	backend   string
	timeout   time.Duration
	maxUpload int64
	log       *zap.Logger
}

type Option func(*Server)

// WithDetector enables POST /api/detect against detector.
func WithDetector(backend string, detector iface.Detector) Option {
	return func(s *Server) {
		s.backend = backend
		s.detector = detector
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(sched FrameSubmitter, recent *sink.Recent, hub *Hub, opts ...Option) *Server {
	s := &Server{
		sched:     sched,
		recent:    recent,
		hub:       hub,
		timeout:   5 * time.Second,
		maxUpload: defaultMaxUpload,
		log:       logger.Log(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "api"))
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/scheduler/stats", s.handleStats)
	r.POST("/api/frames", s.handleFrame)
	r.GET("/api/codes", s.handleCodes)
	r.POST(adhoc.DetectPath, s.handleDetect)
	if s.hub != nil {
		r.GET("/ws/codes", s.hub.Serve)
	}
	return r
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("api listening", zap.Int("port", port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.sched.Stats()})
}

func (s *Server) handleCodes(c *gin.Context) {
	events := []sink.Event{}
	if s.recent != nil {
		events = s.recent.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

// handleFrame accepts an encoded image either as a multipart "file" field or
// as the raw request body, and hands it to the scheduler.
func (s *Server) handleFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		body = f
	}

	img, format, err := frame.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.sched.Submit(img)
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"id":     img.ID,
		"format": format,
		"width":  img.Width(),
		"height": img.Height(),
	}})
}

type detectResult struct {
	codes []iface.Code
	err   error
}

func (s *Server) handleDetect(c *gin.Context) {
	if s.detector == nil {
		c.JSON(http.StatusServiceUnavailable, adhoc.DetectResponse{Message: "no detector configured"})
		return
	}
	var req adhoc.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, adhoc.DetectResponse{Backend: s.backend, Message: err.Error()})
		return
	}
	img := req.Image()
	if err := img.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, adhoc.DetectResponse{Backend: s.backend, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	resCh := make(chan detectResult, 1)
	s.detector.Detect(ctx, img, func(codes []iface.Code, err error) {
		resCh <- detectResult{codes: codes, err: err}
	})

	var res detectResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		c.JSON(http.StatusGatewayTimeout, adhoc.DetectResponse{Backend: s.backend, Message: ctx.Err().Error()})
		return
	}
	if res.err != nil {
		s.log.Warn("detect request failed", zap.String("backend", s.backend), zap.Error(res.err))
		c.JSON(http.StatusBadGateway, adhoc.DetectResponse{Backend: s.backend, Message: res.err.Error()})
		return
	}
	results := make([]adhoc.DetectedCode, 0, len(res.codes))
	for _, code := range res.codes {
		results = append(results, adhoc.NewDetectedCode(code))
	}
	c.JSON(http.StatusOK, adhoc.DetectResponse{Success: true, Backend: s.backend, Results: results})
}
