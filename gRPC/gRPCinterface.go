package proto

import (
	"context"
	"fmt"
	"net"
	"time"

	iface "QrScanServer/interface"
	"QrScanServer/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type jobResult struct {
	codes []iface.Code
	err   error
}

// Server exposes a local Detector to remote schedulers.
type Server struct {
	id       string
	backend  string
	detector iface.Detector
	requests prometheus.Counter
	log      *zap.Logger
	started  time.Time
}

type ServerOption func(*Server)

// WithRequestCounter counts every RPC on c.
func WithRequestCounter(c prometheus.Counter) ServerOption {
	return func(s *Server) { s.requests = c }
}

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer serves detector, reporting backend as its engine name.
func NewServer(backend string, detector iface.Detector, opts ...ServerOption) *Server {
	s := &Server{
		id:       uuid.NewString(),
		backend:  backend,
		detector: detector,
		log:      logger.Log(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Inference(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	img, err := incomingImage(ctx, req)
	if err != nil {
		return nil, err
	}
	inferResult := make(chan jobResult, 1)
	s.detector.Detect(ctx, img, func(found []iface.Code, err error) {
		inferResult <- jobResult{codes: found, err: err}
	})
	select {
	case r := <-inferResult:
		if r.err != nil {
			s.log.Warn("inference failed", zap.String("engine", s.id), zap.Error(r.err))
			return encodeFailure(s.backend, r.err)
		}
		return encodeResults(s.backend, r.codes)
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Server) CheckEngine(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"id":       s.id,
		"backend":  s.backend,
		"uptimeMs": time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.requests != nil {
		s.requests.Inc()
	}
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Debug("rpc failed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
	}
	return resp, err
}

// NewGRPCServer builds a grpc.Server with the detect service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.unaryInterceptor))
	s := grpc.NewServer(opts...)
	RegisterDetectServiceServer(s, srv)
	return s
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewGRPCServer(srv)
	go func() {
		srv.log.Info("grpc server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			srv.log.Error("grpc server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

