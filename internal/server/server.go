package server

// ============================================================================
// gRPC 健康檢查服務
// 職責：以標準 grpc.health.v1 服務回報列印引擎是否可用
//   - 引擎處於 Error 狀態時為 NOT_SERVING
//   - 其他狀態為 SERVING
// ============================================================================

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/ember-engine/internal/status"
)

// ServiceName 健康檢查使用的服務名稱
const ServiceName = "ember.PrintEngine"

// Server gRPC 健康檢查伺服器
type Server struct {
	backend Backend
	health  *health.Server
	grpc    *grpc.Server
	log     *zap.Logger
}

// NewServer 建立 gRPC 伺服器並註冊健康檢查服務
func NewServer(backend Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		health:  health.NewServer(),
		grpc:    grpc.NewServer(),
		log:     log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.update(backend.Latest())
	return s
}

// Serve 在 lis 上提供服務，直到 ctx 結束
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	docs, cancel := s.backend.Subscribe(16)
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case doc, ok := <-docs:
				if !ok {
					return
				}
				s.update(doc)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.log.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// update 依最新狀態文件設定服務狀態
func (s *Server) update(doc []byte) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if d, err := status.Parse(doc); err == nil && !d.IsError {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}
