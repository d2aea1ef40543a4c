package main

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"globe-engine/logger"
)

// serviceName 健康检查中登记的服务名
const serviceName = "globe-prefetch"

// healthServer 只提供标准健康检查服务的 gRPC 服务器
type healthServer struct {
	grpcServer *grpc.Server
	status     *health.Server
	addr       net.Addr
	log        logger.Logger
}

// startHealth 监听 addr 并在后台提供服务，预取运行期间状态为 SERVING
func startHealth(addr string, log logger.Logger) (*healthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听端口失败: %w", err)
	}
	s := &healthServer{
		grpcServer: grpc.NewServer(),
		status:     health.NewServer(),
		addr:       lis.Addr(),
		log:        logger.OrGlobal(log),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.status)
	s.status.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.log.Warn("gRPC 服务器退出: %v", err)
		}
	}()
	s.log.Info("gRPC 健康检查启动在 %s", s.addr)
	return s, nil
}

// Stop 标记为 NOT_SERVING 后停止服务器
func (s *healthServer) Stop() {
	s.status.Shutdown()
	s.grpcServer.GracefulStop()
	s.log.Info("gRPC 健康检查已停止")
}
