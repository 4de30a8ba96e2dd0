package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes readiness over the standard gRPC health protocol so
// load balancers and sidecars can probe without speaking HTTP.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
	stop   chan struct{}
}

func NewGRPCServer(probe ReadyProbe) *GRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{
		srv:    srv,
		health: hs,
		probe:  probe,
		stop:   make(chan struct{}),
	}
}

// Serve blocks on the listener while a background loop keeps the advertised
// health status in sync with the readiness probe.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.refresh()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.refresh()
			case <-g.stop:
				return
			}
		}
	}()
	return g.srv.Serve(lis)
}

func (g *GRPCServer) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.probe.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(serviceName, status)
}

func (g *GRPCServer) Stop() {
	close(g.stop)
	g.srv.GracefulStop()
}
