package health

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a gRPC server exposing only the standard health
// service, for orchestrators that probe over gRPC.
func NewGRPCServer() (*grpc.Server, *grpchealth.Server) {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Mirror copies readiness into the gRPC health status every interval until
// ctx is done.
func Mirror(ctx context.Context, hs *grpchealth.Server, c *Checker, every time.Duration, log *zap.SugaredLogger) {
	update := func() {
		cctx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		st := c.Ready(cctx)
		status := healthpb.HealthCheckResponse_SERVING
		if !st.OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if log != nil {
				log.Warnw("readiness check failed", "status", st.String())
			}
		}
		hs.SetServingStatus("", status)
	}
	update()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}

// ServeGRPC serves the health service on lis until ctx is done, then stops
// gracefully. Stopping before Serve starts is not an error.
func ServeGRPC(ctx context.Context, lis net.Listener, c *Checker, every time.Duration, log *zap.SugaredLogger) error {
	srv, hs := NewGRPCServer()
	go Mirror(ctx, hs, c, every, log)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
