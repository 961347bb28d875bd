package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"voyagedesk.app/internal/obs"
)

// GRPCHealth serves grpc.health.v1 for the service, driven by the readiness
// probe.
type GRPCHealth struct {
	probe  ReadyProbe
	server *health.Server
}

func NewGRPCHealth(rp ReadyProbe) *GRPCHealth {
	h := &GRPCHealth{probe: rp, server: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) error {
	if err := h.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes on every tick until ctx is done.
func (h *GRPCHealth) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.Refresh(pctx); err != nil {
			obs.Logger().Warn().Err(err).Msg("readiness_probe_failed")
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *GRPCHealth) Shutdown() {
	h.server.Shutdown()
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
