package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func check(t *testing.T, h *HealthServer, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthServer_Statuses(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHealthServer(log)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, h, ""))

	h.SetServingStatus(ServiceAnalyzer)
	h.SetNotServingStatus(ServiceCache)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, h, ServiceAnalyzer))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, ServiceCache))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, ""))

	_, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	h.SetServingStatus(ServiceCache)
	h.Shutdown()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, ServiceAnalyzer))
}

func TestHealthServer_RunProbes(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHealthServer(log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunProbes(ctx, 10*time.Millisecond, map[string]Probe{
			ServiceCache: func(context.Context) error { return nil },
			ServiceStore: func(context.Context) error { return errors.New("connection refused") },
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceStore})
		return err == nil && resp.Status == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceCache})
		return err == nil && resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
