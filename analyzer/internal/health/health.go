package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Имена сервисов в health-проверках
const (
	ServiceAnalyzer = "msna.v1.Analyzer"
	ServiceCache    = "msna.v1.Cache"
	ServiceStore    = "msna.v1.ResultStore"
)

// Probe проверяет одну зависимость
type Probe func(ctx context.Context) error

type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	mu       sync.RWMutex
	services map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	log      logrus.FieldLogger
}

func NewHealthServer(log logrus.FieldLogger) *HealthServer {
	return &HealthServer{
		services: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
		log:      log.WithField("component", "health"),
	}
}

func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	service := req.GetService()

	// Пустое имя - общий статус: SERVING, только если обслуживаются все
	if service == "" {
		overall := grpc_health_v1.HealthCheckResponse_SERVING
		for _, st := range h.services {
			if st != grpc_health_v1.HealthCheckResponse_SERVING {
				overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				break
			}
		}
		return &grpc_health_v1.HealthCheckResponse{Status: overall}, nil
	}

	servingStatus, exists := h.services[service]
	if !exists {
		return nil, status.Error(codes.NotFound, "service not found")
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: servingStatus,
	}, nil
}

func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	response, err := h.Check(stream.Context(), req)
	if err != nil {
		return err
	}

	if err := stream.Send(response); err != nil {
		return err
	}

	<-stream.Context().Done()
	return stream.Context().Err()
}

func (h *HealthServer) SetServingStatus(service string) {
	h.setStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
}

func (h *HealthServer) SetNotServingStatus(service string) {
	h.setStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Shutdown переводит все сервисы в NOT_SERVING
func (h *HealthServer) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.services {
		h.services[name] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
}

func (h *HealthServer) setStatus(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	prev, existed := h.services[service]
	h.services[service] = st
	h.mu.Unlock()

	if !existed || prev != st {
		h.log.WithFields(logrus.Fields{"service": service, "status": st.String()}).Info("Health status changed")
	}
}

// RunProbes сразу и затем каждые interval выполняет проверки и обновляет
// статусы сервисов, пока не отменен ctx
func (h *HealthServer) RunProbes(ctx context.Context, interval time.Duration, probes map[string]Probe) {
	h.probeOnce(ctx, probes)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeOnce(ctx, probes)
		}
	}
}

func (h *HealthServer) probeOnce(ctx context.Context, probes map[string]Probe) {
	for name, probe := range probes {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probe(pctx)
		cancel()
		if err != nil {
			h.log.WithError(err).WithField("service", name).Warn("Health probe failed")
			h.SetNotServingStatus(name)
			continue
		}
		h.SetServingStatus(name)
	}
}
