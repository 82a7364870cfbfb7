package middleware

import (
	"context"
	"time"

	"github.com/TUM-AIMED/hyfed/compensator"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/go-kit/kit/metrics"
)

var _ compensator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     compensator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc compensator.Service) compensator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) UploadNoise(ctx context.Context, req protocol.NoiseParameters, size uint64) (protocol.NoiseResponse, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "upload-noise").Add(1)
		mm.latency.With("method", "upload-noise").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UploadNoise(ctx, req, size)
}

func (mm *metricsMiddleware) SessionCount(ctx context.Context) (int, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "session-count").Add(1)
		mm.latency.With("method", "session-count").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SessionCount(ctx)
}

func (mm *metricsMiddleware) RunGC(ctx context.Context, interval time.Duration) {
	mm.svc.RunGC(ctx, interval)
}
