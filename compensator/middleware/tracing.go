package middleware

import (
	"context"
	"time"

	"github.com/TUM-AIMED/hyfed/compensator"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ compensator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    compensator.Service
}

func Tracing(tracer trace.Tracer, svc compensator.Service) compensator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) UploadNoise(ctx context.Context, req protocol.NoiseParameters, size uint64) (protocol.NoiseResponse, error) {
	ctx, span := tm.tracer.Start(ctx, "upload-noise", trace.WithAttributes(
		attribute.String("hash_project_id", req.HashProjectID),
		attribute.String("step", req.Step),
		attribute.Int("comm_round", req.CommRound),
	))
	defer span.End()

	return tm.svc.UploadNoise(ctx, req, size)
}

func (tm *tracing) SessionCount(ctx context.Context) (int, error) {
	ctx, span := tm.tracer.Start(ctx, "session-count")
	defer span.End()

	return tm.svc.SessionCount(ctx)
}

func (tm *tracing) RunGC(ctx context.Context, interval time.Duration) {
	tm.svc.RunGC(ctx, interval)
}
