package middleware

import (
	"context"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/TUM-AIMED/hyfed/server"
	"github.com/go-kit/kit/metrics"
)

var _ server.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     server.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc server.Service) server.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateProject(ctx context.Context, rec storage.ProjectRecord) (storage.ProjectRecord, []storage.Token, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-project").Add(1)
		mm.latency.With("method", "create-project").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateProject(ctx, rec)
}

func (mm *metricsMiddleware) GetProject(ctx context.Context, id string) (storage.ProjectRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-project").Add(1)
		mm.latency.With("method", "get-project").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetProject(ctx, id)
}

func (mm *metricsMiddleware) ListProjects(ctx context.Context, offset, limit uint64) (server.ProjectPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-projects").Add(1)
		mm.latency.With("method", "list-projects").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListProjects(ctx, offset, limit)
}

func (mm *metricsMiddleware) Abort(ctx context.Context, id string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "abort-project").Add(1)
		mm.latency.With("method", "abort-project").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Abort(ctx, id)
}

func (mm *metricsMiddleware) Delete(ctx context.Context, id string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "delete-project").Add(1)
		mm.latency.With("method", "delete-project").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Delete(ctx, id)
}

func (mm *metricsMiddleware) Join(ctx context.Context, req protocol.JoinRequest) (protocol.JoinResponse, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "join").Add(1)
		mm.latency.With("method", "join").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Join(ctx, req)
}

func (mm *metricsMiddleware) ProjectInfo(ctx context.Context, req protocol.ProjectInfoRequest) (protocol.ProjectInfoResponse, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "project-info").Add(1)
		mm.latency.With("method", "project-info").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProjectInfo(ctx, req)
}

func (mm *metricsMiddleware) Started(ctx context.Context, req protocol.StartedRequest) (protocol.StartedResponse, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "started").Add(1)
		mm.latency.With("method", "started").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Started(ctx, req)
}

func (mm *metricsMiddleware) UploadParameters(ctx context.Context, req protocol.ClientParameters, size uint64) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "upload-parameters").Add(1)
		mm.latency.With("method", "upload-parameters").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UploadParameters(ctx, req, size)
}

func (mm *metricsMiddleware) GlobalParameters(ctx context.Context, req protocol.SyncRequest) (protocol.GlobalParameters, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "global-parameters").Add(1)
		mm.latency.With("method", "global-parameters").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GlobalParameters(ctx, req)
}

func (mm *metricsMiddleware) DownloadResult(ctx context.Context, req protocol.ResultRequest) ([]byte, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "download-result").Add(1)
		mm.latency.With("method", "download-result").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.DownloadResult(ctx, req)
}

func (mm *metricsMiddleware) AuthenticateCompensator(ctx context.Context, req protocol.CompensatorAuthRequest) (protocol.CompensatorAuthResponse, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "authenticate-compensator").Add(1)
		mm.latency.With("method", "authenticate-compensator").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.AuthenticateCompensator(ctx, req)
}

func (mm *metricsMiddleware) UploadCompensation(ctx context.Context, req protocol.CompensationParameters, size uint64) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "upload-compensation").Add(1)
		mm.latency.With("method", "upload-compensation").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UploadCompensation(ctx, req, size)
}
