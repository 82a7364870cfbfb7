package middleware

import (
	"context"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/TUM-AIMED/hyfed/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ server.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    server.Service
}

func Tracing(tracer trace.Tracer, svc server.Service) server.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateProject(ctx context.Context, rec storage.ProjectRecord) (storage.ProjectRecord, []storage.Token, error) {
	ctx, span := tm.tracer.Start(ctx, "create-project", trace.WithAttributes(
		attribute.String("name", rec.Name),
		attribute.String("algorithm", rec.Algorithm),
	))
	defer span.End()

	return tm.svc.CreateProject(ctx, rec)
}

func (tm *tracing) GetProject(ctx context.Context, id string) (storage.ProjectRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "get-project", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetProject(ctx, id)
}

func (tm *tracing) ListProjects(ctx context.Context, offset, limit uint64) (server.ProjectPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-projects", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListProjects(ctx, offset, limit)
}

func (tm *tracing) Abort(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "abort-project", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.Abort(ctx, id)
}

func (tm *tracing) Delete(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "delete-project", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.Delete(ctx, id)
}

func (tm *tracing) Join(ctx context.Context, req protocol.JoinRequest) (protocol.JoinResponse, error) {
	ctx, span := tm.tracer.Start(ctx, "join", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.String("username", req.Username),
	))
	defer span.End()

	return tm.svc.Join(ctx, req)
}

func (tm *tracing) ProjectInfo(ctx context.Context, req protocol.ProjectInfoRequest) (protocol.ProjectInfoResponse, error) {
	ctx, span := tm.tracer.Start(ctx, "project-info", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
	))
	defer span.End()

	return tm.svc.ProjectInfo(ctx, req)
}

func (tm *tracing) Started(ctx context.Context, req protocol.StartedRequest) (protocol.StartedResponse, error) {
	ctx, span := tm.tracer.Start(ctx, "started", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
	))
	defer span.End()

	return tm.svc.Started(ctx, req)
}

func (tm *tracing) UploadParameters(ctx context.Context, req protocol.ClientParameters, size uint64) error {
	ctx, span := tm.tracer.Start(ctx, "upload-parameters", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.String("step", req.Step),
		attribute.Int("comm_round", req.CommRound),
	))
	defer span.End()

	return tm.svc.UploadParameters(ctx, req, size)
}

func (tm *tracing) GlobalParameters(ctx context.Context, req protocol.SyncRequest) (protocol.GlobalParameters, error) {
	ctx, span := tm.tracer.Start(ctx, "global-parameters", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.Int("comm_round", req.CommRound),
	))
	defer span.End()

	return tm.svc.GlobalParameters(ctx, req)
}

func (tm *tracing) DownloadResult(ctx context.Context, req protocol.ResultRequest) ([]byte, error) {
	ctx, span := tm.tracer.Start(ctx, "download-result", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
	))
	defer span.End()

	return tm.svc.DownloadResult(ctx, req)
}

func (tm *tracing) AuthenticateCompensator(ctx context.Context, req protocol.CompensatorAuthRequest) (protocol.CompensatorAuthResponse, error) {
	ctx, span := tm.tracer.Start(ctx, "authenticate-compensator", trace.WithAttributes(
		attribute.String("hash_project_id", req.HashProjectID),
	))
	defer span.End()

	return tm.svc.AuthenticateCompensator(ctx, req)
}

func (tm *tracing) UploadCompensation(ctx context.Context, req protocol.CompensationParameters, size uint64) error {
	ctx, span := tm.tracer.Start(ctx, "upload-compensation", trace.WithAttributes(
		attribute.String("hash_project_id", req.HashProjectID),
		attribute.String("step", req.Step),
		attribute.Int("comm_round", req.CommRound),
	))
	defer span.End()

	return tm.svc.UploadCompensation(ctx, req, size)
}
