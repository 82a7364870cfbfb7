package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/TUM-AIMED/hyfed/server"
)

var _ server.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    server.Service
}

func Logging(logger *slog.Logger, svc server.Service) server.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateProject(ctx context.Context, rec storage.ProjectRecord) (resp storage.ProjectRecord, tokens []storage.Token, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("name", rec.Name),
				slog.String("algorithm", rec.Algorithm),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create project failed", args...)

			return
		}
		lm.logger.Info("Create project completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateProject(ctx, rec)
}

func (lm *loggingMiddleware) GetProject(ctx context.Context, id string) (resp storage.ProjectRecord, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get project failed", args...)

			return
		}
		lm.logger.Info("Get project completed successfully", args...)
	}(time.Now())

	return lm.svc.GetProject(ctx, id)
}

func (lm *loggingMiddleware) ListProjects(ctx context.Context, offset, limit uint64) (resp server.ProjectPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List projects failed", args...)

			return
		}
		lm.logger.Info("List projects completed successfully", args...)
	}(time.Now())

	return lm.svc.ListProjects(ctx, offset, limit)
}

func (lm *loggingMiddleware) Abort(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Abort project failed", args...)

			return
		}
		lm.logger.Info("Abort project completed successfully", args...)
	}(time.Now())

	return lm.svc.Abort(ctx, id)
}

func (lm *loggingMiddleware) Delete(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Delete project failed", args...)

			return
		}
		lm.logger.Info("Delete project completed successfully", args...)
	}(time.Now())

	return lm.svc.Delete(ctx, id)
}

func (lm *loggingMiddleware) Join(ctx context.Context, req protocol.JoinRequest) (resp protocol.JoinResponse, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Join failed", args...)

			return
		}
		lm.logger.Info("Join completed successfully", args...)
	}(time.Now())

	return lm.svc.Join(ctx, req)
}

func (lm *loggingMiddleware) ProjectInfo(ctx context.Context, req protocol.ProjectInfoRequest) (resp protocol.ProjectInfoResponse, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Project info failed", args...)

			return
		}
		lm.logger.Info("Project info completed successfully", args...)
	}(time.Now())

	return lm.svc.ProjectInfo(ctx, req)
}

func (lm *loggingMiddleware) Started(ctx context.Context, req protocol.StartedRequest) (resp protocol.StartedResponse, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Started poll failed", args...)

			return
		}
		lm.logger.Debug("Started poll completed successfully", args...)
	}(time.Now())

	return lm.svc.Started(ctx, req)
}

func (lm *loggingMiddleware) UploadParameters(ctx context.Context, req protocol.ClientParameters, size uint64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
				slog.String("step", req.Step),
				slog.Int("comm_round", req.CommRound),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Upload parameters failed", args...)

			return
		}
		lm.logger.Info("Upload parameters completed successfully", args...)
	}(time.Now())

	return lm.svc.UploadParameters(ctx, req, size)
}

func (lm *loggingMiddleware) GlobalParameters(ctx context.Context, req protocol.SyncRequest) (resp protocol.GlobalParameters, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
				slog.Int("comm_round", req.CommRound),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Global parameters poll failed", args...)

			return
		}
		lm.logger.Debug("Global parameters poll completed successfully", args...)
	}(time.Now())

	return lm.svc.GlobalParameters(ctx, req)
}

func (lm *loggingMiddleware) DownloadResult(ctx context.Context, req protocol.ResultRequest) (resp []byte, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("project",
				slog.String("id", req.ProjectID),
				slog.String("username", req.Username),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Download result failed", args...)

			return
		}
		lm.logger.Info("Download result completed successfully", args...)
	}(time.Now())

	return lm.svc.DownloadResult(ctx, req)
}

func (lm *loggingMiddleware) AuthenticateCompensator(ctx context.Context, req protocol.CompensatorAuthRequest) (resp protocol.CompensatorAuthResponse, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("hash_project_id", req.HashProjectID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Authenticate compensator failed", args...)

			return
		}
		lm.logger.Info("Authenticate compensator completed successfully", args...)
	}(time.Now())

	return lm.svc.AuthenticateCompensator(ctx, req)
}

func (lm *loggingMiddleware) UploadCompensation(ctx context.Context, req protocol.CompensationParameters, size uint64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("hash_project_id", req.HashProjectID),
			slog.String("step", req.Step),
			slog.Int("comm_round", req.CommRound),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Upload compensation failed", args...)

			return
		}
		lm.logger.Info("Upload compensation completed successfully", args...)
	}(time.Now())

	return lm.svc.UploadCompensation(ctx, req, size)
}
