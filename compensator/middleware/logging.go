package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/TUM-AIMED/hyfed/compensator"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

var _ compensator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    compensator.Service
}

func Logging(logger *slog.Logger, svc compensator.Service) compensator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) UploadNoise(ctx context.Context, req protocol.NoiseParameters, size uint64) (resp protocol.NoiseResponse, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("report",
				slog.String("hash_project_id", req.HashProjectID),
				slog.String("step", req.Step),
				slog.Int("comm_round", req.CommRound),
			),
			slog.Bool("should_retry", resp.ShouldRetry),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Upload noise failed", args...)

			return
		}
		lm.logger.Info("Upload noise completed successfully", args...)
	}(time.Now())

	return lm.svc.UploadNoise(ctx, req, size)
}

func (lm *loggingMiddleware) SessionCount(ctx context.Context) (count int, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("sessions", count),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Session count failed", args...)

			return
		}
		lm.logger.Debug("Session count completed successfully", args...)
	}(time.Now())

	return lm.svc.SessionCount(ctx)
}

func (lm *loggingMiddleware) RunGC(ctx context.Context, interval time.Duration) {
	lm.svc.RunGC(ctx, interval)
}
