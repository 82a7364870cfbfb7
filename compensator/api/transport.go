package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/TUM-AIMED/hyfed/compensator"
	"github.com/TUM-AIMED/hyfed/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1024 * 1024 * 100

func MakeHandler(svc compensator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Post("/noise", otelhttp.NewHandler(kithttp.NewServer(
		uploadNoiseEndpoint(svc),
		decodeNoiseReq,
		api.EncodeCBORResponse,
		opts...,
	), "upload-noise").ServeHTTP)

	mux.Get("/health", supermq.Health("compensator", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// decodeNoiseReq reads the whole body so the traffic counter sees the exact
// envelope size.
func decodeNoiseReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentTypeCBOR) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	var req noiseReq
	if err := cbor.Unmarshal(body, &req.NoiseParameters); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}
	req.size = uint64(len(body))

	return req, nil
}
