package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/TUM-AIMED/hyfed/pkg/api"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/server"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1024 * 1024 * 100

func MakeHandler(svc server.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/projects", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			createProjectEndpoint(svc),
			decodeCreateProjectReq,
			api.EncodeResponse,
			opts...,
		), "create-project").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listProjectsEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-projects").ServeHTTP)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getProjectEndpoint(svc),
				decodeEntityReq("projectID"),
				api.EncodeResponse,
				opts...,
			), "get-project").ServeHTTP)
			r.Post("/abort", otelhttp.NewHandler(kithttp.NewServer(
				abortProjectEndpoint(svc),
				decodeEntityReq("projectID"),
				api.EncodeResponse,
				opts...,
			), "abort-project").ServeHTTP)
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				deleteProjectEndpoint(svc),
				decodeEntityReq("projectID"),
				api.EncodeResponse,
				opts...,
			), "delete-project").ServeHTTP)
		})
	})

	mux.Route("/project", func(r chi.Router) {
		r.Post("/join", otelhttp.NewHandler(kithttp.NewServer(
			joinEndpoint(svc),
			decodeCBOR(func() any { return &joinReq{} }),
			api.EncodeCBORResponse,
			opts...,
		), "join").ServeHTTP)
		r.Post("/info", otelhttp.NewHandler(kithttp.NewServer(
			projectInfoEndpoint(svc),
			decodeCBOR(func() any { return &authReq{} }),
			api.EncodeCBORResponse,
			opts...,
		), "project-info").ServeHTTP)
		r.Post("/started", otelhttp.NewHandler(kithttp.NewServer(
			startedEndpoint(svc),
			decodeCBOR(func() any { return &authReq{} }),
			api.EncodeCBORResponse,
			opts...,
		), "started").ServeHTTP)
		r.Post("/parameters/local", otelhttp.NewHandler(kithttp.NewServer(
			uploadParametersEndpoint(svc),
			decodeUploadReq,
			api.EncodeCBORResponse,
			opts...,
		), "upload-parameters").ServeHTTP)
		r.Post("/parameters/global", otelhttp.NewHandler(kithttp.NewServer(
			globalParametersEndpoint(svc),
			decodeCBOR(func() any { return &syncReq{} }),
			api.EncodeCBORResponse,
			opts...,
		), "global-parameters").ServeHTTP)
		r.Post("/result", otelhttp.NewHandler(kithttp.NewServer(
			downloadResultEndpoint(svc),
			decodeCBOR(func() any { return &authReq{} }),
			encodeZipResponse,
			opts...,
		), "download-result").ServeHTTP)
	})

	mux.Route("/compensator", func(r chi.Router) {
		r.Post("/authenticate", otelhttp.NewHandler(kithttp.NewServer(
			authenticateCompensatorEndpoint(svc),
			decodeCBOR(func() any { return &compAuthReq{} }),
			api.EncodeCBORResponse,
			opts...,
		), "authenticate-compensator").ServeHTTP)
		r.Post("/parameters", otelhttp.NewHandler(kithttp.NewServer(
			uploadCompensationEndpoint(svc),
			decodeCompensationReq,
			api.EncodeCBORResponse,
			opts...,
		), "upload-compensation").ServeHTTP)
	})

	mux.Get("/health", supermq.Health("server", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeCreateProjectReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req createProjectReq
	if err := json.NewDecoder(r.Body).Decode(&req.ProjectRecord); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}

// decodeCBOR builds a decoder for the protocol endpoints, whose bodies are
// CBOR envelopes.
func decodeCBOR(newReq func() any) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		if !strings.Contains(r.Header.Get("Content-Type"), api.ContentTypeCBOR) {
			return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
		}

		req := newReq()
		if err := cbor.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(req); err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}

		switch v := req.(type) {
		case *joinReq:
			return *v, nil
		case *authReq:
			return *v, nil
		case *syncReq:
			return *v, nil
		case *compAuthReq:
			return *v, nil
		default:
			return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
	}
}

// decodeUploadReq reads the whole body so the traffic counters see the exact
// envelope size.
func decodeUploadReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentTypeCBOR) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	var req uploadReq
	if err := cbor.Unmarshal(body, &req.ClientParameters); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}
	req.size = uint64(len(body))

	return req, nil
}

func decodeCompensationReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentTypeCBOR) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	var req compUploadReq
	if err := cbor.Unmarshal(body, &req.CompensationParameters); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}
	req.size = uint64(len(body))

	return req, nil
}

func encodeZipResponse(_ context.Context, w http.ResponseWriter, response any) error {
	res, ok := response.(resultRes)
	if !ok {
		return pkgerrors.ErrInvalidData
	}

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(res.archive)

	return err
}
