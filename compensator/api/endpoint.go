package api

import (
	"context"
	"errors"

	"github.com/TUM-AIMED/hyfed/compensator"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func uploadNoiseEndpoint(svc compensator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(noiseReq)
		if !ok {
			return noiseRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return noiseRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.UploadNoise(ctx, req.NoiseParameters, req.size)
		if err != nil {
			return noiseRes{}, err
		}

		return noiseRes{NoiseResponse: resp}, nil
	}
}
