package api

import (
	"context"
	"errors"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/server"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func createProjectEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(createProjectReq)
		if !ok {
			return createProjectRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return createProjectRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		rec, tokens, err := svc.CreateProject(ctx, req.ProjectRecord)
		if err != nil {
			return createProjectRes{}, err
		}

		return createProjectRes{
			Project: rec,
			Tokens:  tokens,
		}, nil
	}
}

func getProjectEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return projectRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return projectRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		rec, err := svc.GetProject(ctx, req.id)
		if err != nil {
			return projectRes{}, err
		}

		return projectRes{ProjectRecord: rec}, nil
	}
}

func listProjectsEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listProjectsRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listProjectsRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListProjects(ctx, req.offset, req.limit)
		if err != nil {
			return listProjectsRes{}, err
		}

		return listProjectsRes{ProjectPage: page}, nil
	}
}

func abortProjectEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return projectRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return projectRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.Abort(ctx, req.id); err != nil {
			return projectRes{}, err
		}

		return projectRes{aborted: true}, nil
	}
}

func deleteProjectEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return projectRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return projectRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.Delete(ctx, req.id); err != nil {
			return projectRes{}, err
		}

		return projectRes{deleted: true}, nil
	}
}

func joinEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(joinReq)
		if !ok {
			return joinRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return joinRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.Join(ctx, req.JoinRequest)
		if err != nil {
			return joinRes{}, err
		}

		return joinRes{JoinResponse: resp}, nil
	}
}

func projectInfoEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(authReq)
		if !ok {
			return infoRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return infoRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.ProjectInfo(ctx, protocol.ProjectInfoRequest{Auth: req.Auth})
		if err != nil {
			return infoRes{}, err
		}

		return infoRes{ProjectInfoResponse: resp}, nil
	}
}

func startedEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(authReq)
		if !ok {
			return startedRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return startedRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.Started(ctx, protocol.StartedRequest{Auth: req.Auth})
		if err != nil {
			return startedRes{}, err
		}

		return startedRes{StartedResponse: resp}, nil
	}
}

func uploadParametersEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(uploadReq)
		if !ok {
			return uploadRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return uploadRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.UploadParameters(ctx, req.ClientParameters, req.size); err != nil {
			return uploadRes{}, err
		}

		return uploadRes{}, nil
	}
}

func globalParametersEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(syncReq)
		if !ok {
			return syncRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return syncRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.GlobalParameters(ctx, req.SyncRequest)
		if err != nil {
			return syncRes{}, err
		}

		return syncRes{GlobalParameters: resp}, nil
	}
}

func downloadResultEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(authReq)
		if !ok {
			return resultRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return resultRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		archive, err := svc.DownloadResult(ctx, protocol.ResultRequest{Auth: req.Auth})
		if err != nil {
			return resultRes{}, err
		}

		return resultRes{archive: archive}, nil
	}
}

func authenticateCompensatorEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(compAuthReq)
		if !ok {
			return compAuthRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return compAuthRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		resp, err := svc.AuthenticateCompensator(ctx, req.CompensatorAuthRequest)
		if err != nil {
			return compAuthRes{}, err
		}

		return compAuthRes{CompensatorAuthResponse: resp}, nil
	}
}

func uploadCompensationEndpoint(svc server.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(compUploadReq)
		if !ok {
			return uploadRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return uploadRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.UploadCompensation(ctx, req.CompensationParameters, req.size); err != nil {
			return uploadRes{}, err
		}

		return uploadRes{}, nil
	}
}
