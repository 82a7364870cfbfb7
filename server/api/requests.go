package api

import (
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	apiutil "github.com/absmach/supermq/api/http/util"
	smqerrors "github.com/absmach/supermq/pkg/errors"
)

type createProjectReq struct {
	storage.ProjectRecord `json:",inline"`
}

func (r *createProjectReq) validate() error {
	if r.Name == "" {
		return apiutil.ErrMissingName
	}
	if r.Algorithm == "" {
		return smqerrors.ErrMalformedEntity
	}
	if r.ParticipantCount < 1 {
		return smqerrors.ErrMalformedEntity
	}

	return nil
}

type entityReq struct {
	id string
}

func (r *entityReq) validate() error {
	if r.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (r *listEntityReq) validate() error {
	return nil
}

func validateAuth(a protocol.Auth) error {
	if a.ProjectID == "" {
		return apiutil.ErrMissingID
	}
	if a.Username == "" || a.Token == "" {
		return apiutil.ErrBearerToken
	}

	return nil
}

type joinReq struct {
	protocol.JoinRequest
}

func (r *joinReq) validate() error {
	return validateAuth(r.Auth)
}

type authReq struct {
	protocol.Auth
}

func (r *authReq) validate() error {
	return validateAuth(r.Auth)
}

type uploadReq struct {
	protocol.ClientParameters
	size uint64
}

func (r *uploadReq) validate() error {
	if err := validateAuth(r.Auth); err != nil {
		return err
	}
	if r.Step == "" || r.CommRound < 1 {
		return smqerrors.ErrMalformedEntity
	}

	return nil
}

type syncReq struct {
	protocol.SyncRequest
}

func (r *syncReq) validate() error {
	return validateAuth(r.Auth)
}

type compAuthReq struct {
	protocol.CompensatorAuthRequest
}

func (r *compAuthReq) validate() error {
	if r.HashProjectID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type compUploadReq struct {
	protocol.CompensationParameters
	size uint64
}

func (r *compUploadReq) validate() error {
	if r.HashProjectID == "" {
		return apiutil.ErrMissingID
	}
	if r.Step == "" || r.CommRound < 1 {
		return smqerrors.ErrMalformedEntity
	}

	return nil
}
