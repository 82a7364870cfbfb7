package api

import (
	"errors"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	apiutil "github.com/absmach/supermq/api/http/util"
	smqerrors "github.com/absmach/supermq/pkg/errors"
)

type noiseReq struct {
	protocol.NoiseParameters
	size uint64
}

func (req noiseReq) validate() error {
	if req.HashProjectID == "" || req.HashUsername == "" || req.HashToken == "" {
		return apiutil.ErrMissingID
	}
	if req.ServerURL == "" {
		return errors.New("missing server URL")
	}
	if req.Step == "" {
		return smqerrors.ErrMalformedEntity
	}
	if req.CommRound < 1 {
		return smqerrors.ErrMalformedEntity
	}

	return nil
}
