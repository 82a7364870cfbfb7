package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/poll"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/fxamacker/cbor/v2"
)

const (
	OffsetKey = "offset"
	LimitKey  = "limit"
	DefOffset = 0
	DefLimit  = 100

	// ContentType is used by the admin surface; the protocol endpoints
	// exchange CBOR.
	ContentType     = "application/json"
	ContentTypeCBOR = "application/cbor"
)

func EncodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

// EncodeCBORResponse is EncodeResponse for the protocol endpoints.
func EncodeCBORResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentTypeCBOR)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return cbor.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, pkgerrors.ErrNotAuthorized):
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, pkgerrors.ErrEntityExists):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, pkgerrors.ErrProjectNotRunning),
		errors.Is(err, pkgerrors.ErrDesync):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, poll.ErrTimeout):
		w.WriteHeader(http.StatusGatewayTimeout)
	case errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, pkgerrors.ErrInvalidData),
		errors.Is(err, apiutil.ErrValidation):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
