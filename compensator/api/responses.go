package api

import (
	"net/http"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/absmach/supermq"
)

var _ supermq.Response = (*noiseRes)(nil)

type noiseRes struct {
	protocol.NoiseResponse
}

func (res noiseRes) Code() int {
	return http.StatusOK
}

func (res noiseRes) Headers() map[string]string {
	return map[string]string{}
}

func (res noiseRes) Empty() bool {
	return false
}
