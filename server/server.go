package server

import (
	"context"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
)

// ProjectPage is one page of persisted project records.
type ProjectPage struct {
	Offset   uint64                  `json:"offset"`
	Limit    uint64                  `json:"limit"`
	Total    uint64                  `json:"total"`
	Projects []storage.ProjectRecord `json:"projects"`
}

// Service is the coordinator. The admin operations manage project records
// and tokens; the protocol operations drive the round state machine; the
// compensator operations serve the indirect, hash-based contract.
type Service interface {
	// admin
	CreateProject(ctx context.Context, rec storage.ProjectRecord) (storage.ProjectRecord, []storage.Token, error)
	GetProject(ctx context.Context, id string) (storage.ProjectRecord, error)
	ListProjects(ctx context.Context, offset, limit uint64) (ProjectPage, error)
	Abort(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	// participant protocol
	Join(ctx context.Context, req protocol.JoinRequest) (protocol.JoinResponse, error)
	ProjectInfo(ctx context.Context, req protocol.ProjectInfoRequest) (protocol.ProjectInfoResponse, error)
	Started(ctx context.Context, req protocol.StartedRequest) (protocol.StartedResponse, error)
	UploadParameters(ctx context.Context, req protocol.ClientParameters, size uint64) error
	GlobalParameters(ctx context.Context, req protocol.SyncRequest) (protocol.GlobalParameters, error)
	DownloadResult(ctx context.Context, req protocol.ResultRequest) ([]byte, error)

	// compensator protocol
	AuthenticateCompensator(ctx context.Context, req protocol.CompensatorAuthRequest) (protocol.CompensatorAuthResponse, error)
	UploadCompensation(ctx context.Context, req protocol.CompensationParameters, size uint64) error
}
