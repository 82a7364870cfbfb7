package server

import (
	"archive/zip"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	"github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Config carries the tunables of the coordinator service.
type Config struct {
	ResultRoot      string
	GracePeriod     time.Duration
	CompensatorWait time.Duration
}

type service struct {
	pool     *Pool
	records  storage.ProjectRecords
	tokens   storage.TokenStore
	registry *algorithm.Registry
	clock    clockwork.Clock
	logger   *slog.Logger
	cfg      Config
}

func NewService(pool *Pool, records storage.ProjectRecords, tokens storage.TokenStore, registry *algorithm.Registry, clock clockwork.Clock, logger *slog.Logger, cfg Config) Service {
	return &service{
		pool:     pool,
		records:  records,
		tokens:   tokens,
		registry: registry,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

func (svc *service) CreateProject(ctx context.Context, rec storage.ProjectRecord) (storage.ProjectRecord, []storage.Token, error) {
	if rec.ParticipantCount < 1 {
		return storage.ProjectRecord{}, nil, errors.ErrInvalidData
	}

	handler, err := svc.registry.New(rec.Algorithm, rec.Config)
	if err != nil {
		return storage.ProjectRecord{}, nil, err
	}

	rec.ID = uuid.NewString()
	rec.Status = protocol.StatusCreated
	rec.Step = protocol.StepInit
	rec.CommRound = 1
	rec.CreatedAt = svc.clock.Now()
	rec.UpdatedAt = rec.CreatedAt

	if err := svc.records.Create(ctx, rec); err != nil {
		return storage.ProjectRecord{}, nil, err
	}

	tokens := make([]storage.Token, rec.ParticipantCount)
	for i := range tokens {
		tokens[i] = storage.Token{
			Value:     uuid.NewString(),
			ProjectID: rec.ID,
			CreatedAt: svc.clock.Now(),
		}
		if err := svc.tokens.Create(ctx, tokens[i]); err != nil {
			return storage.ProjectRecord{}, nil, err
		}
	}

	p := NewProject(ProjectOptions{
		Record:          rec,
		Handler:         handler,
		Records:         svc.records,
		Clock:           svc.clock,
		Logger:          svc.logger,
		ResultRoot:      svc.cfg.ResultRoot,
		GracePeriod:     svc.cfg.GracePeriod,
		CompensatorWait: svc.cfg.CompensatorWait,
	})
	if err := svc.pool.Add(p); err != nil {
		return storage.ProjectRecord{}, nil, err
	}

	return rec, tokens, nil
}

func (svc *service) GetProject(ctx context.Context, id string) (storage.ProjectRecord, error) {
	if id == "" {
		return storage.ProjectRecord{}, errors.ErrEmptyKey
	}

	return svc.records.Get(ctx, id)
}

func (svc *service) ListProjects(ctx context.Context, offset, limit uint64) (ProjectPage, error) {
	records, total, err := svc.records.List(ctx, offset, limit)
	if err != nil {
		return ProjectPage{}, err
	}

	return ProjectPage{
		Offset:   offset,
		Limit:    limit,
		Total:    total,
		Projects: records,
	}, nil
}

func (svc *service) Abort(_ context.Context, id string) error {
	p, err := svc.pool.Get(id)
	if err != nil {
		return err
	}
	p.Abort()

	return nil
}

func (svc *service) Delete(ctx context.Context, id string) error {
	if err := svc.pool.Delete(id); err != nil {
		return err
	}
	if err := svc.tokens.DeleteByProject(ctx, id); err != nil {
		return err
	}

	return svc.records.Delete(ctx, id)
}

// Join claims a token for a username. The claim that completes the
// participant set starts the project. Joins are idempotent: clients retry
// a join whose response was lost, and the retry must stay affirmative even
// once the project has started.
func (svc *service) Join(ctx context.Context, req protocol.JoinRequest) (protocol.JoinResponse, error) {
	p, err := svc.pool.Get(req.ProjectID)
	if err != nil {
		return protocol.JoinResponse{}, err
	}

	t, err := svc.tokens.Get(ctx, req.Token)
	if err != nil {
		return protocol.JoinResponse{}, err
	}
	if t.ProjectID != req.ProjectID {
		return protocol.JoinResponse{}, errors.ErrNotAuthorized
	}
	if t.Claimed() && t.Username == req.Username {
		return protocol.JoinResponse{Joined: true}, nil
	}
	if p.Started() {
		return protocol.JoinResponse{}, errors.ErrProjectNotRunning
	}

	if _, err := svc.tokens.Claim(ctx, req.Token, req.Username); err != nil {
		return protocol.JoinResponse{}, err
	}

	all, err := svc.tokens.ListByProject(ctx, req.ProjectID)
	if err != nil {
		return protocol.JoinResponse{}, err
	}
	claimed := make(map[string]string, len(all))
	for _, t := range all {
		if !t.Claimed() {
			return protocol.JoinResponse{Joined: true}, nil
		}
		claimed[t.Username] = t.Value
	}

	// Two final joins can race to this point; the loser is joined all the
	// same.
	if err := p.Start(claimed); err != nil && !stderrors.Is(err, errors.ErrEntityExists) {
		return protocol.JoinResponse{}, err
	}

	return protocol.JoinResponse{Joined: true}, nil
}

func (svc *service) ProjectInfo(ctx context.Context, req protocol.ProjectInfoRequest) (protocol.ProjectInfoResponse, error) {
	if _, err := svc.authenticate(ctx, req.Auth); err != nil {
		return protocol.ProjectInfoResponse{}, err
	}

	rec, err := svc.records.Get(ctx, req.ProjectID)
	if err != nil {
		return protocol.ProjectInfoResponse{}, err
	}

	return protocol.ProjectInfoResponse{
		ProjectID:   rec.ID,
		Algorithm:   rec.Algorithm,
		Name:        rec.Name,
		Description: rec.Description,
		Config:      rec.Config,
	}, nil
}

func (svc *service) Started(ctx context.Context, req protocol.StartedRequest) (protocol.StartedResponse, error) {
	p, err := svc.authenticate(ctx, req.Auth)
	if err != nil {
		return protocol.StartedResponse{}, err
	}

	return protocol.StartedResponse{Started: p.Started()}, nil
}

func (svc *service) UploadParameters(ctx context.Context, req protocol.ClientParameters, size uint64) error {
	p, err := svc.authenticate(ctx, req.Auth)
	if err != nil {
		return err
	}
	p.AddClientTraffic(size)

	return p.AddClientParameters(req)
}

func (svc *service) GlobalParameters(ctx context.Context, req protocol.SyncRequest) (protocol.GlobalParameters, error) {
	p, err := svc.authenticate(ctx, req.Auth)
	if err != nil {
		return protocol.GlobalParameters{}, err
	}

	resp := p.GlobalParameters(req.CommRound)
	if raw, err := cbor.Marshal(resp); err == nil {
		p.AddServerTraffic(uint64(len(raw)))
	}

	return resp, nil
}

func (svc *service) DownloadResult(ctx context.Context, req protocol.ResultRequest) ([]byte, error) {
	p, err := svc.authenticate(ctx, req.Auth)
	if err != nil {
		return nil, err
	}
	if p.Status() != protocol.StatusDone {
		return nil, errors.ErrProjectNotRunning
	}

	archive, err := zipDir(p.ResultDir())
	if err != nil {
		return nil, err
	}
	p.AddServerTraffic(uint64(len(archive)))

	return archive, nil
}

func (svc *service) AuthenticateCompensator(_ context.Context, req protocol.CompensatorAuthRequest) (protocol.CompensatorAuthResponse, error) {
	p, err := svc.pool.GetByHash(req.HashProjectID)
	if err != nil {
		return protocol.CompensatorAuthResponse{}, nil
	}

	return protocol.CompensatorAuthResponse{
		Authenticated:    true,
		ParticipantCount: p.ParticipantCount(),
	}, nil
}

func (svc *service) UploadCompensation(_ context.Context, req protocol.CompensationParameters, size uint64) error {
	p, err := svc.pool.GetByHash(req.HashProjectID)
	if err != nil {
		return err
	}
	p.AddCompensatorTraffic(size)

	return p.SetCompensation(req)
}

// authenticate resolves the project and verifies the caller's credentials:
// against the fixed in-memory map once the project has started, against the
// token store before that.
func (svc *service) authenticate(ctx context.Context, a protocol.Auth) (*Project, error) {
	p, err := svc.pool.Get(a.ProjectID)
	if err != nil {
		return nil, err
	}

	if p.Started() {
		if !p.Authenticate(a.Username, a.Token) {
			return nil, errors.ErrNotAuthorized
		}

		return p, nil
	}

	t, err := svc.tokens.Get(ctx, a.Token)
	if err != nil {
		return nil, errors.ErrNotAuthorized
	}
	if t.ProjectID != a.ProjectID || t.Username != a.Username {
		return nil, errors.ErrNotAuthorized
	}

	return p, nil
}

func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)

		return err
	})
	if err != nil {
		zw.Close()

		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
