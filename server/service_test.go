package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *Pool) {
	t.Helper()

	registry := algorithm.NewRegistry()
	registry.Register("sum", func(_ protocol.Params) (algorithm.Handler, error) {
		return &sumHandler{rounds: 1}, nil
	})

	pool := NewPool()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(pool, storage.NewMemoryRecords(), storage.NewMemoryTokens(), registry,
		clockwork.NewFakeClock(), logger, Config{ResultRoot: t.TempDir()})

	return svc, pool
}

func createProject(t *testing.T, svc Service, participants int) (storage.ProjectRecord, []storage.Token) {
	t.Helper()

	rec, tokens, err := svc.CreateProject(context.Background(), storage.ProjectRecord{
		Name:             "demo",
		Algorithm:        "sum",
		ParticipantCount: participants,
	})
	require.NoError(t, err)
	require.Len(t, tokens, participants)

	return rec, tokens
}

func joinAll(t *testing.T, svc Service, rec storage.ProjectRecord, tokens []storage.Token, usernames []string) {
	t.Helper()

	for i, username := range usernames {
		res, err := svc.Join(context.Background(), protocol.JoinRequest{
			Auth: protocol.Auth{
				Username:  username,
				Token:     tokens[i].Value,
				ProjectID: rec.ID,
			},
		})
		require.NoError(t, err)
		assert.True(t, res.Joined)
	}
}

func TestServiceCreateProject(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.CreateProject(ctx, storage.ProjectRecord{Algorithm: "sum"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData, "participant count is required")

	_, _, err = svc.CreateProject(ctx, storage.ProjectRecord{Algorithm: "unknown", ParticipantCount: 2})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	rec, tokens := createProject(t, svc, 3)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, protocol.StatusCreated, rec.Status)
	assert.Equal(t, protocol.StepInit, rec.Step)
	assert.Equal(t, 1, rec.CommRound)
	for _, tok := range tokens {
		assert.Equal(t, rec.ID, tok.ProjectID)
		assert.False(t, tok.Claimed())
	}

	stored, err := svc.GetProject(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)

	_, err = pool.Get(rec.ID)
	assert.NoError(t, err)

	page, err := svc.ListProjects(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), page.Total)
}

func TestServiceJoinStartsProject(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 2)
	p, err := pool.Get(rec.ID)
	require.NoError(t, err)

	res, err := svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.True(t, res.Joined)
	assert.False(t, p.Started(), "project must wait for the full set")

	started, err := svc.Started(ctx, protocol.StartedRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.False(t, started.Started)

	// A second participant cannot reuse a username.
	_, err = svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[1].Value, ProjectID: rec.ID},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)

	res, err = svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "bob", Token: tokens[1].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.True(t, res.Joined)
	assert.True(t, p.Started())

	// Late joins bounce off a started project.
	_, err = svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "carol", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrProjectNotRunning)

	started, err = svc.Started(ctx, protocol.StartedRequest{
		Auth: protocol.Auth{Username: "bob", Token: tokens[1].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.True(t, started.Started)
}

// A participant whose affirmative join response was lost keeps retrying the
// join; the retry must stay affirmative even after the project has started.
func TestServiceJoinIdempotent(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 2)
	joinAll(t, svc, rec, tokens, []string{"alice", "bob"})

	p, err := pool.Get(rec.ID)
	require.NoError(t, err)
	require.True(t, p.Started())

	res, err := svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.True(t, res.Joined)

	// Only the claiming username gets the affirmative retry answer.
	_, err = svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "mallory", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrProjectNotRunning)
}

// Two final joins racing each other must both come back affirmative, with
// the project started exactly once.
func TestServiceJoinConcurrentFinal(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 3)
	joinAll(t, svc, rec, tokens, []string{"alice"})

	usernames := []string{"bob", "carol"}
	responses := make([]protocol.JoinResponse, len(usernames))
	errs := make([]error, len(usernames))

	var wg sync.WaitGroup
	for i, username := range usernames {
		wg.Add(1)
		go func(i int, username string) {
			defer wg.Done()

			responses[i], errs[i] = svc.Join(ctx, protocol.JoinRequest{
				Auth: protocol.Auth{Username: username, Token: tokens[i+1].Value, ProjectID: rec.ID},
			})
		}(i, username)
	}
	wg.Wait()

	for i := range usernames {
		require.NoError(t, errs[i])
		assert.True(t, responses[i].Joined)
	}

	p, err := pool.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, p.Started())
}

func TestServiceJoinTokenOfAnotherProject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec1, _ := createProject(t, svc, 1)
	_, tokens2 := createProject(t, svc, 1)

	_, err := svc.Join(ctx, protocol.JoinRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens2[0].Value, ProjectID: rec1.ID},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
}

// Full protocol pass over the service surface: three participants join,
// upload counts 10, 20, and 15, and every poll one round behind sees the
// published total of 45.
func TestServiceRound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 3)
	usernames := []string{"alice", "bob", "carol"}
	joinAll(t, svc, rec, tokens, usernames)

	info, err := svc.ProjectInfo(ctx, protocol.ProjectInfoRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: rec.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "sum", info.Algorithm)

	counts := []int64{10, 20, 15}
	for i, username := range usernames {
		err := svc.UploadParameters(ctx, protocol.ClientParameters{
			Auth:            protocol.Auth{Username: username, Token: tokens[i].Value, ProjectID: rec.ID},
			Step:            protocol.StepInit,
			CommRound:       1,
			OperationStatus: protocol.OpDone,
			Parameters:      protocol.Params{"count": protocol.Int(counts[i])},
		}, 64)
		require.NoError(t, err)
	}

	auth := protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: rec.ID}
	require.Eventually(t, func() bool {
		sync, err := svc.GlobalParameters(ctx, protocol.SyncRequest{Auth: auth, CommRound: 1})

		return err == nil && sync.Status == protocol.StatusDone
	}, waitFor, tick)

	sync, err := svc.GlobalParameters(ctx, protocol.SyncRequest{Auth: auth, CommRound: 1})
	require.NoError(t, err)
	assert.Equal(t, protocol.StepFinished, sync.Step)
	assert.Equal(t, 2, sync.CommRound)
	assert.Equal(t, protocol.Int(45), sync.Parameters["total"])

	archive, err := svc.DownloadResult(ctx, protocol.ResultRequest{Auth: auth})
	require.NoError(t, err)
	assert.NotEmpty(t, archive)
}

func TestServiceAuthentication(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 1)

	_, err := svc.GlobalParameters(ctx, protocol.SyncRequest{
		Auth: protocol.Auth{Username: "alice", Token: "bogus", ProjectID: rec.ID},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)

	_, err = svc.GlobalParameters(ctx, protocol.SyncRequest{
		Auth: protocol.Auth{Username: "alice", Token: tokens[0].Value, ProjectID: "missing"},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	joinAll(t, svc, rec, tokens, []string{"alice"})

	err = svc.UploadParameters(ctx, protocol.ClientParameters{
		Auth: protocol.Auth{Username: "alice", Token: "bogus", ProjectID: rec.ID},
	}, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
}

func TestServiceCompensatorAuthentication(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _ := createProject(t, svc, 3)

	res, err := svc.AuthenticateCompensator(ctx, protocol.CompensatorAuthRequest{
		HashProjectID: protocol.Hash(rec.ID),
	})
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, 3, res.ParticipantCount)

	// Unknown hashes get a negative answer, not an error, so the compensator
	// cannot probe for project existence failures.
	res, err = svc.AuthenticateCompensator(ctx, protocol.CompensatorAuthRequest{
		HashProjectID: protocol.Hash("missing"),
	})
	require.NoError(t, err)
	assert.False(t, res.Authenticated)

	err = svc.UploadCompensation(ctx, protocol.CompensationParameters{
		HashProjectID: protocol.Hash("missing"),
	}, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestServiceAbortAndDelete(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()

	rec, tokens := createProject(t, svc, 1)
	joinAll(t, svc, rec, tokens, []string{"alice"})

	assert.ErrorIs(t, svc.Abort(ctx, "missing"), pkgerrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, rec.ID), pkgerrors.ErrProjectNotRunning)

	require.NoError(t, svc.Abort(ctx, rec.ID))
	p, err := pool.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusAborted, p.Status())

	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = pool.Get(rec.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = svc.GetProject(ctx, rec.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
