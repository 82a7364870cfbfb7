package server

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// sumHandler adds up the "count" parameter of every contributor and finishes
// after a configurable number of rounds.
type sumHandler struct {
	mu     sync.Mutex
	rounds int
	totals []int64
}

func (h *sumHandler) RunStep(_ context.Context, round algorithm.Round) (string, protocol.Params, error) {
	values := make([]protocol.Value, 0, len(round.Locals))
	for contributor, bag := range round.Locals {
		v, ok := bag["count"]
		if !ok {
			return "", nil, fmt.Errorf("contributor %s did not report a count", contributor)
		}
		values = append(values, v)
	}
	total, err := aggregate.Sum(values, protocol.NonNegativeInteger)
	if err != nil {
		return "", nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.totals = append(h.totals, total.Int)
	if len(h.totals) >= h.rounds {
		return protocol.StepFinished, protocol.Params{"total": total}, nil
	}

	return "Sum", protocol.Params{"total": total}, nil
}

func (h *sumHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.totals)
}

// stallHandler parks inside RunStep until released, so tests can interleave
// other calls with an in-flight aggregation.
type stallHandler struct {
	entered chan struct{}
	release chan struct{}
}

func newStallHandler() *stallHandler {
	return &stallHandler{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (h *stallHandler) RunStep(_ context.Context, _ algorithm.Round) (string, protocol.Params, error) {
	close(h.entered)
	<-h.release

	return protocol.StepFinished, protocol.Params{"total": protocol.Int(1)}, nil
}

func testProject(t *testing.T, handler algorithm.Handler, participants int) (*Project, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	p := NewProject(ProjectOptions{
		Record: storage.ProjectRecord{
			ID:               "proj-1",
			Name:             "demo",
			Algorithm:        "sum",
			ParticipantCount: participants,
		},
		Handler:    handler,
		Clock:      clock,
		ResultRoot: t.TempDir(),
	})

	return p, clock
}

func startedProject(t *testing.T, handler algorithm.Handler, tokens map[string]string) (*Project, *clockwork.FakeClock) {
	t.Helper()

	p, clock := testProject(t, handler, len(tokens))
	require.NoError(t, p.Start(tokens))

	return p, clock
}

func upload(username string, round int, count int64) protocol.ClientParameters {
	return protocol.ClientParameters{
		Auth:            protocol.Auth{Username: username, ProjectID: "proj-1"},
		Step:            protocol.StepInit,
		CommRound:       round,
		OperationStatus: protocol.OpDone,
		Parameters:      protocol.Params{"count": protocol.Int(count)},
	}
}

func TestProjectStart(t *testing.T) {
	p, _ := testProject(t, &sumHandler{rounds: 1}, 2)

	assert.False(t, p.Started())
	assert.Equal(t, protocol.StatusCreated, p.Status())

	err := p.Start(map[string]string{"alice": "tok-1"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData, "token count must match participants")

	tokens := map[string]string{"alice": "tok-1", "bob": "tok-2"}
	require.NoError(t, p.Start(tokens))
	assert.True(t, p.Started())
	assert.Equal(t, protocol.StatusParametersReady, p.Status())
	assert.Equal(t, 1, p.CommRound())

	assert.ErrorIs(t, p.Start(tokens), pkgerrors.ErrEntityExists)

	assert.True(t, p.Authenticate("alice", "tok-1"))
	assert.False(t, p.Authenticate("alice", "tok-2"))
	assert.False(t, p.Authenticate("mallory", "tok-1"))

	wantUsernames := protocol.HashSet([]string{protocol.Hash("alice"), protocol.Hash("bob")})
	assert.Equal(t, wantUsernames, p.HashUsernames())
}

// The round must not aggregate before the last participant reports, and the
// sum of counts 10, 20, and 15 must come out as 45.
func TestProjectSumRound(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, _ := startedProject(t, handler, map[string]string{
		"alice": "tok-1", "bob": "tok-2", "carol": "tok-3",
	})

	require.NoError(t, p.AddClientParameters(upload("alice", 1, 10)))
	require.NoError(t, p.AddClientParameters(upload("bob", 1, 20)))
	assert.Equal(t, 0, handler.calls(), "aggregation must wait for the full round")
	assert.Equal(t, protocol.StatusParametersReady, p.Status())

	// A retry of an already-recorded upload is absorbed, not double-counted.
	require.NoError(t, p.AddClientParameters(upload("alice", 1, 999)))

	require.NoError(t, p.AddClientParameters(upload("carol", 1, 15)))

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusDone
	}, waitFor, tick)

	assert.Equal(t, 2, p.CommRound())
	assert.Equal(t, protocol.StepFinished, p.Step())
	assert.NotEmpty(t, p.ResultDir())

	// The published bag rides along only for a client one round behind.
	sync := p.GlobalParameters(1)
	assert.Equal(t, protocol.StatusDone, sync.Status)
	assert.Equal(t, protocol.Int(45), sync.Parameters["total"])
	assert.Nil(t, p.GlobalParameters(0).Parameters)
	assert.Nil(t, p.GlobalParameters(2).Parameters)
}

func TestProjectMultiRound(t *testing.T) {
	handler := &sumHandler{rounds: 2}
	p, _ := startedProject(t, handler, map[string]string{"alice": "tok-1", "bob": "tok-2"})

	require.NoError(t, p.AddClientParameters(upload("alice", 1, 1)))
	require.NoError(t, p.AddClientParameters(upload("bob", 1, 2)))

	require.Eventually(t, func() bool {
		return p.CommRound() == 2 && p.Status() == protocol.StatusParametersReady
	}, waitFor, tick)
	assert.Equal(t, "Sum", p.Step())

	// The per-round scratch was cleared, so round two accepts fresh uploads.
	second := upload("alice", 2, 3)
	second.Step = "Sum"
	require.NoError(t, p.AddClientParameters(second))
	second = upload("bob", 2, 4)
	second.Step = "Sum"
	require.NoError(t, p.AddClientParameters(second))

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusDone
	}, waitFor, tick)
	assert.Equal(t, []int64{3, 7}, handler.totals)
}

func TestProjectRoundDesyncFails(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, _ := startedProject(t, handler, map[string]string{"alice": "tok-1", "bob": "tok-2"})

	require.NoError(t, p.AddClientParameters(upload("alice", 1, 1)))
	require.NoError(t, p.AddClientParameters(upload("bob", 2, 2)))

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusFailed
	}, waitFor, tick)
	assert.Equal(t, 0, handler.calls())
}

func TestProjectFailedOperationFailsRound(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, _ := startedProject(t, handler, map[string]string{"alice": "tok-1", "bob": "tok-2"})

	require.NoError(t, p.AddClientParameters(upload("alice", 1, 1)))
	failed := upload("bob", 1, 0)
	failed.OperationStatus = protocol.OpFailed
	require.NoError(t, p.AddClientParameters(failed))

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusFailed
	}, waitFor, tick)
	assert.Equal(t, 0, handler.calls())
}

// maskedCounts masks every count with fresh noise and returns the per-user
// masked values plus the compensator's negated noise sum.
func maskedCounts(t *testing.T, counts map[string]int64, seed int64) (map[string]protocol.Value, protocol.Value) {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	noise := make([]protocol.Value, 0, len(counts))
	masked := make(map[string]protocol.Value, len(counts))
	for username, count := range counts {
		m, n, err := aggregate.Mask(protocol.Int(count), protocol.NonNegativeInteger, rng)
		require.NoError(t, err)
		masked[username] = m
		noise = append(noise, n)
	}
	noiseSum, err := aggregate.Sum(noise, protocol.NonNegativeInteger)
	require.NoError(t, err)
	compensation, err := aggregate.Negate(noiseSum, protocol.NonNegativeInteger)
	require.NoError(t, err)

	return masked, compensation
}

func compensationReport(p *Project, value protocol.Value) protocol.CompensationParameters {
	return protocol.CompensationParameters{
		HashProjectID:   protocol.Hash("proj-1"),
		HashUsernames:   p.HashUsernames(),
		HashTokens:      p.HashTokens(),
		Step:            protocol.StepInit,
		CommRound:       1,
		OperationStatus: protocol.OpDone,
		Parameters:      protocol.Params{"count": value},
	}
}

func uploadMasked(p *Project, username string, value protocol.Value) error {
	cp := upload(username, 1, 0)
	cp.Masked = true
	cp.Parameters = protocol.Params{"count": value}

	return p.AddClientParameters(cp)
}

// A masked round folds the compensator's negated noise sum in as one more
// contributor, so the plain sum of the hidden counts is recovered exactly.
func TestProjectMaskedRound(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, _ := startedProject(t, handler, map[string]string{
		"alice": "tok-1", "bob": "tok-2", "carol": "tok-3",
	})

	counts := map[string]int64{"alice": 10, "bob": 20, "carol": 15}
	masked, compensation := maskedCounts(t, counts, 11)

	// The compensator reports before the round is complete, so aggregation
	// finds its contribution waiting.
	require.NoError(t, p.SetCompensation(compensationReport(p, compensation)))

	for username := range counts {
		require.NoError(t, uploadMasked(p, username, masked[username]))
	}

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusDone
	}, waitFor, tick)
	assert.Equal(t, protocol.Int(45), p.GlobalParameters(1).Parameters["total"])
}

// The round completes before the compensator has reported: aggregation parks
// in the waiting state and picks the contribution up on its next poll.
func TestProjectCompensationArrivesDuringWait(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, clock := startedProject(t, handler, map[string]string{"alice": "tok-1", "bob": "tok-2"})

	counts := map[string]int64{"alice": 30, "bob": 12}
	masked, compensation := maskedCounts(t, counts, 17)
	for username := range counts {
		require.NoError(t, uploadMasked(p, username, masked[username]))
	}

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusWaitingForCompensator
	}, waitFor, tick)

	// The wait loop is parked on its poll period and timeout timers.
	clock.BlockUntil(2)
	require.NoError(t, p.SetCompensation(compensationReport(p, compensation)))
	clock.Advance(compensatorPollStep)

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusDone
	}, waitFor, tick)
	assert.Equal(t, protocol.Int(42), p.GlobalParameters(1).Parameters["total"])
}

// A compensator that never reports must fail the round once the bounded wait
// elapses, not hang the project forever.
func TestProjectCompensationWaitTimesOut(t *testing.T) {
	handler := &sumHandler{rounds: 1}
	p, clock := startedProject(t, handler, map[string]string{"alice": "tok-1"})

	masked, _ := maskedCounts(t, map[string]int64{"alice": 5}, 3)
	require.NoError(t, uploadMasked(p, "alice", masked["alice"]))

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusWaitingForCompensator
	}, waitFor, tick)
	clock.BlockUntil(2)

	clock.Advance(defCompensatorWait + compensatorPollStep)

	require.Eventually(t, func() bool {
		return p.Status() == protocol.StatusFailed
	}, waitFor, tick)
	assert.Equal(t, 0, handler.calls())
	assert.Equal(t, 1, p.CommRound())
}

// An abort that lands while the handler is running must stick: the finished
// aggregation may not resurrect the project.
func TestProjectAbortDuringAggregation(t *testing.T) {
	handler := newStallHandler()
	p, _ := startedProject(t, handler, map[string]string{"alice": "tok-1"})

	require.NoError(t, p.AddClientParameters(upload("alice", 1, 1)))

	select {
	case <-handler.entered:
	case <-time.After(waitFor):
		t.Fatal("aggregation never reached the handler")
	}

	p.Abort()
	require.Equal(t, protocol.StatusAborted, p.Status())

	close(handler.release)

	assert.Never(t, func() bool {
		return p.Status() != protocol.StatusAborted
	}, 250*time.Millisecond, tick)
	assert.Equal(t, 1, p.CommRound())
	assert.Nil(t, p.GlobalParameters(0).Parameters)
}

func TestProjectSetCompensationGuards(t *testing.T) {
	p, _ := startedProject(t, &sumHandler{rounds: 1}, map[string]string{"alice": "tok-1"})

	good := protocol.CompensationParameters{
		HashProjectID:   protocol.Hash("proj-1"),
		HashUsernames:   p.HashUsernames(),
		HashTokens:      p.HashTokens(),
		Step:            protocol.StepInit,
		CommRound:       1,
		OperationStatus: protocol.OpDone,
		Parameters:      protocol.Params{},
	}

	wrongIdentities := good
	wrongIdentities.HashUsernames = protocol.Hash("someone else")
	assert.ErrorIs(t, p.SetCompensation(wrongIdentities), pkgerrors.ErrNotAuthorized)

	staleRound := good
	staleRound.CommRound = 2
	assert.ErrorIs(t, p.SetCompensation(staleRound), pkgerrors.ErrDesync)

	require.NoError(t, p.SetCompensation(good))
	assert.ErrorIs(t, p.SetCompensation(good), pkgerrors.ErrEntityExists)
}

func TestProjectUploadGuards(t *testing.T) {
	p, _ := testProject(t, &sumHandler{rounds: 1}, 2)

	assert.ErrorIs(t, p.AddClientParameters(upload("alice", 1, 1)), pkgerrors.ErrProjectNotRunning)

	require.NoError(t, p.Start(map[string]string{"alice": "tok-1", "bob": "tok-2"}))
	assert.ErrorIs(t, p.AddClientParameters(upload("mallory", 1, 1)), pkgerrors.ErrNotAuthorized)

	p.Abort()
	assert.Equal(t, protocol.StatusAborted, p.Status())
	assert.ErrorIs(t, p.AddClientParameters(upload("alice", 1, 1)), pkgerrors.ErrProjectNotRunning)
	assert.ErrorIs(t, p.SetCompensation(protocol.CompensationParameters{}), pkgerrors.ErrProjectNotRunning)
}

// Terminal projects become due for eviction once the grace period has given
// stragglers a chance to learn the outcome.
func TestProjectCleanUpAfterGracePeriod(t *testing.T) {
	p, clock := startedProject(t, &sumHandler{rounds: 1}, map[string]string{"alice": "tok-1"})
	pool := NewPool()
	require.NoError(t, pool.Add(p))

	p.Abort()
	assert.False(t, p.CleanUpDue())
	assert.Equal(t, 0, pool.Sweep())

	// The clean-up goroutine is parked on the grace period timer.
	clock.BlockUntil(1)
	clock.Advance(defGracePeriod + time.Second)

	require.Eventually(t, p.CleanUpDue, waitFor, tick)
	assert.Equal(t, 1, pool.Sweep())
	assert.Equal(t, 0, pool.Len())
}
