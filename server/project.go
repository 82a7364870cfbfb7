package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/monitor"
	"github.com/TUM-AIMED/hyfed/pkg/poll"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/jonboulle/clockwork"
)

// compensatorContributor keys the folded compensation bag in the round's
// local set. The double underscores keep it out of the username space.
const compensatorContributor = "__compensator__"

const (
	defGracePeriod      = 300 * time.Second
	defCompensatorWait  = 600 * time.Second
	compensatorPollStep = time.Second
)

// ProjectOptions wires a project's collaborators. Zero durations fall back
// to the defaults; a nil clock falls back to the real one.
type ProjectOptions struct {
	Record          storage.ProjectRecord
	Handler         algorithm.Handler
	Records         storage.ProjectRecords
	Clock           clockwork.Clock
	Logger          *slog.Logger
	ResultRoot      string
	GracePeriod     time.Duration
	CompensatorWait time.Duration
}

// Project is one live federated computation: the server-side session state
// machine. All fields are guarded by mu; the aggregation goroutine reads a
// round's scratch state without the lock only once the round is full, when
// nothing mutates it anymore.
type Project struct {
	mu sync.Mutex

	id               string
	name             string
	algorithm        string
	participantCount int

	status    protocol.ProjectStatus
	step      string
	commRound int

	// fixed at Start
	tokens        map[string]string
	hashUsernames string
	hashTokens    string

	handler algorithm.Handler
	records storage.ProjectRecords
	clock   clockwork.Clock
	logger  *slog.Logger

	resultRoot string
	resultDir  string

	globals protocol.Params

	// per-round scratch, cleared after every aggregation attempt
	clientStatus map[string]protocol.OperationStatus
	clientSteps  map[string]string
	clientRounds map[string]int
	clientMasked map[string]bool
	clientStats  map[string]protocol.MonitoringStats
	locals       map[string]protocol.Params
	compensation *protocol.CompensationParameters

	aggregationTimer       *monitor.Timer
	clientComputation      time.Duration
	clientNetworkSend      time.Duration
	clientNetworkReceive   time.Duration
	clientIdle             time.Duration
	compensatorComputation time.Duration
	compensatorNetSend     time.Duration

	trafficClientServer      *monitor.Counter
	trafficServerClient      *monitor.Counter
	trafficCompensatorServer *monitor.Counter
	trafficClientCompensator uint64

	gracePeriod     time.Duration
	compensatorWait time.Duration
	cleanUp         bool
}

func NewProject(opts ProjectOptions) *Project {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = defGracePeriod
	}
	if opts.CompensatorWait == 0 {
		opts.CompensatorWait = defCompensatorWait
	}

	p := &Project{
		id:               opts.Record.ID,
		name:             opts.Record.Name,
		algorithm:        opts.Record.Algorithm,
		participantCount: opts.Record.ParticipantCount,
		status:           protocol.StatusCreated,
		step:             protocol.StepInit,
		commRound:        1,
		handler:          opts.Handler,
		records:          opts.Records,
		clock:            opts.Clock,
		logger:           opts.Logger.With(slog.String("project", opts.Record.ID)),
		resultRoot:       opts.ResultRoot,
		gracePeriod:      opts.GracePeriod,
		compensatorWait:  opts.CompensatorWait,
		aggregationTimer: monitor.NewTimerWithClock("aggregation", opts.Clock),

		trafficClientServer:      monitor.NewCounter("client-to-server"),
		trafficServerClient:      monitor.NewCounter("server-to-client"),
		trafficCompensatorServer: monitor.NewCounter("compensator-to-server"),
	}
	p.resetScratch()

	return p
}

func (p *Project) ID() string {
	return p.id
}

func (p *Project) Status() protocol.ProjectStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

func (p *Project) Step() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.step
}

func (p *Project) CommRound() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.commRound
}

func (p *Project) ParticipantCount() int {
	return p.participantCount
}

func (p *Project) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status != protocol.StatusCreated
}

func (p *Project) CleanUpDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cleanUp
}

// Start fixes the participant credential map, derives the identity set
// hashes the compensator will later present, and opens round one.
func (p *Project) Start(tokens map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != protocol.StatusCreated {
		return pkgerrors.ErrEntityExists
	}
	if len(tokens) != p.participantCount {
		return errors.Join(pkgerrors.ErrInvalidData,
			fmt.Errorf("%d tokens claimed, %d participants expected", len(tokens), p.participantCount))
	}

	p.tokens = make(map[string]string, len(tokens))
	usernameHashes := make([]string, 0, len(tokens))
	tokenHashes := make([]string, 0, len(tokens))
	for username, token := range tokens {
		p.tokens[username] = token
		usernameHashes = append(usernameHashes, protocol.Hash(username))
		tokenHashes = append(tokenHashes, protocol.Hash(token))
	}
	p.hashUsernames = protocol.HashSet(usernameHashes)
	p.hashTokens = protocol.HashSet(tokenHashes)

	p.status = protocol.StatusParametersReady
	p.persistLocked()

	return nil
}

// Authenticate checks a participant's credentials against the fixed map of a
// started project.
func (p *Project) Authenticate(username, token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokens == nil {
		return false
	}

	return p.tokens[username] == token
}

// Abort is the administrative kill switch. Stragglers keep learning the
// outcome on their next poll until the grace period elapses.
func (p *Project) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Terminal() {
		return
	}
	p.status = protocol.StatusAborted
	p.resetScratch()
	p.persistLocked()
	p.scheduleCleanupLocked()
}

// GlobalParameters answers a client's poll. The global bag rides along only
// when the server's round is exactly one ahead of the client's; the round-gap
// rule itself is enforced client-side.
func (p *Project) GlobalParameters(clientRound int) protocol.GlobalParameters {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp := protocol.GlobalParameters{
		ProjectID: p.id,
		Status:    p.status,
		Step:      p.step,
		CommRound: p.commRound,
	}
	if p.commRound-clientRound == 1 {
		resp.Parameters = p.globals
	}

	return resp
}

// ResultDir returns the directory result files are written to; empty until
// the Init round has been aggregated.
func (p *Project) ResultDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resultDir
}

// AddClientParameters records one participant's contribution for the current
// round. The arrival that completes the round kicks off aggregation in the
// background so the delivering request returns immediately. A duplicate
// upload, e.g. a client retrying after a lost response, is absorbed silently.
func (p *Project) AddClientParameters(cp protocol.ClientParameters) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Terminal() {
		return pkgerrors.ErrProjectNotRunning
	}
	if p.status == protocol.StatusCreated {
		return pkgerrors.ErrProjectNotRunning
	}
	if _, ok := p.tokens[cp.Username]; !ok {
		return pkgerrors.ErrNotAuthorized
	}
	if _, ok := p.locals[cp.Username]; ok {
		return nil
	}

	p.clientStatus[cp.Username] = cp.OperationStatus
	p.clientSteps[cp.Username] = cp.Step
	p.clientRounds[cp.Username] = cp.CommRound
	p.clientMasked[cp.Username] = cp.Masked
	p.clientStats[cp.Username] = cp.Monitoring
	p.locals[cp.Username] = cp.Parameters

	if len(p.locals) == p.participantCount {
		go p.runAggregation(context.Background())
	}

	return nil
}

// SetCompensation records the compensator's consolidated report. Reports
// tagged with any round other than the one currently awaited are rejected,
// as are duplicates within a round.
func (p *Project) SetCompensation(cp protocol.CompensationParameters) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Terminal() || p.status == protocol.StatusCreated {
		return pkgerrors.ErrProjectNotRunning
	}
	if cp.HashUsernames != p.hashUsernames || cp.HashTokens != p.hashTokens {
		return pkgerrors.ErrNotAuthorized
	}
	if cp.CommRound != p.commRound {
		return errors.Join(pkgerrors.ErrDesync,
			fmt.Errorf("compensation for round %d, server at round %d", cp.CommRound, p.commRound))
	}
	if p.compensation != nil {
		return pkgerrors.ErrEntityExists
	}

	p.compensation = &cp
	p.compensatorComputation += cp.Computation
	p.compensatorNetSend += cp.NetworkSend
	p.trafficClientCompensator = cp.ClientTraffic

	return nil
}

func (p *Project) AddClientTraffic(n uint64) {
	p.trafficClientServer.Increment(n)
}

func (p *Project) AddServerTraffic(n uint64) {
	p.trafficServerClient.Increment(n)
}

func (p *Project) AddCompensatorTraffic(n uint64) {
	p.trafficCompensatorServer.Increment(n)
}

// runAggregation drives one full aggregation attempt. It is supervised: an
// error or panic anywhere inside fails the project instead of vanishing with
// the goroutine.
func (p *Project) runAggregation(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("aggregation panicked", slog.Any("panic", r))
			p.fail()
		}
	}()

	p.aggregationTimer.Start()
	defer p.aggregationTimer.NewRound()

	if err := p.preAggregate(ctx); err != nil {
		p.aggregationTimer.Stop()
		p.logger.Warn("round checks failed", slog.Any("error", err))
		p.fail()

		return
	}

	next, globals, err := p.aggregate(ctx)
	p.aggregationTimer.Stop()
	if err != nil {
		p.logger.Warn("aggregation failed", slog.Any("error", err))
		p.fail()

		return
	}

	p.postAggregate(next, globals)
}

// preAggregate clears last round's published globals and verifies the round
// is mutually consistent: every participant Done, on the server's step and
// round, with identical masking flags. For a masked round it then waits for
// the compensator's contribution and folds it in as one more participant.
func (p *Project) preAggregate(ctx context.Context) error {
	p.mu.Lock()
	p.globals = nil

	for username, status := range p.clientStatus {
		if status != protocol.OpDone {
			p.mu.Unlock()

			return fmt.Errorf("participant %s reported operation status %q", username, status)
		}
	}
	for username, step := range p.clientSteps {
		if step != p.step {
			p.mu.Unlock()

			return errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("participant %s reported step %q, server at %q", username, step, p.step))
		}
	}
	for username, round := range p.clientRounds {
		if round != p.commRound {
			p.mu.Unlock()

			return errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("participant %s reported round %d, server at %d", username, round, p.commRound))
		}
	}
	masked := false
	first := true
	for username, m := range p.clientMasked {
		if first {
			masked = m
			first = false

			continue
		}
		if m != masked {
			p.mu.Unlock()

			return errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("participant %s disagrees on masking", username))
		}
	}

	if !masked {
		p.status = protocol.StatusAggregating
		p.mu.Unlock()

		return nil
	}

	p.status = protocol.StatusWaitingForCompensator
	p.mu.Unlock()

	err := poll.Until(ctx, p.clock, compensatorPollStep, p.compensatorWait, func(context.Context) (bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.compensation != nil, nil
	})
	if err != nil {
		return fmt.Errorf("compensator never reported: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	comp := p.compensation
	if comp.OperationStatus != protocol.OpDone {
		return fmt.Errorf("compensator reported operation status %q", comp.OperationStatus)
	}
	if comp.Step != p.step || comp.CommRound != p.commRound {
		return errors.Join(pkgerrors.ErrDesync,
			fmt.Errorf("compensator reported step %q round %d, server at %q round %d",
				comp.Step, comp.CommRound, p.step, p.commRound))
	}

	p.locals[compensatorContributor] = comp.Parameters
	p.status = protocol.StatusAggregating

	return nil
}

// aggregate runs the algorithm's step over the completed round. The scratch
// maps are read without the lock: the round is full and nothing mutates them
// until postAggregate.
func (p *Project) aggregate(ctx context.Context) (string, protocol.Params, error) {
	if p.step == protocol.StepInit {
		dir := filepath.Join(p.resultRoot, p.id)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", nil, fmt.Errorf("creating result directory: %w", err)
		}
		p.mu.Lock()
		p.resultDir = dir
		p.mu.Unlock()
	}

	round := algorithm.Round{
		Step:      p.step,
		CommRound: p.commRound,
		ResultDir: p.resultDir,
		Locals:    p.locals,
	}

	return p.handler.RunStep(ctx, round)
}

// postAggregate rolls monitoring totals, clears the round's scratch state,
// and either advances to the next round or completes the project.
func (p *Project) postAggregate(next string, globals protocol.Params) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// An abort that landed while the handler was running wins; terminal
	// states are absorbing.
	if p.status.Terminal() {
		return
	}

	p.rollClientTimersLocked()
	p.resetScratch()

	if next == protocol.StepFinished {
		p.step = protocol.StepFinished
		p.commRound++
		p.globals = globals
		p.status = protocol.StatusDone
		p.persistLocked()
		p.persistMonitoringLocked()
		p.scheduleCleanupLocked()

		return
	}

	p.step = next
	p.commRound++
	p.globals = globals
	p.status = protocol.StatusParametersReady
	p.persistLocked()
	p.persistMonitoringLocked()
}

func (p *Project) fail() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Terminal() {
		return
	}
	p.resetScratch()
	p.status = protocol.StatusFailed
	p.persistLocked()
	p.scheduleCleanupLocked()
}

// rollClientTimersLocked folds the mean of this round's client-reported
// durations into the running totals.
func (p *Project) rollClientTimersLocked() {
	if len(p.clientStats) == 0 {
		return
	}

	var comp, send, recv, idle time.Duration
	var n int
	for username, stats := range p.clientStats {
		if username == compensatorContributor {
			continue
		}
		comp += stats.Computation
		send += stats.NetworkSend
		recv += stats.NetworkReceive
		idle += stats.Idle
		n++
	}
	if n == 0 {
		return
	}

	p.clientComputation += comp / time.Duration(n)
	p.clientNetworkSend += send / time.Duration(n)
	p.clientNetworkReceive += recv / time.Duration(n)
	p.clientIdle += idle / time.Duration(n)
}

func (p *Project) resetScratch() {
	p.clientStatus = make(map[string]protocol.OperationStatus)
	p.clientSteps = make(map[string]string)
	p.clientRounds = make(map[string]int)
	p.clientMasked = make(map[string]bool)
	p.clientStats = make(map[string]protocol.MonitoringStats)
	p.locals = make(map[string]protocol.Params)
	p.compensation = nil
}

func (p *Project) scheduleCleanupLocked() {
	go func() {
		<-p.clock.After(p.gracePeriod)

		p.mu.Lock()
		p.cleanUp = true
		p.mu.Unlock()
	}()
}

func (p *Project) persistLocked() {
	if p.records == nil {
		return
	}

	rec := storage.ProjectRecord{
		ID:               p.id,
		Name:             p.name,
		Algorithm:        p.algorithm,
		Status:           p.status,
		Step:             p.step,
		CommRound:        p.commRound,
		ParticipantCount: p.participantCount,
		ResultDir:        p.resultDir,
		UpdatedAt:        p.clock.Now(),
	}
	if err := p.records.Update(context.Background(), rec); err != nil {
		p.logger.Error("failed to persist project record", slog.Any("error", err))
	}
}

func (p *Project) persistMonitoringLocked() {
	if p.records == nil {
		return
	}

	timers := map[string]time.Duration{
		"aggregation":              p.aggregationTimer.TotalDuration(),
		"client_computation":       p.clientComputation,
		"client_network_send":      p.clientNetworkSend,
		"client_network_receive":   p.clientNetworkReceive,
		"client_idle":              p.clientIdle,
		"compensator_computation":  p.compensatorComputation,
		"compensator_network_send": p.compensatorNetSend,
	}
	if err := p.records.SaveTimers(context.Background(), p.id, timers); err != nil {
		p.logger.Error("failed to persist timers", slog.Any("error", err))
	}

	traffic := map[string]uint64{
		"client_to_server":      p.trafficClientServer.Total(),
		"server_to_client":      p.trafficServerClient.Total(),
		"compensator_to_server": p.trafficCompensatorServer.Total(),
		"client_to_compensator": p.trafficClientCompensator,
	}
	if err := p.records.SaveTraffic(context.Background(), p.id, traffic); err != nil {
		p.logger.Error("failed to persist traffic", slog.Any("error", err))
	}
}

// HashUsernames is the order-independent digest of the hashed participant
// usernames, fixed at Start.
func (p *Project) HashUsernames() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.hashUsernames
}

// HashTokens is the order-independent digest of the hashed participant
// tokens, fixed at Start.
func (p *Project) HashTokens() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.hashTokens
}

func (p *Project) Algorithm() string {
	return p.algorithm
}
