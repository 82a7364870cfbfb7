package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/monitor"
	"github.com/TUM-AIMED/hyfed/pkg/poll"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// DriverOptions wires a driver's collaborators. A nil clock, logger, RNG, or
// HTTP client falls back to a sensible default.
type DriverOptions struct {
	Config  Config
	Handler algorithm.ClientHandler

	Clock      clockwork.Clock
	Logger     *slog.Logger
	HTTPClient *http.Client
	Rand       *rand.Rand
}

// Driver runs one participant through a full project: join, wait for start,
// then the round loop until the Finished step or an abort. It is strictly
// sequential; only the Status accessor is safe to call concurrently.
type Driver struct {
	cfg     Config
	handler algorithm.ClientHandler
	comms   *comms
	clock   clockwork.Clock
	logger  *slog.Logger
	rng     *rand.Rand

	statusMu sync.Mutex
	status   Status

	step       string
	commRound  int
	globals    protocol.Params
	opStatus   protocol.OperationStatus
	lastMasked bool

	computation    *monitor.Timer
	networkSend    *monitor.Timer
	networkReceive *monitor.Timer
	idle           *monitor.Timer
}

func NewDriver(opts DriverOptions) (*Driver, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Handler == nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, errors.New("missing algorithm handler"))
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Driver{
		cfg:     opts.Config,
		handler: opts.Handler,
		comms:   &comms{httpc: opts.HTTPClient},
		clock:   opts.Clock,
		logger:  opts.Logger.With(slog.String("project", opts.Config.ProjectID)),
		rng:     opts.Rand,
		status:  StatusWaitingForStart,

		computation:    monitor.NewTimerWithClock("computation", opts.Clock),
		networkSend:    monitor.NewTimerWithClock("network-send", opts.Clock),
		networkReceive: monitor.NewTimerWithClock("network-receive", opts.Clock),
		idle:           monitor.NewTimerWithClock("idle", opts.Clock),
	}, nil
}

// Status reports the driver's client-local lifecycle state.
func (d *Driver) Status() Status {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()

	return d.status
}

func (d *Driver) setStatus(s Status) {
	d.statusMu.Lock()
	d.status = s
	d.statusMu.Unlock()
}

// Run drives the whole lifecycle. It returns nil once the project is done
// and the result has been fetched, or the error that aborted the client.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.join(ctx); err != nil {
		return d.abort(err)
	}
	d.logProjectInfo(ctx)

	d.setStatus(StatusWaitingForStart)
	if err := d.waitForStart(ctx); err != nil {
		return d.abort(err)
	}

	for {
		if err := d.receiveServerParameters(ctx); err != nil {
			return d.abort(err)
		}
		if d.step == protocol.StepFinished {
			break
		}

		result := d.computeLocalParameters(ctx)
		if err := d.sendClientParameters(ctx, result); err != nil {
			return d.abort(err)
		}
	}

	return d.finish(ctx)
}

func (d *Driver) auth() protocol.Auth {
	return protocol.Auth{
		Username:  d.cfg.Username,
		Token:     d.cfg.Token,
		ProjectID: d.cfg.ProjectID,
	}
}

func (d *Driver) join(ctx context.Context) error {
	req := protocol.JoinRequest{Auth: d.auth(), Password: d.cfg.Password}

	return poll.Until(ctx, d.clock, d.cfg.InquiryPeriod, d.cfg.InquiryTimeout, func(ctx context.Context) (bool, error) {
		var resp protocol.JoinResponse
		if err := d.comms.post(ctx, d.cfg.ServerURL+joinPath, d.cfg.InquiryTimeout, req, &resp); err != nil {
			if errors.Is(err, errEncode) {
				return false, err
			}
			d.logger.Warn("join attempt failed", slog.Any("error", err))

			return false, nil
		}
		if !resp.Joined {
			return false, errors.Join(pkgerrors.ErrNotAuthorized, errors.New("server refused the join"))
		}

		return true, nil
	})
}

func (d *Driver) logProjectInfo(ctx context.Context) {
	req := protocol.ProjectInfoRequest{Auth: d.auth()}

	var resp protocol.ProjectInfoResponse
	if err := d.comms.post(ctx, d.cfg.ServerURL+infoPath, d.cfg.InquiryTimeout, req, &resp); err != nil {
		d.logger.Warn("could not fetch project info", slog.Any("error", err))

		return
	}

	d.logger.Info("joined project",
		slog.String("name", resp.Name),
		slog.String("algorithm", resp.Algorithm))
}

// waitForStart polls until the coordinator reports the project has left the
// Created status. Transport failures are logged and retried; only a payload
// that cannot be constructed aborts.
func (d *Driver) waitForStart(ctx context.Context) error {
	req := protocol.StartedRequest{Auth: d.auth()}

	return poll.Until(ctx, d.clock, d.cfg.InquiryPeriod, 0, func(ctx context.Context) (bool, error) {
		var resp protocol.StartedResponse
		if err := d.comms.post(ctx, d.cfg.ServerURL+startedPath, d.cfg.InquiryTimeout, req, &resp); err != nil {
			if errors.Is(err, errEncode) {
				return false, err
			}
			d.logger.Warn("started inquiry failed", slog.Any("error", err))

			return false, nil
		}

		return resp.Started, nil
	})
}

// receiveServerParameters polls the global-parameter endpoint until the
// server's round advances past the client's. A gap of zero means the round is
// still aggregating; a gap of one delivers the new round; anything else, or a
// terminal project status, aborts.
func (d *Driver) receiveServerParameters(ctx context.Context) error {
	d.setStatus(StatusWaitingForAggregation)

	d.idle.Start()
	err := poll.Until(ctx, d.clock, d.cfg.InquiryPeriod, 0, func(ctx context.Context) (bool, error) {
		defer d.idle.Start()
		d.idle.Stop()

		req := protocol.SyncRequest{Auth: d.auth(), CommRound: d.commRound}

		var resp protocol.GlobalParameters
		d.networkReceive.Start()
		err := d.comms.post(ctx, d.cfg.ServerURL+syncPath, d.cfg.DownloadTimeout, req, &resp)
		d.networkReceive.Stop()
		if err != nil {
			if errors.Is(err, errEncode) {
				return false, err
			}
			d.logger.Warn("global parameter poll failed", slog.Any("error", err))

			return false, nil
		}

		if resp.ProjectID != d.cfg.ProjectID {
			return false, errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("server answered for project %q", resp.ProjectID))
		}
		if resp.Status == protocol.StatusFailed || resp.Status == protocol.StatusAborted {
			return false, fmt.Errorf("project ended with status %q", resp.Status)
		}

		switch resp.CommRound - d.commRound {
		case 0:
			return false, nil
		case 1:
			d.adoptRound(resp)

			return true, nil
		default:
			return false, errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("server at round %d, client at round %d", resp.CommRound, d.commRound))
		}
	})
	d.idle.Stop()

	return err
}

func (d *Driver) adoptRound(resp protocol.GlobalParameters) {
	d.commRound = resp.CommRound
	d.step = resp.Step
	d.globals = resp.Parameters

	if d.commRound == 1 {
		d.computation.Reset()
		d.networkSend.Reset()
		d.networkReceive.Reset()
		d.idle.Reset()
	}

	d.logger.Info("new round",
		slog.Int("comm_round", d.commRound),
		slog.String("step", d.step))
}

// computeLocalParameters runs the algorithm callback for the round. A
// callback error is converted into a Failed operation status rather than
// propagated; the driver never crashes on a single bad step.
func (d *Driver) computeLocalParameters(ctx context.Context) algorithm.StepResult {
	d.setStatus(StatusComputingParameters)
	d.opStatus = protocol.OpInProgress

	d.computation.Start()
	result, err := d.handler.ComputeStep(ctx, d.step, d.globals)
	d.computation.Stop()
	d.globals = nil

	if err != nil {
		d.logger.Error("local computation failed",
			slog.String("step", d.step),
			slog.Any("error", err))
		d.opStatus = protocol.OpFailed

		return algorithm.StepResult{}
	}
	d.opStatus = protocol.OpDone

	return result
}

// sendClientParameters masks the local bag when the step asks for it and
// dispatches the coordinator and compensator uploads in a random order, each
// retried at a fixed backoff until it succeeds.
func (d *Driver) sendClientParameters(ctx context.Context, result algorithm.StepResult) error {
	d.setStatus(StatusPreparingParameters)

	masked := result.Masked
	if !masked && d.step == protocol.StepResult && d.lastMasked {
		// A masked step immediately before Result: send one empty masked
		// payload so the compensator flushes its last monitoring totals to
		// the coordinator.
		masked = true
		result.Parameters = nil
		result.DataTypes = nil
	}

	serverBag := result.Parameters
	var noiseBag protocol.Params
	if masked && d.opStatus == protocol.OpDone {
		serverBag = make(protocol.Params, len(result.Parameters))
		noiseBag = make(protocol.Params, len(result.Parameters))
		for name, value := range result.Parameters {
			dt, ok := result.DataTypes[name]
			if !ok {
				d.logger.Error("parameter has no data type", slog.String("parameter", name))
				d.opStatus = protocol.OpFailed
				serverBag, noiseBag = nil, nil

				break
			}
			maskedValue, noise, err := aggregate.Mask(value, dt, d.rng)
			if err != nil {
				d.logger.Error("masking failed",
					slog.String("parameter", name),
					slog.String("step", d.step),
					slog.Any("error", err))
				d.opStatus = protocol.OpFailed
				serverBag, noiseBag = nil, nil

				break
			}
			serverBag[name] = maskedValue
			noiseBag[name] = noise
		}
	}

	cp := protocol.ClientParameters{
		Auth:            d.auth(),
		Step:            d.step,
		CommRound:       d.commRound,
		OperationStatus: d.opStatus,
		Masked:          masked,
		Monitoring:      d.rollStats(),
		Parameters:      serverBag,
	}

	sends := []func(context.Context) error{
		func(ctx context.Context) error {
			return d.comms.post(ctx, d.cfg.ServerURL+uploadPath, d.cfg.UploadTimeout, cp, nil)
		},
	}
	if masked && d.opStatus == protocol.OpDone {
		np := protocol.NoiseParameters{
			HashProjectID: protocol.Hash(d.cfg.ProjectID),
			HashUsername:  protocol.Hash(d.cfg.Username),
			HashToken:     protocol.Hash(d.cfg.Token),
			Step:          d.step,
			CommRound:     d.commRound,
			ServerURL:     d.cfg.ServerURL,
			Parameters:    noiseBag,
			DataTypes:     result.DataTypes,
		}
		sends = append(sends, func(ctx context.Context) error {
			var resp protocol.NoiseResponse
			if err := d.comms.post(ctx, d.cfg.CompensatorURL+noisePath, d.cfg.UploadTimeout, np, &resp); err != nil {
				return err
			}
			if resp.ShouldRetry {
				return errors.New("compensator session not ready yet")
			}

			return nil
		})
		d.rng.Shuffle(len(sends), func(i, j int) {
			sends[i], sends[j] = sends[j], sends[i]
		})
	}

	d.setStatus(StatusSendingParameters)
	d.networkSend.Start()
	defer d.networkSend.Stop()

	for _, send := range sends {
		err := poll.Until(ctx, d.clock, d.cfg.InquiryPeriod, 0, func(ctx context.Context) (bool, error) {
			if err := send(ctx); err != nil {
				if errors.Is(err, errEncode) {
					return false, err
				}
				d.logger.Warn("upload failed", slog.Any("error", err))

				return false, nil
			}

			return true, nil
		})
		if err != nil {
			return err
		}
	}
	d.lastMasked = masked

	return nil
}

// rollStats snapshots the round's durations and opens a fresh bucket. The
// upload that carries the snapshot is itself measured into the next round's
// bucket, so reported times always cover completed activity.
func (d *Driver) rollStats() protocol.MonitoringStats {
	stats := protocol.MonitoringStats{
		Computation:    d.computation.ThisRound(),
		NetworkSend:    d.networkSend.ThisRound(),
		NetworkReceive: d.networkReceive.ThisRound(),
		Idle:           d.idle.ThisRound(),
	}
	d.computation.NewRound()
	d.networkSend.NewRound()
	d.networkReceive.NewRound()
	d.idle.NewRound()

	return stats
}

// finish downloads the result archive and dumps the accumulated timers, both
// best effort.
func (d *Driver) finish(ctx context.Context) error {
	d.setStatus(StatusFinishingUp)

	if d.cfg.ResultDir != "" {
		if err := d.downloadResult(ctx); err != nil {
			d.logger.Warn("could not download result archive", slog.Any("error", err))
		}
	}
	if d.cfg.LogDir != "" {
		if err := d.writeStats(); err != nil {
			d.logger.Warn("could not write timer dump", slog.Any("error", err))
		}
	}

	d.setStatus(StatusDone)
	d.logger.Info("project completed")

	return nil
}

func (d *Driver) downloadResult(ctx context.Context) error {
	req := protocol.ResultRequest{Auth: d.auth()}

	archive, err := d.comms.postForBytes(ctx, d.cfg.ServerURL+resultPath, d.cfg.DownloadTimeout, req)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.cfg.ResultDir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d.cfg.ResultDir, d.cfg.ProjectID+"-result.zip")
	if err := os.WriteFile(path, archive, 0o600); err != nil {
		return err
	}
	d.logger.Info("result archive saved", slog.String("path", path))

	return nil
}

func (d *Driver) writeStats() error {
	d.computation.NewRound()
	d.networkSend.NewRound()
	d.networkReceive.NewRound()
	d.idle.NewRound()

	dump := fmt.Sprintf("computation: %s\nnetwork send: %s\nnetwork receive: %s\nidle: %s\n",
		d.computation.TotalDuration(),
		d.networkSend.TotalDuration(),
		d.networkReceive.TotalDuration(),
		d.idle.TotalDuration())

	if err := os.MkdirAll(d.cfg.LogDir, 0o700); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(d.cfg.LogDir, d.cfg.ProjectID+"-stats.txt"), []byte(dump), 0o600)
}

func (d *Driver) abort(err error) error {
	d.setStatus(StatusAborted)
	d.logger.Error("client aborted", slog.Any("error", err))

	return err
}
