package compensator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/api"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jonboulle/clockwork"
)

const (
	authenticatePath = "/compensator/authenticate"
	compensationPath = "/compensator/parameters"

	defMaxSessionAge = 72 * time.Hour

	// The coordinator stops waiting for a round's compensation after its
	// own bounded wait, so forwarding retries over roughly that window and
	// then gives up instead of retrying forever.
	forwardRetryWait = 30 * time.Second
	forwardRetryMax  = 10
)

// Config carries the tunables of the compensator service.
type Config struct {
	// MaxSessionAge bounds how long an untouched session survives before
	// garbage collection reclaims it.
	MaxSessionAge time.Duration
}

type service struct {
	mu sync.Mutex

	sessions     map[string]*session
	authInFlight map[string]struct{}

	httpc  *retryablehttp.Client
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    Config
}

func NewService(clock clockwork.Clock, logger *slog.Logger, cfg Config) Service {
	if cfg.MaxSessionAge == 0 {
		cfg.MaxSessionAge = defMaxSessionAge
	}

	httpc := retryablehttp.NewClient()
	httpc.RetryWaitMin = forwardRetryWait
	httpc.RetryWaitMax = forwardRetryWait
	httpc.RetryMax = forwardRetryMax
	httpc.Logger = nil

	return &service{
		sessions:     make(map[string]*session),
		authInFlight: make(map[string]struct{}),
		httpc:        httpc,
		clock:        clock,
		logger:       logger,
		cfg:          cfg,
	}
}

// UploadNoise is single-flight on authentication: the first report for an
// unknown project hash starts an asynchronous confirmation with the
// coordinator, and every report until it completes is answered with
// shouldRetry. A duplicate confirmation attempt never creates two sessions.
func (svc *service) UploadNoise(_ context.Context, req protocol.NoiseParameters, size uint64) (protocol.NoiseResponse, error) {
	svc.mu.Lock()
	s, ok := svc.sessions[req.HashProjectID]
	if !ok {
		if _, inflight := svc.authInFlight[req.HashProjectID]; inflight {
			svc.mu.Unlock()

			return protocol.NoiseResponse{ShouldRetry: true}, nil
		}
		svc.authInFlight[req.HashProjectID] = struct{}{}
		svc.mu.Unlock()

		go svc.authenticate(req.HashProjectID, req.ServerURL)

		return protocol.NoiseResponse{ShouldRetry: true}, nil
	}
	svc.mu.Unlock()

	full, err := s.add(req, size)
	if err != nil {
		return protocol.NoiseResponse{}, err
	}
	if full {
		go svc.aggregateAndForward(s)
	}

	return protocol.NoiseResponse{ShouldRetry: false}, nil
}

func (svc *service) SessionCount(_ context.Context) (int, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return len(svc.sessions), nil
}

// authenticate asks the coordinator whether a project with this id hash
// exists and how many participants it has, and materializes the session on
// confirmation.
func (svc *service) authenticate(hashProjectID, serverURL string) {
	defer func() {
		svc.mu.Lock()
		delete(svc.authInFlight, hashProjectID)
		svc.mu.Unlock()
	}()

	req := protocol.CompensatorAuthRequest{HashProjectID: hashProjectID}
	var resp protocol.CompensatorAuthResponse
	if err := svc.post(serverURL+authenticatePath, req, &resp); err != nil {
		svc.logger.Warn("project authentication failed",
			slog.String("hash_project_id", hashProjectID),
			slog.Any("error", err))

		return
	}
	if !resp.Authenticated || resp.ParticipantCount < 1 {
		svc.logger.Warn("coordinator rejected project",
			slog.String("hash_project_id", hashProjectID))

		return
	}

	svc.mu.Lock()
	if _, ok := svc.sessions[hashProjectID]; !ok {
		svc.sessions[hashProjectID] = newSession(hashProjectID, resp.ParticipantCount, svc.clock)
	}
	svc.mu.Unlock()

	svc.logger.Info("project session established",
		slog.String("hash_project_id", hashProjectID),
		slog.Int("participants", resp.ParticipantCount))
}

// aggregateAndForward consumes the full round and pushes the consolidated
// report to the coordinator. The network-send duration reported is the
// previous round's, since this round's cannot be known before the request
// completes.
func (svc *service) aggregateAndForward(s *session) {
	out, serverURL, aggErr := s.aggregate()
	if serverURL == "" {
		return
	}
	if aggErr != nil {
		svc.logger.Warn("noise aggregation failed, reporting failed round",
			slog.String("hash_project_id", out.HashProjectID),
			slog.Any("error", aggErr))
	}

	out.NetworkSend = s.networkSend.ThisRound()
	s.networkSend.NewRound()

	s.networkSend.Start()
	err := svc.post(serverURL+compensationPath, out, nil)
	s.networkSend.Stop()
	if err != nil {
		svc.logger.Error("failed to forward compensation",
			slog.String("hash_project_id", out.HashProjectID),
			slog.Any("error", err))

		return
	}

	svc.logger.Info("compensation forwarded",
		slog.String("hash_project_id", out.HashProjectID),
		slog.String("step", out.Step),
		slog.Int("comm_round", out.CommRound))
}

func (svc *service) post(url string, body, out any) error {
	raw, err := cbor.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", api.ContentTypeCBOR)

	resp, err := svc.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: coordinator answered %d", pkgerrors.ErrNotAuthorized, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	return cbor.NewDecoder(resp.Body).Decode(out)
}

// RunGC purges sessions untouched for longer than the configured maximum
// age, so a client or coordinator going permanently offline cannot leak
// memory indefinitely.
func (svc *service) RunGC(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-svc.clock.After(interval):
			svc.collectGarbage()
		}
	}
}

func (svc *service) collectGarbage() {
	cutoff := svc.clock.Now().Add(-svc.cfg.MaxSessionAge)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	for hash, s := range svc.sessions {
		if s.touched().Before(cutoff) {
			delete(svc.sessions, hash)
			svc.logger.Info("purged stale session", slog.String("hash_project_id", hash))
		}
	}
}
