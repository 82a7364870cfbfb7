package compensator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/monitor"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// report is one participant's noise contribution for the round being
// collected.
type report struct {
	usernameHash string
	tokenHash    string
	step         string
	serverURL    string
	parameters   protocol.Params
	dataTypes    protocol.DataTypes
}

// session accumulates noise reports for one project, identified only by the
// hash of its id. It collects exactly one round at a time.
type session struct {
	mu sync.Mutex

	hashProjectID string
	expected      int

	commRound int
	reports   []report

	lastTouched time.Time

	computation *monitor.Timer
	networkSend *monitor.Timer
	traffic     *monitor.Counter
	clock       clockwork.Clock
}

func newSession(hashProjectID string, expected int, clock clockwork.Clock) *session {
	return &session{
		hashProjectID: hashProjectID,
		expected:      expected,
		clock:         clock,
		lastTouched:   clock.Now(),
		computation:   monitor.NewTimerWithClock("computation", clock),
		networkSend:   monitor.NewTimerWithClock("network-send", clock),
		traffic:       monitor.NewCounter("client-to-compensator"),
	}
}

// add appends a report and says whether the round is now full. The first
// report of a round fixes the round number; reports tagged with any other
// round are rejected, as are duplicate reports from the same participant.
// Other inconsistencies are kept and fail the whole round at aggregation.
func (s *session) add(np protocol.NoiseParameters, size uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTouched = s.clock.Now()

	if len(s.reports) == 0 {
		s.commRound = np.CommRound
	} else if np.CommRound != s.commRound {
		return false, errors.Join(pkgerrors.ErrDesync,
			fmt.Errorf("report for round %d while collecting round %d", np.CommRound, s.commRound))
	}

	for _, r := range s.reports {
		if r.usernameHash == np.HashUsername {
			return false, pkgerrors.ErrEntityExists
		}
	}

	s.reports = append(s.reports, report{
		usernameHash: np.HashUsername,
		tokenHash:    np.HashToken,
		step:         np.Step,
		serverURL:    np.ServerURL,
		parameters:   np.Parameters,
		dataTypes:    np.DataTypes,
	})
	s.traffic.Increment(size)

	return len(s.reports) == s.expected, nil
}

func (s *session) touched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastTouched
}

// aggregate consumes the collected round and produces the consolidated
// report for the coordinator. Preconditions: every report shares the step,
// the server URL, and the parameter name set. Any violation, or an
// aggregation error, turns the whole round into a Failed report; the server
// still receives it so the project fails visibly rather than timing out.
// The server URL to forward to is returned alongside.
func (s *session) aggregate() (protocol.CompensationParameters, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.reports) == 0 {
		return protocol.CompensationParameters{}, "", pkgerrors.ErrInvalidData
	}

	s.computation.Start()

	usernameHashes := make([]string, len(s.reports))
	tokenHashes := make([]string, len(s.reports))
	for i, r := range s.reports {
		usernameHashes[i] = r.usernameHash
		tokenHashes[i] = r.tokenHash
	}

	out := protocol.CompensationParameters{
		HashProjectID:   s.hashProjectID,
		HashUsernames:   protocol.HashSet(usernameHashes),
		HashTokens:      protocol.HashSet(tokenHashes),
		Step:            s.reports[0].step,
		CommRound:       s.commRound,
		OperationStatus: protocol.OpDone,
		ClientTraffic:   s.traffic.Total(),
	}
	serverURL := s.reports[0].serverURL

	params, err := s.negatedNoiseSum()
	if err != nil {
		out.OperationStatus = protocol.OpFailed
		out.Parameters = nil
	} else {
		out.Parameters = params
	}

	s.computation.Stop()
	out.Computation = s.computation.ThisRound()
	s.computation.NewRound()

	s.reports = nil

	return out, serverURL, err
}

func (s *session) negatedNoiseSum() (protocol.Params, error) {
	first := s.reports[0]
	for _, r := range s.reports[1:] {
		if r.step != first.step {
			return nil, errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("reports disagree on step: %q vs %q", r.step, first.step))
		}
		if r.serverURL != first.serverURL {
			return nil, errors.Join(pkgerrors.ErrDesync,
				fmt.Errorf("reports disagree on server URL"))
		}
		if !r.parameters.SameNames(first.parameters) {
			return nil, errors.Join(pkgerrors.ErrDesync,
				errors.New("reports disagree on parameter names"))
		}
	}

	out := make(protocol.Params, len(first.parameters))
	for _, name := range first.parameters.Names() {
		dt, ok := first.dataTypes[name]
		if !ok {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("parameter %q has no data type", name))
		}
		values := make([]protocol.Value, len(s.reports))
		for i, r := range s.reports {
			values[i] = r.parameters[name]
		}
		sum, err := aggregate.Sum(values, dt)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		neg, err := aggregate.Negate(sum, dt)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = neg
	}

	return out, nil
}
