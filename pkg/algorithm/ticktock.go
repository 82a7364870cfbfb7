package algorithm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

// Tick-tock is a toy hash-chain algorithm: every round the participants'
// tocs are summed and folded into a running hash. Useful for exercising the
// masked integer path end to end.
const (
	TickTockName = "ticktock"

	StepTicToc = "TicToc"

	paramToc    = "toc"
	paramTic    = "tic"
	paramRounds = "rounds"

	tickTockResultFile = "chain.txt"

	defTickTockRounds = 3
)

type tickTockServer struct {
	chain     string
	rounds    int64
	maxRounds int64
}

// NewTickTockServer reads the number of tic-toc rounds from the project's
// algorithm configuration.
func NewTickTockServer(config protocol.Params) (Handler, error) {
	maxRounds := int64(defTickTockRounds)
	if v, ok := config[paramRounds]; ok {
		if v.Kind != protocol.KindInt || v.Int < 1 {
			return nil, errors.Join(pkgerrors.ErrInvalidData, errors.New("ticktock: rounds must be a positive integer"))
		}
		maxRounds = v.Int
	}

	return &tickTockServer{maxRounds: maxRounds}, nil
}

func (s *tickTockServer) RunStep(_ context.Context, round Round) (string, protocol.Params, error) {
	switch round.Step {
	case protocol.StepInit:
		s.chain = protocol.Hash(paramTic)

		return StepTicToc, protocol.Params{paramTic: protocol.Int(0)}, nil
	case StepTicToc:
		tocs, err := gather(round.Locals, paramToc)
		if err != nil {
			return "", nil, err
		}
		total, err := aggregate.Sum(tocs, protocol.NonNegativeInteger)
		if err != nil {
			return "", nil, err
		}
		s.chain = protocol.Hash(s.chain + strconv.FormatInt(total.Int, 10))
		s.rounds++
		if s.rounds >= s.maxRounds {
			return protocol.StepResult, protocol.Params{paramTic: total}, nil
		}

		return StepTicToc, protocol.Params{paramTic: total}, nil
	case protocol.StepResult:
		path := filepath.Join(round.ResultDir, tickTockResultFile)
		if err := os.WriteFile(path, []byte(s.chain+"\n"), 0o600); err != nil {
			return "", nil, err
		}

		return protocol.StepFinished, protocol.Params{}, nil
	default:
		return "", nil, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("ticktock: unknown step %q", round.Step))
	}
}

// TickTockClient reports a fixed toc every round.
type TickTockClient struct {
	toc    int64
	masked bool
}

func NewTickTockClient(toc int64, masked bool) *TickTockClient {
	return &TickTockClient{
		toc:    toc,
		masked: masked,
	}
}

func (c *TickTockClient) ComputeStep(_ context.Context, step string, _ protocol.Params) (StepResult, error) {
	switch step {
	case protocol.StepInit, protocol.StepResult:
		return StepResult{Parameters: protocol.Params{}}, nil
	case StepTicToc:
		return StepResult{
			Parameters: protocol.Params{paramToc: protocol.Int(c.toc)},
			DataTypes:  protocol.DataTypes{paramToc: protocol.NonNegativeInteger},
			Masked:     c.masked,
		}, nil
	default:
		return StepResult{}, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("ticktock: unknown step %q", step))
	}
}
