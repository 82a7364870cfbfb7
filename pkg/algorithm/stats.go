package algorithm

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

// Federated variance: participants never reveal their raw samples, only
// counts, per-feature sums, and squared errors against the global mean.
const (
	StatsName = "stats"

	StepSum = "Sum"
	StepSSE = "SSE"

	paramSampleCount = "sample_count"
	paramLocalSum    = "local_sum"
	paramSSE         = "sse"
	paramMean        = "mean"
	paramVariance    = "variance"

	statsResultFile = "variance.csv"
)

type statsServer struct {
	totalCount int64
	mean       []float64
	variance   []float64
}

// NewStatsServer builds the coordinator side of the variance algorithm.
func NewStatsServer(_ protocol.Params) (Handler, error) {
	return &statsServer{}, nil
}

func (s *statsServer) RunStep(_ context.Context, round Round) (string, protocol.Params, error) {
	switch round.Step {
	case protocol.StepInit:
		counts, err := gather(round.Locals, paramSampleCount)
		if err != nil {
			return "", nil, err
		}
		total, err := aggregate.Sum(counts, protocol.NonNegativeInteger)
		if err != nil {
			return "", nil, err
		}
		if total.Int == 0 {
			return "", nil, errors.Join(pkgerrors.ErrInvalidData, errors.New("zero samples across all participants"))
		}
		s.totalCount = total.Int

		return StepSum, protocol.Params{}, nil
	case StepSum:
		sums, err := gather(round.Locals, paramLocalSum)
		if err != nil {
			return "", nil, err
		}
		globalSum, err := aggregate.Sum(sums, protocol.FloatArray)
		if err != nil {
			return "", nil, err
		}
		s.mean = make([]float64, len(globalSum.Floats))
		for i, x := range globalSum.Floats {
			s.mean[i] = x / float64(s.totalCount)
		}

		return StepSSE, protocol.Params{paramMean: protocol.FloatArrayValue(s.mean)}, nil
	case StepSSE:
		sses, err := gather(round.Locals, paramSSE)
		if err != nil {
			return "", nil, err
		}
		globalSSE, err := aggregate.Sum(sses, protocol.FloatArray)
		if err != nil {
			return "", nil, err
		}
		s.variance = make([]float64, len(globalSSE.Floats))
		for i, x := range globalSSE.Floats {
			s.variance[i] = x / float64(s.totalCount)
		}

		return protocol.StepResult, protocol.Params{paramVariance: protocol.FloatArrayValue(s.variance)}, nil
	case protocol.StepResult:
		if err := s.writeResult(round.ResultDir); err != nil {
			return "", nil, err
		}

		return protocol.StepFinished, protocol.Params{}, nil
	default:
		return "", nil, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("stats: unknown step %q", round.Step))
	}
}

func (s *statsServer) writeResult(dir string) error {
	f, err := os.Create(filepath.Join(dir, statsResultFile))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"feature", "mean", "variance"}); err != nil {
		return err
	}
	for i := range s.variance {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatFloat(s.mean[i], 'g', -1, 64),
			strconv.FormatFloat(s.variance[i], 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()

	return w.Error()
}

// StatsClient computes one participant's contribution from its local sample
// matrix, one row per sample.
type StatsClient struct {
	samples [][]float64
	masked  bool
}

func NewStatsClient(samples [][]float64, masked bool) *StatsClient {
	return &StatsClient{
		samples: samples,
		masked:  masked,
	}
}

func (c *StatsClient) ComputeStep(_ context.Context, step string, globals protocol.Params) (StepResult, error) {
	switch step {
	case protocol.StepInit:
		return StepResult{
			Parameters: protocol.Params{paramSampleCount: protocol.Int(int64(len(c.samples)))},
			DataTypes:  protocol.DataTypes{paramSampleCount: protocol.NonNegativeInteger},
			Masked:     c.masked,
		}, nil
	case StepSum:
		sums := make([]float64, c.features())
		for _, row := range c.samples {
			for i, x := range row {
				sums[i] += x
			}
		}

		return StepResult{
			Parameters: protocol.Params{paramLocalSum: protocol.FloatArrayValue(sums)},
			DataTypes:  protocol.DataTypes{paramLocalSum: protocol.FloatArray},
			Masked:     c.masked,
		}, nil
	case StepSSE:
		mean, ok := globals[paramMean]
		if !ok || mean.Kind != protocol.KindFloatArray {
			return StepResult{}, errors.Join(pkgerrors.ErrInvalidData, errors.New("stats: global mean is missing"))
		}
		sse := make([]float64, c.features())
		for _, row := range c.samples {
			for i, x := range row {
				d := x - mean.Floats[i]
				sse[i] += d * d
			}
		}

		return StepResult{
			Parameters: protocol.Params{paramSSE: protocol.FloatArrayValue(sse)},
			DataTypes:  protocol.DataTypes{paramSSE: protocol.FloatArray},
			Masked:     c.masked,
		}, nil
	case protocol.StepResult:
		return StepResult{Parameters: protocol.Params{}}, nil
	default:
		return StepResult{}, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("stats: unknown step %q", step))
	}
}

func (c *StatsClient) features() int {
	if len(c.samples) == 0 {
		return 0
	}

	return len(c.samples[0])
}

func gather(locals map[string]protocol.Params, name string) ([]protocol.Value, error) {
	values := make([]protocol.Value, 0, len(locals))
	for contributor, bag := range locals {
		v, ok := bag[name]
		if !ok {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("contributor %s did not report %q", contributor, name))
		}
		values = append(values, v)
	}

	return values, nil
}
