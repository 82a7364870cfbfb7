// Package aggregate implements the type-aware combination rules of the
// masking scheme. Values of the non-negative integer family are combined
// modulo a fixed prime so that mask cancellation is exact under wrap-around;
// the signed families are combined with plain elementwise sums.
package aggregate

import (
	"errors"
	"fmt"
	"math/rand"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

// Modulus is the largest prime below 2^54. It stays exactly representable in
// a double, which keeps the modular family safe to exchange with parties that
// deserialize integers into floats.
const Modulus int64 = 18014398509481951

// noiseSpan is the width of the noise range [-2^31, 2^31).
const noiseSpan int64 = 1 << 32

const noiseMin int64 = -(1 << 31)

// mod normalizes x into [0, Modulus). Go's % keeps the sign of the dividend,
// so a second shift is needed for negative inputs.
func mod(x int64) int64 {
	return ((x % Modulus) + Modulus) % Modulus
}

// Sum combines same-typed values elementwise. All values must share the shape
// the data type prescribes; a mismatch returns a descriptive error instead of
// a partial result.
func Sum(values []protocol.Value, dt protocol.DataType) (protocol.Value, error) {
	if len(values) == 0 {
		return protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData, errors.New("no values to aggregate"))
	}
	for i, v := range values {
		if v.Kind != dt.ValueKind() {
			return protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("value %d is %s, %s expects %s", i, v.Kind, dt, dt.ValueKind()))
		}
	}

	switch dt.ValueKind() {
	case protocol.KindInt:
		var total int64
		for _, v := range values {
			total += v.Int
			if dt.Modular() {
				total = mod(total)
			}
		}

		return protocol.Int(total), nil
	case protocol.KindFloat:
		var total float64
		for _, v := range values {
			total += v.Float
		}

		return protocol.FloatValue(total), nil
	case protocol.KindIntArray:
		total, err := sumIntArrays(values, dt)
		if err != nil {
			return protocol.Value{}, err
		}

		return protocol.IntArray(total), nil
	case protocol.KindFloatArray:
		total, err := sumFloatArrays(values, dt)
		if err != nil {
			return protocol.Value{}, err
		}

		return protocol.FloatArrayValue(total), nil
	case protocol.KindIntArrayList:
		total, err := sumIntLists(values, dt)
		if err != nil {
			return protocol.Value{}, err
		}

		return protocol.IntArrayList(total), nil
	case protocol.KindFloatArrayList:
		total, err := sumFloatLists(values, dt)
		if err != nil {
			return protocol.Value{}, err
		}

		return protocol.FloatArrayList(total), nil
	default:
		return protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("unsupported data type %s", dt))
	}
}

func sumIntArrays(values []protocol.Value, dt protocol.DataType) ([]int64, error) {
	total := make([]int64, len(values[0].Ints))
	for i, v := range values {
		if len(v.Ints) != len(total) {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("array %d has length %d, expected %d", i, len(v.Ints), len(total)))
		}
		for j, x := range v.Ints {
			total[j] += x
			if dt.Modular() {
				total[j] = mod(total[j])
			}
		}
	}

	return total, nil
}

func sumFloatArrays(values []protocol.Value, _ protocol.DataType) ([]float64, error) {
	total := make([]float64, len(values[0].Floats))
	for i, v := range values {
		if len(v.Floats) != len(total) {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("array %d has length %d, expected %d", i, len(v.Floats), len(total)))
		}
		for j, x := range v.Floats {
			total[j] += x
		}
	}

	return total, nil
}

func sumIntLists(values []protocol.Value, dt protocol.DataType) ([][]int64, error) {
	total := make([][]int64, len(values[0].IntLists))
	for i := range total {
		total[i] = make([]int64, len(values[0].IntLists[i]))
	}
	for i, v := range values {
		if len(v.IntLists) != len(total) {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("list %d has length %d, expected %d", i, len(v.IntLists), len(total)))
		}
		for j, arr := range v.IntLists {
			if len(arr) != len(total[j]) {
				return nil, errors.Join(pkgerrors.ErrInvalidData,
					fmt.Errorf("list %d array %d has length %d, expected %d", i, j, len(arr), len(total[j])))
			}
			for k, x := range arr {
				total[j][k] += x
				if dt.Modular() {
					total[j][k] = mod(total[j][k])
				}
			}
		}
	}

	return total, nil
}

func sumFloatLists(values []protocol.Value, _ protocol.DataType) ([][]float64, error) {
	total := make([][]float64, len(values[0].FloatLists))
	for i := range total {
		total[i] = make([]float64, len(values[0].FloatLists[i]))
	}
	for i, v := range values {
		if len(v.FloatLists) != len(total) {
			return nil, errors.Join(pkgerrors.ErrInvalidData,
				fmt.Errorf("list %d has length %d, expected %d", i, len(v.FloatLists), len(total)))
		}
		for j, arr := range v.FloatLists {
			if len(arr) != len(total[j]) {
				return nil, errors.Join(pkgerrors.ErrInvalidData,
					fmt.Errorf("list %d array %d has length %d, expected %d", i, j, len(arr), len(total[j])))
			}
			for k, x := range arr {
				total[j][k] += x
			}
		}
	}

	return total, nil
}

// Negate flips the sign of a value under the data type's arithmetic. The
// compensator applies it to the summed noise so the server can fold the
// result in with one more Sum.
func Negate(v protocol.Value, dt protocol.DataType) (protocol.Value, error) {
	if v.Kind != dt.ValueKind() {
		return protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData,
			fmt.Errorf("value is %s, %s expects %s", v.Kind, dt, dt.ValueKind()))
	}

	neg := func(x int64) int64 {
		if dt.Modular() {
			return mod(-x)
		}

		return -x
	}

	switch v.Kind {
	case protocol.KindInt:
		return protocol.Int(neg(v.Int)), nil
	case protocol.KindFloat:
		return protocol.FloatValue(-v.Float), nil
	case protocol.KindIntArray:
		out := make([]int64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = neg(x)
		}

		return protocol.IntArray(out), nil
	case protocol.KindFloatArray:
		out := make([]float64, len(v.Floats))
		for i, x := range v.Floats {
			out[i] = -x
		}

		return protocol.FloatArrayValue(out), nil
	case protocol.KindIntArrayList:
		out := make([][]int64, len(v.IntLists))
		for i, arr := range v.IntLists {
			out[i] = make([]int64, len(arr))
			for j, x := range arr {
				out[i][j] = neg(x)
			}
		}

		return protocol.IntArrayList(out), nil
	case protocol.KindFloatArrayList:
		out := make([][]float64, len(v.FloatLists))
		for i, arr := range v.FloatLists {
			out[i] = make([]float64, len(arr))
			for j, x := range arr {
				out[i][j] = -x
			}
		}

		return protocol.FloatArrayList(out), nil
	default:
		return protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData, fmt.Errorf("unsupported value kind %s", v.Kind))
	}
}

// Mask hides a value behind additive noise drawn from [-2^31, 2^31), wide
// enough to statistically swamp realistic model values. It returns the masked
// value, which goes to the server, and the raw noise, which goes to the
// compensator. The modular family keeps the masked value inside [0, Modulus).
func Mask(v protocol.Value, dt protocol.DataType, rng *rand.Rand) (masked, noise protocol.Value, err error) {
	if v.Kind != dt.ValueKind() {
		return protocol.Value{}, protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData,
			fmt.Errorf("value is %s, %s expects %s", v.Kind, dt, dt.ValueKind()))
	}

	intNoise := func() int64 {
		return rng.Int63n(noiseSpan) + noiseMin
	}
	floatNoise := func() float64 {
		return rng.Float64()*float64(noiseSpan) + float64(noiseMin)
	}
	maskInt := func(x, n int64) int64 {
		if dt.Modular() {
			return mod(x + n)
		}

		return x + n
	}

	switch v.Kind {
	case protocol.KindInt:
		n := intNoise()

		return protocol.Int(maskInt(v.Int, n)), protocol.Int(n), nil
	case protocol.KindFloat:
		n := floatNoise()

		return protocol.FloatValue(v.Float + n), protocol.FloatValue(n), nil
	case protocol.KindIntArray:
		maskedArr := make([]int64, len(v.Ints))
		noiseArr := make([]int64, len(v.Ints))
		for i, x := range v.Ints {
			noiseArr[i] = intNoise()
			maskedArr[i] = maskInt(x, noiseArr[i])
		}

		return protocol.IntArray(maskedArr), protocol.IntArray(noiseArr), nil
	case protocol.KindFloatArray:
		maskedArr := make([]float64, len(v.Floats))
		noiseArr := make([]float64, len(v.Floats))
		for i, x := range v.Floats {
			noiseArr[i] = floatNoise()
			maskedArr[i] = x + noiseArr[i]
		}

		return protocol.FloatArrayValue(maskedArr), protocol.FloatArrayValue(noiseArr), nil
	case protocol.KindIntArrayList:
		maskedList := make([][]int64, len(v.IntLists))
		noiseList := make([][]int64, len(v.IntLists))
		for i, arr := range v.IntLists {
			maskedList[i] = make([]int64, len(arr))
			noiseList[i] = make([]int64, len(arr))
			for j, x := range arr {
				noiseList[i][j] = intNoise()
				maskedList[i][j] = maskInt(x, noiseList[i][j])
			}
		}

		return protocol.IntArrayList(maskedList), protocol.IntArrayList(noiseList), nil
	case protocol.KindFloatArrayList:
		maskedList := make([][]float64, len(v.FloatLists))
		noiseList := make([][]float64, len(v.FloatLists))
		for i, arr := range v.FloatLists {
			maskedList[i] = make([]float64, len(arr))
			noiseList[i] = make([]float64, len(arr))
			for j, x := range arr {
				noiseList[i][j] = floatNoise()
				maskedList[i][j] = x + noiseList[i][j]
			}
		}

		return protocol.FloatArrayList(maskedList), protocol.FloatArrayList(noiseList), nil
	default:
		return protocol.Value{}, protocol.Value{}, errors.Join(pkgerrors.ErrInvalidData,
			fmt.Errorf("unsupported value kind %s", v.Kind))
	}
}
