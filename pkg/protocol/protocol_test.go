package protocol

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	// Well-known SHA-256 digest of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	assert.Equal(t, Hash("alice"), Hash("alice"))
	assert.NotEqual(t, Hash("alice"), Hash("bob"))
}

func TestHashSetOrderIndependent(t *testing.T) {
	a := []string{Hash("alice"), Hash("bob"), Hash("carol")}
	b := []string{Hash("carol"), Hash("alice"), Hash("bob")}

	assert.Equal(t, HashSet(a), HashSet(b))
	assert.NotEqual(t, HashSet(a), HashSet(a[:2]))
}

func TestClientParametersRoundTrip(t *testing.T) {
	in := ClientParameters{
		Auth: Auth{
			Username:  "alice",
			Token:     "tok-1",
			ProjectID: "proj-1",
		},
		Step:            "Sum",
		CommRound:       2,
		OperationStatus: OpDone,
		Masked:          true,
		Parameters: Params{
			"count":  Int(10),
			"ratios": FloatArrayValue([]float64{0.25, 0.75}),
			"counts": IntArrayList([][]int64{{1, 2}, {3}}),
		},
	}

	data, err := cbor.Marshal(in)
	require.NoError(t, err)

	var out ClientParameters
	require.NoError(t, cbor.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestParamsNames(t *testing.T) {
	p := Params{
		"zeta":  Int(1),
		"alpha": Int(2),
		"mid":   Int(3),
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, p.Names())
}

func TestParamsSameNames(t *testing.T) {
	tests := []struct {
		name  string
		a     Params
		b     Params
		equal bool
	}{
		{
			name:  "same names different values",
			a:     Params{"x": Int(1), "y": Int(2)},
			b:     Params{"x": Int(9), "y": Int(8)},
			equal: true,
		},
		{
			name:  "missing name",
			a:     Params{"x": Int(1), "y": Int(2)},
			b:     Params{"x": Int(1)},
			equal: false,
		},
		{
			name:  "different name",
			a:     Params{"x": Int(1)},
			b:     Params{"z": Int(1)},
			equal: false,
		},
		{
			name:  "both empty",
			a:     Params{},
			b:     Params{},
			equal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.SameNames(tt.b))
		})
	}
}

func TestDataTypeFamilies(t *testing.T) {
	tests := []struct {
		dataType DataType
		modular  bool
		kind     Kind
	}{
		{NonNegativeInteger, true, KindInt},
		{NegativeInteger, false, KindInt},
		{Float, false, KindFloat},
		{NonNegativeIntegerArray, true, KindIntArray},
		{NegativeIntegerArray, false, KindIntArray},
		{FloatArray, false, KindFloatArray},
		{ListOfNonNegativeIntegerArray, true, KindIntArrayList},
		{ListOfNegativeIntegerArray, false, KindIntArrayList},
		{ListOfFloatArray, false, KindFloatArrayList},
	}

	for _, tt := range tests {
		t.Run(tt.dataType.String(), func(t *testing.T) {
			assert.Equal(t, tt.modular, tt.dataType.Modular())
			assert.Equal(t, tt.kind, tt.dataType.ValueKind())
		})
	}
}

func TestProjectStatusTerminal(t *testing.T) {
	for _, s := range []ProjectStatus{StatusDone, StatusFailed, StatusAborted} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []ProjectStatus{StatusCreated, StatusParametersReady, StatusAggregating, StatusWaitingForCompensator} {
		assert.False(t, s.Terminal(), string(s))
	}
}
