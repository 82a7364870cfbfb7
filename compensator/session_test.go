package compensator

import (
	"testing"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseReport(username string, round int, noise int64) protocol.NoiseParameters {
	return protocol.NoiseParameters{
		HashProjectID: protocol.Hash("proj-1"),
		HashUsername:  protocol.Hash(username),
		HashToken:     protocol.Hash(username + "-token"),
		Step:          protocol.StepInit,
		CommRound:     round,
		ServerURL:     "http://server:8000",
		Parameters:    protocol.Params{"count": protocol.Int(noise)},
		DataTypes:     protocol.DataTypes{"count": protocol.NonNegativeInteger},
	}
}

func TestSessionAdd(t *testing.T) {
	s := newSession(protocol.Hash("proj-1"), 3, clockwork.NewFakeClock())

	full, err := s.add(noiseReport("alice", 1, 100), 64)
	require.NoError(t, err)
	assert.False(t, full)

	// The first report fixed the round; other rounds are rejected.
	_, err = s.add(noiseReport("bob", 2, 50), 64)
	assert.ErrorIs(t, err, pkgerrors.ErrDesync)

	// One report per participant per round.
	_, err = s.add(noiseReport("alice", 1, 100), 64)
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)

	full, err = s.add(noiseReport("bob", 1, 50), 64)
	require.NoError(t, err)
	assert.False(t, full)

	full, err = s.add(noiseReport("carol", 1, 25), 64)
	require.NoError(t, err)
	assert.True(t, full)
}

func TestSessionAggregate(t *testing.T) {
	s := newSession(protocol.Hash("proj-1"), 2, clockwork.NewFakeClock())

	_, err := s.add(noiseReport("alice", 4, 100), 10)
	require.NoError(t, err)
	full, err := s.add(noiseReport("bob", 4, 40), 15)
	require.NoError(t, err)
	require.True(t, full)

	out, serverURL, err := s.aggregate()
	require.NoError(t, err)

	assert.Equal(t, "http://server:8000", serverURL)
	assert.Equal(t, protocol.Hash("proj-1"), out.HashProjectID)
	assert.Equal(t, protocol.StepInit, out.Step)
	assert.Equal(t, 4, out.CommRound)
	assert.Equal(t, protocol.OpDone, out.OperationStatus)
	assert.Equal(t, uint64(25), out.ClientTraffic)

	// The identity digests must match what the coordinator computes over the
	// same participant set, in whatever order it holds them.
	assert.Equal(t, protocol.HashSet([]string{protocol.Hash("bob"), protocol.Hash("alice")}), out.HashUsernames)
	assert.Equal(t, protocol.HashSet([]string{protocol.Hash("alice-token"), protocol.Hash("bob-token")}), out.HashTokens)

	// Negated modular sum of 100 and 40.
	assert.Equal(t, protocol.Int(aggregate.Modulus-140), out.Parameters["count"])

	// The round was consumed; a second aggregation has nothing to work with.
	_, _, err = s.aggregate()
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData)
}

func TestSessionAggregateInconsistentRound(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*protocol.NoiseParameters)
		wantErr error
	}{
		{
			name:    "disagreeing steps",
			mutate:  func(np *protocol.NoiseParameters) { np.Step = "Sum" },
			wantErr: pkgerrors.ErrDesync,
		},
		{
			name:    "disagreeing server URLs",
			mutate:  func(np *protocol.NoiseParameters) { np.ServerURL = "http://other:8000" },
			wantErr: pkgerrors.ErrDesync,
		},
		{
			name: "disagreeing parameter names",
			mutate: func(np *protocol.NoiseParameters) {
				np.Parameters = protocol.Params{"other": protocol.Int(1)}
			},
			wantErr: pkgerrors.ErrDesync,
		},
		{
			name: "missing data type",
			mutate: func(np *protocol.NoiseParameters) {
				np.DataTypes = protocol.DataTypes{}
			},
			wantErr: pkgerrors.ErrInvalidData,
		},
		{
			name: "mismatched value shape",
			mutate: func(np *protocol.NoiseParameters) {
				np.Parameters = protocol.Params{"count": protocol.FloatValue(1.5)}
			},
			wantErr: pkgerrors.ErrInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(protocol.Hash("proj-1"), 2, clockwork.NewFakeClock())

			_, err := s.add(noiseReport("alice", 1, 10), 0)
			require.NoError(t, err)

			second := noiseReport("bob", 1, 20)
			tt.mutate(&second)
			full, err := s.add(second, 0)
			require.NoError(t, err)
			require.True(t, full)

			out, serverURL, err := s.aggregate()
			assert.ErrorIs(t, err, tt.wantErr)

			// The failed round is still forwarded so the project fails
			// visibly instead of timing out on the coordinator.
			assert.NotEmpty(t, serverURL)
			assert.Equal(t, protocol.OpFailed, out.OperationStatus)
			assert.Nil(t, out.Parameters)
		})
	}
}
