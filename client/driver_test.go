package client

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/aggregate"
	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedHandler delegates every step to a test-provided function.
type scriptedHandler struct {
	fn func(step string, globals protocol.Params) (algorithm.StepResult, error)
}

func (h *scriptedHandler) ComputeStep(_ context.Context, step string, globals protocol.Params) (algorithm.StepResult, error) {
	return h.fn(step, globals)
}

func writeCBOR(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	raw, err := cbor.Marshal(v)
	require.NoError(t, err)
	_, _ = w.Write(raw)
}

// fakeServer scripts the coordinator's protocol surface for one client: the
// first poll answers with the client's own round, the next polls open round
// one, and any poll after the upload ends the project.
type fakeServer struct {
	mu        sync.Mutex
	syncCalls int
	uploads   []protocol.ClientParameters

	finalStatus protocol.ProjectStatus
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(joinPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.JoinResponse{Joined: true})
	})
	mux.HandleFunc(infoPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.ProjectInfoResponse{ProjectID: "proj-1", Algorithm: "test", Name: "demo"})
	})
	mux.HandleFunc(startedPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.StartedResponse{Started: true})
	})
	mux.HandleFunc(syncPath, func(w http.ResponseWriter, r *http.Request) {
		var req protocol.SyncRequest
		require.NoError(t, cbor.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.syncCalls++

		resp := protocol.GlobalParameters{ProjectID: "proj-1"}
		switch {
		case len(f.uploads) > 0:
			resp.Status = f.finalStatus
			resp.Step = protocol.StepFinished
			resp.CommRound = 2
			resp.Parameters = protocol.Params{"total": protocol.Int(45)}
		case f.syncCalls == 1:
			// Round still aggregating: same round as the client, no bag.
			resp.Status = protocol.StatusParametersReady
			resp.Step = protocol.StepInit
			resp.CommRound = req.CommRound
		default:
			resp.Status = protocol.StatusParametersReady
			resp.Step = protocol.StepInit
			resp.CommRound = 1
		}
		writeCBOR(t, w, resp)
	})
	mux.HandleFunc(uploadPath, func(w http.ResponseWriter, r *http.Request) {
		var cp protocol.ClientParameters
		require.NoError(t, cbor.NewDecoder(r.Body).Decode(&cp))

		f.mu.Lock()
		f.uploads = append(f.uploads, cp)
		f.mu.Unlock()
	})
	mux.HandleFunc(resultPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("archive"))
	})

	return mux
}

func (f *fakeServer) uploaded() []protocol.ClientParameters {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.ClientParameters, len(f.uploads))
	copy(out, f.uploads)

	return out
}

func testConfig(serverURL string) Config {
	return Config{
		ServerURL:       serverURL,
		CompensatorURL:  serverURL,
		ProjectID:       "proj-1",
		Username:        "alice",
		Token:           "tok-1",
		InquiryPeriod:   time.Millisecond,
		InquiryTimeout:  time.Second,
		UploadTimeout:   time.Second,
		DownloadTimeout: time.Second,
	}
}

func newTestDriver(t *testing.T, cfg Config, handler algorithm.ClientHandler) *Driver {
	t.Helper()

	d, err := NewDriver(DriverOptions{
		Config:  cfg,
		Handler: handler,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:    rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	return d
}

func TestNewDriverValidation(t *testing.T) {
	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		return algorithm.StepResult{}, nil
	}}

	_, err := NewDriver(DriverOptions{Config: Config{}, Handler: handler})
	assert.Error(t, err, "config must be validated")

	_, err = NewDriver(DriverOptions{Config: testConfig("http://localhost:8000")})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData, "handler is required")
}

// One full unmasked pass: join, wait for start, retry a gap-zero poll, run
// the Init step, upload, observe Finished, and fetch the result archive.
func TestDriverRunsProject(t *testing.T) {
	server := &fakeServer{finalStatus: protocol.StatusDone}
	srv := httptest.NewServer(server.handler(t))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.ResultDir = t.TempDir()

	handler := &scriptedHandler{fn: func(step string, _ protocol.Params) (algorithm.StepResult, error) {
		require.Equal(t, protocol.StepInit, step)

		return algorithm.StepResult{
			Parameters: protocol.Params{"count": protocol.Int(5)},
			DataTypes:  protocol.DataTypes{"count": protocol.NonNegativeInteger},
		}, nil
	}}

	d := newTestDriver(t, cfg, handler)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, StatusDone, d.Status())

	uploads := server.uploaded()
	require.Len(t, uploads, 1)
	assert.Equal(t, protocol.StepInit, uploads[0].Step)
	assert.Equal(t, 1, uploads[0].CommRound)
	assert.Equal(t, protocol.OpDone, uploads[0].OperationStatus)
	assert.False(t, uploads[0].Masked)
	assert.Equal(t, protocol.Int(5), uploads[0].Parameters["count"])

	archive, err := os.ReadFile(filepath.Join(cfg.ResultDir, "proj-1-result.zip"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(archive))
}

// A client two rounds behind the server can never catch up and must abort
// before computing anything.
func TestDriverRoundGapAborts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(joinPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.JoinResponse{Joined: true})
	})
	mux.HandleFunc(infoPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.ProjectInfoResponse{ProjectID: "proj-1"})
	})
	mux.HandleFunc(startedPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.StartedResponse{Started: true})
	})
	computed := false
	mux.HandleFunc(syncPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.GlobalParameters{
			ProjectID: "proj-1",
			Status:    protocol.StatusParametersReady,
			Step:      "Sum",
			CommRound: 7,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		computed = true

		return algorithm.StepResult{}, nil
	}}

	d := newTestDriver(t, testConfig(srv.URL), handler)
	d.commRound = 5

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrDesync)
	assert.Equal(t, StatusAborted, d.Status())
	assert.False(t, computed)
}

func TestDriverJoinRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(joinPath, func(w http.ResponseWriter, r *http.Request) {
		writeCBOR(t, w, protocol.JoinResponse{Joined: false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		return algorithm.StepResult{}, nil
	}}

	d := newTestDriver(t, testConfig(srv.URL), handler)
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
	assert.Equal(t, StatusAborted, d.Status())
}

// A failing computation must not crash the driver: the round is uploaded
// with a Failed operation status and the project's failure ends the run.
func TestDriverComputeFailureUploadsFailedStatus(t *testing.T) {
	server := &fakeServer{finalStatus: protocol.StatusFailed}
	srv := httptest.NewServer(server.handler(t))
	defer srv.Close()

	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		return algorithm.StepResult{}, pkgerrors.ErrInvalidData
	}}

	d := newTestDriver(t, testConfig(srv.URL), handler)
	err := d.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusAborted, d.Status())

	uploads := server.uploaded()
	require.Len(t, uploads, 1)
	assert.Equal(t, protocol.OpFailed, uploads[0].OperationStatus)
	assert.Empty(t, uploads[0].Parameters)
}

// A masked step sends the masked bag to the coordinator and the raw noise to
// the compensator, and the two must cancel exactly.
func TestDriverMaskedUploadPairing(t *testing.T) {
	server := &fakeServer{finalStatus: protocol.StatusDone}
	srv := httptest.NewServer(server.handler(t))
	defer srv.Close()

	var (
		noiseMu sync.Mutex
		noises  []protocol.NoiseParameters
	)
	compMux := http.NewServeMux()
	compMux.HandleFunc(noisePath, func(w http.ResponseWriter, r *http.Request) {
		var np protocol.NoiseParameters
		require.NoError(t, cbor.NewDecoder(r.Body).Decode(&np))

		noiseMu.Lock()
		noises = append(noises, np)
		noiseMu.Unlock()

		writeCBOR(t, w, protocol.NoiseResponse{ShouldRetry: false})
	})
	comp := httptest.NewServer(compMux)
	defer comp.Close()

	cfg := testConfig(srv.URL)
	cfg.CompensatorURL = comp.URL

	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		return algorithm.StepResult{}, nil
	}}
	d := newTestDriver(t, cfg, handler)
	d.step = "TicToc"
	d.commRound = 2
	d.opStatus = protocol.OpDone

	err := d.sendClientParameters(context.Background(), algorithm.StepResult{
		Parameters: protocol.Params{"toc": protocol.Int(5)},
		DataTypes:  protocol.DataTypes{"toc": protocol.NonNegativeInteger},
		Masked:     true,
	})
	require.NoError(t, err)
	assert.True(t, d.lastMasked)

	uploads := server.uploaded()
	require.Len(t, uploads, 1)
	noiseMu.Lock()
	require.Len(t, noises, 1)
	np := noises[0]
	noiseMu.Unlock()

	cp := uploads[0]
	assert.True(t, cp.Masked)
	assert.Equal(t, "TicToc", cp.Step)
	assert.Equal(t, 2, cp.CommRound)

	// Identities reach the compensator only as one-way hashes.
	assert.Equal(t, protocol.Hash("proj-1"), np.HashProjectID)
	assert.Equal(t, protocol.Hash("alice"), np.HashUsername)
	assert.Equal(t, protocol.Hash("tok-1"), np.HashToken)
	assert.Equal(t, srv.URL, np.ServerURL)
	assert.Equal(t, protocol.NonNegativeInteger, np.DataTypes["toc"])

	// Folding the negated noise back in recovers the hidden value.
	negated, err := aggregate.Negate(np.Parameters["toc"], protocol.NonNegativeInteger)
	require.NoError(t, err)
	recovered, err := aggregate.Sum([]protocol.Value{cp.Parameters["toc"], negated}, protocol.NonNegativeInteger)
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(5), recovered)
}

// The first unmasked step after a run of masked ones is turned into an empty
// masked send, so the compensator flushes its final totals to the server.
func TestDriverMaskedFlushBeforeResult(t *testing.T) {
	server := &fakeServer{finalStatus: protocol.StatusDone}
	srv := httptest.NewServer(server.handler(t))
	defer srv.Close()

	var flushed atomic.Bool
	compMux := http.NewServeMux()
	compMux.HandleFunc(noisePath, func(w http.ResponseWriter, r *http.Request) {
		var np protocol.NoiseParameters
		require.NoError(t, cbor.NewDecoder(r.Body).Decode(&np))
		assert.Empty(t, np.Parameters)
		flushed.Store(true)

		writeCBOR(t, w, protocol.NoiseResponse{ShouldRetry: false})
	})
	comp := httptest.NewServer(compMux)
	defer comp.Close()

	cfg := testConfig(srv.URL)
	cfg.CompensatorURL = comp.URL

	handler := &scriptedHandler{fn: func(string, protocol.Params) (algorithm.StepResult, error) {
		return algorithm.StepResult{}, nil
	}}
	d := newTestDriver(t, cfg, handler)
	d.step = protocol.StepResult
	d.commRound = 4
	d.opStatus = protocol.OpDone
	d.lastMasked = true

	err := d.sendClientParameters(context.Background(), algorithm.StepResult{
		Parameters: protocol.Params{},
	})
	require.NoError(t, err)

	uploads := server.uploaded()
	require.Len(t, uploads, 1)
	assert.True(t, uploads[0].Masked)
	assert.Empty(t, uploads[0].Parameters)
	assert.True(t, flushed.Load())
}
