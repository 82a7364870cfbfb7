// Package compensator implements the noise-cancellation service. Clients
// send it their raw mask values under hashed identities; once every expected
// participant has reported, the negated type-aware sum is forwarded to the
// coordinator named in the reports. The compensator never learns a project id
// or participant identity in plaintext.
package compensator

import (
	"context"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

type Service interface {
	// UploadNoise records one participant's mask values. The response tells
	// the client to retry later while the compensator is still
	// authenticating the project with the coordinator.
	UploadNoise(ctx context.Context, req protocol.NoiseParameters, size uint64) (protocol.NoiseResponse, error)

	// SessionCount reports how many project sessions are live.
	SessionCount(ctx context.Context) (int, error)

	// RunGC blocks, periodically purging sessions untouched for longer
	// than the configured maximum age, until the context is cancelled.
	RunGC(ctx context.Context, interval time.Duration)
}
