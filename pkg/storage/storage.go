// Package storage defines the persistent record stores behind the
// coordinator: project records and participant tokens. The protocol treats
// them as write-mostly sinks; only the token map is read back, at session
// start.
package storage

import (
	"context"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

// ProjectRecord is the durable view of a project: identity, lifecycle, and
// monitoring snapshots. Parameter bags are deliberately never persisted.
type ProjectRecord struct {
	ID               string                 `db:"id"                json:"id"`
	Name             string                 `db:"name"              json:"name"`
	Description      string                 `db:"description"       json:"description"`
	Algorithm        string                 `db:"algorithm"         json:"algorithm"`
	Creator          string                 `db:"creator"           json:"creator"`
	Status           protocol.ProjectStatus `db:"status"            json:"status"`
	Step             string                 `db:"step"              json:"step"`
	CommRound        int                    `db:"comm_round"        json:"comm_round"`
	ParticipantCount int                    `db:"participant_count" json:"participant_count"`
	ResultDir        string                 `db:"result_dir"        json:"result_dir"`
	Config           protocol.Params        `db:"-"                 json:"config,omitempty"`
	CreatedAt        time.Time              `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at"        json:"updated_at"`
}

// Token is one opaque credential issued for a (project, participant) slot.
// Username stays empty until a participant claims it.
type Token struct {
	Value     string    `db:"value"      json:"value"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Username  string    `db:"username"   json:"username"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
}

// Claimed reports whether a participant owns this token.
func (t Token) Claimed() bool {
	return t.Username != ""
}

type ProjectRecords interface {
	Create(ctx context.Context, rec ProjectRecord) error
	Get(ctx context.Context, id string) (ProjectRecord, error)
	Update(ctx context.Context, rec ProjectRecord) error
	List(ctx context.Context, offset, limit uint64) ([]ProjectRecord, uint64, error)
	Delete(ctx context.Context, id string) error

	// SaveTimers and SaveTraffic persist monitoring snapshots, replacing
	// any previous snapshot for the project.
	SaveTimers(ctx context.Context, projectID string, timers map[string]time.Duration) error
	SaveTraffic(ctx context.Context, projectID string, traffic map[string]uint64) error
}

type TokenStore interface {
	Create(ctx context.Context, t Token) error
	Get(ctx context.Context, value string) (Token, error)

	// Claim binds a token to a username, 1:1 within a project. Claiming an
	// already-owned token, or a second token with a username that already
	// owns one, fails with ErrNotAuthorized. Re-claiming one's own token is
	// a no-op.
	Claim(ctx context.Context, value, username string) (Token, error)

	ListByProject(ctx context.Context, projectID string) ([]Token, error)
	DeleteByProject(ctx context.Context, projectID string) error
}
