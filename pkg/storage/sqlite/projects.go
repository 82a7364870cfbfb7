package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
)

type projectRepo struct {
	db *Database
}

func NewProjectRepository(db *Database) storage.ProjectRecords {
	return &projectRepo{db: db}
}

type dbProject struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	Algorithm        string    `db:"algorithm"`
	Creator          string    `db:"creator"`
	Status           string    `db:"status"`
	Step             string    `db:"step"`
	CommRound        int       `db:"comm_round"`
	ParticipantCount int       `db:"participant_count"`
	ResultDir        string    `db:"result_dir"`
	Config           []byte    `db:"config"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *projectRepo) Create(ctx context.Context, rec storage.ProjectRecord) error {
	query := `INSERT INTO projects (id, name, description, algorithm, creator, status, step, comm_round, participant_count, result_dir, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	config, err := jsonBytes(rec.Config)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Description, rec.Algorithm, rec.Creator,
		string(rec.Status), rec.Step, rec.CommRound, rec.ParticipantCount,
		rec.ResultDir, config, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *projectRepo) Get(ctx context.Context, id string) (storage.ProjectRecord, error) {
	query := `SELECT id, name, description, algorithm, creator, status, step, comm_round, participant_count, result_dir, config, created_at, updated_at
		FROM projects WHERE id = ?`

	var dbp dbProject
	if err := r.db.GetContext(ctx, &dbp, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ProjectRecord{}, pkgerrors.ErrNotFound
		}

		return storage.ProjectRecord{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toRecord(dbp)
}

func (r *projectRepo) Update(ctx context.Context, rec storage.ProjectRecord) error {
	query := `UPDATE projects SET
		name = ?,
		description = ?,
		algorithm = ?,
		creator = ?,
		status = ?,
		step = ?,
		comm_round = ?,
		participant_count = ?,
		result_dir = ?,
		updated_at = ?
	WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		rec.Name, rec.Description, rec.Algorithm, rec.Creator,
		string(rec.Status), rec.Step, rec.CommRound, rec.ParticipantCount,
		rec.ResultDir, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound
	}

	return nil
}

func (r *projectRepo) List(ctx context.Context, offset, limit uint64) ([]storage.ProjectRecord, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM projects`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT id, name, description, algorithm, creator, status, step, comm_round, participant_count, result_dir, config, created_at, updated_at
		FROM projects ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var dbps []dbProject
	if err := r.db.SelectContext(ctx, &dbps, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	records := make([]storage.ProjectRecord, len(dbps))
	for i, dbp := range dbps {
		rec, err := toRecord(dbp)
		if err != nil {
			return nil, 0, err
		}
		records[i] = rec
	}

	return records, total, nil
}

func (r *projectRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func (r *projectRepo) SaveTimers(ctx context.Context, projectID string, timers map[string]time.Duration) error {
	query := `INSERT INTO timers (project_id, name, duration_ns) VALUES (?, ?, ?)
		ON CONFLICT (project_id, name) DO UPDATE SET duration_ns = excluded.duration_ns`

	for name, d := range timers {
		if _, err := r.db.ExecContext(ctx, query, projectID, name, int64(d)); err != nil {
			return fmt.Errorf("%w: %w", ErrUpdate, err)
		}
	}

	return nil
}

func (r *projectRepo) SaveTraffic(ctx context.Context, projectID string, traffic map[string]uint64) error {
	query := `INSERT INTO traffic (project_id, direction, bytes) VALUES (?, ?, ?)
		ON CONFLICT (project_id, direction) DO UPDATE SET bytes = excluded.bytes`

	for direction, n := range traffic {
		if _, err := r.db.ExecContext(ctx, query, projectID, direction, int64(n)); err != nil {
			return fmt.Errorf("%w: %w", ErrUpdate, err)
		}
	}

	return nil
}

func toRecord(dbp dbProject) (storage.ProjectRecord, error) {
	var config protocol.Params
	if len(dbp.Config) > 0 {
		if err := json.Unmarshal(dbp.Config, &config); err != nil {
			return storage.ProjectRecord{}, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return storage.ProjectRecord{
		ID:               dbp.ID,
		Name:             dbp.Name,
		Description:      dbp.Description,
		Algorithm:        dbp.Algorithm,
		Creator:          dbp.Creator,
		Status:           protocol.ProjectStatus(dbp.Status),
		Step:             dbp.Step,
		CommRound:        dbp.CommRound,
		ParticipantCount: dbp.ParticipantCount,
		ResultDir:        dbp.ResultDir,
		Config:           config,
		CreatedAt:        dbp.CreatedAt,
		UpdatedAt:        dbp.UpdatedAt,
	}, nil
}

func jsonBytes(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}
