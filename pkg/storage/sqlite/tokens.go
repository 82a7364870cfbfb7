package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
)

type tokenRepo struct {
	db *Database
}

func NewTokenRepository(db *Database) storage.TokenStore {
	return &tokenRepo{db: db}
}

type dbToken struct {
	Value     string       `db:"value"`
	ProjectID string       `db:"project_id"`
	Username  string       `db:"username"`
	CreatedAt time.Time    `db:"created_at"`
	ClaimedAt sql.NullTime `db:"claimed_at"`
}

func (r *tokenRepo) Create(ctx context.Context, t storage.Token) error {
	query := `INSERT INTO tokens (value, project_id, username, created_at, claimed_at) VALUES (?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, t.Value, t.ProjectID, t.Username, t.CreatedAt, nullTime(t.ClaimedAt)); err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *tokenRepo) Get(ctx context.Context, value string) (storage.Token, error) {
	query := `SELECT value, project_id, username, created_at, claimed_at FROM tokens WHERE value = ?`

	var dbt dbToken
	if err := r.db.GetContext(ctx, &dbt, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Token{}, pkgerrors.ErrNotFound
		}

		return storage.Token{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toToken(dbt), nil
}

func (r *tokenRepo) Claim(ctx context.Context, value, username string) (storage.Token, error) {
	t, err := r.Get(ctx, value)
	if err != nil {
		return storage.Token{}, err
	}
	if t.Username == username {
		return t, nil
	}
	if t.Claimed() {
		return storage.Token{}, pkgerrors.ErrNotAuthorized
	}

	var taken int
	query := `SELECT COUNT(*) FROM tokens WHERE project_id = ? AND username = ?`
	if err := r.db.GetContext(ctx, &taken, query, t.ProjectID, username); err != nil {
		return storage.Token{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if taken > 0 {
		return storage.Token{}, pkgerrors.ErrNotAuthorized
	}

	now := time.Now()
	update := `UPDATE tokens SET username = ?, claimed_at = ? WHERE value = ? AND username = ''`
	res, err := r.db.ExecContext(ctx, update, username, now, value)
	if err != nil {
		return storage.Token{}, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Token{}, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n == 0 {
		// Lost the race against a concurrent claim.
		return storage.Token{}, pkgerrors.ErrNotAuthorized
	}

	t.Username = username
	t.ClaimedAt = now

	return t, nil
}

func (r *tokenRepo) ListByProject(ctx context.Context, projectID string) ([]storage.Token, error) {
	query := `SELECT value, project_id, username, created_at, claimed_at FROM tokens WHERE project_id = ? ORDER BY value`

	var dbts []dbToken
	if err := r.db.SelectContext(ctx, &dbts, query, projectID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	tokens := make([]storage.Token, len(dbts))
	for i, dbt := range dbts {
		tokens[i] = toToken(dbt)
	}

	return tokens, nil
}

func (r *tokenRepo) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func toToken(dbt dbToken) storage.Token {
	t := storage.Token{
		Value:     dbt.Value,
		ProjectID: dbt.ProjectID,
		Username:  dbt.Username,
		CreatedAt: dbt.CreatedAt,
	}
	if dbt.ClaimedAt.Valid {
		t.ClaimedAt = dbt.ClaimedAt.Time
	}

	return t
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t, Valid: true}
}
