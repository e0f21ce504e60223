package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/stackbound/varstore/internal/domain"
)

// valueRepository stores value variants. The canonical assignment string is
// persisted alongside the JSONB assignment to back the per-version
// uniqueness constraint.
type valueRepository struct {
	q querier
}

const valueColumns = "id, key_version_id, assignment, raw, created_at, updated_at"

func (r *valueRepository) Insert(ctx context.Context, value domain.Value) (domain.Value, error) {
	assignment, err := json.Marshal(value.Assignment)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO config_values (id, key_version_id, assignment, assignment_key, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		value.ID, value.KeyVersionID, assignment, value.Assignment.Canonical(),
		value.Raw, value.CreatedAt, value.UpdatedAt,
	)
	if err != nil {
		return domain.Value{}, convertError(err, "value %s not found", value.ID)
	}
	return value, nil
}

func (r *valueRepository) Update(ctx context.Context, value domain.Value) (domain.Value, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE config_values SET raw = $2, updated_at = $3 WHERE id = $1`,
		value.ID, value.Raw, value.UpdatedAt,
	)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Value{}, trace.NotFound("value %s not found", value.ID)
	}
	return value, nil
}

func (r *valueRepository) ListByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) ([]domain.Value, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+valueColumns+` FROM config_values
		WHERE key_version_id = $1 ORDER BY assignment_key`, keyVersionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var result []domain.Value
	for rows.Next() {
		value, err := scanValue(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, value)
	}
	return result, trace.Wrap(rows.Err())
}

func (r *valueRepository) DeleteByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM config_values WHERE key_version_id = $1`, keyVersionID)
	return trace.Wrap(err)
}

func scanValue(row pgx.Row) (domain.Value, error) {
	var (
		value      domain.Value
		assignment []byte
	)
	err := row.Scan(&value.ID, &value.KeyVersionID, &assignment, &value.Raw, &value.CreatedAt, &value.UpdatedAt)
	if err != nil {
		return domain.Value{}, convertError(err, "value not found")
	}
	if len(assignment) > 0 {
		if err := json.Unmarshal(assignment, &value.Assignment); err != nil {
			return domain.Value{}, trace.Wrap(err)
		}
	}
	if value.Assignment == nil {
		value.Assignment = domain.VariationAssignment{}
	}
	return value, nil
}
