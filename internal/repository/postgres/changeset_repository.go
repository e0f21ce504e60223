package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/stackbound/varstore/internal/domain"
)

// changesetRepository stores changeset lifecycle rows. A partial unique
// index on (owner_id) WHERE status = 'open' enforces the single open
// changeset per principal at the store level.
type changesetRepository struct {
	q querier
}

const changesetColumns = "id, owner_id, status, number_of_changes, created_at, updated_at"

func (r *changesetRepository) Create(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO changesets (id, owner_id, status, number_of_changes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		changeset.ID, changeset.OwnerID, changeset.Status, changeset.NumberOfChanges,
		changeset.CreatedAt, changeset.UpdatedAt,
	)
	if err != nil {
		return domain.Changeset{}, convertError(err, "changeset %s not found", changeset.ID)
	}
	return changeset, nil
}

func (r *changesetRepository) Get(ctx context.Context, id uuid.UUID) (domain.Changeset, error) {
	row := r.q.QueryRow(ctx, `SELECT `+changesetColumns+` FROM changesets WHERE id = $1`, id)
	return scanChangeset(row, "changeset %s not found", id)
}

func (r *changesetRepository) GetOpenByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Changeset, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+changesetColumns+` FROM changesets
		WHERE owner_id = $1 AND status = 'open'`, ownerID)
	return scanChangeset(row, "no open changeset for principal %s", ownerID)
}

func (r *changesetRepository) Update(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE changesets SET status = $2, number_of_changes = $3, updated_at = $4 WHERE id = $1`,
		changeset.ID, changeset.Status, changeset.NumberOfChanges, changeset.UpdatedAt,
	)
	if err != nil {
		return domain.Changeset{}, trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Changeset{}, trace.NotFound("changeset %s not found", changeset.ID)
	}
	return changeset, nil
}

func scanChangeset(row pgx.Row, notFoundMsg string, args ...any) (domain.Changeset, error) {
	var changeset domain.Changeset
	err := row.Scan(&changeset.ID, &changeset.OwnerID, &changeset.Status,
		&changeset.NumberOfChanges, &changeset.CreatedAt, &changeset.UpdatedAt)
	if err != nil {
		return domain.Changeset{}, convertError(err, notFoundMsg, args...)
	}
	return changeset, nil
}
