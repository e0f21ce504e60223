package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/stackbound/varstore/internal/domain"
)

// entityRepository stores entity identity rows and versions for all three
// entity families.
type entityRepository struct {
	q querier
}

const entityColumns = "id, kind, parent_id, service_type_id, value_type, created_at"

func (r *entityRepository) CreateEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO entities (id, kind, parent_id, service_type_id, value_type, created_at)
		VALUES ($1, $2, NULLIF($3, '00000000-0000-0000-0000-000000000000'::uuid), NULLIF($4, '00000000-0000-0000-0000-000000000000'::uuid), NULLIF($5, ''), $6)`,
		entity.ID, entity.Kind, entity.ParentID, entity.ServiceTypeID, string(entity.ValueType), entity.CreatedAt,
	)
	if err != nil {
		return domain.Entity{}, convertError(err, "entity %s not found", entity.ID)
	}
	return entity, nil
}

func (r *entityRepository) GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	row := r.q.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	return scanEntity(row, id)
}

func (r *entityRepository) ListByKind(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, error) {
	rows, err := r.q.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE kind = $1 ORDER BY created_at, id`, kind)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectEntities(rows)
}

func (r *entityRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Entity, error) {
	rows, err := r.q.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectEntities(rows)
}

func (r *entityRepository) SetValueType(ctx context.Context, keyID uuid.UUID, valueType domain.ValueType) error {
	tag, err := r.q.Exec(ctx, `UPDATE entities SET value_type = $2 WHERE id = $1`, keyID, string(valueType))
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("entity %s not found", keyID)
	}
	return nil
}

func (r *entityRepository) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("entity %s not found", id)
	}
	return nil
}

const versionColumns = "id, entity_id, version, name, description, status, changeset_id, base_version, validators, created_at, updated_at"

func (r *entityRepository) InsertVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	validators, err := marshalValidators(version.Validators)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO entity_versions (id, entity_id, version, name, description, status, changeset_id, base_version, validators, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		version.ID, version.EntityID, version.Version, version.Name, version.Description,
		version.Status, version.ChangesetID, version.BaseVersion, validators,
		version.CreatedAt, version.UpdatedAt,
	)
	if err != nil {
		return domain.EntityVersion{}, convertError(err, "version %s not found", version.ID)
	}
	return version, nil
}

func (r *entityRepository) UpdateVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	validators, err := marshalValidators(version.Validators)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE entity_versions
		SET version = $2, name = $3, description = $4, status = $5, base_version = $6, validators = $7, updated_at = $8
		WHERE id = $1`,
		version.ID, version.Version, version.Name, version.Description, version.Status,
		version.BaseVersion, validators, version.UpdatedAt,
	)
	if err != nil {
		return domain.EntityVersion{}, convertError(err, "version %s not found", version.ID)
	}
	if tag.RowsAffected() == 0 {
		return domain.EntityVersion{}, trace.NotFound("version %s not found", version.ID)
	}
	return version, nil
}

func (r *entityRepository) DeleteVersion(ctx context.Context, versionID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM entity_versions WHERE id = $1`, versionID)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("version %s not found", versionID)
	}
	return nil
}

func (r *entityRepository) GetVersionByID(ctx context.Context, versionID uuid.UUID) (domain.EntityVersion, error) {
	row := r.q.QueryRow(ctx, `SELECT `+versionColumns+` FROM entity_versions WHERE id = $1`, versionID)
	return scanVersion(row, "version %s not found", versionID)
}

func (r *entityRepository) GetPublishedVersion(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM entity_versions
		WHERE entity_id = $1 AND status = 'published'`, entityID)
	return scanVersion(row, "no published version for entity %s", entityID)
}

func (r *entityRepository) GetVersion(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM entity_versions
		WHERE entity_id = $1 AND version = $2 AND status <> 'draft'`, entityID, number)
	return scanVersion(row, "version %d of entity %s not found", number, entityID)
}

func (r *entityRepository) ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+versionColumns+` FROM entity_versions
		WHERE entity_id = $1 ORDER BY version DESC, created_at DESC`, entityID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectVersions(rows)
}

func (r *entityRepository) GetOpenDraft(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM entity_versions
		WHERE entity_id = $1 AND status = 'draft'`, entityID)
	return scanVersion(row, "no open draft for entity %s", entityID)
}

func (r *entityRepository) ListDraftsByChangeset(ctx context.Context, changesetID uuid.UUID) ([]domain.EntityVersion, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+versionColumns+` FROM entity_versions
		WHERE changeset_id = $1 AND status = 'draft' ORDER BY created_at, id`, changesetID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectVersions(rows)
}

func (r *entityRepository) PublishedNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, excludeEntityID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entity_versions v
			JOIN entities e ON e.id = v.entity_id
			WHERE v.status = 'published' AND v.name = $1
			  AND e.kind = $2
			  AND COALESCE(e.parent_id, '00000000-0000-0000-0000-000000000000'::uuid) = $3
			  AND e.id <> $4
		)`, name, kind, parentID, excludeEntityID).Scan(&exists)
	return exists, trace.Wrap(err)
}

func (r *entityRepository) DraftNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, changesetID, excludeEntityID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entity_versions v
			JOIN entities e ON e.id = v.entity_id
			WHERE v.status = 'draft' AND v.name = $1
			  AND e.kind = $2
			  AND COALESCE(e.parent_id, '00000000-0000-0000-0000-000000000000'::uuid) = $3
			  AND ($4 = '00000000-0000-0000-0000-000000000000'::uuid OR v.changeset_id = $4)
			  AND e.id <> $5
		)`, name, kind, parentID, changesetID, excludeEntityID).Scan(&exists)
	return exists, trace.Wrap(err)
}

func scanEntity(row pgx.Row, id uuid.UUID) (domain.Entity, error) {
	var (
		entity        domain.Entity
		parentID      *uuid.UUID
		serviceTypeID *uuid.UUID
		valueType     *string
	)
	err := row.Scan(&entity.ID, &entity.Kind, &parentID, &serviceTypeID, &valueType, &entity.CreatedAt)
	if err != nil {
		return domain.Entity{}, convertError(err, "entity %s not found", id)
	}
	if parentID != nil {
		entity.ParentID = *parentID
	}
	if serviceTypeID != nil {
		entity.ServiceTypeID = *serviceTypeID
	}
	if valueType != nil {
		entity.ValueType = domain.ValueType(*valueType)
	}
	return entity, nil
}

func collectEntities(rows pgx.Rows) ([]domain.Entity, error) {
	defer rows.Close()
	var result []domain.Entity
	for rows.Next() {
		entity, err := scanEntity(rows, uuid.Nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, entity)
	}
	return result, trace.Wrap(rows.Err())
}

func scanVersion(row pgx.Row, notFoundMsg string, args ...any) (domain.EntityVersion, error) {
	var (
		version    domain.EntityVersion
		validators []byte
	)
	err := row.Scan(&version.ID, &version.EntityID, &version.Version, &version.Name,
		&version.Description, &version.Status, &version.ChangesetID, &version.BaseVersion,
		&validators, &version.CreatedAt, &version.UpdatedAt)
	if err != nil {
		return domain.EntityVersion{}, convertError(err, notFoundMsg, args...)
	}
	if len(validators) > 0 {
		if err := json.Unmarshal(validators, &version.Validators); err != nil {
			return domain.EntityVersion{}, trace.Wrap(err)
		}
	}
	return version, nil
}

func collectVersions(rows pgx.Rows) ([]domain.EntityVersion, error) {
	defer rows.Close()
	var result []domain.EntityVersion
	for rows.Next() {
		version, err := scanVersion(rows, "version not found")
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, version)
	}
	return result, trace.Wrap(rows.Err())
}

func marshalValidators(validators []domain.Validator) ([]byte, error) {
	if validators == nil {
		return nil, nil
	}
	return json.Marshal(validators)
}
