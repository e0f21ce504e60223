package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/stackbound/varstore/internal/domain"
)

type grantRepository struct {
	q querier
}

const grantColumns = "id, principal_type, principal_id, scope_kind, scope_entity_id, permission, variation_filter, created_at"

func (r *grantRepository) Insert(ctx context.Context, grant domain.Grant) (domain.Grant, error) {
	var filter []byte
	if len(grant.VariationFilter) > 0 {
		encoded, err := json.Marshal(grant.VariationFilter)
		if err != nil {
			return domain.Grant{}, trace.Wrap(err)
		}
		filter = encoded
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO permission_grants (id, principal_type, principal_id, scope_kind, scope_entity_id, permission, variation_filter, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '00000000-0000-0000-0000-000000000000'::uuid), $6, $7, $8)`,
		grant.ID, grant.Principal.Type, grant.Principal.ID, grant.Scope.Kind,
		grant.Scope.EntityID, grant.Permission, filter, grant.CreatedAt,
	)
	if err != nil {
		return domain.Grant{}, convertError(err, "grant %s not found", grant.ID)
	}
	return grant, nil
}

func (r *grantRepository) Get(ctx context.Context, id uuid.UUID) (domain.Grant, error) {
	row := r.q.QueryRow(ctx, `SELECT `+grantColumns+` FROM permission_grants WHERE id = $1`, id)
	return scanGrant(row, id)
}

func (r *grantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM permission_grants WHERE id = $1`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("grant %s not found", id)
	}
	return nil
}

func (r *grantRepository) ListByPrincipals(ctx context.Context, principals []domain.PrincipalRef) ([]domain.Grant, error) {
	if len(principals) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(principals))
	args := make([]any, 0, len(principals)*2)
	for i, principal := range principals {
		clauses = append(clauses, fmt.Sprintf("(principal_type = $%d AND principal_id = $%d)", i*2+1, i*2+2))
		args = append(args, principal.Type, principal.ID)
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+grantColumns+` FROM permission_grants
		WHERE `+strings.Join(clauses, " OR ")+`
		ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var result []domain.Grant
	for rows.Next() {
		grant, err := scanGrant(rows, uuid.Nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, grant)
	}
	return result, trace.Wrap(rows.Err())
}

func scanGrant(row pgx.Row, id uuid.UUID) (domain.Grant, error) {
	var (
		grant         domain.Grant
		scopeEntityID *uuid.UUID
		filter        []byte
	)
	err := row.Scan(&grant.ID, &grant.Principal.Type, &grant.Principal.ID,
		&grant.Scope.Kind, &scopeEntityID, &grant.Permission, &filter, &grant.CreatedAt)
	if err != nil {
		return domain.Grant{}, convertError(err, "grant %s not found", id)
	}
	if scopeEntityID != nil {
		grant.Scope.EntityID = *scopeEntityID
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &grant.VariationFilter); err != nil {
			return domain.Grant{}, trace.Wrap(err)
		}
	}
	return grant, nil
}
