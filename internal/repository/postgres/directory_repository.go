package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/stackbound/varstore/internal/domain"
)

type directoryRepository struct {
	q querier
}

func (r *directoryRepository) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, convertError(err, "user %s not found", user.ID)
	}
	return user, nil
}

func (r *directoryRepository) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	row := r.q.QueryRow(ctx, `SELECT id, name, email, created_at FROM users WHERE id = $1`, id)
	return scanUser(row, id)
}

func (r *directoryRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, email, created_at FROM users ORDER BY name, id`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectUsers(rows)
}

func (r *directoryRepository) CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO groups (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)`,
		group.ID, group.Name, group.Description, group.CreatedAt,
	)
	if err != nil {
		return domain.Group{}, convertError(err, "group %s not found", group.ID)
	}
	return group, nil
}

func (r *directoryRepository) GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	row := r.q.QueryRow(ctx, `SELECT id, name, description, created_at FROM groups WHERE id = $1`, id)
	return scanGroup(row, id)
}

func (r *directoryRepository) GetGroupsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, name, description, created_at FROM groups
		WHERE id = ANY($1) ORDER BY name, id`, ids)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectGroups(rows)
}

func (r *directoryRepository) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, description, created_at FROM groups ORDER BY name, id`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectGroups(rows)
}

func (r *directoryRepository) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	return trace.Wrap(err)
}

func (r *directoryRepository) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("user %s is not a member of group %s", userID, groupID)
	}
	return nil
}

func (r *directoryRepository) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	rows, err := r.q.Query(ctx, `
		SELECT g.id, g.name, g.description, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.name, g.id`, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectGroups(rows)
}

func (r *directoryRepository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error) {
	rows, err := r.q.Query(ctx, `
		SELECT u.id, u.name, u.email, u.created_at
		FROM users u
		JOIN group_members m ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY u.name, u.id`, groupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return collectUsers(rows)
}

func scanUser(row pgx.Row, id uuid.UUID) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		return domain.User{}, convertError(err, "user %s not found", id)
	}
	return user, nil
}

func collectUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()
	var result []domain.User
	for rows.Next() {
		user, err := scanUser(rows, uuid.Nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, user)
	}
	return result, trace.Wrap(rows.Err())
}

func scanGroup(row pgx.Row, id uuid.UUID) (domain.Group, error) {
	var group domain.Group
	err := row.Scan(&group.ID, &group.Name, &group.Description, &group.CreatedAt)
	if err != nil {
		return domain.Group{}, convertError(err, "group %s not found", id)
	}
	return group, nil
}

func collectGroups(rows pgx.Rows) ([]domain.Group, error) {
	defer rows.Close()
	var result []domain.Group
	for rows.Next() {
		group, err := scanGroup(rows, uuid.Nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, group)
	}
	return result, trace.Wrap(rows.Err())
}
