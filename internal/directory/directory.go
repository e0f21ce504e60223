// Package directory manages users, groups and membership — the leaf store
// the permission engine resolves group inheritance against.
package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
)

// Directory wraps the membership repository with validation and admin
// gating on mutations. Groups cannot contain groups, so no cycle handling
// is needed anywhere.
type Directory struct {
	repos  repository.Repositories
	perms  *permission.Engine
	logger *zap.Logger
}

// New creates a directory service.
func New(repos repository.Repositories, perms *permission.Engine, logger *zap.Logger) *Directory {
	return &Directory{repos: repos, perms: perms, logger: logger}
}

// CreateUser registers a user. Requires global admin.
func (d *Directory) CreateUser(ctx context.Context, callerID uuid.UUID, name, email string) (domain.User, error) {
	if name == "" {
		return domain.User{}, trace.BadParameter("user name is required")
	}
	if err := d.perms.Require(ctx, callerID, domain.PermissionAdmin, domain.GlobalScope(), nil); err != nil {
		return domain.User{}, trace.Wrap(err)
	}
	user, err := d.repos.Directory.CreateUser(ctx, domain.NewUser(name, email))
	return user, trace.Wrap(err)
}

// CreateGroup registers a group. Requires global admin.
func (d *Directory) CreateGroup(ctx context.Context, callerID uuid.UUID, name, description string) (domain.Group, error) {
	if name == "" {
		return domain.Group{}, trace.BadParameter("group name is required")
	}
	if err := d.perms.Require(ctx, callerID, domain.PermissionAdmin, domain.GlobalScope(), nil); err != nil {
		return domain.Group{}, trace.Wrap(err)
	}
	group, err := d.repos.Directory.CreateGroup(ctx, domain.NewGroup(name, description))
	return group, trace.Wrap(err)
}

// AddMember adds a user to a group. Requires global admin. Membership takes
// effect for every permission check started after the write.
func (d *Directory) AddMember(ctx context.Context, callerID, groupID, userID uuid.UUID) error {
	if err := d.perms.Require(ctx, callerID, domain.PermissionAdmin, domain.GlobalScope(), nil); err != nil {
		return trace.Wrap(err)
	}
	if err := d.repos.Directory.AddMember(ctx, groupID, userID); err != nil {
		return trace.Wrap(err)
	}
	d.logger.Info("member added",
		zap.String("group_id", groupID.String()),
		zap.String("user_id", userID.String()))
	return nil
}

// RemoveMember removes a user from a group. Requires global admin.
func (d *Directory) RemoveMember(ctx context.Context, callerID, groupID, userID uuid.UUID) error {
	if err := d.perms.Require(ctx, callerID, domain.PermissionAdmin, domain.GlobalScope(), nil); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(d.repos.Directory.RemoveMember(ctx, groupID, userID))
}

// ListUsers returns all users.
func (d *Directory) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := d.repos.Directory.ListUsers(ctx)
	return users, trace.Wrap(err)
}

// ListGroups returns all groups.
func (d *Directory) ListGroups(ctx context.Context) ([]domain.Group, error) {
	groups, err := d.repos.Directory.ListGroups(ctx)
	return groups, trace.Wrap(err)
}

// ListMembers returns a group's members.
func (d *Directory) ListMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error) {
	users, err := d.repos.Directory.ListMembers(ctx, groupID)
	return users, trace.Wrap(err)
}

// ListGroupsForUser returns the groups a user belongs to.
func (d *Directory) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	groups, err := d.repos.Directory.ListGroupsForUser(ctx, userID)
	return groups, trace.Wrap(err)
}
