package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/stackbound/varstore/internal/domain"
)

// Repositories bundles every store the services depend on. TxRunner
// implementations hand a transaction-bound bundle to the callback.
type Repositories struct {
	Entities   EntityRepository
	Values     ValueRepository
	Changesets ChangesetRepository
	Grants     GrantRepository
	Directory  DirectoryRepository
	Variations VariationPropertyRepository
}

// TxRunner executes a function atomically against the stores. Postgres runs
// fn inside a single transaction; the in-memory store runs fn under its
// write lock.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Repositories) error) error
}

// EntityRepository stores entity identity rows and their versions for all
// three entity families (service, feature, key).
type EntityRepository interface {
	CreateEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error)
	ListByKind(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Entity, error)
	SetValueType(ctx context.Context, keyID uuid.UUID, valueType domain.ValueType) error
	DeleteEntity(ctx context.Context, id uuid.UUID) error

	InsertVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error)
	UpdateVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error)
	DeleteVersion(ctx context.Context, versionID uuid.UUID) error
	GetVersionByID(ctx context.Context, versionID uuid.UUID) (domain.EntityVersion, error)
	GetPublishedVersion(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error)
	GetVersion(ctx context.Context, entityID uuid.UUID, version int) (domain.EntityVersion, error)
	ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error)
	GetOpenDraft(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error)
	ListDraftsByChangeset(ctx context.Context, changesetID uuid.UUID) ([]domain.EntityVersion, error)

	// PublishedNameExists probes published sibling versions for a name.
	PublishedNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, excludeEntityID uuid.UUID) (bool, error)
	// DraftNameExists probes drafted sibling versions for a name. A Nil
	// changesetID matches drafts in any open changeset.
	DraftNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, changesetID uuid.UUID, excludeEntityID uuid.UUID) (bool, error)
}

// ValueRepository stores value variants keyed by key version and assignment.
type ValueRepository interface {
	Insert(ctx context.Context, value domain.Value) (domain.Value, error)
	Update(ctx context.Context, value domain.Value) (domain.Value, error)
	ListByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) ([]domain.Value, error)
	DeleteByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) error
}

// ChangesetRepository stores changeset lifecycle rows.
type ChangesetRepository interface {
	// Create fails with AlreadyExists when the owner already holds an open
	// changeset.
	Create(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Changeset, error)
	GetOpenByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Changeset, error)
	Update(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error)
}

// GrantRepository stores permission grants.
type GrantRepository interface {
	Insert(ctx context.Context, grant domain.Grant) (domain.Grant, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Grant, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPrincipals(ctx context.Context, principals []domain.PrincipalRef) ([]domain.Grant, error)
}

// DirectoryRepository stores users, groups and membership.
type DirectoryRepository interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error)
	GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error)
	GetGroupsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)

	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error)
}

// VariationPropertyRepository stores the variation property catalogue.
type VariationPropertyRepository interface {
	Create(ctx context.Context, property domain.VariationProperty) (domain.VariationProperty, error)
	GetByName(ctx context.Context, name string) (domain.VariationProperty, error)
	List(ctx context.Context) ([]domain.VariationProperty, error)
}
