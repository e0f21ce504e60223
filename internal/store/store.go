// Package store implements the versioned entity store shared by services,
// features and keys: published versions are immutable, drafts belong to one
// open changeset, and version numbers are assigned only at publish time.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/validator"
	"github.com/stackbound/varstore/internal/variation"
)

// Store exposes read and draft operations over the entity repositories.
// Publishing happens through the package-level Publish helpers so the
// changeset manager can run them inside a single transaction.
type Store struct {
	repos  repository.Repositories
	logger *zap.Logger
}

// New creates an entity store.
func New(repos repository.Repositories, logger *zap.Logger) *Store {
	return &Store{repos: repos, logger: logger}
}

// DraftPatch carries the fields a staged edit may change. Nil fields leave
// the drafted state untouched.
type DraftPatch struct {
	Name        *string
	Description *string
	Validators  []domain.Validator
}

func (p DraftPatch) applyTo(version domain.EntityVersion) domain.EntityVersion {
	if p.Name != nil {
		version = version.WithName(*p.Name)
	}
	if p.Description != nil {
		version = version.WithDescription(*p.Description)
	}
	if p.Validators != nil {
		version = version.WithValidators(p.Validators)
	}
	return version
}

// Entity returns the identity row for an entity.
func (s *Store) Entity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	entity, err := s.repos.Entities.GetEntity(ctx, id)
	return entity, trace.Wrap(err)
}

// ListServices returns all service identity rows.
func (s *Store) ListServices(ctx context.Context) ([]domain.Entity, error) {
	services, err := s.repos.Entities.ListByKind(ctx, domain.EntityKindService)
	return services, trace.Wrap(err)
}

// ListChildren returns the child entities of a service or feature.
func (s *Store) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Entity, error) {
	children, err := s.repos.Entities.ListChildren(ctx, parentID)
	return children, trace.Wrap(err)
}

// CurrentVersion returns the single published version of an entity.
func (s *Store) CurrentVersion(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error) {
	version, err := s.repos.Entities.GetPublishedVersion(ctx, entityID)
	return version, trace.Wrap(err)
}

// Version returns one historical (published or archived) version.
func (s *Store) Version(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error) {
	version, err := s.repos.Entities.GetVersion(ctx, entityID, number)
	return version, trace.Wrap(err)
}

// ListVersions returns an entity's versions ordered by version descending.
// Unpublished drafts carry version zero and sort last.
func (s *Store) ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	versions, err := s.repos.Entities.ListVersions(ctx, entityID)
	return versions, trace.Wrap(err)
}

// NameTaken probes published versions and in-flight drafts of siblings for
// the given name. Read-only; used by async form validation.
func (s *Store) NameTaken(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string) (bool, error) {
	published, err := s.repos.Entities.PublishedNameExists(ctx, kind, parentID, name, uuid.Nil)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if published {
		return true, nil
	}
	drafted, err := s.repos.Entities.DraftNameExists(ctx, kind, parentID, name, uuid.Nil, uuid.Nil)
	return drafted, trace.Wrap(err)
}

// CreateEntityDraft creates a brand new entity together with its first
// draft version inside the given changeset. serviceTypeID applies to
// services, valueType to keys.
func (s *Store) CreateEntityDraft(ctx context.Context, changesetID uuid.UUID, kind domain.EntityKind, parentID, serviceTypeID uuid.UUID, valueType domain.ValueType, patch DraftPatch) (domain.Entity, domain.EntityVersion, error) {
	if patch.Name == nil || *patch.Name == "" {
		return domain.Entity{}, domain.EntityVersion{}, trace.BadParameter("name is required")
	}
	if parentKind := kind.ParentKind(); parentKind != "" {
		parent, err := s.repos.Entities.GetEntity(ctx, parentID)
		if err != nil {
			return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
		}
		if parent.Kind != parentKind {
			return domain.Entity{}, domain.EntityVersion{}, trace.BadParameter(
				"parent of a %s must be a %s, got %s", kind, parentKind, parent.Kind)
		}
	}
	if kind == domain.EntityKindKey && !domain.KnownValueType(valueType) {
		return domain.Entity{}, domain.EntityVersion{}, trace.BadParameter("unknown value type %q", valueType)
	}
	if err := s.checkNameFree(ctx, kind, parentID, *patch.Name, changesetID, uuid.Nil); err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}

	entity := domain.NewEntity(kind, parentID)
	switch kind {
	case domain.EntityKindService:
		entity = entity.WithServiceType(serviceTypeID)
	case domain.EntityKindKey:
		entity = entity.WithValueType(valueType)
	}
	entity, err := s.repos.Entities.CreateEntity(ctx, entity)
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	draft := patch.applyTo(domain.NewDraftVersion(entity.ID, changesetID, 0))
	draft, err = s.repos.Entities.InsertVersion(ctx, draft)
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	return entity, draft, nil
}

// CreateDraft stages an edit of an existing entity. If the changeset already
// drafts the entity, the draft is updated in place and created is false. A
// draft held by a different open changeset is a conflict: only one writer
// may draft an entity at a time.
func (s *Store) CreateDraft(ctx context.Context, entityID, changesetID uuid.UUID, patch DraftPatch) (draft domain.EntityVersion, created bool, err error) {
	entity, err := s.repos.Entities.GetEntity(ctx, entityID)
	if err != nil {
		return domain.EntityVersion{}, false, trace.Wrap(err)
	}

	if existing, err := s.repos.Entities.GetOpenDraft(ctx, entityID); err == nil {
		if existing.ChangesetID != changesetID {
			return domain.EntityVersion{}, false, trace.AlreadyExists(
				"entity %s is already being edited in another changeset", entityID)
		}
		if patch.Name != nil && *patch.Name != existing.Name {
			if err := s.checkNameFree(ctx, entity.Kind, entity.ParentID, *patch.Name, changesetID, entityID); err != nil {
				return domain.EntityVersion{}, false, trace.Wrap(err)
			}
		}
		updated, err := s.repos.Entities.UpdateVersion(ctx, patch.applyTo(existing))
		return updated, false, trace.Wrap(err)
	} else if !trace.IsNotFound(err) {
		return domain.EntityVersion{}, false, trace.Wrap(err)
	}

	published, err := s.repos.Entities.GetPublishedVersion(ctx, entityID)
	if err != nil {
		return domain.EntityVersion{}, false, trace.Wrap(err)
	}
	if patch.Name != nil && *patch.Name != published.Name {
		if err := s.checkNameFree(ctx, entity.Kind, entity.ParentID, *patch.Name, changesetID, entityID); err != nil {
			return domain.EntityVersion{}, false, trace.Wrap(err)
		}
	}

	draft = domain.NewDraftVersion(entityID, changesetID, published.Version)
	draft = draft.WithName(published.Name).WithDescription(published.Description)
	if published.Validators != nil {
		draft = draft.WithValidators(published.Validators)
	}
	draft = patch.applyTo(draft)
	draft, err = s.repos.Entities.InsertVersion(ctx, draft)
	if err != nil {
		return domain.EntityVersion{}, false, trace.Wrap(err)
	}

	// Key drafts take a private copy of the published value set so value
	// edits stage against the draft.
	if entity.Kind == domain.EntityKindKey {
		values, err := s.repos.Values.ListByKeyVersion(ctx, published.ID)
		if err != nil {
			return domain.EntityVersion{}, false, trace.Wrap(err)
		}
		for _, value := range values {
			if _, err := s.repos.Values.Insert(ctx, value.ForKeyVersion(draft.ID)); err != nil {
				return domain.EntityVersion{}, false, trace.Wrap(err)
			}
		}
	}
	return draft, true, nil
}

// CurrentValues returns the value set of the key's published version.
func (s *Store) CurrentValues(ctx context.Context, keyID uuid.UUID) ([]domain.Value, error) {
	published, err := s.repos.Entities.GetPublishedVersion(ctx, keyID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	values, err := s.repos.Values.ListByKeyVersion(ctx, published.ID)
	return values, trace.Wrap(err)
}

// ValuesForVersion returns the value set attached to one key version.
func (s *Store) ValuesForVersion(ctx context.Context, keyVersionID uuid.UUID) ([]domain.Value, error) {
	values, err := s.repos.Values.ListByKeyVersion(ctx, keyVersionID)
	return values, trace.Wrap(err)
}

// UpsertDraftValue writes a value variant under a drafted key version. The
// raw value runs through the key's validators, the assignment's properties
// must exist in the catalogue, and the assignment must not overlap an
// existing variant at equal specificity.
func (s *Store) UpsertDraftValue(ctx context.Context, key domain.Entity, draft domain.EntityVersion, assignment domain.VariationAssignment, raw string) (domain.Value, error) {
	if key.Kind != domain.EntityKindKey {
		return domain.Value{}, trace.BadParameter("values can only be written for keys")
	}
	for name := range assignment {
		if _, err := s.repos.Variations.GetByName(ctx, name); err != nil {
			if trace.IsNotFound(err) {
				return domain.Value{}, trace.BadParameter("unknown variation property %q", name)
			}
			return domain.Value{}, trace.Wrap(err)
		}
	}
	if err := validator.Validate(key.ValueType, draft.Validators, raw); err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	existing, err := s.repos.Values.ListByKeyVersion(ctx, draft.ID)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	if err := variation.CheckNonOverlapping(existing, assignment); err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	for _, value := range existing {
		if value.Assignment.Equal(assignment) {
			updated, err := s.repos.Values.Update(ctx, value.WithRaw(raw))
			return updated, trace.Wrap(err)
		}
	}
	inserted, err := s.repos.Values.Insert(ctx, domain.NewValue(draft.ID, assignment, raw))
	return inserted, trace.Wrap(err)
}

// checkNameFree enforces sibling name uniqueness against published versions
// plus drafts in the same changeset.
func (s *Store) checkNameFree(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, changesetID, excludeEntityID uuid.UUID) error {
	published, err := s.repos.Entities.PublishedNameExists(ctx, kind, parentID, name, excludeEntityID)
	if err != nil {
		return trace.Wrap(err)
	}
	if published {
		return trace.BadParameter("name %q is already taken", name)
	}
	drafted, err := s.repos.Entities.DraftNameExists(ctx, kind, parentID, name, changesetID, excludeEntityID)
	if err != nil {
		return trace.Wrap(err)
	}
	if drafted {
		return trace.BadParameter("name %q is already taken by a staged draft", name)
	}
	return nil
}

// CheckBase verifies a draft's base version still matches the entity's
// published version. Commit runs this across every draft before publishing
// anything so a stale draft aborts the whole changeset.
func CheckBase(ctx context.Context, entities repository.EntityRepository, draft domain.EntityVersion) error {
	published, err := entities.GetPublishedVersion(ctx, draft.EntityID)
	switch {
	case trace.IsNotFound(err):
		if draft.BaseVersion != 0 {
			return trace.CompareFailed("entity %s no longer has version %d", draft.EntityID, draft.BaseVersion)
		}
		return nil
	case err != nil:
		return trace.Wrap(err)
	}
	if published.Version != draft.BaseVersion {
		return trace.CompareFailed(
			"entity %s moved from version %d to %d since the draft was staged",
			draft.EntityID, draft.BaseVersion, published.Version)
	}
	return nil
}

// Publish promotes a draft to the next published version, archiving the
// previously published version. Version numbers come from the maximum
// already-assigned number, so discarded drafts never consume one.
func Publish(ctx context.Context, entities repository.EntityRepository, draft domain.EntityVersion) (domain.EntityVersion, error) {
	if draft.Status != domain.VersionStatusDraft {
		return domain.EntityVersion{}, trace.BadParameter("version %s is not a draft", draft.ID)
	}
	if err := CheckBase(ctx, entities, draft); err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}

	next := 1
	versions, err := entities.ListVersions(ctx, draft.EntityID)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	for _, version := range versions {
		if version.Status == domain.VersionStatusDraft {
			continue
		}
		if version.Version >= next {
			next = version.Version + 1
		}
		if version.Status == domain.VersionStatusPublished {
			if _, err := entities.UpdateVersion(ctx, version.Archived()); err != nil {
				return domain.EntityVersion{}, trace.Wrap(err)
			}
		}
	}

	published, err := entities.UpdateVersion(ctx, draft.Published(next))
	return published, trace.Wrap(err)
}

// DiscardDraft removes a draft version and its staged values. Entities that
// were created by the draft and never published are removed entirely.
func DiscardDraft(ctx context.Context, repos repository.Repositories, draft domain.EntityVersion) error {
	if err := repos.Values.DeleteByKeyVersion(ctx, draft.ID); err != nil {
		return trace.Wrap(err)
	}
	if err := repos.Entities.DeleteVersion(ctx, draft.ID); err != nil {
		return trace.Wrap(err)
	}
	if draft.BaseVersion == 0 {
		if err := repos.Entities.DeleteEntity(ctx, draft.EntityID); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}
