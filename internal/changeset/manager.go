// Package changeset owns the draft lifecycle: every principal edits through
// a single open changeset whose staged drafts commit atomically into new
// published versions, or vanish together on discard.
package changeset

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/metrics"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/store"
)

// Manager stages edits into changesets and drives commit and discard.
type Manager struct {
	repos   repository.Repositories
	tx      repository.TxRunner
	store   *store.Store
	perms   *permission.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a changeset manager.
func NewManager(repos repository.Repositories, tx repository.TxRunner, entityStore *store.Store, perms *permission.Engine, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{repos: repos, tx: tx, store: entityStore, perms: perms, logger: logger, metrics: m}
}

// CreateIntent describes a staged entity creation.
type CreateIntent struct {
	Kind          domain.EntityKind
	ParentID      uuid.UUID
	ServiceTypeID uuid.UUID
	ValueType     domain.ValueType
	Patch         store.DraftPatch
}

// Current returns the principal's open changeset, or a zero changeset when
// none is open.
func (m *Manager) Current(ctx context.Context, principalID uuid.UUID) (domain.Changeset, error) {
	changeset, err := m.repos.Changesets.GetOpenByOwner(ctx, principalID)
	if trace.IsNotFound(err) {
		return domain.Changeset{}, nil
	}
	return changeset, trace.Wrap(err)
}

// GetOrCreateOpen lazily opens the principal's changeset on first use. At
// most one open changeset exists per principal; a creation race resolves by
// re-reading the winner.
func (m *Manager) GetOrCreateOpen(ctx context.Context, principalID uuid.UUID) (domain.Changeset, error) {
	changeset, err := m.repos.Changesets.GetOpenByOwner(ctx, principalID)
	if err == nil {
		return changeset, nil
	}
	if !trace.IsNotFound(err) {
		return domain.Changeset{}, trace.Wrap(err)
	}
	changeset, err = m.repos.Changesets.Create(ctx, domain.NewChangeset(principalID))
	if trace.IsAlreadyExists(err) {
		changeset, err = m.repos.Changesets.GetOpenByOwner(ctx, principalID)
	}
	return changeset, trace.Wrap(err)
}

// StageCreate stages the creation of a new entity in the principal's open
// changeset. Requires write at the parent scope (global for services).
func (m *Manager) StageCreate(ctx context.Context, principalID uuid.UUID, intent CreateIntent) (domain.Entity, domain.EntityVersion, error) {
	scope := domain.GlobalScope()
	switch intent.Kind {
	case domain.EntityKindFeature:
		scope = domain.ServiceScope(intent.ParentID)
	case domain.EntityKindKey:
		scope = domain.FeatureScope(intent.ParentID)
	}
	if err := m.perms.Require(ctx, principalID, domain.PermissionWrite, scope, nil); err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	changeset, err := m.GetOrCreateOpen(ctx, principalID)
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	entity, draft, err := m.store.CreateEntityDraft(ctx, changeset.ID, intent.Kind, intent.ParentID, intent.ServiceTypeID, intent.ValueType, intent.Patch)
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	if err := m.bumpChanges(ctx, changeset); err != nil {
		return domain.Entity{}, domain.EntityVersion{}, trace.Wrap(err)
	}
	return entity, draft, nil
}

// StageUpdate stages an edit of an existing entity. newValueType, when set,
// changes a key's value type, which is only legal while the key owns no
// values.
func (m *Manager) StageUpdate(ctx context.Context, principalID, entityID uuid.UUID, patch store.DraftPatch, newValueType *domain.ValueType) (domain.EntityVersion, error) {
	entity, err := m.store.Entity(ctx, entityID)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	if err := m.perms.Require(ctx, principalID, domain.PermissionWrite, scopeFor(entity), nil); err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	changeset, err := m.GetOrCreateOpen(ctx, principalID)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	draft, created, err := m.store.CreateDraft(ctx, entityID, changeset.ID, patch)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	if newValueType != nil {
		if err := m.changeValueType(ctx, entity, draft, *newValueType); err != nil {
			return domain.EntityVersion{}, trace.Wrap(err)
		}
	}
	if created {
		if err := m.bumpChanges(ctx, changeset); err != nil {
			return domain.EntityVersion{}, trace.Wrap(err)
		}
	}
	return draft, nil
}

// StageValue stages a value write for a key, drafting the key first if the
// changeset does not hold it yet. The permission check runs at the
// key+variation level so variation-filtered grants participate.
func (m *Manager) StageValue(ctx context.Context, principalID, keyID uuid.UUID, assignment domain.VariationAssignment, raw string) (domain.Value, error) {
	key, err := m.store.Entity(ctx, keyID)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	if key.Kind != domain.EntityKindKey {
		return domain.Value{}, trace.BadParameter("entity %s is not a key", keyID)
	}
	if err := m.perms.Require(ctx, principalID, domain.PermissionWrite, domain.KeyScope(keyID), assignment); err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	changeset, err := m.GetOrCreateOpen(ctx, principalID)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	draft, created, err := m.store.CreateDraft(ctx, keyID, changeset.ID, store.DraftPatch{})
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	value, err := m.store.UpsertDraftValue(ctx, key, draft, assignment, raw)
	if err != nil {
		return domain.Value{}, trace.Wrap(err)
	}
	if created {
		if err := m.bumpChanges(ctx, changeset); err != nil {
			return domain.Value{}, trace.Wrap(err)
		}
	}
	return value, nil
}

// Commit publishes every staged draft atomically. Base versions are checked
// across all drafts before anything publishes, so one stale draft aborts the
// whole commit with Conflict and leaves the changeset open for retry.
// Retrying a commit that already succeeded is a no-op.
func (m *Manager) Commit(ctx context.Context, principalID, changesetID uuid.UUID) (domain.Changeset, error) {
	changeset, err := m.ownedChangeset(ctx, principalID, changesetID)
	if err != nil {
		return domain.Changeset{}, trace.Wrap(err)
	}
	if changeset.Status == domain.ChangesetStatusCommitted {
		return changeset, nil
	}
	if !changeset.Open() {
		return domain.Changeset{}, trace.BadParameter("changeset %s is %s", changesetID, changeset.Status)
	}

	err = m.tx.InTx(ctx, func(repos repository.Repositories) error {
		drafts, err := repos.Entities.ListDraftsByChangeset(ctx, changesetID)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, draft := range drafts {
			if err := store.CheckBase(ctx, repos.Entities, draft); err != nil {
				return trace.Wrap(err)
			}
		}
		for _, draft := range drafts {
			if _, err := store.Publish(ctx, repos.Entities, draft); err != nil {
				return trace.Wrap(err)
			}
		}
		changeset = changeset.WithStatus(domain.ChangesetStatusCommitted)
		changeset, err = repos.Changesets.Update(ctx, changeset)
		return trace.Wrap(err)
	})
	if err != nil {
		if trace.IsCompareFailed(err) {
			m.metrics.CommitConflicts.Inc()
		}
		return domain.Changeset{}, trace.Wrap(err)
	}

	m.metrics.CommitsTotal.Inc()
	m.logger.Info("changeset committed",
		zap.String("changeset_id", changeset.ID.String()),
		zap.Int("changes", changeset.NumberOfChanges))
	return changeset, nil
}

// Discard removes every staged draft and closes the changeset. Discarding
// an already discarded changeset is a no-op.
func (m *Manager) Discard(ctx context.Context, principalID, changesetID uuid.UUID) (domain.Changeset, error) {
	changeset, err := m.ownedChangeset(ctx, principalID, changesetID)
	if err != nil {
		return domain.Changeset{}, trace.Wrap(err)
	}
	if changeset.Status == domain.ChangesetStatusDiscarded {
		return changeset, nil
	}
	if !changeset.Open() {
		return domain.Changeset{}, trace.BadParameter("changeset %s is %s", changesetID, changeset.Status)
	}

	err = m.tx.InTx(ctx, func(repos repository.Repositories) error {
		drafts, err := repos.Entities.ListDraftsByChangeset(ctx, changesetID)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, draft := range drafts {
			if err := store.DiscardDraft(ctx, repos, draft); err != nil {
				return trace.Wrap(err)
			}
		}
		changeset = changeset.WithStatus(domain.ChangesetStatusDiscarded)
		changeset, err = repos.Changesets.Update(ctx, changeset)
		return trace.Wrap(err)
	})
	if err != nil {
		return domain.Changeset{}, trace.Wrap(err)
	}
	m.logger.Info("changeset discarded", zap.String("changeset_id", changeset.ID.String()))
	return changeset, nil
}

func (m *Manager) ownedChangeset(ctx context.Context, principalID, changesetID uuid.UUID) (domain.Changeset, error) {
	changeset, err := m.repos.Changesets.Get(ctx, changesetID)
	if err != nil {
		return domain.Changeset{}, trace.Wrap(err)
	}
	if changeset.OwnerID != principalID {
		return domain.Changeset{}, trace.AccessDenied("changeset %s belongs to another principal", changesetID)
	}
	return changeset, nil
}

func (m *Manager) bumpChanges(ctx context.Context, changeset domain.Changeset) error {
	_, err := m.repos.Changesets.Update(ctx, changeset.WithChangeStaged())
	if err == nil {
		m.metrics.ChangesStaged.Inc()
	}
	return trace.Wrap(err)
}

func scopeFor(entity domain.Entity) domain.ScopeRef {
	switch entity.Kind {
	case domain.EntityKindService:
		return domain.ServiceScope(entity.ID)
	case domain.EntityKindFeature:
		return domain.FeatureScope(entity.ID)
	default:
		return domain.KeyScope(entity.ID)
	}
}

func (m *Manager) changeValueType(ctx context.Context, key domain.Entity, draft domain.EntityVersion, valueType domain.ValueType) error {
	if key.Kind != domain.EntityKindKey {
		return trace.BadParameter("value types only apply to keys")
	}
	if !domain.KnownValueType(valueType) {
		return trace.BadParameter("unknown value type %q", valueType)
	}
	if key.ValueType == valueType {
		return nil
	}
	values, err := m.repos.Values.ListByKeyVersion(ctx, draft.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(values) > 0 {
		return trace.BadParameter("value type is immutable once the key has values")
	}
	return trace.Wrap(m.repos.Entities.SetValueType(ctx, key.ID, valueType))
}
