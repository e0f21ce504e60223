package changeset

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/metrics"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/repository/memory"
	"github.com/stackbound/varstore/internal/store"
)

type fixture struct {
	manager *Manager
	repos   repository.Repositories
	store   *store.Store

	admin domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := memory.NewStore()
	repos := backend.Repositories()
	m := metrics.New(prometheus.NewRegistry())
	perms := permission.NewEngine(repos, zap.NewNop(), m)
	entityStore := store.New(repos, zap.NewNop())
	manager := NewManager(repos, backend, entityStore, perms, zap.NewNop(), m)

	ctx := context.Background()
	admin, err := repos.Directory.CreateUser(ctx, domain.NewUser("admin", ""))
	require.NoError(t, err)
	_, err = repos.Grants.Insert(ctx, domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalUser, ID: admin.ID},
		domain.GlobalScope(), domain.PermissionWrite, nil))
	require.NoError(t, err)

	return &fixture{manager: manager, repos: repos, store: entityStore, admin: admin}
}

func strPtr(s string) *string { return &s }

func (f *fixture) stageService(t *testing.T, principalID uuid.UUID, name string) domain.Entity {
	t.Helper()
	entity, _, err := f.manager.StageCreate(context.Background(), principalID, CreateIntent{
		Kind:  domain.EntityKindService,
		Patch: store.DraftPatch{Name: strPtr(name)},
	})
	require.NoError(t, err)
	return entity
}

func (f *fixture) commitCurrent(t *testing.T, principalID uuid.UUID) domain.Changeset {
	t.Helper()
	ctx := context.Background()
	current, err := f.manager.Current(ctx, principalID)
	require.NoError(t, err)
	committed, err := f.manager.Commit(ctx, principalID, current.ID)
	require.NoError(t, err)
	return committed
}

func TestChangesetOpensLazilyAndStaysSingular(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, current.ID, "no changeset before the first staged change")

	f.stageService(t, f.admin.ID, "checkout")

	first, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first.ID)
	require.Equal(t, 1, first.NumberOfChanges)

	// Further staging lands in the same changeset.
	f.stageService(t, f.admin.ID, "billing")
	second, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.NumberOfChanges)
}

func TestStageRequiresWritePermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reader, err := f.repos.Directory.CreateUser(ctx, domain.NewUser("reader", ""))
	require.NoError(t, err)

	_, _, err = f.manager.StageCreate(ctx, reader.ID, CreateIntent{
		Kind:  domain.EntityKindService,
		Patch: store.DraftPatch{Name: strPtr("forbidden")},
	})
	require.True(t, trace.IsAccessDenied(err), "got %v", err)

	current, err := f.manager.Current(ctx, reader.ID)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, current.ID, "a denied stage must not open a changeset")
}

func TestCommitPublishesAllDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service := f.stageService(t, f.admin.ID, "checkout")
	_, _, err := f.manager.StageCreate(ctx, f.admin.ID, CreateIntent{
		Kind:     domain.EntityKindFeature,
		ParentID: service.ID,
		Patch:    store.DraftPatch{Name: strPtr("payments")},
	})
	require.NoError(t, err)

	committed := f.commitCurrent(t, f.admin.ID)
	require.Equal(t, domain.ChangesetStatusCommitted, committed.Status)

	version, err := f.store.CurrentVersion(ctx, service.ID)
	require.NoError(t, err)
	require.Equal(t, 1, version.Version)
	require.Equal(t, domain.VersionStatusPublished, version.Status)

	// Committing again is a no-op, not an error.
	again, err := f.manager.Commit(ctx, f.admin.ID, committed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChangesetStatusCommitted, again.Status)

	// The next staged change opens a fresh changeset.
	f.stageService(t, f.admin.ID, "billing")
	next, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.NotEqual(t, committed.ID, next.ID)
}

func TestCommitIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stageService(t, f.admin.ID, "checkout")
	current, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)

	other, err := f.repos.Directory.CreateUser(ctx, domain.NewUser("other", ""))
	require.NoError(t, err)
	_, err = f.manager.Commit(ctx, other.ID, current.ID)
	require.True(t, trace.IsAccessDenied(err), "got %v", err)
}

func TestConcurrentEditsOfOneEntityConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service := f.stageService(t, f.admin.ID, "checkout")
	f.commitCurrent(t, f.admin.ID)

	writer, err := f.repos.Directory.CreateUser(ctx, domain.NewUser("writer", ""))
	require.NoError(t, err)
	_, err = f.repos.Grants.Insert(ctx, domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalUser, ID: writer.ID},
		domain.GlobalScope(), domain.PermissionWrite, nil))
	require.NoError(t, err)

	_, err = f.manager.StageUpdate(ctx, f.admin.ID, service.ID, store.DraftPatch{Description: strPtr("mine")}, nil)
	require.NoError(t, err)

	// Only one open changeset may draft an entity at a time.
	_, err = f.manager.StageUpdate(ctx, writer.ID, service.ID, store.DraftPatch{Description: strPtr("theirs")}, nil)
	require.True(t, trace.IsAlreadyExists(err), "got %v", err)
}

func TestStaleCommitConflictsAndPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service := f.stageService(t, f.admin.ID, "checkout")
	sibling := f.stageService(t, f.admin.ID, "billing")
	f.commitCurrent(t, f.admin.ID)

	// Draft both services, then force the first draft stale by publishing a
	// competing version 2 underneath it.
	_, err := f.manager.StageUpdate(ctx, f.admin.ID, service.ID, store.DraftPatch{Description: strPtr("stale edit")}, nil)
	require.NoError(t, err)
	_, err = f.manager.StageUpdate(ctx, f.admin.ID, sibling.ID, store.DraftPatch{Description: strPtr("fine edit")}, nil)
	require.NoError(t, err)
	current, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)

	published, err := f.repos.Entities.GetPublishedVersion(ctx, service.ID)
	require.NoError(t, err)
	_, err = f.repos.Entities.UpdateVersion(ctx, published.Published(2))
	require.NoError(t, err)

	_, err = f.manager.Commit(ctx, f.admin.ID, current.ID)
	require.True(t, trace.IsCompareFailed(err), "got %v", err)

	// Nothing published: the sibling still shows version 1 and the changeset
	// stays open for retry.
	siblingVersion, err := f.store.CurrentVersion(ctx, sibling.ID)
	require.NoError(t, err)
	require.Equal(t, 1, siblingVersion.Version)
	after, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, current.ID, after.ID)
	require.True(t, after.Open())
}

func TestDiscardDropsDraftsAndNewEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service := f.stageService(t, f.admin.ID, "checkout")
	f.commitCurrent(t, f.admin.ID)

	_, err := f.manager.StageUpdate(ctx, f.admin.ID, service.ID, store.DraftPatch{Description: strPtr("edit")}, nil)
	require.NoError(t, err)
	fresh := f.stageService(t, f.admin.ID, "billing")
	current, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)

	discarded, err := f.manager.Discard(ctx, f.admin.ID, current.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChangesetStatusDiscarded, discarded.Status)

	// The published service is untouched, the never-published entity is gone.
	version, err := f.store.CurrentVersion(ctx, service.ID)
	require.NoError(t, err)
	require.Equal(t, 1, version.Version)
	_, err = f.store.Entity(ctx, fresh.ID)
	require.True(t, trace.IsNotFound(err), "got %v", err)

	// Discard twice is a no-op.
	_, err = f.manager.Discard(ctx, f.admin.ID, current.ID)
	require.NoError(t, err)

	// Commit of a discarded changeset is an error.
	_, err = f.manager.Commit(ctx, f.admin.ID, current.ID)
	require.True(t, trace.IsBadParameter(err), "got %v", err)
}

func TestStageValueDraftsKeyAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repos.Variations.Create(ctx, domain.NewVariationProperty("env", "Environment"))
	require.NoError(t, err)

	service := f.stageService(t, f.admin.ID, "checkout")
	feature, _, err := f.manager.StageCreate(ctx, f.admin.ID, CreateIntent{
		Kind:     domain.EntityKindFeature,
		ParentID: service.ID,
		Patch:    store.DraftPatch{Name: strPtr("payments")},
	})
	require.NoError(t, err)
	key, _, err := f.manager.StageCreate(ctx, f.admin.ID, CreateIntent{
		Kind:      domain.EntityKindKey,
		ParentID:  feature.ID,
		ValueType: domain.ValueTypeNumber,
		Patch:     store.DraftPatch{Name: strPtr("timeout")},
	})
	require.NoError(t, err)
	f.commitCurrent(t, f.admin.ID)

	// Staging a value against the published key drafts it implicitly.
	value, err := f.manager.StageValue(ctx, f.admin.ID, key.ID, domain.VariationAssignment{"env": "staging"}, "30")
	require.NoError(t, err)
	require.Equal(t, "30", value.Raw)
	current, err := f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, 1, current.NumberOfChanges)

	// A second value write on the same key stays one staged change.
	_, err = f.manager.StageValue(ctx, f.admin.ID, key.ID, nil, "10")
	require.NoError(t, err)
	current, err = f.manager.Current(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, 1, current.NumberOfChanges)

	// Type errors surface as BadParameter.
	_, err = f.manager.StageValue(ctx, f.admin.ID, key.ID, nil, "not-a-number")
	require.True(t, trace.IsBadParameter(err), "got %v", err)

	// Value writes to non-keys are rejected.
	_, err = f.manager.StageValue(ctx, f.admin.ID, feature.ID, nil, "10")
	require.True(t, trace.IsBadParameter(err), "got %v", err)
}

func TestValueTypeImmutableOnceValued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service := f.stageService(t, f.admin.ID, "checkout")
	feature, _, err := f.manager.StageCreate(ctx, f.admin.ID, CreateIntent{
		Kind:     domain.EntityKindFeature,
		ParentID: service.ID,
		Patch:    store.DraftPatch{Name: strPtr("payments")},
	})
	require.NoError(t, err)
	key, _, err := f.manager.StageCreate(ctx, f.admin.ID, CreateIntent{
		Kind:      domain.EntityKindKey,
		ParentID:  feature.ID,
		ValueType: domain.ValueTypeString,
		Patch:     store.DraftPatch{Name: strPtr("mode")},
	})
	require.NoError(t, err)

	// While the draft holds no values the type may still change.
	newType := domain.ValueTypeNumber
	_, err = f.manager.StageUpdate(ctx, f.admin.ID, key.ID, store.DraftPatch{}, &newType)
	require.NoError(t, err)
	updated, err := f.store.Entity(ctx, key.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ValueTypeNumber, updated.ValueType)

	_, err = f.manager.StageValue(ctx, f.admin.ID, key.ID, nil, "7")
	require.NoError(t, err)

	backType := domain.ValueTypeString
	_, err = f.manager.StageUpdate(ctx, f.admin.ID, key.ID, store.DraftPatch{}, &backType)
	require.True(t, trace.IsBadParameter(err), "got %v", err)
}
