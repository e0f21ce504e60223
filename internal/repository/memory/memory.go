// Package memory implements the repository interfaces with in-process maps.
// It backs the "memory" storage mode and the service tests. Transactions are
// modelled with a single store-wide lock; callers that need multi-row
// atomicity run inside InTx, which holds the write lock for the whole
// callback.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/repository"
)

// Store owns all tables and the lock protecting them.
type Store struct {
	mu sync.RWMutex

	entities   map[uuid.UUID]domain.Entity
	versions   map[uuid.UUID]domain.EntityVersion
	values     map[uuid.UUID]domain.Value
	changesets map[uuid.UUID]domain.Changeset
	grants     map[uuid.UUID]domain.Grant
	users      map[uuid.UUID]domain.User
	groups     map[uuid.UUID]domain.Group
	members    map[uuid.UUID]map[uuid.UUID]struct{} // group id -> member user ids
	properties map[uuid.UUID]domain.VariationProperty
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entities:   make(map[uuid.UUID]domain.Entity),
		versions:   make(map[uuid.UUID]domain.EntityVersion),
		values:     make(map[uuid.UUID]domain.Value),
		changesets: make(map[uuid.UUID]domain.Changeset),
		grants:     make(map[uuid.UUID]domain.Grant),
		users:      make(map[uuid.UUID]domain.User),
		groups:     make(map[uuid.UUID]domain.Group),
		members:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
		properties: make(map[uuid.UUID]domain.VariationProperty),
	}
}

// Repositories returns lock-taking repository implementations.
func (s *Store) Repositories() repository.Repositories {
	return s.repos(true)
}

// InTx runs fn while holding the store write lock. fn receives repositories
// that skip locking so nested calls do not deadlock.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.repos(false))
}

func (s *Store) repos(lock bool) repository.Repositories {
	return repository.Repositories{
		Entities:   &entityRepo{s: s, lock: lock},
		Values:     &valueRepo{s: s, lock: lock},
		Changesets: &changesetRepo{s: s, lock: lock},
		Grants:     &grantRepo{s: s, lock: lock},
		Directory:  &directoryRepo{s: s, lock: lock},
		Variations: &variationRepo{s: s, lock: lock},
	}
}

func (s *Store) rlock(lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock(lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type entityRepo struct {
	s    *Store
	lock bool
}

func (r *entityRepo) CreateEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	defer r.s.wlock(r.lock)()
	r.s.entities[entity.ID] = entity
	return entity, nil
}

func (r *entityRepo) GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	defer r.s.rlock(r.lock)()
	entity, ok := r.s.entities[id]
	if !ok {
		return domain.Entity{}, trace.NotFound("entity %s not found", id)
	}
	return entity, nil
}

func (r *entityRepo) ListByKind(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.Entity
	for _, entity := range r.s.entities {
		if entity.Kind == kind {
			result = append(result, entity)
		}
	}
	sortEntities(result)
	return result, nil
}

func (r *entityRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Entity, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.Entity
	for _, entity := range r.s.entities {
		if entity.ParentID == parentID {
			result = append(result, entity)
		}
	}
	sortEntities(result)
	return result, nil
}

func (r *entityRepo) SetValueType(ctx context.Context, keyID uuid.UUID, valueType domain.ValueType) error {
	defer r.s.wlock(r.lock)()
	entity, ok := r.s.entities[keyID]
	if !ok {
		return trace.NotFound("entity %s not found", keyID)
	}
	entity.ValueType = valueType
	r.s.entities[keyID] = entity
	return nil
}

func (r *entityRepo) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.entities[id]; !ok {
		return trace.NotFound("entity %s not found", id)
	}
	delete(r.s.entities, id)
	return nil
}

func (r *entityRepo) InsertVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	defer r.s.wlock(r.lock)()
	r.s.versions[version.ID] = version
	return version, nil
}

func (r *entityRepo) UpdateVersion(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.versions[version.ID]; !ok {
		return domain.EntityVersion{}, trace.NotFound("version %s not found", version.ID)
	}
	r.s.versions[version.ID] = version
	return version, nil
}

func (r *entityRepo) DeleteVersion(ctx context.Context, versionID uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.versions[versionID]; !ok {
		return trace.NotFound("version %s not found", versionID)
	}
	delete(r.s.versions, versionID)
	return nil
}

func (r *entityRepo) GetVersionByID(ctx context.Context, versionID uuid.UUID) (domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	version, ok := r.s.versions[versionID]
	if !ok {
		return domain.EntityVersion{}, trace.NotFound("version %s not found", versionID)
	}
	return version, nil
}

func (r *entityRepo) GetPublishedVersion(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	for _, version := range r.s.versions {
		if version.EntityID == entityID && version.Status == domain.VersionStatusPublished {
			return version, nil
		}
	}
	return domain.EntityVersion{}, trace.NotFound("no published version for entity %s", entityID)
}

func (r *entityRepo) GetVersion(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	for _, version := range r.s.versions {
		if version.EntityID == entityID && version.Version == number && version.Status != domain.VersionStatusDraft {
			return version, nil
		}
	}
	return domain.EntityVersion{}, trace.NotFound("version %d of entity %s not found", number, entityID)
}

func (r *entityRepo) ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.EntityVersion
	for _, version := range r.s.versions {
		if version.EntityID == entityID {
			result = append(result, version)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version > result[j].Version })
	return result, nil
}

func (r *entityRepo) GetOpenDraft(ctx context.Context, entityID uuid.UUID) (domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	for _, version := range r.s.versions {
		if version.EntityID == entityID && version.Status == domain.VersionStatusDraft {
			return version, nil
		}
	}
	return domain.EntityVersion{}, trace.NotFound("no open draft for entity %s", entityID)
}

func (r *entityRepo) ListDraftsByChangeset(ctx context.Context, changesetID uuid.UUID) ([]domain.EntityVersion, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.EntityVersion
	for _, version := range r.s.versions {
		if version.ChangesetID == changesetID && version.Status == domain.VersionStatusDraft {
			result = append(result, version)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *entityRepo) PublishedNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, excludeEntityID uuid.UUID) (bool, error) {
	defer r.s.rlock(r.lock)()
	for _, version := range r.s.versions {
		if version.Status != domain.VersionStatusPublished || version.Name != name {
			continue
		}
		entity, ok := r.s.entities[version.EntityID]
		if !ok || entity.Kind != kind || entity.ParentID != parentID || entity.ID == excludeEntityID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *entityRepo) DraftNameExists(ctx context.Context, kind domain.EntityKind, parentID uuid.UUID, name string, changesetID uuid.UUID, excludeEntityID uuid.UUID) (bool, error) {
	defer r.s.rlock(r.lock)()
	for _, version := range r.s.versions {
		if version.Status != domain.VersionStatusDraft || version.Name != name {
			continue
		}
		if changesetID != uuid.Nil && version.ChangesetID != changesetID {
			continue
		}
		entity, ok := r.s.entities[version.EntityID]
		if !ok || entity.Kind != kind || entity.ParentID != parentID || entity.ID == excludeEntityID {
			continue
		}
		return true, nil
	}
	return false, nil
}

type valueRepo struct {
	s    *Store
	lock bool
}

func (r *valueRepo) Insert(ctx context.Context, value domain.Value) (domain.Value, error) {
	defer r.s.wlock(r.lock)()
	for _, existing := range r.s.values {
		if existing.KeyVersionID == value.KeyVersionID && existing.Assignment.Equal(value.Assignment) {
			return domain.Value{}, trace.AlreadyExists("value for assignment %q already exists", value.Assignment.Canonical())
		}
	}
	r.s.values[value.ID] = value
	return value, nil
}

func (r *valueRepo) Update(ctx context.Context, value domain.Value) (domain.Value, error) {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.values[value.ID]; !ok {
		return domain.Value{}, trace.NotFound("value %s not found", value.ID)
	}
	r.s.values[value.ID] = value
	return value, nil
}

func (r *valueRepo) ListByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) ([]domain.Value, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.Value
	for _, value := range r.s.values {
		if value.KeyVersionID == keyVersionID {
			result = append(result, value)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Assignment.Canonical() < result[j].Assignment.Canonical()
	})
	return result, nil
}

func (r *valueRepo) DeleteByKeyVersion(ctx context.Context, keyVersionID uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	for id, value := range r.s.values {
		if value.KeyVersionID == keyVersionID {
			delete(r.s.values, id)
		}
	}
	return nil
}

type changesetRepo struct {
	s    *Store
	lock bool
}

func (r *changesetRepo) Create(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error) {
	defer r.s.wlock(r.lock)()
	for _, existing := range r.s.changesets {
		if existing.OwnerID == changeset.OwnerID && existing.Status == domain.ChangesetStatusOpen {
			return domain.Changeset{}, trace.AlreadyExists("principal %s already has an open changeset", changeset.OwnerID)
		}
	}
	r.s.changesets[changeset.ID] = changeset
	return changeset, nil
}

func (r *changesetRepo) Get(ctx context.Context, id uuid.UUID) (domain.Changeset, error) {
	defer r.s.rlock(r.lock)()
	changeset, ok := r.s.changesets[id]
	if !ok {
		return domain.Changeset{}, trace.NotFound("changeset %s not found", id)
	}
	return changeset, nil
}

func (r *changesetRepo) GetOpenByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Changeset, error) {
	defer r.s.rlock(r.lock)()
	for _, changeset := range r.s.changesets {
		if changeset.OwnerID == ownerID && changeset.Status == domain.ChangesetStatusOpen {
			return changeset, nil
		}
	}
	return domain.Changeset{}, trace.NotFound("no open changeset for principal %s", ownerID)
}

func (r *changesetRepo) Update(ctx context.Context, changeset domain.Changeset) (domain.Changeset, error) {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.changesets[changeset.ID]; !ok {
		return domain.Changeset{}, trace.NotFound("changeset %s not found", changeset.ID)
	}
	r.s.changesets[changeset.ID] = changeset
	return changeset, nil
}

type grantRepo struct {
	s    *Store
	lock bool
}

func (r *grantRepo) Insert(ctx context.Context, grant domain.Grant) (domain.Grant, error) {
	defer r.s.wlock(r.lock)()
	r.s.grants[grant.ID] = grant
	return grant, nil
}

func (r *grantRepo) Get(ctx context.Context, id uuid.UUID) (domain.Grant, error) {
	defer r.s.rlock(r.lock)()
	grant, ok := r.s.grants[id]
	if !ok {
		return domain.Grant{}, trace.NotFound("grant %s not found", id)
	}
	return grant, nil
}

func (r *grantRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.grants[id]; !ok {
		return trace.NotFound("grant %s not found", id)
	}
	delete(r.s.grants, id)
	return nil
}

func (r *grantRepo) ListByPrincipals(ctx context.Context, principals []domain.PrincipalRef) ([]domain.Grant, error) {
	defer r.s.rlock(r.lock)()
	wanted := make(map[domain.PrincipalRef]struct{}, len(principals))
	for _, principal := range principals {
		wanted[principal] = struct{}{}
	}
	var result []domain.Grant
	for _, grant := range r.s.grants {
		if _, ok := wanted[grant.Principal]; ok {
			result = append(result, grant)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type directoryRepo struct {
	s    *Store
	lock bool
}

func (r *directoryRepo) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	defer r.s.wlock(r.lock)()
	r.s.users[user.ID] = user
	return user, nil
}

func (r *directoryRepo) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	defer r.s.rlock(r.lock)()
	user, ok := r.s.users[id]
	if !ok {
		return domain.User{}, trace.NotFound("user %s not found", id)
	}
	return user, nil
}

func (r *directoryRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	defer r.s.rlock(r.lock)()
	result := make([]domain.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *directoryRepo) CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	defer r.s.wlock(r.lock)()
	for _, existing := range r.s.groups {
		if existing.Name == group.Name {
			return domain.Group{}, trace.AlreadyExists("group %q already exists", group.Name)
		}
	}
	r.s.groups[group.ID] = group
	return group, nil
}

func (r *directoryRepo) GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	defer r.s.rlock(r.lock)()
	group, ok := r.s.groups[id]
	if !ok {
		return domain.Group{}, trace.NotFound("group %s not found", id)
	}
	return group, nil
}

func (r *directoryRepo) GetGroupsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Group, error) {
	defer r.s.rlock(r.lock)()
	result := make([]domain.Group, 0, len(ids))
	for _, id := range ids {
		if group, ok := r.s.groups[id]; ok {
			result = append(result, group)
		}
	}
	return result, nil
}

func (r *directoryRepo) ListGroups(ctx context.Context) ([]domain.Group, error) {
	defer r.s.rlock(r.lock)()
	result := make([]domain.Group, 0, len(r.s.groups))
	for _, group := range r.s.groups {
		result = append(result, group)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *directoryRepo) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	if _, ok := r.s.groups[groupID]; !ok {
		return trace.NotFound("group %s not found", groupID)
	}
	if _, ok := r.s.users[userID]; !ok {
		return trace.NotFound("user %s not found", userID)
	}
	if r.s.members[groupID] == nil {
		r.s.members[groupID] = make(map[uuid.UUID]struct{})
	}
	r.s.members[groupID][userID] = struct{}{}
	return nil
}

func (r *directoryRepo) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	defer r.s.wlock(r.lock)()
	members, ok := r.s.members[groupID]
	if !ok {
		return trace.NotFound("group %s has no members", groupID)
	}
	if _, ok := members[userID]; !ok {
		return trace.NotFound("user %s is not a member of group %s", userID, groupID)
	}
	delete(members, userID)
	return nil
}

func (r *directoryRepo) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	defer r.s.rlock(r.lock)()
	var result []domain.Group
	for groupID, members := range r.s.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		if group, exists := r.s.groups[groupID]; exists {
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *directoryRepo) ListMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error) {
	defer r.s.rlock(r.lock)()
	if _, ok := r.s.groups[groupID]; !ok {
		return nil, trace.NotFound("group %s not found", groupID)
	}
	var result []domain.User
	for userID := range r.s.members[groupID] {
		if user, ok := r.s.users[userID]; ok {
			result = append(result, user)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type variationRepo struct {
	s    *Store
	lock bool
}

func (r *variationRepo) Create(ctx context.Context, property domain.VariationProperty) (domain.VariationProperty, error) {
	defer r.s.wlock(r.lock)()
	for _, existing := range r.s.properties {
		if existing.Name == property.Name {
			return domain.VariationProperty{}, trace.AlreadyExists("variation property %q already exists", property.Name)
		}
	}
	r.s.properties[property.ID] = property
	return property, nil
}

func (r *variationRepo) GetByName(ctx context.Context, name string) (domain.VariationProperty, error) {
	defer r.s.rlock(r.lock)()
	for _, property := range r.s.properties {
		if property.Name == name {
			return property, nil
		}
	}
	return domain.VariationProperty{}, trace.NotFound("variation property %q not found", name)
}

func (r *variationRepo) List(ctx context.Context) ([]domain.VariationProperty, error) {
	defer r.s.rlock(r.lock)()
	result := make([]domain.VariationProperty, 0, len(r.s.properties))
	for _, property := range r.s.properties {
		result = append(result, property)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func sortEntities(entities []domain.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].ID.String() < entities[j].ID.String()
		}
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
}
