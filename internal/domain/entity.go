package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind discriminates the versioned entity families.
type EntityKind string

const (
	EntityKindService EntityKind = "service"
	EntityKindFeature EntityKind = "feature"
	EntityKindKey     EntityKind = "key"
)

// ParentKind returns the kind an entity's parent must have, or "" for roots.
func (k EntityKind) ParentKind() EntityKind {
	switch k {
	case EntityKindFeature:
		return EntityKindService
	case EntityKindKey:
		return EntityKindFeature
	default:
		return ""
	}
}

func (k EntityKind) ChildKind() EntityKind {
	switch k {
	case EntityKindService:
		return EntityKindFeature
	case EntityKindFeature:
		return EntityKindKey
	default:
		return ""
	}
}

// VersionStatus represents the lifecycle status of an entity version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusPublished VersionStatus = "published"
	VersionStatusArchived  VersionStatus = "archived"
)

// Entity is the stable identity row shared by services, features and keys.
// Rows here are never mutated after creation except for a key's value type,
// which stays writable until the key owns its first value.
type Entity struct {
	ID            uuid.UUID  `json:"id"`
	Kind          EntityKind `json:"kind"`
	ParentID      uuid.UUID  `json:"parent_id,omitempty"`
	ServiceTypeID uuid.UUID  `json:"service_type_id,omitempty"` // services only
	ValueType     ValueType  `json:"value_type,omitempty"`      // keys only
	CreatedAt     time.Time  `json:"created_at"`
}

// NewEntity creates a new entity identity row.
func NewEntity(kind EntityKind, parentID uuid.UUID) Entity {
	return Entity{
		ID:        uuid.New(),
		Kind:      kind,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
}

// WithServiceType returns a copy carrying the immutable service type discriminator.
func (e Entity) WithServiceType(serviceTypeID uuid.UUID) Entity {
	e.ServiceTypeID = serviceTypeID
	return e
}

// WithValueType returns a copy carrying the key's value type.
func (e Entity) WithValueType(valueType ValueType) Entity {
	e.ValueType = valueType
	return e
}

// EntityVersion is one published or drafted state of an entity. Published
// rows are immutable; draft rows belong to exactly one open changeset and
// may be edited in place until the changeset commits or is discarded.
type EntityVersion struct {
	ID          uuid.UUID     `json:"id"`
	EntityID    uuid.UUID     `json:"entity_id"`
	Version     int           `json:"version"` // assigned at publish time, 0 while drafted
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      VersionStatus `json:"status"`
	ChangesetID uuid.UUID     `json:"changeset_id"`
	BaseVersion int           `json:"base_version"` // published version the draft forked from, 0 for new entities
	Validators  []Validator   `json:"validators,omitempty"` // keys only
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewDraftVersion creates a draft version owned by the given changeset.
func NewDraftVersion(entityID, changesetID uuid.UUID, baseVersion int) EntityVersion {
	now := time.Now()
	return EntityVersion{
		ID:          uuid.New(),
		EntityID:    entityID,
		Status:      VersionStatusDraft,
		ChangesetID: changesetID,
		BaseVersion: baseVersion,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithName returns a copy with an updated name.
func (v EntityVersion) WithName(name string) EntityVersion {
	v.Name = name
	v.UpdatedAt = time.Now()
	return v
}

// WithDescription returns a copy with an updated description.
func (v EntityVersion) WithDescription(description string) EntityVersion {
	v.Description = description
	v.UpdatedAt = time.Now()
	return v
}

// WithValidators returns a copy with a replaced validator list.
func (v EntityVersion) WithValidators(validators []Validator) EntityVersion {
	v.Validators = copyValidators(validators)
	v.UpdatedAt = time.Now()
	return v
}

// Published returns a copy promoted to the given published version number.
func (v EntityVersion) Published(version int) EntityVersion {
	v.Version = version
	v.Status = VersionStatusPublished
	v.UpdatedAt = time.Now()
	return v
}

// Archived returns a copy superseded by a newer published version.
func (v EntityVersion) Archived() EntityVersion {
	v.Status = VersionStatusArchived
	v.UpdatedAt = time.Now()
	return v
}

func copyValidators(validators []Validator) []Validator {
	if validators == nil {
		return nil
	}
	clone := make([]Validator, len(validators))
	copy(clone, validators)
	return clone
}
