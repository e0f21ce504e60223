package domain

import (
	"time"

	"github.com/google/uuid"
)

// PermissionKind names an action a grant authorizes.
type PermissionKind string

const (
	PermissionRead  PermissionKind = "read"
	PermissionWrite PermissionKind = "write"
	PermissionAdmin PermissionKind = "admin"
)

// KnownPermissionKind reports whether k names a supported permission.
func KnownPermissionKind(k PermissionKind) bool {
	switch k {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// ScopeKind names a level of the permission scope hierarchy:
// global > service > feature > key > key+variation.
type ScopeKind string

const (
	ScopeGlobal    ScopeKind = "global"
	ScopeService   ScopeKind = "service"
	ScopeFeature   ScopeKind = "feature"
	ScopeKey       ScopeKind = "key"
	ScopeVariation ScopeKind = "variation"
)

// ScopeRef identifies a concrete node in the scope hierarchy. EntityID is
// Nil for the global scope; for the variation level it names the key.
type ScopeRef struct {
	Kind     ScopeKind `json:"kind"`
	EntityID uuid.UUID `json:"entity_id,omitempty"`
}

// GlobalScope is the root of the scope hierarchy.
func GlobalScope() ScopeRef {
	return ScopeRef{Kind: ScopeGlobal}
}

// ServiceScope references a service-level scope.
func ServiceScope(serviceID uuid.UUID) ScopeRef {
	return ScopeRef{Kind: ScopeService, EntityID: serviceID}
}

// FeatureScope references a feature-level scope.
func FeatureScope(featureID uuid.UUID) ScopeRef {
	return ScopeRef{Kind: ScopeFeature, EntityID: featureID}
}

// KeyScope references a key-level scope.
func KeyScope(keyID uuid.UUID) ScopeRef {
	return ScopeRef{Kind: ScopeKey, EntityID: keyID}
}

// PrincipalType discriminates grant holders.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// PrincipalRef identifies a user or group a grant attaches to.
type PrincipalRef struct {
	Type PrincipalType `json:"type"`
	ID   uuid.UUID     `json:"id"`
}

// Grant authorizes a principal to perform an action at a scope. Grants are
// additive only; there is no deny grant. A non-empty variation filter
// narrows the grant to matching variants of the scoped key.
type Grant struct {
	ID              uuid.UUID           `json:"id"`
	Principal       PrincipalRef        `json:"principal"`
	Scope           ScopeRef            `json:"scope"`
	Permission      PermissionKind      `json:"permission"`
	VariationFilter VariationAssignment `json:"variation_filter,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// NewGrant creates a grant row.
func NewGrant(principal PrincipalRef, scope ScopeRef, permission PermissionKind, filter VariationAssignment) Grant {
	return Grant{
		ID:              uuid.New(),
		Principal:       principal,
		Scope:           scope,
		Permission:      permission,
		VariationFilter: filter.Clone(),
		CreatedAt:       time.Now(),
	}
}

// EffectivePermission is a grant as it applies to a concrete user,
// annotated with group provenance when the grant is inherited through
// membership rather than held directly.
type EffectivePermission struct {
	Grant     Grant     `json:"grant"`
	Inherited bool      `json:"inherited"`
	GroupID   uuid.UUID `json:"group_id,omitempty"`
	GroupName string    `json:"group_name,omitempty"`
}
