// Package permission resolves effective access from additive grants, group
// membership and the scope hierarchy
// global > service > feature > key > key+variation.
package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/metrics"
	"github.com/stackbound/varstore/internal/repository"
)

// Engine answers permission queries and mutates grants. All checks are
// read-only and may run against a store snapshot; a grant change applies to
// every check started after it is durably written.
type Engine struct {
	repos   repository.Repositories
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a permission engine.
func NewEngine(repos repository.Repositories, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{repos: repos, logger: logger, metrics: m}
}

// Can reports whether the user holds the permission at the scope. The query
// assignment narrows the check to the key+variation level; grants carrying a
// variation filter apply only when the filter matches the query. A missing
// scope entity resolves to a plain deny, never an error.
func (e *Engine) Can(ctx context.Context, userID uuid.UUID, permission domain.PermissionKind, scope domain.ScopeRef, query domain.VariationAssignment) (bool, error) {
	applicable, err := e.applicableGrants(ctx, userID, permission, scope, query)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return len(applicable) > 0, nil
}

// Require is Can with a deny surfaced as AccessDenied.
func (e *Engine) Require(ctx context.Context, userID uuid.UUID, permission domain.PermissionKind, scope domain.ScopeRef, query domain.VariationAssignment) error {
	allowed, err := e.Can(ctx, userID, permission, scope, query)
	if err != nil {
		return trace.Wrap(err)
	}
	if !allowed {
		e.metrics.PermissionDenials.WithLabelValues(string(permission), string(scope.Kind)).Inc()
		e.logger.Debug("permission denied",
			zap.String("user_id", userID.String()),
			zap.String("permission", string(permission)),
			zap.String("scope_kind", string(scope.Kind)))
		return trace.AccessDenied("%s permission required at %s scope", permission, scope.Kind)
	}
	return nil
}

// EffectivePermissions enumerates every grant that applies to the user at
// the scope, annotated with group provenance for inherited grants so the
// caller can render and gate them accordingly.
func (e *Engine) EffectivePermissions(ctx context.Context, userID uuid.UUID, scope domain.ScopeRef, query domain.VariationAssignment) ([]domain.EffectivePermission, error) {
	applicable, err := e.applicableGrants(ctx, userID, "", scope, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := make([]domain.EffectivePermission, 0, len(applicable))
	for _, grant := range applicable {
		effective := domain.EffectivePermission{Grant: grant}
		if grant.Principal.Type == domain.PrincipalGroup {
			effective.Inherited = true
			effective.GroupID = grant.Principal.ID
		}
		result = append(result, effective)
	}
	return result, nil
}

// Grant records a new grant. The caller must hold admin at a scope that is
// ancestor-or-equal to the grant's scope.
func (e *Engine) Grant(ctx context.Context, callerID uuid.UUID, grant domain.Grant) (domain.Grant, error) {
	if !domain.KnownPermissionKind(grant.Permission) {
		return domain.Grant{}, trace.BadParameter("unknown permission kind %q", grant.Permission)
	}
	if len(grant.VariationFilter) > 0 && grant.Scope.Kind != domain.ScopeKey && grant.Scope.Kind != domain.ScopeVariation {
		return domain.Grant{}, trace.BadParameter("variation filters require a key-level scope")
	}
	if err := e.checkPrincipal(ctx, grant.Principal); err != nil {
		return domain.Grant{}, trace.Wrap(err)
	}
	if err := e.Require(ctx, callerID, domain.PermissionAdmin, grant.Scope, grant.VariationFilter); err != nil {
		return domain.Grant{}, trace.Wrap(err)
	}
	inserted, err := e.repos.Grants.Insert(ctx, grant)
	if err != nil {
		return domain.Grant{}, trace.Wrap(err)
	}
	e.logger.Info("grant recorded",
		zap.String("grant_id", inserted.ID.String()),
		zap.String("principal", string(inserted.Principal.Type)),
		zap.String("permission", string(inserted.Permission)),
		zap.String("scope_kind", string(inserted.Scope.Kind)))
	return inserted, nil
}

// Revoke deletes a grant, gated by admin at the grant's own scope. Revoking
// never touches other grants; permission is strictly additive.
func (e *Engine) Revoke(ctx context.Context, callerID, grantID uuid.UUID) error {
	grant, err := e.repos.Grants.Get(ctx, grantID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := e.Require(ctx, callerID, domain.PermissionAdmin, grant.Scope, grant.VariationFilter); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.repos.Grants.Delete(ctx, grantID))
}

// applicableGrants collects the user's direct and group-inherited grants
// whose scope is ancestor-or-equal to the queried scope and whose variation
// filter, if any, matches the query. An empty permission matches all kinds.
func (e *Engine) applicableGrants(ctx context.Context, userID uuid.UUID, permission domain.PermissionKind, scope domain.ScopeRef, query domain.VariationAssignment) ([]domain.Grant, error) {
	principals := []domain.PrincipalRef{{Type: domain.PrincipalUser, ID: userID}}
	groups, err := e.repos.Directory.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, group := range groups {
		principals = append(principals, domain.PrincipalRef{Type: domain.PrincipalGroup, ID: group.ID})
	}

	chain, err := e.scopeChain(ctx, scope, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	grants, err := e.repos.Grants.ListByPrincipals(ctx, principals)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var applicable []domain.Grant
	for _, grant := range grants {
		if permission != "" && grant.Permission != permission {
			continue
		}
		if _, ok := chain[grant.Scope]; !ok {
			continue
		}
		if len(grant.VariationFilter) > 0 && !grant.VariationFilter.Matches(query) {
			continue
		}
		applicable = append(applicable, grant)
	}
	return applicable, nil
}

// scopeChain builds the set of scope refs that are ancestor-or-equal to the
// queried scope. A scope whose entity no longer exists yields just the
// global root, so checks against a vanished scope fail closed rather than
// erroring.
func (e *Engine) scopeChain(ctx context.Context, scope domain.ScopeRef, query domain.VariationAssignment) (map[domain.ScopeRef]struct{}, error) {
	chain := map[domain.ScopeRef]struct{}{domain.GlobalScope(): {}}
	if scope.Kind == domain.ScopeGlobal {
		return chain, nil
	}

	kind := scope.Kind
	entityID := scope.EntityID
	if kind == domain.ScopeVariation {
		chain[domain.ScopeRef{Kind: domain.ScopeVariation, EntityID: entityID}] = struct{}{}
		kind = domain.ScopeKey
	} else if kind == domain.ScopeKey && len(query) > 0 {
		// A key-scope query carrying an assignment sits at the variation
		// level, so variation-scoped grants on the key participate.
		chain[domain.ScopeRef{Kind: domain.ScopeVariation, EntityID: entityID}] = struct{}{}
	}

	for kind != domain.ScopeGlobal && entityID != uuid.Nil {
		chain[domain.ScopeRef{Kind: kind, EntityID: entityID}] = struct{}{}
		entity, err := e.repos.Entities.GetEntity(ctx, entityID)
		if err != nil {
			if trace.IsNotFound(err) {
				break
			}
			return nil, trace.Wrap(err)
		}
		switch kind {
		case domain.ScopeService:
			kind = domain.ScopeGlobal
		case domain.ScopeFeature:
			kind = domain.ScopeService
		case domain.ScopeKey:
			kind = domain.ScopeFeature
		default:
			kind = domain.ScopeGlobal
		}
		entityID = entity.ParentID
	}
	return chain, nil
}

func (e *Engine) checkPrincipal(ctx context.Context, principal domain.PrincipalRef) error {
	switch principal.Type {
	case domain.PrincipalUser:
		_, err := e.repos.Directory.GetUser(ctx, principal.ID)
		return trace.Wrap(err)
	case domain.PrincipalGroup:
		_, err := e.repos.Directory.GetGroup(ctx, principal.ID)
		return trace.Wrap(err)
	default:
		return trace.BadParameter("unknown principal type %q", principal.Type)
	}
}
