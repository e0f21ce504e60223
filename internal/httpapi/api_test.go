package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/changeset"
	"github.com/stackbound/varstore/internal/directory"
	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/export"
	"github.com/stackbound/varstore/internal/httpapi"
	"github.com/stackbound/varstore/internal/metrics"
	"github.com/stackbound/varstore/internal/middleware"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/repository/memory"
	"github.com/stackbound/varstore/internal/store"
)

type apiFixture struct {
	handler http.Handler
	repos   repository.Repositories

	admin domain.User
}

// newAPIFixture wires the full request path the server runs in production,
// minus TLS and CORS: principal extraction, the group loader and the routed
// handlers, all over the in-memory backend.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	backend := memory.NewStore()
	repos := backend.Repositories()
	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	perms := permission.NewEngine(repos, logger, m)
	entityStore := store.New(repos, logger)
	manager := changeset.NewManager(repos, backend, entityStore, perms, logger, m)
	dir := directory.New(repos, perms, logger)
	exporter := export.NewService(entityStore, perms, logger)

	handler := httpapi.NewHandler(entityStore, manager, perms, dir, exporter, repos, logger)
	chain := middleware.PrincipalMiddleware(
		middleware.GroupLoaderMiddleware(repos.Directory)(handler.Routes()))

	ctx := context.Background()
	admin, err := repos.Directory.CreateUser(ctx, domain.NewUser("admin", "admin@example.com"))
	require.NoError(t, err)
	for _, kind := range []domain.PermissionKind{domain.PermissionRead, domain.PermissionWrite, domain.PermissionAdmin} {
		_, err = repos.Grants.Insert(ctx, domain.NewGrant(
			domain.PrincipalRef{Type: domain.PrincipalUser, ID: admin.ID},
			domain.GlobalScope(), kind, nil))
		require.NoError(t, err)
	}

	return &apiFixture{handler: chain, repos: repos, admin: admin}
}

func (f *apiFixture) do(t *testing.T, principalID uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if principalID != uuid.Nil {
		req.Header.Set(middleware.PrincipalHeader, principalID.String())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// createdEntity mirrors the entity response fields the tests care about.
type createdEntity struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

func (f *apiFixture) createEntity(t *testing.T, principalID uuid.UUID, path string, body any) createdEntity {
	t.Helper()
	rec := f.do(t, principalID, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createdEntity](t, rec)
}

func (f *apiFixture) newUser(t *testing.T, name string) domain.User {
	t.Helper()
	user, err := f.repos.Directory.CreateUser(context.Background(), domain.NewUser(name, ""))
	require.NoError(t, err)
	return user
}

func TestRequestsWithoutPrincipalAreDenied(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, uuid.Nil, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Health stays open for probes.
	rec = f.do(t, uuid.Nil, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNameProbeNeedsNoGrants(t *testing.T) {
	f := newAPIFixture(t)
	nobody := f.newUser(t, "nobody")

	rec := f.do(t, nobody.ID, http.MethodGet, "/api/services/name-taken/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[map[string]bool](t, rec)["taken"])

	f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})

	rec = f.do(t, nobody.ID, http.MethodGet, "/api/services/name-taken/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[map[string]bool](t, rec)["taken"])
}

func TestCurrentChangesetIsEmptyUntilFirstEdit(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uuid.Nil, decode[domain.Changeset](t, rec).ID)

	f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[domain.Changeset](t, rec)
	require.NotEqual(t, uuid.Nil, current.ID)
	require.Equal(t, 1, current.NumberOfChanges)
}

func TestCreateCommitResolveFlow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.admin.ID, http.MethodPost, "/api/variation-properties",
		map[string]string{"name": "env", "displayName": "Environment"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	service := f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})
	feature := f.createEntity(t, f.admin.ID, "/api/services/"+service.ID.String()+"/features",
		map[string]string{"name": "payments"})
	key := f.createEntity(t, f.admin.ID, "/api/features/"+feature.ID.String()+"/keys",
		map[string]any{"name": "timeout", "valueType": "number"})

	// Drafted entities are visible to their author before commit.
	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/keys/"+key.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "draft", decode[createdEntity](t, rec).Status)

	for _, value := range []map[string]any{
		{"assignment": map[string]string{}, "value": "10"},
		{"assignment": map[string]string{"env": "staging"}, "value": "30"},
	} {
		rec = f.do(t, f.admin.ID, http.MethodPut, "/api/keys/"+key.ID.String()+"/values", value)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	current := decode[domain.Changeset](t, rec)

	rec = f.do(t, f.admin.ID, http.MethodPost, "/api/changesets/"+current.ID.String()+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, domain.ChangesetStatusCommitted, decode[domain.Changeset](t, rec).Status)

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/keys/"+key.ID.String()+"/resolve?env=staging&region=eu", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "30", decode[domain.Value](t, rec).Raw)

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/keys/"+key.ID.String()+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", decode[domain.Value](t, rec).Raw)

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/services/"+service.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "published", decode[createdEntity](t, rec).Status)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newAPIFixture(t)
	reader := f.newUser(t, "reader")

	// Unknown entity.
	rec := f.do(t, f.admin.ID, http.MethodGet, "/api/services/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed id.
	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/services/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	service := f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})

	// No read grant.
	rec = f.do(t, reader.ID, http.MethodGet, "/api/services/"+service.ID.String(), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Another principal cannot touch the admin's drafted entity.
	_, err := f.repos.Grants.Insert(context.Background(), domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalUser, ID: reader.ID},
		domain.GlobalScope(), domain.PermissionWrite, nil))
	require.NoError(t, err)
	rec = f.do(t, reader.ID, http.MethodPut, "/api/services/"+service.ID.String(),
		map[string]string{"description": "mine now"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Sibling name collision.
	rec = f.do(t, f.admin.ID, http.MethodPost, "/api/services", map[string]string{"name": "checkout"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCommitIsOwnerGated(t *testing.T) {
	f := newAPIFixture(t)
	other := f.newUser(t, "other")

	f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})
	rec := f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	current := decode[domain.Changeset](t, rec)

	rec = f.do(t, other.ID, http.MethodPost, "/api/changesets/"+current.ID.String()+"/commit", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, other.ID, http.MethodPost, "/api/changesets/"+current.ID.String()+"/discard", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPermissionListingDecoratesGroupProvenance(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	member := f.newUser(t, "member")

	group, err := f.repos.Directory.CreateGroup(ctx, domain.NewGroup("ops", "operations"))
	require.NoError(t, err)
	require.NoError(t, f.repos.Directory.AddMember(ctx, group.ID, member.ID))
	_, err = f.repos.Grants.Insert(ctx, domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalGroup, ID: group.ID},
		domain.GlobalScope(), domain.PermissionRead, nil))
	require.NoError(t, err)

	rec := f.do(t, member.ID, http.MethodGet, "/api/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	permissions := decode[[]domain.EffectivePermission](t, rec)
	require.Len(t, permissions, 1)
	require.True(t, permissions[0].Inherited)
	require.Equal(t, group.ID, permissions[0].GroupID)
	require.Equal(t, "ops", permissions[0].GroupName)
	require.Equal(t, domain.PermissionRead, permissions[0].Grant.Permission)
}

func TestGrantAndRevokeOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	grantee := f.newUser(t, "grantee")

	service := f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})

	body := map[string]any{
		"principal":  map[string]string{"type": "user", "id": grantee.ID.String()},
		"scopeKind":  "service",
		"scopeId":    service.ID.String(),
		"permission": "read",
	}
	rec := f.do(t, f.admin.ID, http.MethodPost, "/api/permissions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	grant := decode[domain.Grant](t, rec)

	// The grantee holds read but not admin, so cannot mint new grants.
	rec = f.do(t, grantee.ID, http.MethodPost, "/api/permissions", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.admin.ID, http.MethodDelete, "/api/permissions/"+grant.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, f.admin.ID, http.MethodDelete, "/api/permissions/"+grant.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListServicesFiltersByReadGrant(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	viewer := f.newUser(t, "viewer")

	visible := f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})
	f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "billing"})
	rec := f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	current := decode[domain.Changeset](t, rec)
	rec = f.do(t, f.admin.ID, http.MethodPost, "/api/changesets/"+current.ID.String()+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.repos.Grants.Insert(ctx, domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalUser, ID: viewer.ID},
		domain.ServiceScope(visible.ID), domain.PermissionRead, nil))
	require.NoError(t, err)

	rec = f.do(t, viewer.ID, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode[[]createdEntity](t, rec)
	require.Len(t, services, 1)
	require.Equal(t, "checkout", services[0].Name)
}

func TestVariationPropertyCreationIsAdminGated(t *testing.T) {
	f := newAPIFixture(t)
	nobody := f.newUser(t, "nobody")

	rec := f.do(t, nobody.ID, http.MethodPost, "/api/variation-properties",
		map[string]string{"name": "env", "displayName": "Environment"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Listing the catalogue is open to any authenticated principal.
	rec = f.do(t, nobody.ID, http.MethodGet, "/api/variation-properties", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExportRequiresPublishedService(t *testing.T) {
	f := newAPIFixture(t)

	service := f.createEntity(t, f.admin.ID, "/api/services", map[string]string{"name": "checkout"})
	rec := f.do(t, f.admin.ID, http.MethodGet, "/api/changesets/current", nil)
	current := decode[domain.Changeset](t, rec)
	rec = f.do(t, f.admin.ID, http.MethodPost, "/api/changesets/"+current.ID.String()+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, f.admin.ID, http.MethodGet, "/api/services/"+service.ID.String()+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "checkout")
	require.NotZero(t, rec.Body.Len())
}
