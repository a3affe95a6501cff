package principal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"github.com/upb/sessionguard/repositories/memory"
	"github.com/upb/sessionguard/security"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/guard"
	"github.com/upb/sessionguard/services/session"
	"github.com/upb/sessionguard/services/token"
)

// syncRecorder writes audit events straight to the store
type syncRecorder struct {
	repo repositories.AuditRepository
}

func (r syncRecorder) Record(ctx context.Context, e *models.AuditEvent) {
	_ = r.repo.Insert(ctx, e)
}

type fixture struct {
	repos *repositories.Repositories
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	codec, err := token.NewCodec(token.Config{Secret: "0123456789abcdef0123456789abcdef", Issuer: "sessionguard-test"})
	require.NoError(t, err)

	repos := store.Repositories()
	g := guard.New(codec, repos.TenantAdmins, zap.NewNop())
	sessions := session.NewService(repos.Principals, store.TransactionManager(), codec,
		security.NewHasher(bcrypt.MinCost), models.RoleMember, zap.NewNop())
	return &fixture{
		repos: repos,
		svc: NewService(repos, store.TransactionManager(), g, sessions, []models.Role{models.RoleAdmin}, zap.NewNop(),
			WithAudit(syncRecorder{repo: repos.Audit})),
	}
}

func (f *fixture) create(t *testing.T, identifier string, role models.Role, tenant *uuid.UUID) (*models.Principal, *guard.AuthContext) {
	t.Helper()
	p := models.NewPrincipal(identifier, "hash", role, tenant)
	require.NoError(t, f.repos.Principals.Create(context.Background(), p))
	return p, &guard.AuthContext{PrincipalID: p.ID, Role: role, TenantID: tenant}
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, acA := f.create(t, "a@example.com", models.RoleMember, nil)
	b, acB := f.create(t, "b@example.com", models.RoleMember, nil)
	_, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)

	got, err := f.svc.Get(ctx, acA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Identifier)

	_, err = f.svc.Get(ctx, acA, b.ID)
	assert.True(t, services.IsForbiddenError(err))

	got, err = f.svc.Get(ctx, acAdmin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.svc.Get(ctx, acAdmin, uuid.New())
	assert.True(t, services.IsNotFoundError(err))

	// the guard runs before the store is consulted
	_, err = f.svc.Get(ctx, acB, uuid.New())
	assert.True(t, services.IsForbiddenError(err))
}

func TestService_UpdateIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, acA := f.create(t, "a@example.com", models.RoleMember, nil)
	b, _ := f.create(t, "b@example.com", models.RoleMember, nil)

	got, err := f.svc.UpdateIdentifier(ctx, acA, a.ID, " New@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Identifier)

	_, err = f.svc.UpdateIdentifier(ctx, acA, a.ID, "b@example.com")
	assert.True(t, services.IsConflictError(err))

	_, err = f.svc.UpdateIdentifier(ctx, acA, a.ID, "   ")
	assert.True(t, services.IsValidationError(err))

	_, err = f.svc.UpdateIdentifier(ctx, acA, b.ID, "stolen@example.com")
	assert.True(t, services.IsForbiddenError(err))
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	a, acA := f.create(t, "a@example.com", models.RoleTenantAdmin, &tenant)
	_, acB := f.create(t, "b@example.com", models.RoleMember, nil)

	require.NoError(t, f.repos.TenantAdmins.Assign(ctx, models.NewTenantAdmin(a.ID, tenant)))

	err := f.svc.Delete(ctx, acB, a.ID)
	assert.True(t, services.IsForbiddenError(err))

	require.NoError(t, f.svc.Delete(ctx, acA, a.ID))

	_, err = f.repos.Principals.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = f.repos.TenantAdmins.FindActive(ctx, a.ID, tenant)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	err = f.svc.Delete(ctx, acA, a.ID)
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_ListTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	other := uuid.New()

	_, acMember := f.create(t, "m1@example.com", models.RoleMember, &tenant)
	f.create(t, "m2@example.com", models.RoleViewer, &tenant)
	_, acOutsider := f.create(t, "o@example.com", models.RoleMember, &other)
	ta, acTenantAdmin := f.create(t, "ta@example.com", models.RoleTenantAdmin, &tenant)

	list, err := f.svc.ListTenant(ctx, acMember, tenant, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = f.svc.ListTenant(ctx, acOutsider, tenant, 0, 0)
	assert.True(t, services.IsForbiddenError(err))

	_, err = f.svc.ListTenant(ctx, acTenantAdmin, tenant, 0, 0)
	assert.True(t, services.IsForbiddenError(err), "tenant admin without an active assignment")

	require.NoError(t, f.repos.TenantAdmins.Assign(ctx, models.NewTenantAdmin(ta.ID, tenant)))
	list, err = f.svc.ListTenant(ctx, acTenantAdmin, tenant, 2, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_ListAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, acMember := f.create(t, "m@example.com", models.RoleMember, nil)
	_, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)

	_, err := f.svc.ListAll(ctx, acMember, 10, 0)
	assert.True(t, services.IsForbiddenError(err))

	list, err := f.svc.ListAll(ctx, acAdmin, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.svc.ListAll(ctx, acAdmin, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_SetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target, acTarget := f.create(t, "t@example.com", models.RoleMember, nil)
	_, acModerator := f.create(t, "mod@example.com", models.RoleModerator, nil)

	_, err := f.svc.SetStatus(ctx, acTarget, target.ID, models.StatusActive)
	assert.True(t, services.IsForbiddenError(err), "owners cannot change their own status")

	got, err := f.svc.SetStatus(ctx, acModerator, target.ID, models.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, got.Status)

	stored, err := f.repos.Principals.FindByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())

	_, err = f.svc.SetStatus(ctx, acModerator, target.ID, models.Status("banned"))
	assert.True(t, services.IsValidationError(err))

	_, err = f.svc.SetStatus(ctx, acModerator, uuid.New(), models.StatusActive)
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_SetStatus_RoleHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	admin, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)
	otherAdmin, _ := f.create(t, "root2@example.com", models.RoleAdmin, nil)
	ta, _ := f.create(t, "ta@example.com", models.RoleTenantAdmin, &tenant)
	mod, acModerator := f.create(t, "mod@example.com", models.RoleModerator, nil)
	otherMod, _ := f.create(t, "mod2@example.com", models.RoleModerator, nil)
	viewer, _ := f.create(t, "v@example.com", models.RoleViewer, nil)

	tests := []struct {
		name    string
		ac      *guard.AuthContext
		target  uuid.UUID
		allowed bool
	}{
		{"moderator on admin", acModerator, admin.ID, false},
		{"moderator on tenant admin", acModerator, ta.ID, false},
		{"moderator on moderator", acModerator, otherMod.ID, false},
		{"moderator on self", acModerator, mod.ID, false},
		{"moderator on viewer", acModerator, viewer.ID, true},
		{"admin on admin", acAdmin, otherAdmin.ID, false},
		{"admin on tenant admin", acAdmin, ta.ID, true},
		{"admin on moderator", acAdmin, otherMod.ID, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SetStatus(ctx, tt.ac, tt.target, models.StatusSuspended)
			if !tt.allowed {
				assert.True(t, services.IsForbiddenError(err))
				assert.ErrorIs(t, err, ErrOutranked)

				stored, err := f.repos.Principals.FindByID(ctx, tt.target)
				require.NoError(t, err)
				assert.True(t, stored.IsActive())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestService_Enroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	otherTenant := uuid.New()
	ta, acTA := f.create(t, "ta@example.com", models.RoleTenantAdmin, &tenant)
	_, acMember := f.create(t, "m@example.com", models.RoleMember, &tenant)
	_, acOutsider := f.create(t, "out@example.com", models.RoleMember, &otherTenant)
	_, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)
	require.NoError(t, f.repos.TenantAdmins.Assign(ctx, models.NewTenantAdmin(ta.ID, tenant)))

	input := session.RegisterInput{Identifier: "new@example.com", Secret: "s3cret123"}

	_, err := f.svc.Enroll(ctx, acOutsider, tenant, input)
	assert.True(t, services.IsForbiddenError(err))
	_, err = f.svc.Enroll(ctx, acMember, tenant, input)
	assert.True(t, services.IsForbiddenError(err))

	summary, err := f.svc.Enroll(ctx, acTA, tenant, input)
	require.NoError(t, err)
	require.NotNil(t, summary.TenantID)
	assert.Equal(t, tenant, *summary.TenantID)
	assert.Equal(t, models.RoleMember, summary.Role)

	_, err = f.svc.Enroll(ctx, acTA, tenant, session.RegisterInput{Identifier: "mod@example.com", Secret: "s3cret123", Role: "moderator"})
	assert.True(t, services.IsForbiddenError(err))

	got, err := f.svc.Enroll(ctx, acAdmin, tenant, session.RegisterInput{Identifier: "ta2@example.com", Secret: "s3cret123", Role: "tenant_admin"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTenantAdmin, got.Role)

	events, err := f.repos.Audit.ListByPrincipal(ctx, summary.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditActionEnroll, events[0].Action)
	assert.Equal(t, ta.ID, *events[0].ActorID)
}

func TestService_AssignTenantAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	ta, _ := f.create(t, "ta@example.com", models.RoleTenantAdmin, &tenant)
	member, acMember := f.create(t, "m@example.com", models.RoleMember, &tenant)
	_, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)

	_, err := f.svc.AssignTenantAdmin(ctx, acMember, tenant, ta.ID)
	assert.True(t, services.IsForbiddenError(err))

	assignment, err := f.svc.AssignTenantAdmin(ctx, acAdmin, tenant, ta.ID)
	require.NoError(t, err)
	assert.True(t, assignment.InEffect())

	_, err = f.svc.AssignTenantAdmin(ctx, acAdmin, tenant, ta.ID)
	assert.True(t, services.IsConflictError(err))

	_, err = f.svc.AssignTenantAdmin(ctx, acAdmin, tenant, member.ID)
	assert.True(t, services.IsValidationError(err))

	_, err = f.svc.AssignTenantAdmin(ctx, acAdmin, uuid.New(), ta.ID)
	assert.True(t, services.IsValidationError(err))
}

func TestPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultPageSize, 0},
		{10, 20, 10, 20},
		{MaxPageSize + 1, -5, MaxPageSize, 0},
	}
	for _, tt := range tests {
		l, o := page(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffset, o)
	}
}


func TestService_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()
	a, acA := f.create(t, "a@example.com", models.RoleTenantAdmin, &tenant)
	_, acB := f.create(t, "b@example.com", models.RoleMember, nil)
	_, acAdmin := f.create(t, "root@example.com", models.RoleAdmin, nil)

	_, err := f.svc.SetStatus(ctx, acAdmin, a.ID, models.StatusSuspended)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, acAdmin, a.ID, models.StatusActive)
	require.NoError(t, err)
	_, err = f.svc.AssignTenantAdmin(ctx, acAdmin, tenant, a.ID)
	require.NoError(t, err)

	events, err := f.svc.History(ctx, acA, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.AuditActionTenantAdminAssign, events[0].Action)
	assert.Equal(t, tenant, *events[0].TenantID)
	assert.Equal(t, models.AuditActionStatusChange, events[1].Action)
	assert.Equal(t, string(models.StatusActive), events[1].Detail)
	assert.Equal(t, string(models.StatusSuspended), events[2].Detail)
	assert.Equal(t, acAdmin.PrincipalID, *events[2].ActorID)

	paged, err := f.svc.History(ctx, acAdmin, a.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, events[1].ID, paged[0].ID)

	_, err = f.svc.History(ctx, acB, a.ID, 0, 0)
	assert.True(t, services.IsForbiddenError(err))

	require.NoError(t, f.svc.Delete(ctx, acA, a.ID))
	events, err = f.svc.History(ctx, acAdmin, a.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AuditActionDelete, events[0].Action)
}
