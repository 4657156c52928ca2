package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	rbacrepo "github.com/kryptonit/mes-backend/internal/data/repos/rbac"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/rbac"
	"github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

type authFixture struct {
	auth     AuthService
	rbac     RBACService
	audit    AuditService
	users    userrepo.UserRepo
	sessions userrepo.SessionRepo
	pcs      userrepo.PCRepo
}

func newAuthFixture(t *testing.T, cfg AuthConfig) *authFixture {
	t.Helper()
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)

	roles := rbacrepo.NewRoleRepo(db, log)
	cache := NewAbilityCache(log, roles, nil, time.Minute)
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	rbacSvc := NewRBACService(db, log, roles, rbacrepo.NewAbilityRepo(db, log), cache, auditSvc)

	matrix, err := LoadRBACMatrix("")
	require.NoError(t, err)
	_, err = rbacSvc.Seed(context.Background(), matrix)
	require.NoError(t, err)

	users := userrepo.NewUserRepo(db, log)
	sessions := userrepo.NewSessionRepo(db, log)
	pcs := userrepo.NewPCRepo(db, log)
	authSvc, err := NewAuthService(db, log, cfg, users, sessions, pcs, cache, auditSvc)
	require.NoError(t, err)

	return &authFixture{auth: authSvc, rbac: rbacSvc, audit: auditSvc, users: users, sessions: sessions, pcs: pcs}
}

func TestLocalRegisterLoginAuthenticate(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{Mode: AuthModeLocal, SecretKey: "test-secret"})
	ctx := context.Background()

	token, err := f.auth.Register(ctx, RegisterInput{Login: "keeper", Password: "pw", Name: "Анна", Role: user.RoleWarehouseMaster})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = f.auth.Register(ctx, RegisterInput{Login: "keeper", Password: "pw2"})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.auth.Register(ctx, RegisterInput{Login: "  ", Password: "pw"})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.auth.Login(ctx, "keeper", "wrong")
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.auth.Login(ctx, "nobody", "pw")
	requireStatus(t, err, http.StatusBadRequest)

	pc, err := f.pcs.Create(ctx, nil, &types.PC{IP: "10.0.0.7", PCName: "Склад-1"})
	require.NoError(t, err)
	clientCtx := ctxutil.WithClientData(ctx, &ctxutil.ClientData{IP: "10.0.0.7, 172.16.0.1"})
	token, err = f.auth.Login(clientCtx, "keeper", "pw")
	require.NoError(t, err)

	p, err := f.auth.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "keeper", p.Login)
	require.Equal(t, user.RoleWarehouseMaster, p.Role)
	require.True(t, p.Can(rbac.AbilityWarehouseManage))
	require.False(t, p.Can(rbac.AbilityBeryllView))

	online, err := f.sessions.ListOnline(ctx, nil)
	require.NoError(t, err)
	require.Len(t, online, 1)
	require.NotNil(t, online[0].PCID)
	require.Equal(t, pc.ID, *online[0].PCID)

	authed := ctxutil.WithPrincipal(ctx, p)
	_, fresh, err := f.auth.Check(authed)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	require.NoError(t, f.auth.Logout(authed))
	online, err = f.sessions.ListOnline(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, online)

	logs, _, err := f.audit.List(ctx, auditrepo.Filter{Entity: "User"}, pagination.Params{Page: 1, Limit: 50})
	require.NoError(t, err)
	actions := map[string]int{}
	for _, l := range logs {
		actions[l.Action]++
	}
	require.Equal(t, 1, actions[audit.ActionRegister])
	require.Equal(t, 1, actions[audit.ActionLogin])
	require.Equal(t, 1, actions[audit.ActionLogout])
}

func TestRegisterValidatesRole(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{Mode: AuthModeLocal, SecretKey: "test-secret"})
	ctx := context.Background()

	_, err := f.auth.Register(ctx, RegisterInput{Login: "ghost", Password: "pw", Role: "GOD"})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.auth.Register(ctx, RegisterInput{Login: "root", Password: "pw", Role: "super_admin"})
	requireStatus(t, err, http.StatusForbidden)
	u, err := f.users.GetByLogin(ctx, nil, "root")
	require.NoError(t, err)
	require.Nil(t, u)

	_, err = f.auth.Register(ctx, RegisterInput{Login: "qc", Password: "pw", Role: " qc_engineer "})
	require.NoError(t, err)
	u, err = f.users.GetByLogin(ctx, nil, "qc")
	require.NoError(t, err)
	require.Equal(t, user.RoleQCEngineer, u.Role)

	_, err = f.auth.Register(ctx, RegisterInput{Login: "plain", Password: "pw"})
	require.NoError(t, err)
	u, err = f.users.GetByLogin(ctx, nil, "plain")
	require.NoError(t, err)
	require.Equal(t, user.RoleAssembler, u.Role)

	// Operators can still provision an administrator directly.
	admin, err := f.auth.CreateAccount(ctx, RegisterInput{Login: "admin", Password: "pw", Role: user.RoleSuperAdmin})
	require.NoError(t, err)
	require.Equal(t, user.RoleSuperAdmin, admin.Role)
	_, err = f.auth.CreateAccount(ctx, RegisterInput{Login: "bad", Password: "pw", Role: "ROOT"})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{Mode: AuthModeLocal, SecretKey: "test-secret", AccessTTL: time.Minute})
	ctx := context.Background()

	u, err := f.auth.CreateAccount(ctx, RegisterInput{Login: "qc", Password: "pw", Role: user.RoleQCEngineer})
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, LocalClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, LocalClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{"empty": "", "garbage": "abc.def", "forged": forged, "expired": expired} {
		_, err := f.auth.Authenticate(ctx, token)
		require.Error(t, err, name)
		requireStatus(t, err, http.StatusUnauthorized)
	}
}

func TestNewAuthServiceConfig(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	users := userrepo.NewUserRepo(db, log)

	_, err := NewAuthService(db, log, AuthConfig{Mode: AuthModeLocal}, users, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = NewAuthService(db, log, AuthConfig{Mode: AuthModeKeycloak, KeycloakPublicKey: "not-a-key"}, users, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = NewAuthService(db, log, AuthConfig{Mode: "ldap", SecretKey: "x"}, users, nil, nil, nil, nil)
	require.Error(t, err)

	svc, err := NewAuthService(db, log, AuthConfig{Mode: "AUTO", SecretKey: "x"}, users, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, AuthModeAuto, svc.Mode())
}

func TestKeycloakTokenSyncsUser(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	f := newAuthFixture(t, AuthConfig{
		Mode:              AuthModeAuto,
		SecretKey:         "local-secret",
		KeycloakIssuer:    "https://sso.local/realms/mes",
		KeycloakPublicKey: pubPEM,
	})
	ctx := context.Background()

	sign := func(roles []string, issuer string) string {
		claims := KeycloakClaims{
			PreferredUsername: "ivanov",
			GivenName:         "Иван",
			FamilyName:        "Иванов",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		claims.RealmAccess.Roles = roles
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	p, err := f.auth.Authenticate(ctx, sign([]string{"offline_access", user.RoleAssembler, user.RoleTechnologist}, "https://sso.local/realms/mes"))
	require.NoError(t, err)
	require.Equal(t, user.RoleTechnologist, p.Role)
	require.True(t, p.Can(rbac.AbilityBeryllManage))

	u, err := f.users.GetByLogin(ctx, nil, "ivanov")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "Иванов", u.Surname)

	// A role change in the token is written back to the local user.
	p, err = f.auth.Authenticate(ctx, sign([]string{user.RoleQCEngineer}, "https://sso.local/realms/mes"))
	require.NoError(t, err)
	require.Equal(t, user.RoleQCEngineer, p.Role)
	require.Equal(t, u.ID, p.UserID)

	_, err = f.auth.Authenticate(ctx, sign([]string{user.RoleQCEngineer}, "https://evil.local"))
	requireStatus(t, err, http.StatusUnauthorized)

	// Local tokens are still accepted in auto mode.
	local, err := f.auth.Register(ctx, RegisterInput{Login: "local", Password: "pw"})
	require.NoError(t, err)
	p, err = f.auth.Authenticate(ctx, local)
	require.NoError(t, err)
	require.Equal(t, user.RoleAssembler, p.Role)
}

func TestMainRole(t *testing.T) {
	require.Equal(t, user.RoleAssembler, MainRole(nil))
	require.Equal(t, user.RoleAssembler, MainRole([]string{"uma_authorization"}))
	require.Equal(t, user.RoleSuperAdmin, MainRole([]string{user.RoleQCEngineer, user.RoleSuperAdmin}))
	require.Equal(t, user.RoleWarehouseMaster, MainRole([]string{user.RoleAssembler, user.RoleWarehouseMaster}))
}

func TestRBACSeedIsIdempotentAndInvalidatesCache(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{Mode: AuthModeLocal, SecretKey: "s"})
	ctx := context.Background()

	matrix, err := LoadRBACMatrix("")
	require.NoError(t, err)
	res, err := f.rbac.Seed(ctx, matrix)
	require.NoError(t, err)
	require.Equal(t, len(matrix.Abilities), res.Abilities)

	abilities, err := f.rbac.ListAbilities(ctx)
	require.NoError(t, err)
	require.Len(t, abilities, len(matrix.Abilities))

	token, err := f.auth.Register(ctx, RegisterInput{Login: "asm", Password: "pw", Role: user.RoleAssembler})
	require.NoError(t, err)
	p, err := f.auth.Authenticate(ctx, token)
	require.NoError(t, err)
	require.False(t, p.Can(rbac.AbilityWarehouseView))

	assembler := findRole(t, f.rbac, user.RoleAssembler)
	var warehouseView *types.Ability
	for _, a := range abilities {
		if a.Code == rbac.AbilityWarehouseView {
			warehouseView = a
		}
	}
	require.NotNil(t, warehouseView)
	ids := []uuid.UUID{warehouseView.ID}
	for _, a := range assembler.Abilities {
		ids = append(ids, a.ID)
	}
	_, err = f.rbac.SetRoleAbilities(ctx, assembler.ID, ids)
	require.NoError(t, err)
	_, err = f.rbac.SetRoleAbilities(ctx, assembler.ID, []uuid.UUID{uuid.New()})
	requireStatus(t, err, http.StatusBadRequest)

	p, err = f.auth.Authenticate(ctx, token)
	require.NoError(t, err)
	require.True(t, p.Can(rbac.AbilityWarehouseView))

	// Re-seeding keeps the grant an admin added by hand.
	_, err = f.rbac.Seed(ctx, matrix)
	require.NoError(t, err)
	var codes []string
	for _, a := range findRole(t, f.rbac, user.RoleAssembler).Abilities {
		codes = append(codes, a.Code)
	}
	require.Contains(t, codes, rbac.AbilityWarehouseView)

	err = f.rbac.DeleteRole(ctx, assembler.ID)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.rbac.UpdateRole(ctx, assembler.ID, RoleInput{Name: "BUILDER"})
	requireStatus(t, err, http.StatusBadRequest)

	custom, err := f.rbac.CreateRole(ctx, RoleInput{Name: "AUDITOR"})
	require.NoError(t, err)
	require.Equal(t, 100, custom.Priority)
	_, err = f.rbac.CreateRole(ctx, RoleInput{Name: "AUDITOR"})
	requireStatus(t, err, http.StatusConflict)
	require.NoError(t, f.rbac.DeleteRole(ctx, custom.ID))
}

func findRole(t *testing.T, svc RBACService, name string) *types.Role {
	t.Helper()
	roles, err := svc.ListRoles(context.Background())
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("role %s not seeded", name)
	return nil
}
