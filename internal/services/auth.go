package services

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	AuthModeLocal    = "local"
	AuthModeKeycloak = "keycloak"
	AuthModeAuto     = "auto"
)

type AuthConfig struct {
	Mode              string
	SecretKey         string
	AccessTTL         time.Duration
	KeycloakIssuer    string
	KeycloakAudience  string
	KeycloakPublicKey string
}

// LocalClaims are the claims of tokens this service signs itself.
type LocalClaims struct {
	Login string `json:"login"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type KeycloakClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Nickname          string `json:"nickname"`
	Email             string `json:"email"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Role     string `json:"role"`
}

type AuthService interface {
	// Authenticate verifies a bearer token and resolves the caller.
	Authenticate(ctx context.Context, token string) (*ctxutil.Principal, error)
	Register(ctx context.Context, in RegisterInput) (string, error)
	// CreateAccount stores a new local user without issuing a token.
	CreateAccount(ctx context.Context, in RegisterInput) (*types.User, error)
	Login(ctx context.Context, login, password string) (string, error)
	Logout(ctx context.Context) error
	// Check returns the current principal; in local mode it also issues a fresh token.
	Check(ctx context.Context) (*ctxutil.Principal, string, error)
	IssueToken(u *types.User) (string, error)
	Mode() string
}

type authService struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       AuthConfig
	users     userrepo.UserRepo
	sessions  userrepo.SessionRepo
	pcs       userrepo.PCRepo
	abilities AbilityCache
	audit     AuditService
	publicKey *rsa.PublicKey
	now       func() time.Time
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	cfg AuthConfig,
	users userrepo.UserRepo,
	sessions userrepo.SessionRepo,
	pcs userrepo.PCRepo,
	abilities AbilityCache,
	auditSvc AuditService,
) (AuthService, error) {
	serviceLog := log.With("service", "AuthService")
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = AuthModeLocal
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 5 * time.Hour
	}
	s := &authService{
		db:        db,
		log:       serviceLog,
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		pcs:       pcs,
		abilities: abilities,
		audit:     auditSvc,
		now:       time.Now,
	}
	switch cfg.Mode {
	case AuthModeLocal:
		if strings.TrimSpace(cfg.SecretKey) == "" {
			return nil, fmt.Errorf("SECRET_KEY is required for AUTH_MODE=local")
		}
	case AuthModeKeycloak, AuthModeAuto:
		key, err := parseRSAPublicKey(cfg.KeycloakPublicKey)
		if err != nil {
			if cfg.Mode == AuthModeKeycloak {
				return nil, fmt.Errorf("KEYCLOAK_PUBLIC_KEY: %w", err)
			}
			serviceLog.Warn("keycloak public key unavailable; auto mode accepts local tokens only", "error", err)
		}
		s.publicKey = key
	default:
		return nil, fmt.Errorf("invalid AUTH_MODE=%q (allowed: local, keycloak, auto)", cfg.Mode)
	}
	return s, nil
}

// parseRSAPublicKey accepts a PEM block or the bare base64 body Keycloak shows in its realm keys.
func parseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty public key")
	}
	if !strings.Contains(raw, "BEGIN") {
		raw = "-----BEGIN PUBLIC KEY-----\n" + raw + "\n-----END PUBLIC KEY-----"
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
}

func (s *authService) Mode() string { return s.cfg.Mode }

func (s *authService) Authenticate(ctx context.Context, token string) (*ctxutil.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	switch s.cfg.Mode {
	case AuthModeLocal:
		return s.authenticateLocal(ctx, token)
	case AuthModeKeycloak:
		return s.authenticateKeycloak(ctx, token)
	default:
		alg, err := tokenAlg(token)
		if err != nil {
			return nil, apierr.Unauthorized("Не авторизован")
		}
		if strings.HasPrefix(alg, "RS") {
			return s.authenticateKeycloak(ctx, token)
		}
		return s.authenticateLocal(ctx, token)
	}
}

func tokenAlg(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	alg, _ := parsed.Header["alg"].(string)
	return alg, nil
}

func (s *authService) authenticateLocal(ctx context.Context, token string) (*ctxutil.Principal, error) {
	if s.cfg.SecretKey == "" {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	claims := &LocalClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.SecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	u, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.Unauthorized("Пользователь не найден")
	}
	return s.principalFor(ctx, u, []string{u.Role})
}

func (s *authService) authenticateKeycloak(ctx context.Context, token string) (*ctxutil.Principal, error) {
	if s.publicKey == nil {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if s.cfg.KeycloakIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.KeycloakIssuer))
	}
	if s.cfg.KeycloakAudience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.KeycloakAudience))
	}
	claims := &KeycloakClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.publicKey, nil
	}, opts...); err != nil {
		s.log.Debug("keycloak token rejected", "error", err)
		return nil, apierr.Unauthorized("Не авторизован")
	}
	u, err := s.syncUser(ctx, claims)
	if err != nil {
		return nil, err
	}
	return s.principalFor(ctx, u, claims.RealmAccess.Roles)
}

// MainRole picks the highest-priority known role, defaulting to ASSEMBLER.
func MainRole(roles []string) string {
	for _, candidate := range user.RolePriority {
		for _, r := range roles {
			if r == candidate {
				return candidate
			}
		}
	}
	return user.RoleAssembler
}

func (s *authService) syncUser(ctx context.Context, claims *KeycloakClaims) (*types.User, error) {
	login := strings.TrimSpace(claims.PreferredUsername)
	if login == "" {
		login = strings.TrimSpace(claims.Nickname)
	}
	if login == "" {
		login = strings.TrimSpace(claims.Email)
	}
	if login == "" {
		return nil, apierr.Unauthorized("В токене нет имени пользователя")
	}
	role := MainRole(claims.RealmAccess.Roles)

	existing, err := s.users.GetByLogin(ctx, nil, login)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		created, err := s.users.Create(ctx, nil, &types.User{
			Login:   login,
			Role:    role,
			Name:    claims.GivenName,
			Surname: claims.FamilyName,
		})
		if err != nil {
			return nil, fmt.Errorf("create user from token: %w", err)
		}
		s.log.Info("user created from keycloak token", "login", login, "role", role)
		return created, nil
	}
	if existing.Role != role || existing.Name != claims.GivenName || existing.Surname != claims.FamilyName {
		if err := s.users.Update(ctx, nil, existing.ID, map[string]any{
			"role":    role,
			"name":    claims.GivenName,
			"surname": claims.FamilyName,
		}); err != nil {
			return nil, err
		}
		existing.Role, existing.Name, existing.Surname = role, claims.GivenName, claims.FamilyName
	}
	return existing, nil
}

func (s *authService) principalFor(ctx context.Context, u *types.User, roles []string) (*ctxutil.Principal, error) {
	codes, err := s.abilities.Abilities(ctx, u.Role)
	if err != nil {
		return nil, fmt.Errorf("load abilities: %w", err)
	}
	if len(roles) == 0 {
		roles = []string{u.Role}
	}
	return &ctxutil.Principal{
		UserID:    u.ID,
		Login:     u.Login,
		Name:      u.Name,
		Surname:   u.Surname,
		Role:      u.Role,
		Roles:     roles,
		Abilities: codes,
	}, nil
}

func (s *authService) IssueToken(u *types.User) (string, error) {
	now := s.now()
	claims := LocalClaims{
		Login: u.Login,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SecretKey))
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (string, error) {
	if strings.EqualFold(strings.TrimSpace(in.Role), user.RoleSuperAdmin) {
		return "", apierr.Forbidden("Роль %s нельзя получить при регистрации", user.RoleSuperAdmin)
	}
	u, err := s.CreateAccount(ctx, in)
	if err != nil {
		return "", err
	}
	return s.IssueToken(u)
}

func (s *authService) CreateAccount(ctx context.Context, in RegisterInput) (*types.User, error) {
	login := strings.TrimSpace(in.Login)
	if login == "" || in.Password == "" {
		return nil, apierr.BadRequest("Некорректный логин или пароль")
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role == "" {
		role = user.RoleAssembler
	}
	if !user.ValidRole(role) {
		return nil, apierr.BadRequest("Некорректная роль: %s", in.Role)
	}
	existing, err := s.users.GetByLogin(ctx, nil, login)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.BadRequest("Пользователь с таким логином уже существует")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, nil, &types.User{
		Login:    login,
		Password: string(hash),
		Role:     role,
		Name:     strings.TrimSpace(in.Name),
		Surname:  strings.TrimSpace(in.Surname),
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{UserID: &u.ID, Action: audit.ActionRegister, Entity: "User", EntityID: u.ID.String(), Description: "Регистрация " + login})
	return u, nil
}

func (s *authService) Login(ctx context.Context, login, password string) (string, error) {
	u, err := s.users.GetByLogin(ctx, nil, strings.TrimSpace(login))
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", apierr.BadRequest("Пользователь не найден")
	}
	if u.Password == "" || bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return "", apierr.BadRequest("Указан неверный пароль")
	}

	var pcID *uuid.UUID
	if cd := ctxutil.GetClientData(ctx); cd != nil && cd.IP != "" {
		pc, err := s.pcs.GetByIP(ctx, nil, firstForwarded(cd.IP))
		if err != nil {
			s.log.Warn("pc lookup failed", "ip", cd.IP, "error", err)
		} else if pc != nil {
			pcID = &pc.ID
		}
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessions.CloseForUser(ctx, tx, u.ID, now); err != nil {
			return err
		}
		_, err := s.sessions.Create(ctx, tx, &types.Session{UserID: u.ID, PCID: pcID, Online: true, StartedAt: now})
		return err
	})
	if err != nil {
		return "", err
	}
	s.audit.Log(ctx, AuditEntry{UserID: &u.ID, Action: audit.ActionLogin, Entity: "User", EntityID: u.ID.String()})
	return s.IssueToken(u)
}

func (s *authService) Logout(ctx context.Context) error {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return apierr.Unauthorized("Не авторизован")
	}
	if _, err := s.sessions.CloseForUser(ctx, nil, p.UserID, s.now()); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionLogout, Entity: "User", EntityID: p.UserID.String()})
	return nil
}

func (s *authService) Check(ctx context.Context) (*ctxutil.Principal, string, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, "", apierr.Unauthorized("Не авторизован")
	}
	if s.cfg.Mode == AuthModeKeycloak {
		return p, "", nil
	}
	u, err := s.users.GetByID(ctx, nil, p.UserID)
	if err != nil {
		return nil, "", err
	}
	if u == nil {
		return nil, "", apierr.Unauthorized("Пользователь не найден")
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}
