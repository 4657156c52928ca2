package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const AbilityUsersManage = "users.manage"

type UserUpdateInput struct {
	Name     *string `json:"name"`
	Surname  *string `json:"surname"`
	Password *string `json:"password"`
}

type PCInput struct {
	IP      string `json:"ip"`
	PCName  string `json:"pcName"`
	Cabinet string `json:"cabinet"`
}

type UserService interface {
	List(ctx context.Context, search string) ([]*types.User, error)
	Get(ctx context.Context, id uuid.UUID) (*types.User, error)
	Update(ctx context.Context, id uuid.UUID, in UserUpdateInput) (*types.User, error)
	UploadAvatar(ctx context.Context, id uuid.UUID, raw []byte) (*types.User, error)
	GenerateAvatar(ctx context.Context, id uuid.UUID) (*types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ListPCs(ctx context.Context) ([]*types.PC, error)
	CreatePC(ctx context.Context, in PCInput) (*types.PC, error)
	UpdatePC(ctx context.Context, id uuid.UUID, in PCInput) (*types.PC, error)
	DeletePC(ctx context.Context, id uuid.UUID) error
	OnlineSessions(ctx context.Context) ([]*types.Session, error)
}

type userService struct {
	db       *gorm.DB
	log      *logger.Logger
	users    userrepo.UserRepo
	pcs      userrepo.PCRepo
	sessions userrepo.SessionRepo
	avatars  AvatarService
	audit    AuditService
}

func NewUserService(
	db *gorm.DB,
	log *logger.Logger,
	users userrepo.UserRepo,
	pcs userrepo.PCRepo,
	sessions userrepo.SessionRepo,
	avatars AvatarService,
	auditSvc AuditService,
) UserService {
	return &userService{
		db:       db,
		log:      log.With("service", "UserService"),
		users:    users,
		pcs:      pcs,
		sessions: sessions,
		avatars:  avatars,
		audit:    auditSvc,
	}
}

// authorizeSelfOrManager allows the user themselves, users.manage holders and SUPER_ADMIN.
func authorizeSelfOrManager(ctx context.Context, id uuid.UUID) error {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return apierr.Unauthorized("Не авторизован")
	}
	if p.UserID == id || p.Can(AbilityUsersManage) {
		return nil
	}
	return apierr.Forbidden("Нет доступа")
}

func (s *userService) List(ctx context.Context, search string) ([]*types.User, error) {
	return s.users.List(ctx, nil, strings.TrimSpace(search))
}

func (s *userService) Get(ctx context.Context, id uuid.UUID) (*types.User, error) {
	if err := authorizeSelfOrManager(ctx, id); err != nil {
		return nil, err
	}
	return s.mustUser(ctx, id)
}

func (s *userService) mustUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	u, err := s.users.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.NotFound("Пользователь не найден")
	}
	return u, nil
}

func (s *userService) Update(ctx context.Context, id uuid.UUID, in UserUpdateInput) (*types.User, error) {
	if err := authorizeSelfOrManager(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.mustUser(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	changed := []string{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
		changed = append(changed, "name")
	}
	if in.Surname != nil {
		updates["surname"] = strings.TrimSpace(*in.Surname)
		changed = append(changed, "surname")
	}
	if in.Password != nil && *in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		updates["password"] = string(hash)
		changed = append(changed, "password")
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.users.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionUserUpdate, Entity: "User", EntityID: id.String(), Metadata: map[string]any{"fields": changed}})
	return s.mustUser(ctx, id)
}

func (s *userService) UploadAvatar(ctx context.Context, id uuid.UUID, raw []byte) (*types.User, error) {
	if err := authorizeSelfOrManager(ctx, id); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apierr.BadRequest("Файл не загружен")
	}
	u, err := s.mustUser(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.avatars.FromUpload(ctx, u, raw)
	if err != nil {
		return nil, apierr.BadRequest("Не удалось обработать изображение: %v", err)
	}
	return s.setImg(ctx, u, url)
}

func (s *userService) GenerateAvatar(ctx context.Context, id uuid.UUID) (*types.User, error) {
	if err := authorizeSelfOrManager(ctx, id); err != nil {
		return nil, err
	}
	u, err := s.mustUser(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.avatars.Generate(ctx, u)
	if err != nil {
		return nil, err
	}
	return s.setImg(ctx, u, url)
}

func (s *userService) setImg(ctx context.Context, u *types.User, url string) (*types.User, error) {
	if err := s.users.Update(ctx, nil, u.ID, map[string]any{"img": url}); err != nil {
		return nil, err
	}
	u.Img = url
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionAvatarUpdate, Entity: "User", EntityID: u.ID.String()})
	return u, nil
}

func (s *userService) Delete(ctx context.Context, id uuid.UUID) error {
	u, err := s.mustUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionUserDelete, Entity: "User", EntityID: id.String(), Description: "Удалён пользователь " + u.Login})
	return nil
}

func (s *userService) ListPCs(ctx context.Context) ([]*types.PC, error) {
	return s.pcs.List(ctx, nil)
}

func (s *userService) CreatePC(ctx context.Context, in PCInput) (*types.PC, error) {
	ip := strings.TrimSpace(in.IP)
	if ip == "" {
		return nil, apierr.BadRequest("IP обязателен")
	}
	existing, err := s.pcs.GetByIP(ctx, nil, ip)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.Conflict("ПК с IP %s уже существует", ip)
	}
	pc, err := s.pcs.Create(ctx, nil, &types.PC{IP: ip, PCName: strings.TrimSpace(in.PCName), Cabinet: strings.TrimSpace(in.Cabinet)})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionPCCreate, Entity: "PC", EntityID: pc.ID.String(), Description: ip})
	return pc, nil
}

func (s *userService) UpdatePC(ctx context.Context, id uuid.UUID, in PCInput) (*types.PC, error) {
	pc, err := s.pcs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, apierr.NotFound("ПК не найден")
	}
	updates := map[string]any{}
	if ip := strings.TrimSpace(in.IP); ip != "" && ip != pc.IP {
		updates["ip"] = ip
	}
	if in.PCName != "" {
		updates["pc_name"] = strings.TrimSpace(in.PCName)
	}
	if in.Cabinet != "" {
		updates["cabinet"] = strings.TrimSpace(in.Cabinet)
	}
	if len(updates) > 0 {
		if err := s.pcs.Update(ctx, nil, id, updates); err != nil {
			return nil, err
		}
		s.audit.Log(ctx, AuditEntry{Action: audit.ActionPCUpdate, Entity: "PC", EntityID: id.String(), Metadata: updates})
	}
	return s.pcs.GetByID(ctx, nil, id)
}

func (s *userService) DeletePC(ctx context.Context, id uuid.UUID) error {
	pc, err := s.pcs.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if pc == nil {
		return apierr.NotFound("ПК не найден")
	}
	if err := s.pcs.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionPCDelete, Entity: "PC", EntityID: id.String(), Description: pc.IP})
	return nil
}

func (s *userService) OnlineSessions(ctx context.Context) ([]*types.Session, error) {
	return s.sessions.ListOnline(ctx, nil)
}
