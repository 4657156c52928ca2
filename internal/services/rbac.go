package services

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	rbacrepo "github.com/kryptonit/mes-backend/internal/data/repos/rbac"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

//go:embed rbac_matrix.yaml
var defaultRBACMatrix []byte

// RBACMatrix is the seed document for abilities and system roles.
type RBACMatrix struct {
	Abilities []struct {
		Code        string `yaml:"code"`
		Description string `yaml:"description"`
	} `yaml:"abilities"`
	Roles []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Priority    int      `yaml:"priority"`
		Abilities   []string `yaml:"abilities"`
	} `yaml:"roles"`
}

// LoadRBACMatrix reads path, or the embedded matrix when path is empty.
func LoadRBACMatrix(path string) (*RBACMatrix, error) {
	raw := defaultRBACMatrix
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read rbac matrix: %w", err)
		}
		raw = b
	}
	var m RBACMatrix
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse rbac matrix: %w", err)
	}
	return &m, nil
}

type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    *int   `json:"priority"`
	IsActive    *bool  `json:"isActive"`
}

type SeedResult struct {
	Abilities int `json:"abilities"`
	Roles     int `json:"roles"`
}

type RBACService interface {
	Seed(ctx context.Context, m *RBACMatrix) (*SeedResult, error)
	ListRoles(ctx context.Context) ([]*types.Role, error)
	ListAbilities(ctx context.Context) ([]*types.Ability, error)
	SetRoleAbilities(ctx context.Context, roleID uuid.UUID, abilityIDs []uuid.UUID) (*types.Role, error)
	CreateRole(ctx context.Context, in RoleInput) (*types.Role, error)
	UpdateRole(ctx context.Context, id uuid.UUID, in RoleInput) (*types.Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
}

type rbacService struct {
	db        *gorm.DB
	log       *logger.Logger
	roles     rbacrepo.RoleRepo
	abilities rbacrepo.AbilityRepo
	cache     AbilityCache
	audit     AuditService
}

func NewRBACService(db *gorm.DB, log *logger.Logger, roles rbacrepo.RoleRepo, abilities rbacrepo.AbilityRepo, cache AbilityCache, auditSvc AuditService) RBACService {
	return &rbacService{
		db:        db,
		log:       log.With("service", "RBACService"),
		roles:     roles,
		abilities: abilities,
		cache:     cache,
		audit:     auditSvc,
	}
}

// Seed upserts abilities by code and roles by name, then grants each role its
// matrix abilities. Grants an admin added by hand are kept.
func (s *rbacService) Seed(ctx context.Context, m *RBACMatrix) (*SeedResult, error) {
	res := &SeedResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allIDs := make([]uuid.UUID, 0, len(m.Abilities))
		byCode := make(map[string]uuid.UUID, len(m.Abilities))
		for _, a := range m.Abilities {
			existing, err := s.abilities.GetByCode(ctx, tx, a.Code)
			if err != nil {
				return err
			}
			if existing == nil {
				existing, err = s.abilities.Create(ctx, tx, &types.Ability{Code: a.Code, Description: a.Description})
				if err != nil {
					return fmt.Errorf("create ability %s: %w", a.Code, err)
				}
			} else if a.Description != "" && existing.Description != a.Description {
				if err := s.abilities.UpdateDescription(ctx, tx, existing.ID, a.Description); err != nil {
					return err
				}
			}
			byCode[a.Code] = existing.ID
			allIDs = append(allIDs, existing.ID)
			res.Abilities++
		}

		for _, r := range m.Roles {
			role, err := s.roles.GetByName(ctx, tx, r.Name)
			if err != nil {
				return err
			}
			if role == nil {
				role, err = s.roles.Create(ctx, tx, &types.Role{
					Name:        r.Name,
					Description: r.Description,
					Priority:    r.Priority,
					IsActive:    true,
					IsSystem:    true,
				})
				if err != nil {
					return fmt.Errorf("create role %s: %w", r.Name, err)
				}
			} else if err := s.roles.Update(ctx, tx, role.ID, map[string]any{
				"description": r.Description,
				"priority":    r.Priority,
				"is_system":   true,
			}); err != nil {
				return err
			}

			var grant []uuid.UUID
			for _, code := range r.Abilities {
				if code == "*" {
					grant = allIDs
					break
				}
				id, ok := byCode[code]
				if !ok {
					return fmt.Errorf("role %s references unknown ability %s", r.Name, code)
				}
				grant = append(grant, id)
			}
			if err := s.roles.AddAbilities(ctx, tx, role.ID, grant); err != nil {
				return err
			}
			res.Roles++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateAll(ctx)
	s.log.Info("rbac matrix seeded", "abilities", res.Abilities, "roles", res.Roles)
	return res, nil
}

func (s *rbacService) ListRoles(ctx context.Context) ([]*types.Role, error) {
	return s.roles.List(ctx, nil, true)
}

func (s *rbacService) ListAbilities(ctx context.Context) ([]*types.Ability, error) {
	return s.abilities.List(ctx, nil)
}

func (s *rbacService) SetRoleAbilities(ctx context.Context, roleID uuid.UUID, abilityIDs []uuid.UUID) (*types.Role, error) {
	var role *types.Role
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		role, err = s.roles.GetByID(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return apierr.NotFound("Роль не найдена")
		}
		found, err := s.abilities.GetByIDs(ctx, tx, abilityIDs)
		if err != nil {
			return err
		}
		if len(found) != len(uniqueIDs(abilityIDs)) {
			return apierr.BadRequest("Некоторые права не найдены")
		}
		return s.roles.ReplaceAbilities(ctx, tx, roleID, abilityIDs)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, role.Name)
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionRoleAbilities,
		Entity:      "Role",
		EntityID:    role.ID.String(),
		Description: fmt.Sprintf("Обновлены права роли %s", role.Name),
		Metadata:    map[string]any{"abilityIds": abilityIDs},
	})
	return s.roles.GetByID(ctx, nil, roleID)
}

func (s *rbacService) CreateRole(ctx context.Context, in RoleInput) (*types.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.BadRequest("Название роли обязательно")
	}
	existing, err := s.roles.GetByName(ctx, nil, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.Conflict("Роль %s уже существует", name)
	}
	role := &types.Role{Name: name, Description: in.Description, Priority: 100, IsActive: true}
	if in.Priority != nil {
		role.Priority = *in.Priority
	}
	role, err = s.roles.Create(ctx, nil, role)
	if err != nil {
		return nil, err
	}
	if in.IsActive != nil && !*in.IsActive {
		if err := s.roles.Update(ctx, nil, role.ID, map[string]any{"is_active": false}); err != nil {
			return nil, err
		}
		role.IsActive = false
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionRoleCreate, Entity: "Role", EntityID: role.ID.String(), Description: "Создана роль " + role.Name})
	return role, nil
}

func (s *rbacService) UpdateRole(ctx context.Context, id uuid.UUID, in RoleInput) (*types.Role, error) {
	role, err := s.roles.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, apierr.NotFound("Роль не найдена")
	}
	updates := map[string]any{}
	if name := strings.TrimSpace(in.Name); name != "" && name != role.Name {
		if role.IsSystem {
			return nil, apierr.BadRequest("Нельзя переименовать системную роль")
		}
		updates["name"] = name
	}
	if in.Description != "" {
		updates["description"] = in.Description
	}
	if in.Priority != nil {
		updates["priority"] = *in.Priority
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if len(updates) > 0 {
		if err := s.roles.Update(ctx, nil, id, updates); err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, role.Name)
		s.audit.Log(ctx, AuditEntry{Action: audit.ActionRoleUpdate, Entity: "Role", EntityID: id.String(), Metadata: updates})
	}
	return s.roles.GetByID(ctx, nil, id)
}

func (s *rbacService) DeleteRole(ctx context.Context, id uuid.UUID) error {
	role, err := s.roles.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if role == nil {
		return apierr.NotFound("Роль не найдена")
	}
	if role.IsSystem {
		return apierr.BadRequest("Системную роль нельзя удалить")
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.roles.Delete(ctx, tx, id)
	}); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, role.Name)
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionRoleDelete, Entity: "Role", EntityID: id.String(), Description: "Удалена роль " + role.Name})
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
