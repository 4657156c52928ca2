package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type StructureService interface {
	Tree(ctx context.Context) ([]*types.Section, error)
	Unassigned(ctx context.Context) ([]*types.User, error)
	CreateSection(ctx context.Context, title, description string) (*types.Section, error)
	AssignManager(ctx context.Context, sectionID uuid.UUID, userID *uuid.UUID) (*types.Section, error)
	DeleteSection(ctx context.Context, sectionID uuid.UUID) error
	CreateTeam(ctx context.Context, title string, sectionID uuid.UUID) (*types.Team, error)
	AssignLead(ctx context.Context, teamID uuid.UUID, userID *uuid.UUID) (*types.Team, error)
	AddMember(ctx context.Context, teamID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, teamID, userID uuid.UUID) error
	DeleteTeam(ctx context.Context, teamID uuid.UUID) error
}

type structureService struct {
	db       *gorm.DB
	log      *logger.Logger
	sections structurerepo.SectionRepo
	teams    structurerepo.TeamRepo
	users    userrepo.UserRepo
	audit    AuditService
}

func NewStructureService(db *gorm.DB, log *logger.Logger, sections structurerepo.SectionRepo, teams structurerepo.TeamRepo, users userrepo.UserRepo, auditSvc AuditService) StructureService {
	return &structureService{
		db:       db,
		log:      log.With("service", "StructureService"),
		sections: sections,
		teams:    teams,
		users:    users,
		audit:    auditSvc,
	}
}

func (s *structureService) Tree(ctx context.Context) ([]*types.Section, error) {
	return s.sections.ListTree(ctx, nil)
}

func (s *structureService) Unassigned(ctx context.Context) ([]*types.User, error) {
	return s.users.ListUnassigned(ctx, nil)
}

func (s *structureService) CreateSection(ctx context.Context, title, description string) (*types.Section, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apierr.BadRequest("Название участка обязательно")
	}
	sec, err := s.sections.Create(ctx, nil, &types.Section{Title: title, Description: strings.TrimSpace(description)})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionSectionCreate, Entity: "Section", EntityID: sec.ID.String(), Description: "Создан участок " + title})
	return sec, nil
}

func (s *structureService) mustSection(ctx context.Context, id uuid.UUID) (*types.Section, error) {
	sec, err := s.sections.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, apierr.NotFound("Участок не найден")
	}
	return sec, nil
}

func (s *structureService) mustTeam(ctx context.Context, id uuid.UUID) (*types.Team, error) {
	team, err := s.teams.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, apierr.NotFound("Бригада не найдена")
	}
	return team, nil
}

func (s *structureService) mustUserOpt(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	u, err := s.users.GetByID(ctx, nil, *id)
	if err != nil {
		return err
	}
	if u == nil {
		return apierr.NotFound("Пользователь не найден")
	}
	return nil
}

func (s *structureService) AssignManager(ctx context.Context, sectionID uuid.UUID, userID *uuid.UUID) (*types.Section, error) {
	sec, err := s.mustSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if err := s.mustUserOpt(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.sections.SetManager(ctx, nil, sectionID, userID); err != nil {
		return nil, err
	}
	sec.ManagerID = userID
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionAssignManager, Entity: "Section", EntityID: sectionID.String(), Metadata: map[string]any{"userId": userID}})
	return sec, nil
}

func (s *structureService) DeleteSection(ctx context.Context, sectionID uuid.UUID) error {
	sec, err := s.mustSection(ctx, sectionID)
	if err != nil {
		return err
	}
	n, err := s.sections.CountTeams(ctx, nil, sectionID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apierr.BadRequest("Нельзя удалить участок, в котором есть бригады")
	}
	if err := s.sections.Delete(ctx, nil, sectionID); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionSectionDelete, Entity: "Section", EntityID: sectionID.String(), Description: "Удалён участок " + sec.Title})
	return nil
}

func (s *structureService) CreateTeam(ctx context.Context, title string, sectionID uuid.UUID) (*types.Team, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apierr.BadRequest("Название бригады обязательно")
	}
	if _, err := s.mustSection(ctx, sectionID); err != nil {
		return nil, err
	}
	team, err := s.teams.Create(ctx, nil, &types.Team{Title: title, SectionID: sectionID})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionTeamCreate, Entity: "Team", EntityID: team.ID.String(), Description: "Создана бригада " + title})
	return team, nil
}

func (s *structureService) AssignLead(ctx context.Context, teamID uuid.UUID, userID *uuid.UUID) (*types.Team, error) {
	if _, err := s.mustTeam(ctx, teamID); err != nil {
		return nil, err
	}
	if err := s.mustUserOpt(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.teams.SetLead(ctx, nil, teamID, userID); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionAssignLead, Entity: "Team", EntityID: teamID.String(), Metadata: map[string]any{"userId": userID}})
	return s.mustTeam(ctx, teamID)
}

func (s *structureService) AddMember(ctx context.Context, teamID, userID uuid.UUID) error {
	if _, err := s.mustTeam(ctx, teamID); err != nil {
		return err
	}
	if err := s.mustUserOpt(ctx, &userID); err != nil {
		return err
	}
	if err := s.users.SetTeam(ctx, nil, userID, &teamID); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionAddMember, Entity: "Team", EntityID: teamID.String(), Metadata: map[string]any{"userId": userID}})
	return nil
}

// RemoveMember detaches the user; a removed lead also stops leading the team.
func (s *structureService) RemoveMember(ctx context.Context, teamID, userID uuid.UUID) error {
	team, err := s.mustTeam(ctx, teamID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.users.SetTeam(ctx, tx, userID, nil); err != nil {
			return err
		}
		if team.TeamLeadID != nil && *team.TeamLeadID == userID {
			return s.teams.SetLead(ctx, tx, teamID, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionRemoveMember, Entity: "Team", EntityID: teamID.String(), Metadata: map[string]any{"userId": userID}})
	return nil
}

func (s *structureService) DeleteTeam(ctx context.Context, teamID uuid.UUID) error {
	team, err := s.mustTeam(ctx, teamID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.users.ClearTeam(ctx, tx, teamID); err != nil {
			return err
		}
		return s.teams.Delete(ctx, tx, teamID)
	})
	if err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionTeamDelete, Entity: "Team", EntityID: teamID.String(), Description: "Удалена бригада " + team.Title})
	return nil
}
