package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, login, role string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:      uuid.New(),
		Login:   login,
		Role:    role,
		Name:    "Ivan",
		Surname: "Ivanov",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedSection(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Section {
	tb.Helper()
	s := &types.Section{ID: uuid.New(), Title: title}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed section: %v", err)
	}
	return s
}

func SeedTeam(tb testing.TB, ctx context.Context, tx *gorm.DB, sectionID uuid.UUID, title string) *types.Team {
	tb.Helper()
	t := &types.Team{ID: uuid.New(), SectionID: sectionID, Title: title}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed team: %v", err)
	}
	return t
}

func SeedBox(tb testing.TB, ctx context.Context, tx *gorm.DB, label string, qty int) *types.WarehouseBox {
	tb.Helper()
	now := time.Now()
	b := &types.WarehouseBox{
		ID:         uuid.New(),
		QRCode:     "KRYPTO-" + uuid.NewString()[:8],
		ShortCode:  uuid.NewString()[:6],
		Label:      label,
		OriginType: "COMPONENT",
		Quantity:   qty,
		Unit:       warehouse.DefaultUnit,
		Status:     warehouse.BoxStatusOnStock,
		AcceptedAt: &now,
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed box: %v", err)
	}
	return b
}

func SeedServer(tb testing.TB, ctx context.Context, tx *gorm.DB, apkSerial string) *types.BeryllServer {
	tb.Helper()
	ip := "10.0.0." + apkSerial
	s := &types.BeryllServer{
		ID:              uuid.New(),
		IPAddress:       &ip,
		APKSerialNumber: &apkSerial,
		Status:          beryll.ServerNew,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed server: %v", err)
	}
	return s
}

func SeedChecklistTemplate(tb testing.TB, ctx context.Context, tx *gorm.DB, title string, required bool) *types.ChecklistTemplate {
	tb.Helper()
	ct := &types.ChecklistTemplate{
		ID:         uuid.New(),
		Title:      title,
		GroupCode:  beryll.GroupTesting,
		IsRequired: true,
		IsActive:   true,
	}
	if err := tx.WithContext(ctx).Create(ct).Error; err != nil {
		tb.Fatalf("seed checklist template: %v", err)
	}
	if !required {
		// false is a zero value and would be replaced by the column default on insert.
		if err := tx.WithContext(ctx).Model(ct).Update("is_required", false).Error; err != nil {
			tb.Fatalf("seed checklist template: %v", err)
		}
		ct.IsRequired = false
	}
	return ct
}
