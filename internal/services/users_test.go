package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

type userFixture struct {
	db    *gorm.DB
	root  string
	users UserService
	tree  StructureService
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)

	root := t.TempDir()
	store, err := storage.NewLocalStore(log, root, "")
	require.NoError(t, err)
	avatars, err := NewAvatarService(log, store)
	require.NoError(t, err)

	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	users := userrepo.NewUserRepo(db, log)
	return &userFixture{
		db:    db,
		root:  root,
		users: NewUserService(db, log, users, userrepo.NewPCRepo(db, log), userrepo.NewSessionRepo(db, log), avatars, auditSvc),
		tree:  NewStructureService(db, log, structurerepo.NewSectionRepo(db, log), structurerepo.NewTeamRepo(db, log), users, auditSvc),
	}
}

func asPrincipal(u *types.User, abilities ...string) context.Context {
	return ctxutil.WithPrincipal(context.Background(), &ctxutil.Principal{UserID: u.ID, Login: u.Login, Role: u.Role, Abilities: abilities})
}

func (f *userFixture) storedFile(t *testing.T, url string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(url, storage.LocalPathPrefix+"/"), url)
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(url, storage.LocalPathPrefix+"/")))
}

func TestUserUpdateRequiresSelfOrManager(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	anna := testutil.SeedUser(t, ctx, f.db, "anna", "ASSEMBLER")
	boris := testutil.SeedUser(t, ctx, f.db, "boris", "ASSEMBLER")
	chief := testutil.SeedUser(t, ctx, f.db, "chief", "PRODUCTION_CHIEF")

	name := "Анна"
	got, err := f.users.Update(asPrincipal(anna), anna.ID, UserUpdateInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Анна", got.Name)

	_, err = f.users.Update(asPrincipal(boris), anna.ID, UserUpdateInput{Name: &name})
	requireStatus(t, err, http.StatusForbidden)

	surname := "  Петрова "
	got, err = f.users.Update(asPrincipal(chief, AbilityUsersManage), anna.ID, UserUpdateInput{Surname: &surname})
	require.NoError(t, err)
	require.Equal(t, "Петрова", got.Surname)

	_, err = f.users.Update(asPrincipal(anna), anna.ID, UserUpdateInput{})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.users.Update(asPrincipal(chief, AbilityUsersManage), uuid.New(), UserUpdateInput{Name: &name})
	requireStatus(t, err, http.StatusNotFound)
}

func TestUserAvatars(t *testing.T) {
	f := newUserFixture(t)
	u := testutil.SeedUser(t, context.Background(), f.db, "anna", "ASSEMBLER")
	ctx := asPrincipal(u)

	generated, err := f.users.GenerateAvatar(ctx, u.ID)
	require.NoError(t, err)
	first := f.storedFile(t, generated.Img)
	_, err = os.Stat(first)
	require.NoError(t, err)

	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	for x := 0; x < 300; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	require.NoError(t, png.Encode(&buf, img))

	uploaded, err := f.users.UploadAvatar(ctx, u.ID, buf.Bytes())
	require.NoError(t, err)
	require.NotEqual(t, generated.Img, uploaded.Img)
	_, err = os.Stat(f.storedFile(t, uploaded.Img))
	require.NoError(t, err)
	_, err = os.Stat(first)
	require.True(t, os.IsNotExist(err), "previous avatar should be removed")

	_, err = f.users.UploadAvatar(ctx, u.ID, nil)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.users.UploadAvatar(ctx, u.ID, []byte("not an image"))
	requireStatus(t, err, http.StatusBadRequest)

	other := testutil.SeedUser(t, context.Background(), f.db, "boris", "ASSEMBLER")
	_, err = f.users.GenerateAvatar(asPrincipal(other), u.ID)
	requireStatus(t, err, http.StatusForbidden)
}

func TestPCRegistry(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.users.CreatePC(ctx, PCInput{IP: "  "})
	requireStatus(t, err, http.StatusBadRequest)

	pc, err := f.users.CreatePC(ctx, PCInput{IP: "10.0.0.5", PCName: "Склад-1", Cabinet: "101"})
	require.NoError(t, err)
	_, err = f.users.CreatePC(ctx, PCInput{IP: "10.0.0.5"})
	requireStatus(t, err, http.StatusConflict)

	updated, err := f.users.UpdatePC(ctx, pc.ID, PCInput{PCName: "Склад-2"})
	require.NoError(t, err)
	require.Equal(t, "Склад-2", updated.PCName)
	require.Equal(t, "10.0.0.5", updated.IP)
	require.Equal(t, "101", updated.Cabinet)

	list, err := f.users.ListPCs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.users.DeletePC(ctx, pc.ID))
	requireStatus(t, f.users.DeletePC(ctx, pc.ID), http.StatusNotFound)
	_, err = f.users.UpdatePC(ctx, pc.ID, PCInput{PCName: "x"})
	requireStatus(t, err, http.StatusNotFound)
}

func TestStructureTree(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	chief := testutil.SeedUser(t, ctx, f.db, "chief", "PRODUCTION_CHIEF")
	lead := testutil.SeedUser(t, ctx, f.db, "lead", "ASSEMBLER")
	worker := testutil.SeedUser(t, ctx, f.db, "worker", "ASSEMBLER")

	_, err := f.tree.CreateSection(ctx, "   ", "")
	requireStatus(t, err, http.StatusBadRequest)

	sec, err := f.tree.CreateSection(ctx, "Сборка", "Участок сборки")
	require.NoError(t, err)
	_, err = f.tree.AssignManager(ctx, sec.ID, &chief.ID)
	require.NoError(t, err)
	missing := uuid.New()
	_, err = f.tree.AssignManager(ctx, sec.ID, &missing)
	requireStatus(t, err, http.StatusNotFound)

	_, err = f.tree.CreateTeam(ctx, "Бригада 1", uuid.New())
	requireStatus(t, err, http.StatusNotFound)
	team, err := f.tree.CreateTeam(ctx, "Бригада 1", sec.ID)
	require.NoError(t, err)

	require.NoError(t, f.tree.AddMember(ctx, team.ID, lead.ID))
	require.NoError(t, f.tree.AddMember(ctx, team.ID, worker.ID))
	withLead, err := f.tree.AssignLead(ctx, team.ID, &lead.ID)
	require.NoError(t, err)
	require.NotNil(t, withLead.TeamLeadID)
	require.Equal(t, lead.ID, *withLead.TeamLeadID)

	tree, err := f.tree.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.NotNil(t, tree[0].ManagerID)
	require.Equal(t, chief.ID, *tree[0].ManagerID)
	require.Len(t, tree[0].Teams, 1)
	require.Len(t, tree[0].Teams[0].Members, 2)

	unassigned, err := f.tree.Unassigned(ctx)
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	require.Equal(t, chief.ID, unassigned[0].ID)

	// Removing the lead from the team also vacates the lead slot.
	require.NoError(t, f.tree.RemoveMember(ctx, team.ID, lead.ID))
	tree, err = f.tree.Tree(ctx)
	require.NoError(t, err)
	require.Nil(t, tree[0].Teams[0].TeamLeadID)
	require.Len(t, tree[0].Teams[0].Members, 1)

	requireStatus(t, f.tree.DeleteSection(ctx, sec.ID), http.StatusBadRequest)
	require.NoError(t, f.tree.DeleteTeam(ctx, team.ID))
	unassigned, err = f.tree.Unassigned(ctx)
	require.NoError(t, err)
	require.Len(t, unassigned, 3)
	require.NoError(t, f.tree.DeleteSection(ctx, sec.ID))
	requireStatus(t, f.tree.DeleteSection(ctx, sec.ID), http.StatusNotFound)
}
