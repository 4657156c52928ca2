package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kryptonit/mes-backend/internal/app"
	"github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/services"
)

var (
	adminLogin    string
	adminPassword string

	importDryRun       bool
	importSkipExisting bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed abilities, system roles and default checklist templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		matrix, err := services.LoadRBACMatrix(cfg.RBACMatrixPath)
		if err != nil {
			return err
		}
		res, err := a.Services.RBAC.Seed(ctx, matrix)
		if err != nil {
			return fmt.Errorf("seed rbac: %w", err)
		}
		log.Info("RBAC seeded", "abilities", res.Abilities, "roles", res.Roles)

		n, err := a.Services.Checklist.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("seed checklist templates: %w", err)
		}
		log.Info("Checklist templates seeded", "created", n)

		return seedAdmin(ctx, a)
	},
}

func seedAdmin(ctx context.Context, a *app.App) error {
	login := strings.TrimSpace(adminLogin)
	if login == "" && adminPassword == "" {
		return nil
	}
	if login == "" || adminPassword == "" {
		return fmt.Errorf("--admin-login and --admin-password must be given together")
	}
	existing, err := a.Repos.User.GetByLogin(ctx, nil, login)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Info("Admin user already exists", "login", login)
		return nil
	}
	u, err := a.Services.Auth.CreateAccount(ctx, services.RegisterInput{
		Login:    login,
		Password: adminPassword,
		Name:     "Администратор",
		Role:     user.RoleSuperAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.Info("Admin user created", "login", u.Login, "user_id", u.ID)
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import Beryll data from Excel workbooks",
}

var importComponentsCmd = &cobra.Command{
	Use:   "components <file.xlsx>",
	Short: "Import servers and their components",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args[0], func(ctx context.Context, a *app.App, f *os.File, opts services.ImportOptions) (any, error) {
			return a.Services.Import.ImportComponents(ctx, f, opts)
		})
	},
}

var importDefectsCmd = &cobra.Command{
	Use:   "defects <file.xlsx>",
	Short: "Import the defect journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args[0], func(ctx context.Context, a *app.App, f *os.File, opts services.ImportOptions) (any, error) {
			return a.Services.Import.ImportDefects(ctx, f, opts)
		})
	},
}

func runImport(path string, run func(context.Context, *app.App, *os.File, services.ImportOptions) (any, error)) error {
	ctx, stop := signalContext()
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := app.New(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := run(ctx, a, f, services.ImportOptions{DryRun: importDryRun, SkipExisting: importSkipExisting})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	seedCmd.Flags().StringVar(&adminLogin, "admin-login", "", "login of the SUPER_ADMIN user to create")
	seedCmd.Flags().StringVar(&adminPassword, "admin-password", "", "password of the SUPER_ADMIN user")

	importCmd.PersistentFlags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without writing")
	importCmd.PersistentFlags().BoolVar(&importSkipExisting, "skip-existing", false, "skip servers that already exist")
	importCmd.AddCommand(importComponentsCmd, importDefectsCmd)
}
