package main

import (
	"github.com/spf13/cobra"

	"github.com/kryptonit/mes-backend/internal/app"
	"github.com/kryptonit/mes-backend/internal/data/db"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, realtime stream and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		err = a.Run(ctx)
		log.Info("Server stopped")
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := app.OpenDatabase(log, cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			return err
		}
		log.Info("Schema migrated", "driver", cfg.DBDriver)
		return nil
	},
}
