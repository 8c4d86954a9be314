package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lablup/sokovan/internal/sokovan/database"
)

func migrateDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrateDatabase",
		Short: "Migrates the scheduler database to the latest version",
		RunE:  migrateDatabase,
	}
	return cmd
}

func migrateDatabase(_ *cobra.Command, _ []string) error {
	config := loadConfig()
	start := time.Now()
	log.Info("Beginning database migration")
	db, err := database.OpenPgxPool(config.Postgres)
	if err != nil {
		return errors.WithMessage(err, "connecting to database")
	}
	defer db.Close()
	if err := database.UpdateDatabase(context.Background(), db); err != nil {
		return errors.WithMessage(err, "migrating database")
	}
	log.Infof("Database migrated in %s", time.Since(start))
	return nil
}
