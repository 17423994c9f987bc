package migrations

import (
	_ "embed"

	"github.com/jannikluhn/tlbc-monitor/internal/db"
)

//go:embed 001_initial.sql
var mig001 string

// RunMigrations runs all migrations for the monitor database.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}
