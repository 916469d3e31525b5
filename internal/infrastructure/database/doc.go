// Package database provides the SQLite connection used for lifecycle history.
//
// It opens the database with WAL mode and a busy timeout, exposes a
// transaction helper, and applies versioned SQL migrations from any fs.FS.
// The production migration set is embedded by package migrations:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Only the history repository writes here; device state itself lives in
// memory and is rebuilt from configuration on restart.
package database
