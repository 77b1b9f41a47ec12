// Package database provides the SQLite connection used for the control
// action audit trail.
//
// Migrations are plain SQL files embedded by the caller and applied in
// version order:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. Sensor readings are never stored here.
package database
