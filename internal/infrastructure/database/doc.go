// Package database opens the SQLite file behind the sqlite credential
// backend and keeps its schema current.
//
// Migrations are embedded by the top-level migrations package and named
// YYYYMMDD_HHMMSS_name.up.sql with an optional matching .down.sql:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
