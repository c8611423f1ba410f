// Package database provides SQLite connectivity for the devicelink core.
//
// It opens a single-writer database/sql pool over github.com/mattn/go-sqlite3
// with WAL journaling, a busy timeout and foreign keys on, and applies
// embedded SQL migrations tracked in a schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive: new columns are
// nullable or carry a default.
//
// Timestamps are stored as RFC3339 TEXT in UTC.
package database
